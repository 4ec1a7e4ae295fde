/*
Copyright © 2024 the hydropot authors.
This file is part of hydropot.

hydropot is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hydropot is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hydropot.  If not, see <http://www.gnu.org/licenses/>.
*/

package hydropot

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDerivedVariables(t *testing.T) {
	nan := math.NaN()
	d := testDomain(t,
		[]float64{-100, 0, nan, 200, -50, 10},
		[]float64{1000, 500, 800, 2000, 1500, 100},
		[]float64{10, 0, 5, 20, 15, 0},
		[]int{0, 1, 2, 3, 4, 2},
	)
	c := DefaultConstants()
	if err := CalculateHydropotential(c)(d); err != nil {
		t.Fatal(err)
	}
	vars, err := NewDerivedVariables(map[string]string{
		"ice_column":  "surface - firn - bed",
		"overburden":  "rho_ice * g * (surface - firn - bed) / 1000",
		"phi_mpa":     "hydropotential / 1000",
		"grounded":    "mask == 2",
		"bed_or_zero": "isnan(bed) ? 0 : max(bed, 0)",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := DerivedVariables(vars, c)(d); err != nil {
		t.Fatal(err)
	}

	get := func(name string) []float64 {
		f, err := d.Field(name)
		if err != nil {
			t.Fatal(err)
		}
		return f.Data.Elements
	}
	opts := []cmp.Option{cmpopts.EquateNaNs(), cmpopts.EquateApprox(1e-12, 1e-9)}

	wantColumn := []float64{1090, 500, nan, 1780, 1535, 90}
	if diff := cmp.Diff(wantColumn, get("ice_column"), opts...); diff != "" {
		t.Errorf("ice_column (-want +got):\n%s", diff)
	}
	wantOverburden := make([]float64, 6)
	for i, v := range wantColumn {
		wantOverburden[i] = c.RhoIce * c.Gravity * v / 1000
	}
	if diff := cmp.Diff(wantOverburden, get("overburden"), opts...); diff != "" {
		t.Errorf("overburden (-want +got):\n%s", diff)
	}
	wantMPa := make([]float64, 6)
	for i, v := range get(VarHydropotential) {
		wantMPa[i] = v / 1000
	}
	if diff := cmp.Diff(wantMPa, get("phi_mpa"), opts...); diff != "" {
		t.Errorf("phi_mpa (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0, 1, 0, 0, 1}, get("grounded")); diff != "" {
		t.Errorf("grounded (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0, 0, 200, 0, 10}, get("bed_or_zero")); diff != "" {
		t.Errorf("bed_or_zero (-want +got):\n%s", diff)
	}

	// Derived variables are output in name order after the hydropotential.
	wantOutputs := []string{VarHydropotential, "bed_or_zero", "grounded", "ice_column", "overburden", "phi_mpa"}
	if diff := cmp.Diff(wantOutputs, d.Outputs); diff != "" {
		t.Errorf("outputs (-want +got):\n%s", diff)
	}
}

func TestNewDerivedVariablesErrors(t *testing.T) {
	for name, defs := range map[string]map[string]string{
		"reserved name": {"bed": "surface - 1"},
		"invalid name":  {"1abc": "surface"},
		"bad syntax":    {"x2": "surface - * bed"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDerivedVariables(defs); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDerivedVariablesUnknownField(t *testing.T) {
	d := testDomain(t, make([]float64, 6), make([]float64, 6), make([]float64, 6), make([]int, 6))
	vars, err := NewDerivedVariables(map[string]string{"v": "nonexistent * 2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := DerivedVariables(vars, DefaultConstants())(d); err == nil {
		t.Error("expected an error for the unknown field")
	}
}
