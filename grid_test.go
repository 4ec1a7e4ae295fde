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
	"errors"
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

func TestGrid(t *testing.T) {
	g := Grid{X: []float64{-1000, 0, 1000}, Y: []float64{500, -500}}
	if ny, nx := g.Shape(); ny != 2 || nx != 3 {
		t.Errorf("shape [%d %d]", ny, nx)
	}
	if dx, dy := g.Resolution(); dx != 1000 || dy != 1000 {
		t.Errorf("resolution %g, %g", dx, dy)
	}
	b := g.Bounds()
	if b.Min.X != -1500 || b.Max.X != 1500 || b.Min.Y != -1000 || b.Max.Y != 1000 {
		t.Errorf("bounds %+v", b)
	}
	if dx, _ := (&Grid{X: []float64{1}}).Resolution(); !math.IsNaN(dx) {
		t.Errorf("single column resolution %g", dx)
	}
	if gt := g.geoTransform(); gt != "-1500 1000 0 1000 0 -1000" {
		t.Errorf("geotransform %q", gt)
	}
}

func TestAddField(t *testing.T) {
	d := &Domain{Grid: Grid{X: []float64{0, 1}, Y: []float64{0, 1, 2}}}
	if err := d.AddField(&Field{Name: "a", Data: sparse.ZerosDense(2, 3)}); err == nil {
		t.Error("expected a shape error")
	}
	if err := d.AddField(&Field{Name: "a", Data: sparse.ZerosDense(3, 2)}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Field("b"); !errors.Is(err, ErrMissingVariable) {
		t.Errorf("expected ErrMissingVariable, got %v", err)
	}
}

func TestDomainStages(t *testing.T) {
	var calls []string
	stage := func(name string, err error) DomainManipulator {
		return func(*Domain) error {
			calls = append(calls, name)
			return err
		}
	}
	errStop := errors.New("stop")
	d := &Domain{
		InitFuncs:    []DomainManipulator{stage("init", nil)},
		RunFuncs:     []DomainManipulator{stage("run1", errStop), stage("run2", nil)},
		CleanupFuncs: []DomainManipulator{stage("cleanup", nil)},
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != errStop {
		t.Errorf("expected errStop, got %v", err)
	}
	if len(calls) != 2 || calls[1] != "run1" {
		t.Errorf("calls: %v", calls)
	}
}
