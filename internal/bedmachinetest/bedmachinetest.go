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

// Package bedmachinetest writes small synthetic BedMachine Antarctica
// files for testing.
package bedmachinetest

import (
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
)

// Grid layout of the synthetic files. x increases and y decreases, as
// in BedMachine.
const (
	X0 = -3000.0
	Y0 = 2000.0
	DX = 500.0
)

// BedFill is the fill value of the bed variable. The bed of the
// cell at row 1, column 1 is missing.
const BedFill = -9999.0

// X returns the x coordinate of column i.
func X(i int) float64 { return X0 + DX*float64(i) }

// Y returns the y coordinate of row j.
func Y(j int) float64 { return Y0 - DX*float64(j) }

// Bed returns the bed elevation [m] of cell (j, i).
func Bed(j, i int) float64 {
	if j == 1 && i == 1 {
		return BedFill
	}
	return -100 + 10*float64(i) - 5*float64(j)
}

// Surface returns the surface elevation [m] of cell (j, i).
func Surface(j, i int) float64 { return 1000 + 2*float64(i) + float64(j) }

// Firn returns the firn air content [m] of cell (j, i).
func Firn(j, i int) float64 { return 10 + float64(i%3) }

// Thickness returns the ice thickness [m] of cell (j, i).
func Thickness(j, i int) float64 { return Surface(j, i) - Bed(j, i) }

// Mask returns the mask class of cell (j, i), cycling through the
// five BedMachine classes.
func Mask(j, i int) int { return (j + 2*i) % 5 }

// Write writes a BedMachine-like NetCDF classic file with ny rows and
// nx columns to path.
func Write(path string, ny, nx int) error {
	h := cdf.NewHeader([]string{"y", "x"}, []int{ny, nx})
	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddAttribute("x", "units", "meters")
	h.AddAttribute("x", "standard_name", "projection_x_coordinate")
	h.AddVariable("y", []string{"y"}, []float64{0})
	h.AddAttribute("y", "units", "meters")
	h.AddAttribute("y", "standard_name", "projection_y_coordinate")

	h.AddVariable("mapping", []string{}, []int32{0})
	h.AddAttribute("mapping", "grid_mapping_name", "polar_stereographic")
	h.AddAttribute("mapping", "latitude_of_projection_origin", []float64{-90})
	h.AddAttribute("mapping", "standard_parallel", []float64{-71})
	h.AddAttribute("mapping", "straight_vertical_longitude_from_pole", []float64{0})
	h.AddAttribute("mapping", "false_easting", []float64{0})
	h.AddAttribute("mapping", "false_northing", []float64{0})
	h.AddAttribute("mapping", "semi_major_axis", []float64{6378137})
	h.AddAttribute("mapping", "inverse_flattening", []float64{298.257223563})

	for _, v := range []struct{ name, units, longName string }{
		{"bed", "meters", "bed topography"},
		{"surface", "meters", "ice surface elevation"},
		{"firn", "meters", "firn air content"},
		{"thickness", "meters", "ice thickness"},
	} {
		h.AddVariable(v.name, []string{"y", "x"}, []float32{0})
		h.AddAttribute(v.name, "units", v.units)
		h.AddAttribute(v.name, "long_name", v.longName)
		h.AddAttribute(v.name, "grid_mapping", "mapping")
	}
	h.AddAttribute("bed", "_FillValue", []float32{BedFill})
	h.AddAttribute("bed", "source", "synthetic")

	h.AddVariable("mask", []string{"y", "x"}, []uint8{0})
	h.AddAttribute("mask", "long_name", "mask")
	h.AddAttribute("mask", "flag_values", []uint8{0, 1, 2, 3, 4})
	h.AddAttribute("mask", "flag_meanings", "ocean ice_free_land grounded_ice floating_ice subglacial_lake_vostok")

	h.AddAttribute("", "Title", "BedMachine Antarctica")
	h.AddAttribute("", "version", "test")
	h.AddAttribute("", "Conventions", "CF-1.7")
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("bedmachinetest: %v", errs[0])
	}
	ff, err := os.Create(path)
	if err != nil {
		return err
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		return err
	}

	x := make([]float64, nx)
	for i := range x {
		x[i] = X(i)
	}
	y := make([]float64, ny)
	for j := range y {
		y[j] = Y(j)
	}
	grid := func(v func(j, i int) float64) []float32 {
		o := make([]float32, ny*nx)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				o[j*nx+i] = float32(v(j, i))
			}
		}
		return o
	}
	mask := make([]uint8, ny*nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			mask[j*nx+i] = uint8(Mask(j, i))
		}
	}

	for _, v := range []struct {
		name string
		data interface{}
	}{
		{"x", x},
		{"y", y},
		{"mapping", []int32{0}},
		{"bed", grid(Bed)},
		{"surface", grid(Surface)},
		{"firn", grid(Firn)},
		{"thickness", grid(Thickness)},
		{"mask", mask},
	} {
		w := f.Writer(v.name, nil, nil)
		if _, err := w.Write(v.data); err != nil && err != io.EOF {
			ff.Close()
			return fmt.Errorf("bedmachinetest: writing %s: %v", v.name, err)
		}
	}
	return ff.Close()
}
