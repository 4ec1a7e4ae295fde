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
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrValidation is returned when an output does not match the
// in-memory results.
var ErrValidation = errors.New("validation failed")

// float32Tolerance is the relative difference allowed between a value
// and its float32 representation.
const float32Tolerance = 1e-6

// Dataset is an output read back from disk.
type Dataset struct {
	X, Y []float64

	// Variables holds the two-dimensional variables, flattened in
	// row-major order.
	Variables map[string][]float64

	// Dims holds the dimension names of each variable.
	Dims map[string][]string

	// Attributes holds the attributes of each variable. The global
	// attributes have the key "".
	Attributes map[string]map[string]interface{}
}

// Check is the result of one validation test.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationReport holds the results of validating one output.
type ValidationReport struct {
	Path   string  `json:"path"`
	Format string  `json:"format"`
	Checks []Check `json:"checks"`
}

func (r *ValidationReport) add(name string, passed bool, format string, args ...interface{}) {
	c := Check{Name: name, Passed: passed}
	if format != "" {
		c.Detail = fmt.Sprintf(format, args...)
	}
	r.Checks = append(r.Checks, c)
}

// Failed returns the checks that did not pass.
func (r *ValidationReport) Failed() []Check {
	var o []Check
	for _, c := range r.Checks {
		if !c.Passed {
			o = append(o, c)
		}
	}
	return o
}

// Err returns an error wrapping ErrValidation that lists the failed
// checks, or nil if all checks passed.
func (r *ValidationReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	s := make([]string, len(failed))
	for i, c := range failed {
		s[i] = c.Name
		if c.Detail != "" {
			s[i] += " (" + c.Detail + ")"
		}
	}
	return fmt.Errorf("hydropot: %s %s: %w: %s", r.Format, r.Path, ErrValidation, strings.Join(s, "; "))
}

// ValidateDataset compares a dataset read from path to the domain.
func (d *Domain) ValidateDataset(path, format string, ds *Dataset) *ValidationReport {
	r := &ValidationReport{Path: path, Format: format}
	ny, nx := d.Shape()

	shapeOK := len(ds.X) == nx && len(ds.Y) == ny
	r.add("shape", shapeOK, "got [%d %d], want [%d %d]", len(ds.Y), len(ds.X), ny, nx)
	if !shapeOK {
		return r
	}
	r.add("x coordinates", sameValues(ds.X, d.X), "")
	r.add("y coordinates", sameValues(ds.Y, d.Y), "")

	for _, name := range d.Outputs {
		f := d.Fields[name]
		vals, ok := ds.Variables[name]
		if !ok {
			r.add(name+" present", false, "variable is missing")
			continue
		}
		if len(vals) != len(f.Data.Elements) {
			r.add(name+" size", false, "got %d values, want %d", len(vals), len(f.Data.Elements))
			continue
		}
		dims := ds.Dims[name]
		r.add(name+" dimensions", len(dims) == 2 && dims[0] == VarY && dims[1] == VarX, "%v", dims)

		var nanMismatch, valueMismatch, nNaN int
		var maxDiff float64
		for i, want := range f.Data.Elements {
			got := vals[i]
			if math.IsNaN(want) || math.IsNaN(got) {
				if math.IsNaN(want) != math.IsNaN(got) {
					nanMismatch++
				} else {
					nNaN++
				}
				continue
			}
			diff := math.Abs(got - want)
			if diff > float32Tolerance*math.Max(1, math.Abs(want)) {
				valueMismatch++
			}
			maxDiff = math.Max(maxDiff, diff)
		}
		r.add(name+" missing values", nanMismatch == 0, "%d missing cells, %d mismatched", nNaN, nanMismatch)
		r.add(name+" values", valueMismatch == 0, "%d cells differ, maximum difference %g", valueMismatch, maxDiff)

		gm, _ := ds.Attributes[name]["grid_mapping"].(string)
		r.add(name+" grid_mapping", gm == VarMapping, "%q", gm)
	}

	mapping, ok := ds.Attributes[VarMapping]
	if !ok {
		r.add("grid mapping variable", false, "variable %s is missing", VarMapping)
		return r
	}
	want, err := d.CRS.CFAttributes()
	if err != nil {
		r.add("grid mapping variable", false, "%v", err)
		return r
	}
	for _, a := range want {
		switch a.Name {
		case "grid_mapping_name", "epsg_code":
			got, _ := mapping[a.Name].(string)
			r.add("crs "+a.Name, got == a.Value.(string), "got %q, want %q", got, a.Value)
		}
	}
	c, err := CRSFromCF(mapping)
	if err != nil {
		r.add("crs parse", false, "%v", err)
	} else {
		r.add("crs parse", sameProjection(c.SR, d.CRS.SR), "%s", c)
	}
	return r
}

func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}

// Validate returns a function that re-opens the NetCDF output at
// netcdfPath and the Zarr output at zarrPath, which may be a directory
// or a zip store, and checks them against the domain. Either path may be
// empty to skip it. The reports are stored in d.Validation.
func Validate(netcdfPath, zarrPath string) DomainManipulator {
	return func(d *Domain) error {
		var errs []string
		check := func(path, format string, read func(string) (*Dataset, error)) error {
			if path == "" {
				return nil
			}
			ds, err := read(path)
			if err != nil {
				return err
			}
			r := d.ValidateDataset(path, format, ds)
			d.Validation = append(d.Validation, r)
			if err := r.Err(); err != nil {
				d.logger().WithField("path", path).Error(err)
				errs = append(errs, err.Error())
				return nil
			}
			d.logger().WithFields(logrus.Fields{
				"path":   path,
				"checks": len(r.Checks),
			}).Info("validated output")
			return nil
		}
		if err := check(netcdfPath, "netcdf", ReadNetCDF); err != nil {
			return err
		}
		if err := check(zarrPath, "zarr", ReadZarr); err != nil {
			return err
		}
		if len(errs) > 0 {
			return fmt.Errorf("hydropot: %w: %s", ErrValidation, strings.Join(errs, "; "))
		}
		return nil
	}
}
