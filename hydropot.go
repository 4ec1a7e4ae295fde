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

// Package hydropot calculates the subglacial hydropotential of the
// Antarctic ice sheet from BedMachine Antarctica bed elevation, surface
// elevation and firn air content, and writes the result to NetCDF and
// Zarr stores with CF-compliant metadata.
package hydropot

import (
	"fmt"
	"sort"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Version gives the version number.
const Version = "1.2.0"

// Domain holds the state of a hydropotential calculation.
type Domain struct {
	Grid

	// Mask holds the categorical surface-type classes of each grid cell.
	Mask *sparse.DenseArrayInt

	// Fields holds the input and calculated variables, keyed by name.
	Fields map[string]*Field

	// Outputs lists, in order, the names of the fields to be exported.
	Outputs []string

	// Attributes are global attributes that will be attached to the
	// exported datasets.
	Attributes map[string]string

	// Source is the location the input data was read from.
	Source string

	// Validation holds the reports of any validated outputs.
	Validation []*ValidationReport

	// Log receives progress messages. If nil, the logrus standard
	// logger is used.
	Log logrus.FieldLogger

	// InitFuncs are functions to be called in the given order
	// at the beginning of the run.
	InitFuncs []DomainManipulator

	// RunFuncs are functions to be called in the given order
	// to perform the calculations.
	RunFuncs []DomainManipulator

	// CleanupFuncs are functions to be called in the given order
	// after the calculations are finished, typically to write output.
	CleanupFuncs []DomainManipulator
}

// DomainManipulator is a class of functions that operate on the entire
// domain.
type DomainManipulator func(d *Domain) error

// Field is a single two-dimensional variable on the domain grid.
type Field struct {
	Name        string
	Units       string
	Description string

	// Attributes holds any additional variable attributes, for
	// example provenance information.
	Attributes map[string]string

	// Data holds the field values with shape [ny, nx]. Missing values
	// are NaN.
	Data *sparse.DenseArray
}

// Init initializes the domain by running d.InitFuncs.
func (d *Domain) Init() error {
	return d.runAll("initialization", d.InitFuncs)
}

// Run carries out the calculations by running d.RunFuncs.
func (d *Domain) Run() error {
	return d.runAll("run", d.RunFuncs)
}

// Cleanup finishes the run by running d.CleanupFuncs.
func (d *Domain) Cleanup() error {
	return d.runAll("cleanup", d.CleanupFuncs)
}

func (d *Domain) runAll(stage string, funcs []DomainManipulator) error {
	start := time.Now()
	for _, f := range funcs {
		if err := f(d); err != nil {
			return err
		}
	}
	d.logger().WithFields(logrus.Fields{
		"stage":   stage,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("stage complete")
	return nil
}

func (d *Domain) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

// AddField adds a field to the domain, replacing any existing field with
// the same name. The data must match the grid shape.
func (d *Domain) AddField(f *Field) error {
	ny, nx := d.Shape()
	if len(f.Data.Shape) != 2 || f.Data.Shape[0] != ny || f.Data.Shape[1] != nx {
		return fmt.Errorf("hydropot: field %s has shape %v but the grid is [%d %d]",
			f.Name, f.Data.Shape, ny, nx)
	}
	if d.Fields == nil {
		d.Fields = make(map[string]*Field)
	}
	if f.Attributes == nil {
		f.Attributes = make(map[string]string)
	}
	d.Fields[f.Name] = f
	return nil
}

// Field returns the field with the given name or an error wrapping
// ErrMissingVariable if it does not exist.
func (d *Domain) Field(name string) (*Field, error) {
	f, ok := d.Fields[name]
	if !ok {
		return nil, fmt.Errorf("hydropot: %w: %s", ErrMissingVariable, name)
	}
	return f, nil
}

// addOutput marks the named field for export, if it isn't already.
func (d *Domain) addOutput(name string) {
	for _, o := range d.Outputs {
		if o == name {
			return
		}
	}
	d.Outputs = append(d.Outputs, name)
}

// SetAttribute returns a function that sets the global attribute
// name to value.
func SetAttribute(name, value string) DomainManipulator {
	return func(d *Domain) error {
		if d.Attributes == nil {
			d.Attributes = make(map[string]string)
		}
		d.Attributes[name] = value
		return nil
	}
}

// attributeNames returns the sorted names of the given attributes so
// they are written in the same order every time.
func attributeNames(attrs map[string]string) []string {
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
