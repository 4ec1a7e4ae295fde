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
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
)

// NetCDFOutput returns a function that writes the output fields to a
// NetCDF classic file at path.
func NetCDFOutput(path string) DomainManipulator {
	return func(d *Domain) error {
		if err := d.WriteNetCDF(path); err != nil {
			return err
		}
		d.logger().WithField("path", path).Info("wrote NetCDF output")
		return nil
	}
}

// cdfValue converts an attribute value to one of the types the cdf
// package can store.
func cdfValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return []float64{t}, nil
	case float32:
		return []float32{t}, nil
	case int32:
		return []int32{t}, nil
	case int:
		return []int32{int32(t)}, nil
	case []float64, []float32, []int32, []int16, []uint8:
		return t, nil
	}
	return nil, fmt.Errorf("hydropot: unsupported attribute type %T", v)
}

func addCDFAttributes(h *cdf.Header, v string, attrs []Attribute) error {
	for _, a := range attrs {
		if s, ok := a.Value.(string); ok && s == "" {
			continue
		}
		val, err := cdfValue(a.Value)
		if err != nil {
			return fmt.Errorf("%s:%s: %w", v, a.Name, err)
		}
		h.AddAttribute(v, a.Name, val)
	}
	return nil
}

// WriteNetCDF writes the x and y coordinates, the grid mapping variable
// and the output fields to a NetCDF classic file. Fields are stored as
// 32-bit floats with NaN as the fill value.
func (d *Domain) WriteNetCDF(path string) error {
	ny, nx := d.Shape()
	if ny == 0 || nx == 0 {
		return fmt.Errorf("hydropot: writing %s: the grid is empty", path)
	}
	h := cdf.NewHeader([]string{VarY, VarX}, []int{ny, nx})

	h.AddVariable(VarX, []string{VarX}, []float64{0})
	h.AddVariable(VarY, []string{VarY}, []float64{0})
	for _, c := range []string{VarX, VarY} {
		if err := addCDFAttributes(h, c, coordinateAttributes(c)); err != nil {
			return err
		}
	}

	mapping, err := d.mappingAttributes()
	if err != nil {
		return err
	}
	h.AddVariable(VarMapping, []string{}, []int32{0})
	if err := addCDFAttributes(h, VarMapping, mapping); err != nil {
		return err
	}

	for _, name := range d.Outputs {
		f, err := d.Field(name)
		if err != nil {
			return err
		}
		h.AddVariable(name, []string{VarY, VarX}, []float32{0})
		h.AddAttribute(name, "_FillValue", []float32{float32(math.NaN())})
		if err := addCDFAttributes(h, name, d.fieldAttributes(f)); err != nil {
			return err
		}
	}
	if err := addCDFAttributes(h, "", d.globalAttributes()); err != nil {
		return err
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("hydropot: invalid NetCDF header: %v", errs[0])
	}

	ff, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hydropot: creating NetCDF output: %w", err)
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		return fmt.Errorf("hydropot: creating NetCDF output: %w", err)
	}
	if err := writeCDF(f, VarX, nil, nil, d.X); err != nil {
		ff.Close()
		return err
	}
	if err := writeCDF(f, VarY, nil, nil, d.Y); err != nil {
		ff.Close()
		return err
	}
	if err := writeCDF(f, VarMapping, nil, nil, []int32{0}); err != nil {
		ff.Close()
		return err
	}
	row := make([]float32, nx)
	for _, name := range d.Outputs {
		fld := d.Fields[name]
		for j := 0; j < ny; j++ {
			for i, v := range fld.Data.Elements[j*nx : (j+1)*nx] {
				row[i] = float32(v)
			}
			if err := writeCDF(f, name, []int{j, 0}, []int{j, nx - 1}, row); err != nil {
				ff.Close()
				return err
			}
		}
	}
	return ff.Close()
}

func writeCDF(f *cdf.File, name string, begin, end []int, data interface{}) error {
	w := f.Writer(name, begin, end)
	if _, err := w.Write(data); err != nil && err != io.EOF {
		return fmt.Errorf("hydropot: writing NetCDF variable %s: %w", name, err)
	}
	return nil
}

// ReadNetCDF reads a NetCDF file written by WriteNetCDF.
func ReadNetCDF(path string) (*Dataset, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hydropot: opening NetCDF file: %w", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("hydropot: opening NetCDF file %s: %w", path, err)
	}
	r := &classicReader{f: ff, cf: f}
	ds := &Dataset{
		Variables:  make(map[string][]float64),
		Dims:       make(map[string][]string),
		Attributes: make(map[string]map[string]interface{}),
	}
	if ds.X, err = r.coordinate(VarX); err != nil {
		return nil, err
	}
	if ds.Y, err = r.coordinate(VarY); err != nil {
		return nil, err
	}
	ny, nx := len(ds.Y), len(ds.X)
	if ds.Attributes[""], err = r.attributes(""); err != nil {
		return nil, err
	}
	for _, v := range f.Header.Variables() {
		if ds.Attributes[v], err = r.attributes(v); err != nil {
			return nil, err
		}
		dims := f.Header.Dimensions(v)
		ds.Dims[v] = dims
		if len(dims) != 2 {
			continue
		}
		vals, err := r.rows(v, 0, ny, 0, nx, 1)
		if err != nil {
			return nil, fmt.Errorf("hydropot: reading %s from %s: %w", v, path, err)
		}
		ds.Variables[v] = vals
	}
	logrus.WithFields(logrus.Fields{"path": path, "variables": len(ds.Variables)}).Debug("read NetCDF output")
	return ds, nil
}
