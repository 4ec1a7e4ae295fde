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
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Names of the BedMachine Antarctica variables.
const (
	VarX              = "x"
	VarY              = "y"
	VarBed            = "bed"
	VarSurface        = "surface"
	VarFirn           = "firn"
	VarThickness      = "thickness"
	VarMask           = "mask"
	VarMapping        = "mapping"
	VarHydropotential = "hydropotential"
)

// NoClass is the mask value of cells whose class is missing from the
// source.
const NoClass = -1

var (
	classicMagic = [][]byte{[]byte("CDF\x01"), []byte("CDF\x02")}
	hdf5Magic    = []byte("\x89HDF\r\n\x1a\n")
)

// Source holds the variables read from a BedMachine file.
type Source struct {
	Grid

	// Fields holds the bed, surface and firn variables, and thickness
	// if the file has it.
	Fields map[string]*Field

	// Mask holds the surface-type classes.
	Mask *sparse.DenseArrayInt

	// Attributes holds the text-valued global attributes of the file.
	Attributes map[string]string

	// Path is the file the source was read from.
	Path string
}

// sourceReader reads variables from one of the supported file formats.
type sourceReader interface {
	dimensions(name string) ([]string, error)
	attributes(name string) (map[string]interface{}, error)
	coordinate(name string) ([]float64, error)

	// rows reads rows j0 to j1 (exclusive) of a [y, x] variable,
	// keeping every stride-th row and columns i0 to i1 (exclusive)
	// at the same stride.
	rows(name string, j0, j1, i0, i1, stride int) ([]float64, error)
	has(name string) bool
	close() error
}

// OpenSource reads the BedMachine variables from the NetCDF file at path,
// which may be either NetCDF classic or NetCDF-4. If w is not nil, only
// the cells it selects are read.
func OpenSource(path string, w *Window) (*Source, error) {
	r, err := openSourceReader(path)
	if err != nil {
		return nil, err
	}
	defer r.close()

	x, err := r.coordinate(VarX)
	if err != nil {
		return nil, err
	}
	y, err := r.coordinate(VarY)
	if err != nil {
		return nil, err
	}
	j0, j1, i0, i1, err := w.ranges(x, y)
	if err != nil {
		return nil, fmt.Errorf("hydropot: reading %s: %w", path, err)
	}
	stride := w.stride()

	s := &Source{
		Grid: Grid{
			X: strided(x, i0, i1, stride),
			Y: strided(y, j0, j1, stride),
		},
		Fields: make(map[string]*Field),
		Path:   path,
	}
	ny, nx := s.Shape()

	if s.CRS, err = sourceCRS(r); err != nil {
		return nil, err
	}

	global, err := r.attributes("")
	if err != nil {
		return nil, err
	}
	s.Attributes = textAttributes(global, nil)

	vars := []string{VarBed, VarSurface, VarFirn, VarThickness}
	for _, v := range vars {
		if v == VarThickness && !r.has(v) {
			continue
		}
		f, err := readField(r, v, j0, j1, i0, i1, stride, ny, nx)
		if err != nil {
			return nil, fmt.Errorf("hydropot: reading %s: %w", path, err)
		}
		s.Fields[v] = f
	}

	m, err := readField(r, VarMask, j0, j1, i0, i1, stride, ny, nx)
	if err != nil {
		return nil, fmt.Errorf("hydropot: reading %s: %w", path, err)
	}
	s.Mask = sparse.ZerosDenseInt(ny, nx)
	for i, v := range m.Data.Elements {
		if math.IsNaN(v) {
			s.Mask.Elements[i] = NoClass
		} else {
			s.Mask.Elements[i] = int(v)
		}
	}
	return s, nil
}

// openSourceReader chooses a reader based on the file signature.
func openSourceReader(path string) (sourceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hydropot: opening source: %w", err)
	}
	magic := make([]byte, len(hdf5Magic))
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, fmt.Errorf("hydropot: reading signature of %s: %w", path, err)
	}
	magic = magic[:n]
	for _, m := range classicMagic {
		if bytes.HasPrefix(magic, m) {
			cf, err := cdf.Open(f)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("hydropot: opening %s: %w", path, err)
			}
			return &classicReader{f: f, cf: cf}, nil
		}
	}
	f.Close()
	if bytes.Equal(magic, hdf5Magic) {
		g, err := netcdf.Open(path)
		if err != nil {
			return nil, fmt.Errorf("hydropot: opening %s: %w", path, err)
		}
		return &hdf5Reader{g: g}, nil
	}
	return nil, fmt.Errorf("hydropot: %s is not a NetCDF file", path)
}

func sourceCRS(r sourceReader) (*CRS, error) {
	if !r.has(VarMapping) {
		return ParseCRS("EPSG:3031")
	}
	attrs, err := r.attributes(VarMapping)
	if err != nil {
		return nil, err
	}
	c, err := CRSFromCF(attrs)
	if err != nil {
		return nil, fmt.Errorf("hydropot: reading %s variable: %w", VarMapping, err)
	}
	return c, nil
}

func readField(r sourceReader, name string, j0, j1, i0, i1, stride, ny, nx int) (*Field, error) {
	if !r.has(name) {
		return nil, fmt.Errorf("%w: %s", ErrMissingVariable, name)
	}
	dims, err := r.dimensions(name)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 || dims[0] != VarY || dims[1] != VarX {
		return nil, fmt.Errorf("variable %s has dimensions %v; expected [y x]", name, dims)
	}
	attrs, err := r.attributes(name)
	if err != nil {
		return nil, err
	}
	vals, err := r.rows(name, j0, j1, i0, i1, stride)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	if len(vals) != ny*nx {
		return nil, fmt.Errorf("variable %s has %d values in the window; expected %d", name, len(vals), ny*nx)
	}
	for _, a := range []string{"_FillValue", "missing_value"} {
		fill, ok := attrFloat(attrs[a])
		if !ok {
			continue
		}
		for i, v := range vals {
			if v == fill || float32(v) == float32(fill) {
				vals[i] = math.NaN()
			}
		}
	}
	f := &Field{
		Name:       name,
		Data:       sparse.ZerosDense(ny, nx),
		Attributes: textAttributes(attrs, []string{"units", "long_name", "grid_mapping", "coordinates"}),
	}
	f.Data.Elements = vals
	f.Units, _ = attrs["units"].(string)
	f.Description, _ = attrs["long_name"].(string)
	return f, nil
}

// textAttributes returns the string-valued attributes in attrs other
// than those named in skip.
func textAttributes(attrs map[string]interface{}, skip []string) map[string]string {
	o := make(map[string]string)
	for k, v := range attrs {
		s, ok := v.(string)
		if !ok {
			continue
		}
		skipped := false
		for _, sk := range skip {
			if k == sk {
				skipped = true
				break
			}
		}
		if !skipped {
			o[k] = strings.TrimRight(s, "\x00")
		}
	}
	return o
}

type classicReader struct {
	f  *os.File
	cf *cdf.File
}

func (r *classicReader) has(name string) bool {
	for _, v := range r.cf.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

func (r *classicReader) dimensions(name string) ([]string, error) {
	return r.cf.Header.Dimensions(name), nil
}

func (r *classicReader) attributes(name string) (map[string]interface{}, error) {
	o := make(map[string]interface{})
	for _, a := range r.cf.Header.Attributes(name) {
		o[a] = r.cf.Header.GetAttribute(name, a)
	}
	return o, nil
}

func (r *classicReader) coordinate(name string) ([]float64, error) {
	if !r.has(name) {
		return nil, fmt.Errorf("hydropot: %w: %s", ErrMissingVariable, name)
	}
	if l := r.cf.Header.Lengths(name); len(l) != 1 {
		return nil, fmt.Errorf("hydropot: coordinate %s has shape %v", name, l)
	}
	rr := r.cf.Reader(name, nil, nil)
	buf := rr.Zero(-1)
	if _, err := rr.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("hydropot: reading coordinate %s: %w", name, err)
	}
	return toFloat64s(buf)
}

func (r *classicReader) rows(name string, j0, j1, i0, i1, stride int) ([]float64, error) {
	ncol := (i1 - i0 + stride - 1) / stride
	o := make([]float64, 0, ncol*((j1-j0+stride-1)/stride))
	for j := j0; j < j1; j += stride {
		rr := r.cf.Reader(name, []int{j, i0}, []int{j, i1 - 1})
		buf := rr.Zero(i1 - i0)
		if _, err := rr.Read(buf); err != nil && err != io.EOF {
			return nil, fmt.Errorf("row %d: %w", j, err)
		}
		row, err := toFloat64s(buf)
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(row); i += stride {
			o = append(o, row[i])
		}
	}
	return o, nil
}

func (r *classicReader) close() error { return r.f.Close() }

// hdf5Reader reads NetCDF-4 files, whose variables can only be sliced
// along their first dimension.
type hdf5Reader struct {
	g api.Group
}

func (r *hdf5Reader) has(name string) bool {
	for _, v := range r.g.ListVariables() {
		if v == name {
			return true
		}
	}
	return false
}

func (r *hdf5Reader) dimensions(name string) ([]string, error) {
	vg, err := r.g.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("hydropot: %s: %w", name, err)
	}
	return vg.Dimensions(), nil
}

func (r *hdf5Reader) attributes(name string) (map[string]interface{}, error) {
	var am api.AttributeMap
	if name == "" {
		am = r.g.Attributes()
	} else {
		vg, err := r.g.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("hydropot: %s: %w", name, err)
		}
		am = vg.Attributes()
	}
	o := make(map[string]interface{})
	if am == nil {
		return o, nil
	}
	for _, k := range am.Keys() {
		v, _ := am.Get(k)
		o[k] = v
	}
	return o, nil
}

func (r *hdf5Reader) coordinate(name string) ([]float64, error) {
	if !r.has(name) {
		return nil, fmt.Errorf("hydropot: %w: %s", ErrMissingVariable, name)
	}
	v, err := r.g.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("hydropot: reading coordinate %s: %w", name, err)
	}
	return toFloat64s(v.Values)
}

func (r *hdf5Reader) rows(name string, j0, j1, i0, i1, stride int) ([]float64, error) {
	vg, err := r.g.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	dims := vg.Dimensions()
	if len(dims) != 2 {
		return nil, fmt.Errorf("dimensions %v are not two-dimensional", dims)
	}
	nx, err := r.dimLen(dims[1])
	if err != nil {
		return nil, err
	}
	if i1 > nx {
		return nil, fmt.Errorf("column %d out of range [0, %d)", i1-1, nx)
	}
	ncol := (i1 - i0 + stride - 1) / stride
	o := make([]float64, 0, ncol*((j1-j0+stride-1)/stride))
	for j := j0; j < j1; j += stride {
		slice, err := vg.GetSlice(int64(j), int64(j+1))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", j, err)
		}
		row, err := toFloat64s(slice)
		if err != nil {
			return nil, err
		}
		if len(row) != nx {
			return nil, fmt.Errorf("row %d has %d values; expected %d", j, len(row), nx)
		}
		for i := i0; i < i1; i += stride {
			o = append(o, row[i])
		}
	}
	return o, nil
}

// dimLen returns the length of dimension name, taken from its
// coordinate variable when there is one.
func (r *hdf5Reader) dimLen(name string) (int, error) {
	if vg, err := r.g.GetVarGetter(name); err == nil {
		return int(vg.Len()), nil
	}
	if n, ok := r.g.GetDimension(name); ok {
		return int(n), nil
	}
	return 0, fmt.Errorf("hydropot: unknown dimension %s", name)
}

func (r *hdf5Reader) close() error {
	r.g.Close()
	return nil
}

// toFloat64s flattens a numeric value, slice or nested slice to a
// []float64.
func toFloat64s(v interface{}) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		o := make([]float64, len(t))
		copy(o, t)
		return o, nil
	case []float32:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o, nil
	case []int32:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o, nil
	case []int16:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o, nil
	case []int8:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o, nil
	case []uint8:
		// NetCDF bytes are signed.
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(int8(x))
		}
		return o, nil
	}
	var o []float64
	var walk func(r reflect.Value) error
	walk = func(r reflect.Value) error {
		switch r.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < r.Len(); i++ {
				if err := walk(r.Index(i)); err != nil {
					return err
				}
			}
		case reflect.Interface, reflect.Ptr:
			if r.IsNil() {
				return fmt.Errorf("hydropot: nil value")
			}
			return walk(r.Elem())
		case reflect.Float32, reflect.Float64:
			o = append(o, r.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			o = append(o, float64(r.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			o = append(o, float64(r.Uint()))
		default:
			return fmt.Errorf("hydropot: cannot convert %s to float64", r.Type())
		}
		return nil
	}
	if err := walk(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadSource returns a function that reads the BedMachine file at path
// into the domain.
func LoadSource(path string, w *Window) DomainManipulator {
	return func(d *Domain) error {
		s, err := OpenSource(path, w)
		if err != nil {
			return err
		}
		d.Grid = s.Grid
		d.Mask = s.Mask
		d.Source = path
		for _, name := range []string{VarBed, VarSurface, VarFirn, VarThickness} {
			f, ok := s.Fields[name]
			if !ok {
				continue
			}
			if err := d.AddField(f); err != nil {
				return err
			}
		}
		if d.Attributes == nil {
			d.Attributes = make(map[string]string)
		}
		d.Attributes["source"] = sourceDescription(s)
		ny, nx := d.Shape()
		d.logger().WithFields(logrus.Fields{
			"path": path,
			"ny":   ny,
			"nx":   nx,
			"crs":  d.CRS.String(),
		}).Info("loaded source")
		return nil
	}
}

// sourceDescription describes the source for the "source" attribute
// of the outputs.
func sourceDescription(s *Source) string {
	desc := filepath.Base(s.Path)
	title := s.Attributes["title"]
	if title == "" {
		title = s.Attributes["Title"]
	}
	if title != "" {
		desc = title + " (" + desc + ")"
	}
	for _, k := range []string{"version", "product_version"} {
		if v := s.Attributes[k]; v != "" {
			desc += " version " + v
			break
		}
	}
	return desc
}
