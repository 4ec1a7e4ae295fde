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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// zarrReadStore is a read-only key-value store holding a Zarr hierarchy.
type zarrReadStore interface {
	Get(key string) ([]byte, error)
	Keys() ([]string, error)
	Close() error
}

func (s dirStore) Get(key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(string(s), filepath.FromSlash(key)))
}

func (s dirStore) Keys() ([]string, error) {
	var keys []string
	err := filepath.Walk(string(s), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(string(s), p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}

func (s dirStore) Close() error { return nil }

// zipReadStore reads a Zarr ZipStore.
type zipReadStore struct {
	r     *zip.ReadCloser
	files map[string]*zip.File
}

func openZipStore(path string) (*zipReadStore, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	s := &zipReadStore{r: r, files: make(map[string]*zip.File)}
	for _, f := range r.File {
		s.files[f.Name] = f
	}
	return s, nil
}

func (s *zipReadStore) Get(key string) ([]byte, error) {
	f, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *zipReadStore) Keys() ([]string, error) {
	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *zipReadStore) Close() error { return s.r.Close() }

// openZarrStore opens a directory store, or a zip store if path is a
// regular file.
func openZarrStore(path string) (zarrReadStore, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("hydropot: opening zarr store: %w", err)
	}
	if fi.IsDir() {
		return dirStore(path), nil
	}
	s, err := openZipStore(path)
	if err != nil {
		return nil, fmt.Errorf("hydropot: opening zarr zip store %s: %w", path, err)
	}
	return s, nil
}

// ReadZarr reads a Zarr store written by WriteZarr, either a directory
// or a zip file.
func ReadZarr(path string) (*Dataset, error) {
	s, err := openZarrStore(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var group struct {
		ZarrFormat int `json:"zarr_format"`
	}
	if err := getJSON(s, ".zgroup", &group); err != nil {
		return nil, err
	}
	if group.ZarrFormat != 2 {
		return nil, fmt.Errorf("hydropot: %s: unsupported zarr_format %d", path, group.ZarrFormat)
	}

	keys, err := s.Keys()
	if err != nil {
		return nil, fmt.Errorf("hydropot: listing %s: %w", path, err)
	}
	ds := &Dataset{
		Variables:  make(map[string][]float64),
		Dims:       make(map[string][]string),
		Attributes: make(map[string]map[string]interface{}),
	}
	global := make(map[string]interface{})
	if err := getJSON(s, ".zattrs", &global); err != nil {
		return nil, err
	}
	ds.Attributes[""] = global

	for _, k := range keys {
		if !strings.HasSuffix(k, "/.zarray") {
			continue
		}
		name := strings.TrimSuffix(k, "/.zarray")
		var a zarrArray
		if err := getJSON(s, k, &a); err != nil {
			return nil, err
		}
		attrs := make(map[string]interface{})
		if err := getJSON(s, name+"/.zattrs", &attrs); err != nil {
			return nil, err
		}
		dims := stringList(attrs["_ARRAY_DIMENSIONS"])
		delete(attrs, "_ARRAY_DIMENSIONS")
		ds.Attributes[name] = attrs
		ds.Dims[name] = dims
		if len(a.Shape) == 0 {
			continue
		}
		vals, err := readZarrArray(s, name, &a)
		if err != nil {
			return nil, fmt.Errorf("hydropot: reading %s from %s: %w", name, path, err)
		}
		switch {
		case name == VarX:
			ds.X = vals
		case name == VarY:
			ds.Y = vals
		case len(a.Shape) == 2:
			ds.Variables[name] = vals
		}
	}
	if ds.X == nil || ds.Y == nil {
		return nil, fmt.Errorf("hydropot: %s: %w: coordinates", path, ErrMissingVariable)
	}
	return ds, nil
}

func getJSON(s zarrReadStore, key string, v interface{}) error {
	b, err := s.Get(key)
	if err != nil {
		return fmt.Errorf("hydropot: reading %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("hydropot: decoding %s: %w", key, err)
	}
	return nil
}

func stringList(v interface{}) []string {
	l, ok := v.([]interface{})
	if !ok {
		return nil
	}
	o := make([]string, 0, len(l))
	for _, x := range l {
		if s, ok := x.(string); ok {
			o = append(o, s)
		}
	}
	return o
}

// readZarrArray reads a one- or two-dimensional float array, dropping
// the padding of edge chunks. Missing chunks are filled with NaN.
func readZarrArray(s zarrReadStore, name string, a *zarrArray) ([]float64, error) {
	if a.Order != "C" {
		return nil, fmt.Errorf("unsupported order %q", a.Order)
	}
	size, err := a.itemSize()
	if err != nil {
		return nil, err
	}
	shape, chunks := a.Shape, a.Chunks
	if len(shape) == 1 {
		shape = []int{1, shape[0]}
		chunks = []int{1, chunks[0]}
	}
	ny, nx := shape[0], shape[1]
	cy, cx := chunks[0], chunks[1]
	out := make([]float64, ny*nx)
	for i := range out {
		out[i] = math.NaN()
	}
	grid := []int{(ny + cy - 1) / cy, (nx + cx - 1) / cx}
	for cj := 0; cj < grid[0]; cj++ {
		for ci := 0; ci < grid[1]; ci++ {
			var key string
			if len(a.Shape) == 1 {
				key = chunkKey(name, ci)
			} else {
				key = chunkKey(name, cj, ci)
			}
			b, err := s.Get(key)
			if errors.Is(err, os.ErrNotExist) {
				continue
			} else if err != nil {
				return nil, err
			}
			raw, err := decompress(a.Compressor, b)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", key, err)
			}
			if len(raw) != cy*cx*size {
				return nil, fmt.Errorf("chunk %s has %d bytes; expected %d", key, len(raw), cy*cx*size)
			}
			for jj := 0; jj < cy; jj++ {
				j := cj*cy + jj
				if j >= ny {
					break
				}
				for ii := 0; ii < cx; ii++ {
					i := ci*cx + ii
					if i >= nx {
						break
					}
					p := (jj*cx + ii) * size
					out[j*nx+i] = decodeElement(a.DType, raw[p:p+size])
				}
			}
		}
	}
	return out, nil
}

func decodeElement(dtype string, b []byte) float64 {
	switch dtype {
	case "<f4":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case "<f8":
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case "<i4":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case "<i8":
		return float64(int64(binary.LittleEndian.Uint64(b)))
	}
	return math.NaN()
}
