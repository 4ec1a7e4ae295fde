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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Zarr compressor ids.
const (
	CompressorZstd = "zstd"
	CompressorZlib = "zlib"
	CompressorNone = "none"
)

// ZarrOptions specify how a Zarr store is written.
type ZarrOptions struct {
	// ChunkY and ChunkX are the chunk dimensions of the data variables.
	// Values < 1 use DefaultChunkSize.
	ChunkY int `toml:"chunk"`
	ChunkX int `toml:"-"`

	// Compressor is one of CompressorZstd, CompressorZlib or CompressorNone.
	// The default is CompressorZstd.
	Compressor string `toml:"compressor"`

	// Level is the compression level. 0 uses the compressor's default.
	Level int `toml:"level"`

	// Workers is the number of chunks encoded concurrently. Values < 1
	// use the number of processors.
	Workers int `toml:"workers"`
}

// DefaultChunkSize is the default chunk length along each dimension.
const DefaultChunkSize = 1024

func (o ZarrOptions) withDefaults() (ZarrOptions, error) {
	if o.ChunkY < 1 {
		o.ChunkY = DefaultChunkSize
	}
	if o.ChunkX < 1 {
		o.ChunkX = DefaultChunkSize
	}
	if o.Compressor == "" {
		o.Compressor = CompressorZstd
	}
	if o.Workers < 1 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	switch o.Compressor {
	case CompressorZstd:
		if o.Level == 0 {
			o.Level = 3
		}
	case CompressorZlib:
		if o.Level == 0 {
			o.Level = 6
		}
		if o.Level < 1 || o.Level > 9 {
			return o, fmt.Errorf("hydropot: zlib level %d is not between 1 and 9", o.Level)
		}
	case CompressorNone:
	default:
		return o, fmt.Errorf("hydropot: unknown zarr compressor %q", o.Compressor)
	}
	return o, nil
}

// zarrCompressor is the compressor entry of a .zarray document.
type zarrCompressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// zarrArray is the .zarray document of a Zarr v2 array.
type zarrArray struct {
	Chunks             []int           `json:"chunks"`
	Compressor         *zarrCompressor `json:"compressor"`
	DimensionSeparator string          `json:"dimension_separator"`
	DType              string          `json:"dtype"`
	FillValue          interface{}     `json:"fill_value"`
	Filters            []interface{}   `json:"filters"`
	Order              string          `json:"order"`
	Shape              []int           `json:"shape"`
	ZarrFormat         int             `json:"zarr_format"`
}

// itemSize returns the size in bytes of one element.
func (a *zarrArray) itemSize() (int, error) {
	switch a.DType {
	case "<f4", "<i4":
		return 4, nil
	case "<f8", "<i8":
		return 8, nil
	}
	return 0, fmt.Errorf("hydropot: unsupported zarr dtype %q", a.DType)
}

// chunkGrid returns the number of chunks along each dimension.
func (a *zarrArray) chunkGrid() []int {
	n := make([]int, len(a.Shape))
	for i, s := range a.Shape {
		n[i] = (s + a.Chunks[i] - 1) / a.Chunks[i]
	}
	return n
}

// chunkKey returns the store key of the chunk with the given indices.
func chunkKey(array string, idx ...int) string {
	if len(idx) == 0 {
		return path.Join(array, "0")
	}
	s := make([]string, len(idx))
	for i, x := range idx {
		s[i] = fmt.Sprint(x)
	}
	return path.Join(array, strings.Join(s, "."))
}

// zarrStore is a key-value store holding a Zarr hierarchy.
type zarrStore interface {
	Set(key string, value []byte) error
}

// dirStore is a Zarr directory store.
type dirStore string

func (s dirStore) Set(key string, value []byte) error {
	p := filepath.Join(string(s), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, value, 0644)
}

// zarrAttributes converts attributes to a .zattrs document.
func zarrAttributes(attrs []Attribute, dims []string) map[string]interface{} {
	o := make(map[string]interface{})
	for _, a := range attrs {
		if s, ok := a.Value.(string); ok && s == "" {
			continue
		}
		o[a.Name] = a.Value
	}
	if dims != nil {
		o["_ARRAY_DIMENSIONS"] = dims
	}
	return o
}

// ZarrOutput returns a function that writes the output fields to a Zarr
// v2 directory store at path, replacing any existing store.
func ZarrOutput(path string, opts ZarrOptions) DomainManipulator {
	return func(d *Domain) error {
		if err := d.WriteZarr(path, opts); err != nil {
			return err
		}
		d.logger().WithFields(logrus.Fields{
			"path":       path,
			"compressor": opts.Compressor,
		}).Info("wrote Zarr output")
		return nil
	}
}

// WriteZarr writes the domain outputs to a Zarr v2 directory store with
// xarray-compatible dimension names and consolidated metadata.
func (d *Domain) WriteZarr(path string, opts ZarrOptions) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}
	ny, nx := d.Shape()
	if ny == 0 || nx == 0 {
		return fmt.Errorf("hydropot: writing %s: the grid is empty", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("hydropot: removing existing zarr store: %w", err)
	}
	store := dirStore(path)
	meta := make(map[string]interface{})
	set := func(key string, doc interface{}) error {
		b, err := json.MarshalIndent(doc, "", "    ")
		if err != nil {
			return fmt.Errorf("hydropot: encoding %s: %w", key, err)
		}
		meta[key] = doc
		if err := store.Set(key, b); err != nil {
			return fmt.Errorf("hydropot: writing %s: %w", key, err)
		}
		return nil
	}
	compressor := opts.compressor()

	if err := set(".zgroup", map[string]int{"zarr_format": 2}); err != nil {
		return err
	}
	if err := set(".zattrs", zarrAttributes(d.globalAttributes(), nil)); err != nil {
		return err
	}

	// Coordinates
	for _, c := range []struct {
		name string
		v    []float64
	}{{VarX, d.X}, {VarY, d.Y}} {
		a := &zarrArray{
			Chunks: []int{len(c.v)}, Compressor: compressor, DimensionSeparator: ".",
			DType: "<f8", FillValue: "NaN", Order: "C", Shape: []int{len(c.v)}, ZarrFormat: 2,
		}
		if err := set(c.name+"/.zarray", a); err != nil {
			return err
		}
		if err := set(c.name+"/.zattrs", zarrAttributes(coordinateAttributes(c.name), []string{c.name})); err != nil {
			return err
		}
		b := make([]byte, 8*len(c.v))
		for i, v := range c.v {
			binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
		}
		if err := opts.writeChunk(store, chunkKey(c.name, 0), b); err != nil {
			return err
		}
	}

	// Grid mapping
	mapping, err := d.mappingAttributes()
	if err != nil {
		return err
	}
	ma := &zarrArray{
		Chunks: []int{}, Compressor: nil, DimensionSeparator: ".",
		DType: "<i4", FillValue: nil, Order: "C", Shape: []int{}, ZarrFormat: 2,
	}
	if err := set(VarMapping+"/.zarray", ma); err != nil {
		return err
	}
	if err := set(VarMapping+"/.zattrs", zarrAttributes(mapping, []string{})); err != nil {
		return err
	}
	if err := store.Set(chunkKey(VarMapping), make([]byte, 4)); err != nil {
		return fmt.Errorf("hydropot: writing %s: %w", VarMapping, err)
	}

	// Data variables
	for _, name := range d.Outputs {
		f, err := d.Field(name)
		if err != nil {
			return err
		}
		a := &zarrArray{
			Chunks: []int{opts.ChunkY, opts.ChunkX}, Compressor: compressor, DimensionSeparator: ".",
			DType: "<f4", FillValue: "NaN", Order: "C", Shape: []int{ny, nx}, ZarrFormat: 2,
		}
		if err := set(name+"/.zarray", a); err != nil {
			return err
		}
		if err := set(name+"/.zattrs", zarrAttributes(d.fieldAttributes(f), []string{VarY, VarX})); err != nil {
			return err
		}
		if err := opts.writeChunks(store, name, a, f.Data.Elements); err != nil {
			return err
		}
	}

	return set(".zmetadata", map[string]interface{}{
		"metadata":                 copyMeta(meta),
		"zarr_consolidated_format": 1,
	})
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	o := make(map[string]interface{}, len(m))
	for k, v := range m {
		o[k] = v
	}
	return o
}

func (o ZarrOptions) compressor() *zarrCompressor {
	if o.Compressor == CompressorNone {
		return nil
	}
	return &zarrCompressor{ID: o.Compressor, Level: o.Level}
}

// writeChunks splits a [ny, nx] array into chunks, padding edge chunks
// with NaN, and writes them to the store concurrently.
func (o ZarrOptions) writeChunks(store zarrStore, name string, a *zarrArray, data []float64) error {
	ny, nx := a.Shape[0], a.Shape[1]
	cy, cx := a.Chunks[0], a.Chunks[1]
	grid := a.chunkGrid()
	nan := math.Float32bits(float32(math.NaN()))

	var g errgroup.Group
	g.SetLimit(o.Workers)
	for cj := 0; cj < grid[0]; cj++ {
		for ci := 0; ci < grid[1]; ci++ {
			cj, ci := cj, ci
			g.Go(func() error {
				b := make([]byte, 4*cy*cx)
				for jj := 0; jj < cy; jj++ {
					j := cj*cy + jj
					for ii := 0; ii < cx; ii++ {
						i := ci*cx + ii
						bits := nan
						if j < ny && i < nx {
							bits = math.Float32bits(float32(data[j*nx+i]))
						}
						binary.LittleEndian.PutUint32(b[4*(jj*cx+ii):], bits)
					}
				}
				return o.writeChunk(store, chunkKey(name, cj, ci), b)
			})
		}
	}
	return g.Wait()
}

func (o ZarrOptions) writeChunk(store zarrStore, key string, raw []byte) error {
	b, err := compress(o.Compressor, o.Level, raw)
	if err != nil {
		return fmt.Errorf("hydropot: compressing %s: %w", key, err)
	}
	if err := store.Set(key, b); err != nil {
		return fmt.Errorf("hydropot: writing %s: %w", key, err)
	}
	return nil
}

func compress(id string, level int, raw []byte) ([]byte, error) {
	switch id {
	case CompressorNone, "":
		return raw, nil
	case CompressorZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	case CompressorZlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compressor %q", id)
}

func decompress(c *zarrCompressor, b []byte) ([]byte, error) {
	if c == nil {
		return b, nil
	}
	switch c.ID {
	case CompressorZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(b, nil)
	case CompressorZlib:
		r, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("unsupported compressor %q", c.ID)
}
