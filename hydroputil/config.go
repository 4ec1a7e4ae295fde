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

package hydroputil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/mitchellh/go-homedir"
	"github.com/spatialmodel/hydropot"
	"github.com/spatialmodel/hydropot/cloud"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds the settings of a hydropotential run.
type Config struct {
	// Input is the BedMachine file: a local path, an http(s) URL or a
	// blob storage URL.
	Input string

	// OutputDir is the directory outputs are written to. Name is the
	// base name of the output files.
	OutputDir string
	Name      string

	// Bounds optionally restricts the grid to xmin, ymin, xmax, ymax
	// in projected meters.
	Bounds []float64
	Stride int

	Constants   hydropot.Constants
	MaskClasses []int
	Derived     map[string]string

	Plot     bool
	Zip      bool
	Validate bool
	Zarr     hydropot.ZarrOptions

	Metadata hydropot.RecordInfo

	// Upload is an optional blob storage URL prefix the outputs are
	// copied to.
	Upload string
}

// settings are the parts of the configuration that affect the output
// values, used for the provenance hash.
type settings struct {
	Source      string
	Bounds      []float64
	Stride      int
	Constants   hydropot.Constants
	MaskClasses []int
	Derived     map[string]string
	Version     string
}

func (c *Config) settings() settings {
	return settings{
		Source:      filepath.Base(c.Input),
		Bounds:      c.Bounds,
		Stride:      c.Stride,
		Constants:   c.Constants,
		MaskClasses: c.MaskClasses,
		Derived:     c.Derived,
		Version:     hydropot.Version,
	}
}

// ConfigFromViper reads a Config from cfg.
func ConfigFromViper(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		Input:     expandPath(cfg.GetString("input")),
		OutputDir: expandPath(cfg.GetString("output_dir")),
		Name:      os.ExpandEnv(cfg.GetString("name")),
		Stride:    cfg.GetInt("stride"),
		Constants: hydropot.Constants{
			Gravity:  cfg.GetFloat64("constants.gravity"),
			RhoIce:   cfg.GetFloat64("constants.rho_ice"),
			RhoWater: cfg.GetFloat64("constants.rho_water"),
		},
		Plot:     cfg.GetBool("plot"),
		Zip:      cfg.GetBool("zip"),
		Validate: cfg.GetBool("validate"),
		Zarr: hydropot.ZarrOptions{
			ChunkY:     cfg.GetInt("zarr.chunk"),
			ChunkX:     cfg.GetInt("zarr.chunk"),
			Compressor: cfg.GetString("zarr.compressor"),
			Level:      cfg.GetInt("zarr.level"),
			Workers:    cfg.GetInt("zarr.workers"),
		},
		Metadata: hydropot.RecordInfo{
			Title:       cfg.GetString("metadata.title"),
			Description: cfg.GetString("metadata.description"),
			License:     cfg.GetString("metadata.license"),
		},
		Upload: os.ExpandEnv(cfg.GetString("upload")),
	}
	if c.Name == "" {
		return nil, fmt.Errorf("hydropot: the output name must not be empty")
	}
	var err error
	if c.Bounds, err = floatList(cfg.Get("bounds")); err != nil {
		return nil, fmt.Errorf("hydropot: reading 'bounds': %v", err)
	}
	if n := len(c.Bounds); n != 0 && n != 4 {
		return nil, fmt.Errorf("hydropot: 'bounds' must have 4 values (xmin, ymin, xmax, ymax) but has %d", n)
	}
	if c.MaskClasses, err = intList(cfg.Get("mask.classes")); err != nil {
		return nil, fmt.Errorf("hydropot: reading 'mask.classes': %v", err)
	}
	if c.Derived, err = GetStringMapString("derived", cfg); err != nil {
		return nil, err
	}
	if c.Metadata.Keywords, err = stringList(cfg.Get("metadata.keywords"), ","); err != nil {
		return nil, fmt.Errorf("hydropot: reading 'metadata.keywords': %v", err)
	}
	creators, err := stringList(cfg.Get("metadata.creators"), "|")
	if err != nil {
		return nil, fmt.Errorf("hydropot: reading 'metadata.creators': %v", err)
	}
	for _, s := range creators {
		c.Metadata.Creators = append(c.Metadata.Creators, parseCreator(s))
	}
	if c.Upload != "" && !cloud.IsBlobURL(c.Upload) {
		return nil, fmt.Errorf("hydropot: the upload location '%s' is not a blob storage URL (file://, gs:// or s3://)", c.Upload)
	}
	return c, nil
}

// configFile is the layout of a configuration file, using the keys
// that ConfigFromViper reads.
type configFile struct {
	Input     string    `toml:"input"`
	OutputDir string    `toml:"output_dir"`
	Name      string    `toml:"name"`
	Bounds    []float64 `toml:"bounds"`
	Stride    int       `toml:"stride"`
	Plot      bool      `toml:"plot"`
	Zip       bool      `toml:"zip"`
	Validate  bool      `toml:"validate"`
	Upload    string    `toml:"upload"`

	Constants hydropot.Constants   `toml:"constants"`
	Mask      maskSection          `toml:"mask"`
	Derived   map[string]string    `toml:"derived"`
	Zarr      hydropot.ZarrOptions `toml:"zarr"`
	Metadata  metadataSection      `toml:"metadata"`
}

type maskSection struct {
	Classes []int `toml:"classes"`
}

type metadataSection struct {
	Title       string   `toml:"title"`
	Description string   `toml:"description"`
	License     string   `toml:"license"`
	Keywords    []string `toml:"keywords"`
	// Creators are formatted as "name; affiliation; ORCID".
	Creators []string `toml:"creators"`
}

// WriteTOML writes c to w as a configuration file, which
// ConfigFromViper reads back to the same settings.
func (c *Config) WriteTOML(w io.Writer) error {
	f := configFile{
		Input:     c.Input,
		OutputDir: c.OutputDir,
		Name:      c.Name,
		Bounds:    c.Bounds,
		Stride:    c.Stride,
		Plot:      c.Plot,
		Zip:       c.Zip,
		Validate:  c.Validate,
		Upload:    c.Upload,
		Constants: c.Constants,
		Mask:      maskSection{Classes: c.MaskClasses},
		Derived:   c.Derived,
		Zarr:      c.Zarr,
		Metadata: metadataSection{
			Title:       c.Metadata.Title,
			Description: c.Metadata.Description,
			License:     c.Metadata.License,
			Keywords:    c.Metadata.Keywords,
		},
	}
	for _, cr := range c.Metadata.Creators {
		f.Metadata.Creators = append(f.Metadata.Creators, formatCreator(cr))
	}
	return toml.NewEncoder(w).Encode(f)
}

// GetStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a JSON object
// when it comes from a command-line flag or environment variable.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	if i == nil {
		return map[string]string{}, nil
	}
	if s, ok := i.(string); ok {
		if strings.TrimSpace(s) == "" {
			return map[string]string{}, nil
		}
		o := make(map[string]string)
		if err := json.Unmarshal([]byte(s), &o); err != nil {
			return nil, fmt.Errorf("hydropot: reading '%s': %v", varName, err)
		}
		return o, nil
	}
	o, err := cast.ToStringMapStringE(i)
	if err != nil {
		return nil, fmt.Errorf("hydropot: reading '%s': %v", varName, err)
	}
	return o, nil
}

// stringList converts a list option to a slice of strings. A list given
// as a single string, as it is when set by an environment variable, is
// split at sep. Empty items are dropped and an empty list is nil.
func stringList(i interface{}, sep string) ([]string, error) {
	if i == nil {
		return nil, nil
	}
	var l []string
	if s, ok := i.(string); ok {
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		l = strings.Split(s, sep)
	} else {
		var err error
		if l, err = cast.ToStringSliceE(i); err != nil {
			return nil, err
		}
	}
	var o []string
	for _, v := range l {
		if v = strings.TrimSpace(v); v != "" {
			o = append(o, v)
		}
	}
	return o, nil
}

func floatList(i interface{}) ([]float64, error) {
	l, err := stringList(i, ",")
	if err != nil {
		return nil, err
	}
	o := make([]float64, len(l))
	for j, v := range l {
		if o[j], err = cast.ToFloat64E(v); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func intList(i interface{}) ([]int, error) {
	l, err := stringList(i, ",")
	if err != nil {
		return nil, err
	}
	o := make([]int, len(l))
	for j, v := range l {
		if o[j], err = cast.ToIntE(v); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// parseCreator parses a creator in the format
// "name; affiliation; ORCID", where the last two parts are optional.
func parseCreator(s string) hydropot.Creator {
	parts := strings.Split(s, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	c := hydropot.Creator{Name: parts[0]}
	if len(parts) > 1 {
		c.Affiliation = parts[1]
	}
	if len(parts) > 2 {
		c.ORCID = parts[2]
	}
	return c
}

// formatCreator is the inverse of parseCreator.
func formatCreator(c hydropot.Creator) string {
	switch {
	case c.ORCID != "":
		return c.Name + "; " + c.Affiliation + "; " + c.ORCID
	case c.Affiliation != "":
		return c.Name + "; " + c.Affiliation
	}
	return c.Name
}

// expandPath expands environment variables and a leading '~' in path.
// URLs are only expanded for environment variables.
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.Contains(path, "://") {
		return path
	}
	if p, err := homedir.Expand(path); err == nil {
		return p
	}
	return path
}

// Window returns the subset of the source grid to be read.
func (c *Config) Window() *hydropot.Window {
	w := &hydropot.Window{Stride: c.Stride}
	if len(c.Bounds) == 4 {
		w.Bounds = &geom.Bounds{
			Min: geom.Point{X: c.Bounds[0], Y: c.Bounds[1]},
			Max: geom.Point{X: c.Bounds[2], Y: c.Bounds[3]},
		}
	}
	return w
}

// OutputPaths holds the locations of the output files.
type OutputPaths struct {
	NetCDF, Zarr, Zip, Plot, Metadata string
}

// Outputs returns the locations of the output files.
func (c *Config) Outputs() OutputPaths {
	p := func(ext string) string { return filepath.Join(c.OutputDir, c.Name+ext) }
	o := OutputPaths{
		NetCDF:   p(".nc"),
		Zarr:     p(".zarr"),
		Metadata: p(".json"),
	}
	if c.Zip {
		o.Zip = p(".zarr.zip")
	}
	if c.Plot {
		o.Plot = p(".png")
	}
	return o
}

// files returns the output files that exist after a run, in a stable
// order.
func (o OutputPaths) files() []string {
	var f []string
	for _, p := range []string{o.NetCDF, o.Zarr, o.Zip, o.Plot} {
		if p != "" {
			f = append(f, p)
		}
	}
	return f
}
