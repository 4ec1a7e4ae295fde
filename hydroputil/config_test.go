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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spatialmodel/hydropot"
	"github.com/spf13/viper"
)

func testViper() *viper.Viper {
	cfg := viper.New()
	cfg.Set("input", "bedmachine.nc")
	cfg.Set("output_dir", "out")
	cfg.Set("name", "phi")
	cfg.Set("stride", 2)
	cfg.Set("constants.gravity", hydropot.Gravity)
	cfg.Set("constants.rho_ice", hydropot.RhoIce)
	cfg.Set("constants.rho_water", hydropot.RhoWater)
	cfg.Set("zarr.chunk", 256)
	cfg.Set("zarr.compressor", "zlib")
	cfg.Set("metadata.license", "CC-BY-4.0")
	return cfg
}

func TestConfigFromViper(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		cfg := testViper()
		cfg.Set("bounds", []string{"-1000", "-2000", "1000", "2000"})
		cfg.Set("mask.classes", []int{2, 4})
		cfg.Set("derived", `{"overburden":"rho_ice*g*thickness/1000"}`)
		cfg.Set("metadata.creators", []string{"A. Person; Some University; 0000-0001-2345-6789", "B. Person"})
		cfg.Set("metadata.keywords", []string{"Antarctica", "subglacial hydrology"})
		cfg.Set("upload", "gs://bucket/phi")
		c, err := ConfigFromViper(cfg)
		if err != nil {
			t.Fatal(err)
		}
		want := &Config{
			Input:       "bedmachine.nc",
			OutputDir:   "out",
			Name:        "phi",
			Bounds:      []float64{-1000, -2000, 1000, 2000},
			Stride:      2,
			Constants:   hydropot.DefaultConstants(),
			MaskClasses: []int{2, 4},
			Derived:     map[string]string{"overburden": "rho_ice*g*thickness/1000"},
			Zarr: hydropot.ZarrOptions{
				ChunkY:     256,
				ChunkX:     256,
				Compressor: "zlib",
			},
			Metadata: hydropot.RecordInfo{
				License: "CC-BY-4.0",
				Creators: []hydropot.Creator{
					{Name: "A. Person", Affiliation: "Some University", ORCID: "0000-0001-2345-6789"},
					{Name: "B. Person"},
				},
				Keywords: []string{"Antarctica", "subglacial hydrology"},
			},
			Upload: "gs://bucket/phi",
		}
		if diff := cmp.Diff(want, c); diff != "" {
			t.Errorf("config (-want +got):\n%s", diff)
		}
	})
	t.Run("env", func(t *testing.T) {
		// Lists from environment variables arrive as single strings.
		cfg := testViper()
		cfg.Set("bounds", "-1000,-2000,1000,2000")
		cfg.Set("mask.classes", "[2,3]")
		cfg.Set("metadata.creators", "A. Person; Uni|B. Person")
		c, err := ConfigFromViper(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]float64{-1000, -2000, 1000, 2000}, c.Bounds); diff != "" {
			t.Errorf("bounds: %s", diff)
		}
		if diff := cmp.Diff([]int{2, 3}, c.MaskClasses); diff != "" {
			t.Errorf("mask classes: %s", diff)
		}
		wantCreators := []hydropot.Creator{{Name: "A. Person", Affiliation: "Uni"}, {Name: "B. Person"}}
		if diff := cmp.Diff(wantCreators, c.Metadata.Creators); diff != "" {
			t.Errorf("creators: %s", diff)
		}
	})
	t.Run("wrong bounds", func(t *testing.T) {
		cfg := testViper()
		cfg.Set("bounds", []string{"1", "2", "3"})
		if _, err := ConfigFromViper(cfg); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("bad upload", func(t *testing.T) {
		cfg := testViper()
		cfg.Set("upload", "/local/dir")
		if _, err := ConfigFromViper(cfg); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("no name", func(t *testing.T) {
		cfg := testViper()
		cfg.Set("name", "")
		if _, err := ConfigFromViper(cfg); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("expand", func(t *testing.T) {
		os.Setenv("HYDROPOT_TEST_DIR", "/data")
		defer os.Unsetenv("HYDROPOT_TEST_DIR")
		cfg := testViper()
		cfg.Set("input", "${HYDROPOT_TEST_DIR}/bedmachine.nc")
		c, err := ConfigFromViper(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if c.Input != "/data/bedmachine.nc" {
			t.Errorf("input: %s", c.Input)
		}
	})
}

func TestWriteTOML(t *testing.T) {
	cfg := testViper()
	cfg.Set("bounds", []string{"-1000", "-2000", "1000", "2000"})
	cfg.Set("mask.classes", []int{2, 4})
	cfg.Set("derived", `{"overburden":"rho_ice*g*thickness/1000"}`)
	cfg.Set("metadata.creators", []string{"A. Person; Some University; 0000-0001-2345-6789", "B. Person", "C. Person; ; 0000-0002"})
	cfg.Set("metadata.keywords", []string{"Antarctica", "subglacial hydrology"})
	cfg.Set("plot", true)
	cfg.Set("upload", "gs://bucket/phi")
	want, err := ConfigFromViper(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := want.WriteTOML(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, s := range []string{"[mask]", "classes = [2, 4]", `"B. Person"`} {
		if !strings.Contains(out, s) {
			t.Errorf("output does not contain %s:\n%s", s, out)
		}
	}

	f := filepath.Join(t.TempDir(), "hydropot.toml")
	if err := os.WriteFile(f, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	reloaded := viper.New()
	reloaded.SetConfigFile(f)
	if err := reloaded.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	got, err := ConfigFromViper(reloaded)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reloaded config (-want +got):\n%s", diff)
	}
}

func TestFormatCreator(t *testing.T) {
	for _, c := range []hydropot.Creator{
		{Name: "Name"},
		{Name: "Name", Affiliation: "Affil"},
		{Name: "Name", ORCID: "0000-0002"},
		{Name: "Name", Affiliation: "Affil", ORCID: "0000-0002"},
	} {
		if got := parseCreator(formatCreator(c)); got != c {
			t.Errorf("%+v became %+v", c, got)
		}
	}
}

func TestGetStringMapString(t *testing.T) {
	cfg := viper.New()
	cfg.Set("json", `{"a":"bed+1","b":"surface*2"}`)
	cfg.Set("map", map[string]interface{}{"a": "bed+1"})
	cfg.Set("empty", "")
	for _, test := range []struct {
		key  string
		want map[string]string
	}{
		{"json", map[string]string{"a": "bed+1", "b": "surface*2"}},
		{"map", map[string]string{"a": "bed+1"}},
		{"empty", map[string]string{}},
	} {
		t.Run(test.key, func(t *testing.T) {
			got, err := GetStringMapString(test.key, cfg)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Error(diff)
			}
		})
	}
	cfg.Set("bad", "{not json")
	if _, err := GetStringMapString("bad", cfg); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}

func TestParseCreator(t *testing.T) {
	for s, want := range map[string]hydropot.Creator{
		"Name":                     {Name: "Name"},
		"Name; Affil":              {Name: "Name", Affiliation: "Affil"},
		" Name ;Affil; 0000-0002 ": {Name: "Name", Affiliation: "Affil", ORCID: "0000-0002"},
	} {
		if got := parseCreator(s); got != want {
			t.Errorf("%q: got %+v, want %+v", s, got, want)
		}
	}
}

func TestOutputs(t *testing.T) {
	c := &Config{OutputDir: "out", Name: "phi", Zip: true}
	want := OutputPaths{
		NetCDF:   filepath.Join("out", "phi.nc"),
		Zarr:     filepath.Join("out", "phi.zarr"),
		Zip:      filepath.Join("out", "phi.zarr.zip"),
		Metadata: filepath.Join("out", "phi.json"),
	}
	if diff := cmp.Diff(want, c.Outputs()); diff != "" {
		t.Errorf("outputs (-want +got):\n%s", diff)
	}
	wantFiles := []string{want.NetCDF, want.Zarr, want.Zip}
	if diff := cmp.Diff(wantFiles, c.Outputs().files()); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestWindow(t *testing.T) {
	c := &Config{Bounds: []float64{1, 2, 3, 4}, Stride: 3}
	w := c.Window()
	if w.Stride != 3 || w.Bounds.Min.X != 1 || w.Bounds.Min.Y != 2 || w.Bounds.Max.X != 3 || w.Bounds.Max.Y != 4 {
		t.Errorf("window: %+v %+v", w, w.Bounds)
	}
	if w := (&Config{}).Window(); w.Bounds != nil {
		t.Errorf("unexpected bounds %+v", w.Bounds)
	}
}
