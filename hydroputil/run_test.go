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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spatialmodel/hydropot"
	"github.com/spatialmodel/hydropot/internal/bedmachinetest"
	"github.com/spf13/viper"
)

func writeTestInput(t *testing.T) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), "BedMachineAntarctica-test.nc")
	if err := bedmachinetest.Write(f, 6, 8); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	input := writeTestInput(t)
	dir := t.TempDir()
	up := t.TempDir()
	cfg := &Config{
		Input:     input,
		OutputDir: filepath.Join(dir, "out"),
		Name:      "phi",
		Derived:   map[string]string{"overburden": "rho_ice * g * thickness / 1000"},
		Plot:      true,
		Zip:       true,
		Validate:  true,
		Zarr:      hydropot.ZarrOptions{ChunkY: 4, ChunkX: 3, Compressor: hydropot.CompressorZstd},
		Metadata: hydropot.RecordInfo{
			Title:    "Test hydropotential",
			Creators: []hydropot.Creator{{Name: "A. Person"}},
		},
		Upload: "file://" + filepath.ToSlash(up) + "/results",
	}
	d, err := Run(ctx, cfg, helperLog(t))
	if err != nil {
		t.Fatal(err)
	}
	out := cfg.Outputs()

	t.Run("outputs", func(t *testing.T) {
		for _, p := range append(out.files(), out.Metadata) {
			if _, err := os.Stat(p); err != nil {
				t.Error(err)
			}
		}
		for _, p := range []string{"phi.nc", "phi.json", "phi.png", "phi.zarr.zip", "phi.zarr/.zgroup"} {
			if _, err := os.Stat(filepath.Join(up, "results", filepath.FromSlash(p))); err != nil {
				t.Errorf("upload: %v", err)
			}
		}
	})

	t.Run("validation", func(t *testing.T) {
		if len(d.Validation) != 3 {
			t.Fatalf("expected 3 validation reports, got %d", len(d.Validation))
		}
		for _, r := range d.Validation {
			if failed := r.Failed(); len(failed) > 0 {
				t.Errorf("%s: %+v", r.Path, failed)
			}
		}
	})

	t.Run("fields", func(t *testing.T) {
		want := []string{hydropot.VarHydropotential, "overburden"}
		for _, name := range want {
			if _, err := d.Field(name); err != nil {
				t.Error(err)
			}
		}
	})

	t.Run("check", func(t *testing.T) {
		d, err := Check(ctx, cfg, helperLog(t))
		if err != nil {
			t.Fatal(err)
		}
		if len(d.Validation) != 2 {
			t.Errorf("expected 2 validation reports, got %d", len(d.Validation))
		}
	})

	t.Run("check zip", func(t *testing.T) {
		if err := os.RemoveAll(out.Zarr); err != nil {
			t.Fatal(err)
		}
		d, err := Check(ctx, cfg, helperLog(t))
		if err != nil {
			t.Fatal(err)
		}
		if p := d.Validation[1].Path; p != out.Zip {
			t.Errorf("validated %s instead of the zip store", p)
		}
	})

	t.Run("check changed", func(t *testing.T) {
		changed := *cfg
		changed.Constants = hydropot.Constants{Gravity: 9.8, RhoIce: 910, RhoWater: 1000}
		_, err := Check(ctx, &changed, helperLog(t))
		if !errors.Is(err, hydropot.ErrValidation) {
			t.Errorf("expected a validation error, got %v", err)
		}
	})
}

func TestRunNoInput(t *testing.T) {
	if _, err := Run(context.Background(), &Config{Name: "phi"}, helperLog(t)); err != errNoInput {
		t.Errorf("expected errNoInput, got %v", err)
	}
}

func TestCommands(t *testing.T) {
	input := writeTestInput(t)
	dir := t.TempDir()

	execute := func(args ...string) (string, error) {
		var buf bytes.Buffer
		Root.SetOut(&buf)
		Root.SetErr(&buf)
		Root.SetArgs(args)
		err := Root.ExecuteContext(context.Background())
		return buf.String(), err
	}

	t.Run("version", func(t *testing.T) {
		out, err := execute("version")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "hydropot v"+hydropot.Version) {
			t.Errorf("output: %s", out)
		}
	})

	t.Run("run", func(t *testing.T) {
		_, err := execute("run", "--input="+input, "--output_dir="+dir, "--name=cli",
			"--plot=false", "--zip=false", "--zarr.chunk=5", "--log.level=warn")
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range []string{"cli.nc", "cli.zarr", "cli.json"} {
			if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
				t.Error(err)
			}
		}
	})

	t.Run("validate", func(t *testing.T) {
		out, err := execute("validate", "--input="+input, "--output_dir="+dir, "--name=cli")
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(out, "FAILED") || !strings.Contains(out, "hydropotential values") {
			t.Errorf("output: %s", out)
		}
	})

	t.Run("config", func(t *testing.T) {
		out, err := execute("config", "--input="+input, "--name=cli", "--mask.classes=2,3",
			"--metadata.creators=A. Person; Uni", "--bounds=-2000,-1000,0,1000")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, `name = "cli"`) {
			t.Errorf("output: %s", out)
		}
		want, err := ConfigFromViper(Cfg)
		if err != nil {
			t.Fatal(err)
		}
		reloaded := viper.New()
		reloaded.SetConfigType("toml")
		if err := reloaded.ReadConfig(strings.NewReader(out)); err != nil {
			t.Fatalf("reading printed configuration: %v\n%s", err, out)
		}
		got, err := ConfigFromViper(reloaded)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("printed configuration does not reload (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{2, 3}, got.MaskClasses); diff != "" {
			t.Errorf("mask classes: %s", diff)
		}
	})
}
