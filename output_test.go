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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus/hooks/test"
)

// runTestDomain loads the synthetic source and calculates the masked
// hydropotential.
func runTestDomain(t *testing.T) *Domain {
	t.Helper()
	log, _ := test.NewNullLogger()
	d := &Domain{
		Log: log,
		InitFuncs: []DomainManipulator{
			LoadSource(writeTestSource(t), nil),
			Provenance(struct{ Stride int }{1}),
		},
		RunFuncs: []DomainManipulator{
			CalculateHydropotential(DefaultConstants()),
			ApplyMask(GroundedIce, LakeVostok),
		},
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	return d
}

// float32Values rounds v to float32 precision, as stored in the outputs.
func float32Values(v []float64) []float64 {
	o := make([]float64, len(v))
	for i, x := range v {
		o[i] = float64(float32(x))
	}
	return o
}

func TestNetCDFRoundTrip(t *testing.T) {
	d := runTestDomain(t)
	path := filepath.Join(t.TempDir(), "phi.nc")
	if err := NetCDFOutput(path)(d); err != nil {
		t.Fatal(err)
	}
	ds, err := ReadNetCDF(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(d.X, ds.X); diff != "" {
		t.Errorf("x (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(d.Y, ds.Y); diff != "" {
		t.Errorf("y (-want +got):\n%s", diff)
	}
	want := float32Values(d.Fields[VarHydropotential].Data.Elements)
	if diff := cmp.Diff(want, ds.Variables[VarHydropotential], cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("hydropotential (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{VarY, VarX}, ds.Dims[VarHydropotential]); diff != "" {
		t.Errorf("dims: %s", diff)
	}
	attrs := ds.Attributes[VarHydropotential]
	if attrs["units"] != "kPa" || attrs["grid_mapping"] != VarMapping {
		t.Errorf("variable attributes: %v", attrs)
	}
	if ds.Attributes[""]["Conventions"] != "CF-1.8" {
		t.Errorf("global attributes: %v", ds.Attributes[""])
	}
	if _, ok := ds.Attributes[""][AttrProvenanceHash]; !ok {
		t.Error("missing provenance hash")
	}
	c, err := CRSFromCF(ds.Attributes[VarMapping])
	if err != nil {
		t.Fatal(err)
	}
	if c.EPSG != 3031 {
		t.Errorf("CRS %s", c)
	}
}

func TestZarrRoundTrip(t *testing.T) {
	d := runTestDomain(t)
	want := float32Values(d.Fields[VarHydropotential].Data.Elements)
	for _, opts := range []ZarrOptions{
		{ChunkY: 4, ChunkX: 3, Compressor: CompressorZstd},
		{ChunkY: 2, ChunkX: 8, Compressor: CompressorZlib, Level: 9, Workers: 2},
		{Compressor: CompressorNone},
	} {
		t.Run(opts.Compressor, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "phi.zarr")
			if err := ZarrOutput(path, opts)(d); err != nil {
				t.Fatal(err)
			}
			for _, key := range []string{".zgroup", ".zattrs", ".zmetadata", "x/.zarray", "mapping/.zattrs", "hydropotential/0.0"} {
				if _, err := os.Stat(filepath.Join(path, filepath.FromSlash(key))); err != nil {
					t.Error(err)
				}
			}
			ds, err := ReadZarr(path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, ds.Variables[VarHydropotential], cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("hydropotential (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(d.Y, ds.Y); diff != "" {
				t.Errorf("y (-want +got):\n%s", diff)
			}
			if r := d.ValidateDataset(path, "zarr", ds); r.Err() != nil {
				t.Error(r.Err())
			}

			zipPath := path + ".zip"
			if err := ZipStore(path, zipPath); err != nil {
				t.Fatal(err)
			}
			zds, err := ReadZarr(zipPath)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, zds.Variables[VarHydropotential], cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("zip hydropotential (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("bad compressor", func(t *testing.T) {
		err := d.WriteZarr(filepath.Join(t.TempDir(), "phi.zarr"), ZarrOptions{Compressor: "lz4"})
		if err == nil {
			t.Error("expected an error")
		}
	})
}

func TestZipStoreEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := ZipStore(dir, filepath.Join(t.TempDir(), "empty.zip")); err == nil {
		t.Error("expected an error for an empty store")
	}
}

func TestValidate(t *testing.T) {
	d := runTestDomain(t)
	dir := t.TempDir()
	nc := filepath.Join(dir, "phi.nc")
	zarr := filepath.Join(dir, "phi.zarr")
	zip := filepath.Join(dir, "phi.zarr.zip")
	d.CleanupFuncs = []DomainManipulator{
		NetCDFOutput(nc),
		ZarrOutput(zarr, ZarrOptions{ChunkY: 5, ChunkX: 5}),
		ZipStoreOutput(zarr, zip),
		Validate(nc, zarr),
		Validate("", zip),
	}
	if err := d.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if len(d.Validation) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(d.Validation))
	}
	for _, r := range d.Validation {
		if len(r.Checks) == 0 {
			t.Errorf("%s: no checks", r.Path)
		}
		if err := r.Err(); err != nil {
			t.Error(err)
		}
	}

	t.Run("changed values", func(t *testing.T) {
		phi := d.Fields[VarHydropotential].Data.Elements
		for i, v := range phi {
			if !math.IsNaN(v) {
				phi[i] = v + 1
				break
			}
		}
		d.Validation = nil
		err := Validate(nc, zarr)(d)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if len(d.Validation) != 2 {
			t.Fatalf("expected 2 reports, got %d", len(d.Validation))
		}
		failed := d.Validation[0].Failed()
		if len(failed) != 1 || failed[0].Name != VarHydropotential+" values" {
			t.Errorf("failed checks: %+v", failed)
		}
	})

	t.Run("changed mask", func(t *testing.T) {
		d := runTestDomain(t)
		if err := ApplyMask(GroundedIce)(d); err != nil {
			t.Fatal(err)
		}
		err := Validate(nc, "")(d)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		failed := d.Validation[0].Failed()
		if len(failed) == 0 || failed[0].Name != VarHydropotential+" missing values" {
			t.Errorf("failed checks: %+v", failed)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := Validate(filepath.Join(dir, "none.nc"), "")(d); err == nil || errors.Is(err, ErrValidation) {
			t.Errorf("expected a read error, got %v", err)
		}
	})
}

func TestMetadata(t *testing.T) {
	d := runTestDomain(t)
	dir := t.TempDir()
	nc := filepath.Join(dir, "phi.nc")
	zarr := filepath.Join(dir, "phi.zarr")
	png := filepath.Join(dir, "phi.png")
	meta := filepath.Join(dir, "phi.json")
	info := RecordInfo{
		Title:    "Hydropotential test",
		Creators: []Creator{{Name: "A. Person", ORCID: "0000-0000-0000-0000"}},
		License:  "CC-BY-4.0",
	}
	d.CleanupFuncs = []DomainManipulator{
		Plot(png),
		NetCDFOutput(nc),
		ZarrOutput(zarr, ZarrOptions{}),
		Validate(nc, zarr),
		MetadataOutput(meta, info, nc, zarr, png),
	}
	if err := d.Cleanup(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(meta)
	if err != nil {
		t.Fatal(err)
	}
	var r struct {
		Identifier         string
		Title              string
		Version            string
		License            string
		Creators           []Creator
		Keywords           []string
		RelatedIdentifiers []RelatedIdentifier `json:"related_identifiers"`
		Extent             struct {
			CRS   string
			EPSG  int
			Shape [2]int
		} `json:"spatial_extent"`
		Processing map[string]string
		Variables  []struct {
			Name    string
			Units   string
			Summary map[string]interface{}
		}
		Files      []FileInfo
		Validation []*ValidationReport
	}
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatal(err)
	}
	if r.Title != info.Title || r.Version != Version || r.License != "CC-BY-4.0" {
		t.Errorf("record: %+v", r)
	}
	if diff := cmp.Diff(info.Creators, r.Creators); diff != "" {
		t.Errorf("creators: %s", diff)
	}
	if len(r.Keywords) == 0 {
		t.Error("no default keywords")
	}
	if len(r.RelatedIdentifiers) != 2 || r.RelatedIdentifiers[0].Identifier != BedMachineDOI {
		t.Errorf("related identifiers: %+v", r.RelatedIdentifiers)
	}
	if r.Extent.EPSG != 3031 || r.Extent.Shape != [2]int{testNY, testNX} {
		t.Errorf("extent: %+v", r.Extent)
	}
	if r.Processing[AttrProvenanceHash] != d.Attributes[AttrProvenanceHash] {
		t.Errorf("processing: %v", r.Processing)
	}
	if len(r.Variables) != 1 || r.Variables[0].Name != VarHydropotential || r.Variables[0].Units != "kPa" {
		t.Errorf("variables: %+v", r.Variables)
	}
	if len(r.Validation) != 2 {
		t.Errorf("expected 2 validation reports, got %d", len(r.Validation))
	}

	if len(r.Files) != 3 {
		t.Fatalf("files: %+v", r.Files)
	}
	ncBytes, err := os.ReadFile(nc)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(ncBytes)
	wantNC := FileInfo{Name: "phi.nc", Format: "netcdf", Size: int64(len(ncBytes)), SHA256: hex.EncodeToString(sum[:])}
	if diff := cmp.Diff(wantNC, r.Files[0]); diff != "" {
		t.Errorf("netcdf file (-want +got):\n%s", diff)
	}
	if f := r.Files[1]; f.Format != "zarr" || f.Size == 0 || f.SHA256 != "" {
		t.Errorf("zarr file: %+v", f)
	}
	if f := r.Files[2]; f.Format != "png" || f.Size == 0 {
		t.Errorf("png file: %+v", f)
	}

	t.Run("identifier", func(t *testing.T) {
		// The identifier only depends on the provenance hash.
		r2, err := d.NewRecord(RecordInfo{Title: "other"})
		if err != nil {
			t.Fatal(err)
		}
		if r2.Identifier != r.Identifier {
			t.Errorf("identifier %s != %s", r2.Identifier, r.Identifier)
		}
		d2 := runTestDomain(t)
		d2.Attributes[AttrProvenanceHash] = "different"
		r3, err := d2.NewRecord(RecordInfo{})
		if err != nil {
			t.Fatal(err)
		}
		if r3.Identifier == r.Identifier {
			t.Error("different provenance gave the same identifier")
		}
	})
}
