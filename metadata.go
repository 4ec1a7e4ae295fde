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
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BedMachineDOI is the DOI of the BedMachine Antarctica dataset.
const BedMachineDOI = "10.5067/FPSU0V1MWUB6"

// ShreveDOI is the DOI of Shreve (1972).
const ShreveDOI = "10.3189/S0022143000022188"

// Creator is an author of a dataset.
type Creator struct {
	Name        string `json:"name" toml:"name"`
	Affiliation string `json:"affiliation,omitempty" toml:"affiliation"`
	ORCID       string `json:"orcid,omitempty" toml:"orcid"`
}

// RelatedIdentifier links a dataset to another work.
type RelatedIdentifier struct {
	Identifier string `json:"identifier"`
	Relation   string `json:"relation"`
	Scheme     string `json:"scheme"`
}

// Extent describes the spatial coverage of a dataset.
type Extent struct {
	CRS        string     `json:"crs"`
	EPSG       int        `json:"epsg,omitempty"`
	Bounds     [4]float64 `json:"bounds"` // xmin, ymin, xmax, ymax
	Resolution [2]float64 `json:"resolution"`
	Shape      [2]int     `json:"shape"` // ny, nx

	// Geographic holds the bounds in degrees (west, south, east, north)
	// when the projection can be inverted.
	Geographic *[4]float64 `json:"geographic_bounds,omitempty"`
}

// VariableInfo describes an output variable.
type VariableInfo struct {
	Name        string  `json:"name"`
	Units       string  `json:"units"`
	Description string  `json:"description"`
	Summary     Summary `json:"summary"`
}

// FileInfo describes an output file.
type FileInfo struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// Record is the metadata published with the outputs.
type Record struct {
	Identifier         string              `json:"identifier"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Version            string              `json:"version"`
	Created            time.Time           `json:"created"`
	Creators           []Creator           `json:"creators,omitempty"`
	Keywords           []string            `json:"keywords"`
	License            string              `json:"license"`
	RelatedIdentifiers []RelatedIdentifier `json:"related_identifiers"`
	Extent             Extent              `json:"spatial_extent"`
	Processing         map[string]string   `json:"processing"`
	Variables          []VariableInfo      `json:"variables"`
	Files              []FileInfo          `json:"files"`
	Validation         []*ValidationReport `json:"validation,omitempty"`
}

// RecordInfo holds the descriptive parts of a Record.
type RecordInfo struct {
	Title       string    `toml:"title"`
	Description string    `toml:"description"`
	Version     string    `toml:"version"`
	Creators    []Creator `toml:"creators"`
	Keywords    []string  `toml:"keywords"`
	License     string    `toml:"license"`
}

// NewRecord creates a metadata record describing the domain and the
// output files at paths.
func (d *Domain) NewRecord(info RecordInfo, paths ...string) (*Record, error) {
	r := &Record{
		Title:       info.Title,
		Description: info.Description,
		Version:     info.Version,
		Created:     time.Now().UTC().Truncate(time.Second),
		Creators:    info.Creators,
		Keywords:    info.Keywords,
		License:     info.License,
		RelatedIdentifiers: []RelatedIdentifier{
			{Identifier: BedMachineDOI, Relation: "IsDerivedFrom", Scheme: "doi"},
			{Identifier: ShreveDOI, Relation: "References", Scheme: "doi"},
		},
		Processing: make(map[string]string),
	}
	if r.Title == "" {
		r.Title = defaultGlobalAttributes["title"]
	}
	if r.Description == "" {
		r.Description = defaultGlobalAttributes["comment"]
	}
	if r.Version == "" {
		r.Version = Version
	}
	if r.Keywords == nil {
		r.Keywords = []string{"Antarctica", "subglacial hydrology", "hydropotential", "BedMachine"}
	}

	hash := d.Attributes[AttrProvenanceHash]
	if hash == "" {
		return nil, fmt.Errorf("hydropot: creating metadata record: the domain has no %s attribute", AttrProvenanceHash)
	}
	r.Identifier = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hydropot:"+hash)).String()
	r.Processing[AttrProvenanceHash] = hash
	r.Processing[AttrVersion] = Version
	if s := d.Attributes["source"]; s != "" {
		r.Processing["source"] = s
	}
	if f, ok := d.Fields[VarHydropotential]; ok {
		for k, v := range f.Attributes {
			r.Processing[k] = v
		}
	}

	var err error
	if r.Extent, err = d.extent(); err != nil {
		return nil, err
	}

	summaries := d.Summaries()
	for _, name := range d.Outputs {
		f := d.Fields[name]
		r.Variables = append(r.Variables, VariableInfo{
			Name:        name,
			Units:       f.Units,
			Description: f.Description,
			Summary:     summaries[name],
		})
	}
	for _, p := range paths {
		fi, err := describeFile(p)
		if err != nil {
			return nil, err
		}
		r.Files = append(r.Files, fi)
	}
	r.Validation = d.Validation
	return r, nil
}

func (d *Domain) extent() (Extent, error) {
	ny, nx := d.Shape()
	b := d.Bounds()
	dx, dy := d.Resolution()
	dx, dy = zeroNaN(dx), zeroNaN(dy)
	e := Extent{
		Bounds:     [4]float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y},
		Resolution: [2]float64{dx, dy},
		Shape:      [2]int{ny, nx},
	}
	if d.CRS == nil {
		return e, fmt.Errorf("hydropot: the domain has no coordinate reference system")
	}
	e.CRS = d.CRS.String()
	e.EPSG = d.CRS.EPSG
	g, err := d.geographicBounds()
	if err != nil {
		d.logger().WithField("crs", e.CRS).Debugf("no geographic bounds: %v", err)
	} else {
		e.Geographic = g
	}
	return e, nil
}

// geographicBounds transforms points along the edges of the grid to
// longitude and latitude, extending the result to any pole the grid
// contains.
func (d *Domain) geographicBounds() (*[4]float64, error) {
	wgs84, err := proj.Parse(epsgDefs[4326].proj4)
	if err != nil {
		return nil, err
	}
	t, err := d.CRS.SR.NewTransform(wgs84)
	if err != nil {
		return nil, err
	}
	b := d.Bounds()
	const n = 50
	w, s, e, nn := math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
	add := func(x, y float64) error {
		lon, lat, err := t(x, y)
		if err != nil {
			return err
		}
		w, e = math.Min(w, lon), math.Max(e, lon)
		s, nn = math.Min(s, lat), math.Max(nn, lat)
		return nil
	}
	for i := 0; i <= n; i++ {
		fx := b.Min.X + (b.Max.X-b.Min.X)*float64(i)/n
		fy := b.Min.Y + (b.Max.Y-b.Min.Y)*float64(i)/n
		for _, p := range [][2]float64{{fx, b.Min.Y}, {fx, b.Max.Y}, {b.Min.X, fy}, {b.Max.X, fy}} {
			if err := add(p[0], p[1]); err != nil {
				return nil, err
			}
		}
	}
	// A grid containing a pole reaches it and spans every longitude.
	if inv, err := wgs84.NewTransform(d.CRS.SR); err == nil {
		for _, lat := range []float64{-90, 90} {
			x, y, err := inv(0, lat)
			if err != nil || math.IsNaN(x+y) || math.IsInf(x+y, 0) {
				continue
			}
			if x >= b.Min.X && x <= b.Max.X && y >= b.Min.Y && y <= b.Max.Y {
				w, e = -180, 180
				if lat < 0 {
					s = -90
				} else {
					nn = 90
				}
			}
		}
	}
	return &[4]float64{w, s, e, nn}, nil
}

// describeFile returns the size and checksum of the file at path. For
// a directory, the size is the total of the files it contains and no
// checksum is calculated.
func describeFile(path string) (FileInfo, error) {
	fi := FileInfo{Name: filepath.Base(path), Format: fileFormat(path)}
	st, err := os.Stat(path)
	if err != nil {
		return fi, fmt.Errorf("hydropot: describing output: %w", err)
	}
	if st.IsDir() {
		err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				fi.Size += info.Size()
			}
			return nil
		})
		return fi, err
	}
	fi.Size = st.Size()
	f, err := os.Open(path)
	if err != nil {
		return fi, fmt.Errorf("hydropot: describing output: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fi, fmt.Errorf("hydropot: checksum of %s: %w", path, err)
	}
	fi.SHA256 = hex.EncodeToString(h.Sum(nil))
	return fi, nil
}

func fileFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nc", ".nc4", ".netcdf":
		return "netcdf"
	case ".zarr":
		return "zarr"
	case ".zip":
		return "zarr-zip"
	case ".png":
		return "png"
	case ".json":
		return "json"
	}
	return "unknown"
}

// WriteMetadata writes r as indented JSON to path.
func WriteMetadata(path string, r *Record) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("hydropot: encoding metadata: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("hydropot: writing metadata: %w", err)
	}
	return nil
}

// MetadataOutput returns a function that writes a metadata record
// describing the domain and the files at paths to path.
func MetadataOutput(path string, info RecordInfo, paths ...string) DomainManipulator {
	return func(d *Domain) error {
		r, err := d.NewRecord(info, paths...)
		if err != nil {
			return err
		}
		if err := WriteMetadata(path, r); err != nil {
			return err
		}
		d.logger().WithFields(logrus.Fields{
			"path":       path,
			"identifier": r.Identifier,
		}).Info("wrote metadata record")
		return nil
	}
}
