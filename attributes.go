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
	"time"

	"github.com/spatialmodel/hydropot/internal/hash"
)

// Global attribute names.
const (
	AttrProvenanceHash = "provenance_hash"
	AttrVersion        = "hydropot_version"
)

// defaultGlobalAttributes are written to every output unless overridden
// in Domain.Attributes.
var defaultGlobalAttributes = map[string]string{
	"Conventions": "CF-1.8",
	"title":       "Antarctic subglacial hydropotential",
	"institution": "",
	"references": "Morlighem, M. et al. (2020). Deep glacial troughs and stabilizing ridges unveiled " +
		"beneath the margins of the Antarctic ice sheet. Nature Geoscience, 13, 132-137, " +
		"doi:10.1038/s41561-019-0510-8; Shreve, R. L. (1972). Movement of water in glaciers. " +
		"Journal of Glaciology, 11(62), 205-214.",
	"comment": "Hydropotential calculated from BedMachine Antarctica bed elevation, surface " +
		"elevation and firn air content.",
}

// globalAttributes returns the global attributes of the outputs,
// in a stable order.
func (d *Domain) globalAttributes() []Attribute {
	if d.Attributes == nil {
		d.Attributes = make(map[string]string)
	}
	if _, ok := d.Attributes["history"]; !ok {
		// Set once so that every output of a run has the same history.
		d.Attributes["history"] = fmt.Sprintf("%s: created by hydropot %s",
			time.Now().UTC().Format(time.RFC3339), Version)
	}
	attrs := make(map[string]string)
	for k, v := range defaultGlobalAttributes {
		attrs[k] = v
	}
	for k, v := range d.Attributes {
		attrs[k] = v
	}
	attrs[AttrVersion] = Version
	o := make([]Attribute, 0, len(attrs))
	for _, k := range attributeNames(attrs) {
		if attrs[k] == "" {
			continue
		}
		o = append(o, Attribute{Name: k, Value: attrs[k]})
	}
	return o
}

// Provenance returns a function that records a hash of settings, which
// should hold everything that affects the output values, as the
// provenance_hash global attribute.
func Provenance(settings interface{}) DomainManipulator {
	return func(d *Domain) error {
		return SetAttribute(AttrProvenanceHash, hash.Hash(settings))(d)
	}
}

// fieldAttributes returns the attributes of an output data variable.
func (d *Domain) fieldAttributes(f *Field) []Attribute {
	var o []Attribute
	if f.Units != "" {
		o = append(o, Attribute{"units", f.Units})
	}
	if f.Description != "" {
		o = append(o, Attribute{"long_name", f.Description})
	}
	o = append(o, Attribute{"grid_mapping", VarMapping})
	if src := d.Attributes["source"]; src != "" {
		o = append(o, Attribute{"source", src})
	}
	for _, k := range attributeNames(f.Attributes) {
		switch k {
		case "units", "long_name", "grid_mapping", "source", "_FillValue":
			continue
		}
		o = append(o, Attribute{k, f.Attributes[k]})
	}
	return o
}

// mappingAttributes returns the attributes of the grid mapping variable.
func (d *Domain) mappingAttributes() ([]Attribute, error) {
	if d.CRS == nil {
		return nil, fmt.Errorf("hydropot: the domain has no coordinate reference system")
	}
	a, err := d.CRS.CFAttributes()
	if err != nil {
		return nil, err
	}
	if gt := d.geoTransform(); gt != "" {
		a = append(a, Attribute{"GeoTransform", gt})
	}
	return a, nil
}

// coordinateAttributes returns the attributes of the x or y coordinate
// variable.
func coordinateAttributes(name string) []Attribute {
	axis := "X"
	if name == VarY {
		axis = "Y"
	}
	return []Attribute{
		{"standard_name", "projection_" + name + "_coordinate"},
		{"long_name", "Cartesian " + name + "-coordinate"},
		{"units", "m"},
		{"axis", axis},
	}
}
