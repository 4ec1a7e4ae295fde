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
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

const rad2deg = 180 / math.Pi

// Attribute is a named metadata value. Value is a string, a float64,
// a []float64 or an int32.
type Attribute struct {
	Name  string
	Value interface{}
}

// CRS is a coordinate reference system.
type CRS struct {
	// EPSG is the EPSG code of the CRS, or 0 if it is unknown.
	EPSG int

	// Proj4 and WKT are text representations of the CRS. WKT may be
	// empty if it is unknown.
	Proj4, WKT string

	// SR is the parsed spatial reference.
	SR *proj.SR
}

type knownCRS struct {
	name, proj4, wkt string
}

// epsgDefs holds the definitions of the coordinate reference systems
// used by the BedMachine products.
var epsgDefs = map[int]knownCRS{
	3031: {
		name:  "WGS 84 / Antarctic Polar Stereographic",
		proj4: "+proj=stere +lat_0=-90 +lat_ts=-71 +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
		wkt: `PROJCS["WGS 84 / Antarctic Polar Stereographic",GEOGCS["WGS 84",DATUM["WGS_1984",` +
			`SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],` +
			`PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],` +
			`AUTHORITY["EPSG","4326"]],PROJECTION["Polar_Stereographic"],PARAMETER["latitude_of_origin",-71],` +
			`PARAMETER["central_meridian",0],PARAMETER["false_easting",0],PARAMETER["false_northing",0],` +
			`UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",NORTH],AXIS["Northing",NORTH],AUTHORITY["EPSG","3031"]]`,
	},
	3413: {
		name:  "WGS 84 / NSIDC Sea Ice Polar Stereographic North",
		proj4: "+proj=stere +lat_0=90 +lat_ts=70 +lon_0=-45 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
		wkt: `PROJCS["WGS 84 / NSIDC Sea Ice Polar Stereographic North",GEOGCS["WGS 84",DATUM["WGS_1984",` +
			`SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],` +
			`PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],` +
			`AUTHORITY["EPSG","4326"]],PROJECTION["Polar_Stereographic"],PARAMETER["latitude_of_origin",70],` +
			`PARAMETER["central_meridian",-45],PARAMETER["false_easting",0],PARAMETER["false_northing",0],` +
			`UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",SOUTH],AXIS["Northing",SOUTH],AUTHORITY["EPSG","3413"]]`,
	},
	4326: {
		name:  "WGS 84",
		proj4: "+proj=longlat +datum=WGS84 +no_defs",
		wkt: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],` +
			`AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],` +
			`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`,
	},
}

var (
	epsgCodeRegexp  = regexp.MustCompile(`(?i)^\+?(?:init=)?epsg:(\d+)$`)
	wktAuthorityEnd = regexp.MustCompile(`AUTHORITY\["EPSG","(\d+)"\]\]\s*$`)
)

// ParseCRS parses a coordinate reference system definition, which can be
// an EPSG code (for example "EPSG:3031"), a proj4 string or WKT.
// Only the EPSG codes in the built-in table are recognized without
// a full definition.
func ParseCRS(def string) (*CRS, error) {
	def = strings.TrimSpace(def)
	if m := epsgCodeRegexp.FindStringSubmatch(def); m != nil {
		code, _ := strconv.Atoi(m[1])
		return fromEPSG(code)
	}
	if strings.HasPrefix(def, "+") {
		sr, err := proj.Parse(def)
		if err != nil {
			return nil, fmt.Errorf("hydropot: parsing proj4 CRS definition: %v", err)
		}
		c := &CRS{Proj4: def, SR: sr}
		c.matchEPSG()
		return c, nil
	}
	if m := wktAuthorityEnd.FindStringSubmatch(def); m != nil {
		code, _ := strconv.Atoi(m[1])
		if _, ok := epsgDefs[code]; ok {
			c, err := fromEPSG(code)
			if err != nil {
				return nil, err
			}
			c.WKT = def
			return c, nil
		}
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("hydropot: parsing CRS definition: %v", err)
	}
	c := &CRS{WKT: def, SR: sr}
	c.matchEPSG()
	return c, nil
}

func fromEPSG(code int) (*CRS, error) {
	k, ok := epsgDefs[code]
	if !ok {
		return nil, fmt.Errorf("hydropot: unsupported EPSG code %d; provide a proj4 or WKT definition instead", code)
	}
	sr, err := proj.Parse(k.proj4)
	if err != nil {
		return nil, fmt.Errorf("hydropot: parsing EPSG:%d: %v", code, err)
	}
	return &CRS{EPSG: code, Proj4: k.proj4, WKT: k.wkt, SR: sr}, nil
}

// matchEPSG sets the EPSG code and WKT of c if its projection matches
// one of the built-in definitions.
func (c *CRS) matchEPSG() {
	for code, k := range epsgDefs {
		sr, err := proj.Parse(k.proj4)
		if err != nil {
			continue
		}
		if sameProjection(c.SR, sr) {
			c.EPSG = code
			if c.WKT == "" {
				c.WKT = k.wkt
			}
			return
		}
	}
}

// sameProjection compares the parameters that define a projection,
// ignoring how they were specified.
func sameProjection(a, b *proj.SR) bool {
	if !strings.EqualFold(projName(a), projName(b)) {
		return false
	}
	const tol = 1e-9
	eq := func(x, y float64) bool {
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.IsNaN(x) && math.IsNaN(y)
		}
		return math.Abs(x-y) <= tol*math.Max(1, math.Abs(x))
	}
	return eq(a.Lat0, b.Lat0) && eq(a.LatTS, b.LatTS) && eq(a.Long0, b.Long0) &&
		eq(zeroNaN(a.X0), zeroNaN(b.X0)) && eq(zeroNaN(a.Y0), zeroNaN(b.Y0)) &&
		eq(a.A, b.A) && eq(inverseFlattening(a), inverseFlattening(b))
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// projName normalizes the projection names used by proj4 and WKT.
func projName(sr *proj.SR) string {
	switch strings.ToLower(sr.Name) {
	case "stere", "polar_stereographic", "polar stereographic", "sterea":
		return "stere"
	case "longlat", "latlong", "identity":
		return "longlat"
	}
	return strings.ToLower(sr.Name)
}

func inverseFlattening(sr *proj.SR) float64 {
	if !math.IsNaN(sr.Rf) && sr.Rf != 0 {
		return sr.Rf
	}
	if sr.A == sr.B {
		return 0
	}
	return sr.A / (sr.A - sr.B)
}

// String returns the EPSG code of c if it is known, or its proj4 string.
func (c *CRS) String() string {
	if c.EPSG != 0 {
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	return c.Proj4
}

// CFAttributes returns the attributes of a CF grid mapping variable
// describing c.
func (c *CRS) CFAttributes() ([]Attribute, error) {
	sr := c.SR
	var a []Attribute
	switch projName(sr) {
	case "stere":
		a = append(a, Attribute{"grid_mapping_name", "polar_stereographic"})
		a = append(a, Attribute{"latitude_of_projection_origin", sr.Lat0 * rad2deg})
		if !math.IsNaN(sr.LatTS) {
			a = append(a, Attribute{"standard_parallel", sr.LatTS * rad2deg})
		} else {
			a = append(a, Attribute{"scale_factor_at_projection_origin", sr.K0})
		}
		a = append(a, Attribute{"straight_vertical_longitude_from_pole", zeroNaN(sr.Long0) * rad2deg})
		a = append(a, Attribute{"false_easting", zeroNaN(sr.X0)})
		a = append(a, Attribute{"false_northing", zeroNaN(sr.Y0)})
	case "longlat":
		a = append(a, Attribute{"grid_mapping_name", "latitude_longitude"})
	default:
		return nil, fmt.Errorf("hydropot: no CF grid mapping for projection %q", sr.Name)
	}
	a = append(a, Attribute{"semi_major_axis", sr.A})
	a = append(a, Attribute{"inverse_flattening", inverseFlattening(sr)})
	if c.WKT != "" {
		a = append(a, Attribute{"crs_wkt", c.WKT})
		a = append(a, Attribute{"spatial_ref", c.WKT})
	}
	if c.Proj4 != "" {
		a = append(a, Attribute{"proj4text", c.Proj4})
	}
	if c.EPSG != 0 {
		a = append(a, Attribute{"epsg_code", fmt.Sprintf("EPSG:%d", c.EPSG)})
	}
	return a, nil
}

// CRSFromCF creates a CRS from the attributes of a CF grid mapping
// variable, such as the BedMachine "mapping" variable. A spatial_epsg
// code with a built-in definition comes first, then the text definitions
// (epsg_code, spatial_ref, crs_wkt, spatial_proj4, proj4text), and
// finally the grid mapping parameters.
func CRSFromCF(attrs map[string]interface{}) (*CRS, error) {
	switch v := attrs["spatial_epsg"].(type) {
	case nil:
	case string:
		if c, err := ParseCRS("EPSG:" + strings.TrimSpace(v)); err == nil {
			return c, nil
		}
	default:
		if code, ok := attrFloat(v); ok {
			if c, err := fromEPSG(int(code)); err == nil {
				return c, nil
			}
		}
	}
	for _, name := range []string{"epsg_code", "spatial_ref", "crs_wkt", "spatial_proj4", "proj4text", "proj4"} {
		if s, ok := attrs[name].(string); ok && strings.TrimSpace(s) != "" {
			c, err := ParseCRS(s)
			if err == nil {
				return c, nil
			}
		}
	}
	name, _ := attrs["grid_mapping_name"].(string)
	num := func(n string) (float64, bool) {
		v, ok := attrFloat(attrs[n])
		return v, ok
	}
	var p []string
	switch name {
	case "polar_stereographic":
		lat0, ok := num("latitude_of_projection_origin")
		if !ok {
			return nil, fmt.Errorf("hydropot: polar_stereographic grid mapping is missing latitude_of_projection_origin")
		}
		lon0, _ := num("straight_vertical_longitude_from_pole")
		p = append(p, "+proj=stere", fmtParam("lat_0", lat0))
		if ts, ok := num("standard_parallel"); ok {
			p = append(p, fmtParam("lat_ts", ts), fmtParam("lon_0", lon0), "+k=1")
		} else {
			k, ok := num("scale_factor_at_projection_origin")
			if !ok {
				k = 1
			}
			p = append(p, fmtParam("lon_0", lon0), fmtParam("k", k))
		}
		fe, _ := num("false_easting")
		fn, _ := num("false_northing")
		p = append(p, fmtParam("x_0", fe), fmtParam("y_0", fn))
	case "latitude_longitude":
		p = append(p, "+proj=longlat")
	default:
		return nil, fmt.Errorf("hydropot: unsupported grid_mapping_name %q", name)
	}
	a, aok := num("semi_major_axis")
	rf, rfok := num("inverse_flattening")
	switch {
	case !aok || (a == 6378137 && rfok && math.Abs(rf-298.257223563) < 1e-6):
		p = append(p, "+datum=WGS84")
	case rfok:
		p = append(p, fmtParam("a", a), fmtParam("rf", rf))
	default:
		p = append(p, fmtParam("a", a), fmtParam("b", a))
	}
	if name != "latitude_longitude" {
		p = append(p, "+units=m")
	}
	p = append(p, "+no_defs")
	return ParseCRS(strings.Join(p, " "))
}

func fmtParam(name string, v float64) string {
	return "+" + name + "=" + strconv.FormatFloat(v, 'g', -1, 64)
}

// attrFloat converts a numeric NetCDF or JSON attribute value to a
// float64, using the first element of array values.
func attrFloat(v interface{}) (float64, bool) {
	if v == nil {
		return math.NaN(), false
	}
	vals, err := toFloat64s(v)
	if err != nil || len(vals) == 0 {
		return math.NaN(), false
	}
	return vals[0], true
}

// geoTransform returns the GDAL affine transform of g, which GDAL-based
// readers use to place the grid.
func (g *Grid) geoTransform() string {
	if len(g.X) < 2 || len(g.Y) < 2 {
		return ""
	}
	dx := g.X[1] - g.X[0]
	dy := g.Y[1] - g.Y[0]
	return fmt.Sprintf("%g %g 0 %g 0 %g", g.X[0]-dx/2, dx, g.Y[0]-dy/2, dy)
}
