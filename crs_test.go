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
	"testing"
)

func TestParseCRS(t *testing.T) {
	for _, test := range []struct {
		def  string
		epsg int
	}{
		{def: "EPSG:3031", epsg: 3031},
		{def: "epsg:4326", epsg: 4326},
		{def: "+proj=stere +lat_0=-90 +lat_ts=-71 +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs", epsg: 3031},
		{def: epsgDefs[3031].wkt, epsg: 3031},
		{def: "+proj=stere +lat_0=90 +lat_ts=70 +lon_0=-45 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs", epsg: 3413},
	} {
		t.Run(test.def[:9], func(t *testing.T) {
			c, err := ParseCRS(test.def)
			if err != nil {
				t.Fatal(err)
			}
			if c.EPSG != test.epsg {
				t.Errorf("EPSG %d, want %d", c.EPSG, test.epsg)
			}
		})
	}

	if _, err := ParseCRS("EPSG:9999"); err == nil {
		t.Error("expected an error for an unknown EPSG code")
	}
}

func TestCRSFromCF(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		c, err := ParseCRS("EPSG:3031")
		if err != nil {
			t.Fatal(err)
		}
		attrs, err := c.CFAttributes()
		if err != nil {
			t.Fatal(err)
		}
		m := make(map[string]interface{})
		for _, a := range attrs {
			m[a.Name] = a.Value
		}
		if m["grid_mapping_name"] != "polar_stereographic" || m["epsg_code"] != "EPSG:3031" {
			t.Errorf("attributes: %v", m)
		}
		c2, err := CRSFromCF(m)
		if err != nil {
			t.Fatal(err)
		}
		if c2.EPSG != 3031 || !sameProjection(c.SR, c2.SR) {
			t.Errorf("round trip gave %s", c2)
		}
	})

	t.Run("parameters only", func(t *testing.T) {
		// BedMachine files describe the projection with CF parameters
		// stored as NetCDF arrays.
		c, err := CRSFromCF(map[string]interface{}{
			"grid_mapping_name":                     "polar_stereographic",
			"latitude_of_projection_origin":         []float64{-90},
			"standard_parallel":                     []float64{-71},
			"straight_vertical_longitude_from_pole": []float64{0},
			"false_easting":                         []float64{0},
			"false_northing":                        []float64{0},
			"semi_major_axis":                       []float64{6378137},
			"inverse_flattening":                    []float64{298.257223563},
		})
		if err != nil {
			t.Fatal(err)
		}
		if c.EPSG != 3031 {
			t.Errorf("got %s, want EPSG:3031", c)
		}
	})

	t.Run("text definition", func(t *testing.T) {
		c, err := CRSFromCF(map[string]interface{}{"spatial_ref": epsgDefs[3413].wkt})
		if err != nil {
			t.Fatal(err)
		}
		if c.EPSG != 3413 {
			t.Errorf("got %s, want EPSG:3413", c)
		}
	})

	t.Run("spatial_epsg", func(t *testing.T) {
		c, err := CRSFromCF(map[string]interface{}{
			"spatial_epsg":                  int32(3413),
			"grid_mapping_name":             "polar_stereographic",
			"latitude_of_projection_origin": -90.0,
			"standard_parallel":             -71.0,
		})
		if err != nil {
			t.Fatal(err)
		}
		if c.EPSG != 3413 {
			t.Errorf("got %s, want EPSG:3413", c)
		}
	})

	t.Run("unknown spatial_epsg", func(t *testing.T) {
		c, err := CRSFromCF(map[string]interface{}{
			"spatial_epsg":  int32(32761),
			"spatial_proj4": epsgDefs[3031].proj4,
		})
		if err != nil {
			t.Fatal(err)
		}
		if c.EPSG != 3031 {
			t.Errorf("got %s, want EPSG:3031", c)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := CRSFromCF(map[string]interface{}{"grid_mapping_name": "lambert_conformal_conic"}); err == nil {
			t.Error("expected an error")
		}
	})
}
