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

func TestGeographicBounds(t *testing.T) {
	t.Run("pole", func(t *testing.T) {
		d := testDomain(t, nil, nil, nil, nil)
		g, err := d.geographicBounds()
		if err != nil {
			t.Fatal(err)
		}
		if g[0] != -180 || g[1] != -90 || g[2] != 180 {
			t.Errorf("bounds %v should reach the south pole and span every longitude", *g)
		}
		if g[3] <= -90 || g[3] > -89.9 {
			t.Errorf("north bound %g", g[3])
		}
	})

	t.Run("off pole", func(t *testing.T) {
		c, err := ParseCRS("EPSG:3031")
		if err != nil {
			t.Fatal(err)
		}
		d := &Domain{Grid: Grid{X: []float64{1e6, 1.1e6}, Y: []float64{1.1e6, 1e6}, CRS: c}}
		g, err := d.geographicBounds()
		if err != nil {
			t.Fatal(err)
		}
		if g[1] < -85 || g[3] > -70 {
			t.Errorf("latitudes %v", *g)
		}
		if g[2]-g[0] > 15 {
			t.Errorf("longitudes %v should not span the pole", *g)
		}
	})
}
