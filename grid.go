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
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

var (
	// ErrMissingVariable is returned when a required variable is not
	// present in a dataset.
	ErrMissingVariable = errors.New("missing variable")

	// ErrEmptyWindow is returned when a Window does not overlap the
	// source grid.
	ErrEmptyWindow = errors.New("window does not overlap the grid")
)

// Grid is a regular two-dimensional grid in projected coordinates.
type Grid struct {
	// X and Y are the cell-center coordinates of the columns and rows,
	// in the units of the CRS (typically meters). Either may be
	// ascending or descending.
	X, Y []float64

	// CRS is the coordinate reference system of X and Y.
	CRS *CRS
}

// Shape returns the number of rows and columns in the grid.
func (g *Grid) Shape() (ny, nx int) { return len(g.Y), len(g.X) }

// Resolution returns the absolute cell size in the x and y directions.
// A dimension with fewer than two cells has a resolution of NaN.
func (g *Grid) Resolution() (dx, dy float64) {
	dx, dy = math.NaN(), math.NaN()
	if len(g.X) > 1 {
		dx = math.Abs(g.X[1] - g.X[0])
	}
	if len(g.Y) > 1 {
		dy = math.Abs(g.Y[1] - g.Y[0])
	}
	return
}

// Bounds returns the outer edges of the grid, assuming the coordinates
// are cell centers.
func (g *Grid) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	if len(g.X) == 0 || len(g.Y) == 0 {
		return b
	}
	dx, dy := g.Resolution()
	if math.IsNaN(dx) {
		dx = 0
	}
	if math.IsNaN(dy) {
		dy = 0
	}
	xmin, xmax := minMax(g.X)
	ymin, ymax := minMax(g.Y)
	b.Min = geom.Point{X: xmin - dx/2, Y: ymin - dy/2}
	b.Max = geom.Point{X: xmax + dx/2, Y: ymax + dy/2}
	return b
}

func minMax(v []float64) (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, x := range v {
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	return
}

// Window selects a rectangular subset of a source grid.
type Window struct {
	// Bounds are the limits of the subset in projected coordinates.
	// Cells whose centers fall within Bounds (inclusive) are kept.
	// If Bounds is nil the whole grid is kept.
	Bounds *geom.Bounds

	// Stride keeps every Stride-th row and column. Values < 2 keep
	// every cell.
	Stride int
}

func (w *Window) stride() int {
	if w == nil || w.Stride < 2 {
		return 1
	}
	return w.Stride
}

// indexRange returns the half-open index range [i0, i1) of the
// coordinates in c that fall within [min, max]. c must be monotonic.
func indexRange(c []float64, min, max float64) (i0, i1 int, err error) {
	i0, i1 = -1, -1
	for i, v := range c {
		if v >= min && v <= max {
			if i0 < 0 {
				i0 = i
			}
			i1 = i + 1
		}
	}
	if i0 < 0 {
		return 0, 0, ErrEmptyWindow
	}
	return i0, i1, nil
}

// ranges returns the row and column index ranges selected by w.
func (w *Window) ranges(x, y []float64) (j0, j1, i0, i1 int, err error) {
	if w == nil || w.Bounds == nil {
		return 0, len(y), 0, len(x), nil
	}
	i0, i1, err = indexRange(x, w.Bounds.Min.X, w.Bounds.Max.X)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("hydropot: x: %w", err)
	}
	j0, j1, err = indexRange(y, w.Bounds.Min.Y, w.Bounds.Max.Y)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("hydropot: y: %w", err)
	}
	return j0, j1, i0, i1, nil
}

// strided returns every stride-th element of v[start:end].
func strided(v []float64, start, end, stride int) []float64 {
	o := make([]float64, 0, (end-start+stride-1)/stride)
	for i := start; i < end; i += stride {
		o = append(o, v[i])
	}
	return o
}
