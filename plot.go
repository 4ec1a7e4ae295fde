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
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// MaxPlotCells is the maximum number of grid cells plotted along each
// side of a map. Larger grids are decimated.
const MaxPlotCells = 1000

// plotGrid presents a decimated field as a plotter.GridXYZ with x and y
// in kilometers, both increasing.
type plotGrid struct {
	cols, rows []int // source column and row indices
	x, y       []float64
	nx         int
	data       []float64
}

func newPlotGrid(g *Grid, data []float64) *plotGrid {
	ny, nx := g.Shape()
	step := 1
	if n := max(nx, ny); n > MaxPlotCells {
		step = (n + MaxPlotCells - 1) / MaxPlotCells
	}
	p := &plotGrid{nx: nx, data: data}
	p.cols = increasingIndices(g.X, step)
	p.rows = increasingIndices(g.Y, step)
	for _, i := range p.cols {
		p.x = append(p.x, g.X[i]/1000)
	}
	for _, j := range p.rows {
		p.y = append(p.y, g.Y[j]/1000)
	}
	return p
}

// increasingIndices returns every step-th index of c, ordered so that
// the coordinates increase.
func increasingIndices(c []float64, step int) []int {
	var idx []int
	for i := 0; i < len(c); i += step {
		idx = append(idx, i)
	}
	if len(c) > 1 && c[len(c)-1] < c[0] {
		for i, j := 0, len(idx)-1; i < j; i, j = i+1, j-1 {
			idx[i], idx[j] = idx[j], idx[i]
		}
	}
	return idx
}

func (p *plotGrid) Dims() (c, r int)   { return len(p.cols), len(p.rows) }
func (p *plotGrid) Z(c, r int) float64 { return p.data[p.rows[r]*p.nx+p.cols[c]] }
func (p *plotGrid) X(c int) float64    { return p.x[c] }
func (p *plotGrid) Y(r int) float64    { return p.y[r] }

// values returns the plotted values.
func (p *plotGrid) values() []float64 {
	o := make([]float64, 0, len(p.cols)*len(p.rows))
	for r := range p.rows {
		for c := range p.cols {
			o = append(o, p.Z(c, r))
		}
	}
	return o
}

// PlotField renders the named field as a PNG, SVG or PDF map, depending
// on the extension of path. Missing values are transparent and the color
// scale is clipped at the 1st and 99th percentiles.
func (d *Domain) PlotField(name, path string) error {
	f, err := d.Field(name)
	if err != nil {
		return err
	}
	ny, nx := d.Shape()
	if nx < 2 || ny < 2 {
		return fmt.Errorf("hydropot: plotting %s: grid [%d %d] is too small", name, ny, nx)
	}
	g := newPlotGrid(&d.Grid, f.Data.Elements)
	s := Summarize(g.values())
	if s.Valid == 0 {
		return fmt.Errorf("hydropot: plotting %s: no valid values", name)
	}
	lo, hi := s.P01, s.P99
	if lo == hi {
		lo, hi = s.Min-0.5, s.Max+0.5
	}

	cm := moreland.ExtendedBlackBody()
	cm.SetMin(lo)
	cm.SetMax(hi)
	pal := cm.Palette(255)
	colors := pal.Colors()

	hm := plotter.NewHeatMap(g, pal)
	hm.Min, hm.Max = lo, hi
	hm.NaN = color.Transparent
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	hm.Rasterized = true

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s [%s], %.4g to %.4g (1st-99th percentile)", name, f.Units, lo, hi)
	p.X.Label.Text = "x (km)"
	p.Y.Label.Text = "y (km)"
	p.Add(hm)

	xmin, xmax := g.x[0], g.x[len(g.x)-1]
	ymin, ymax := g.y[0], g.y[len(g.y)-1]
	w := 16 * vg.Centimeter
	h := w * vg.Length(math.Min(4, math.Max(0.25, (ymax-ymin)/(xmax-xmin))))
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("hydropot: saving plot: %w", err)
	}
	return nil
}

// Plot returns a function that renders the hydropotential to path.
func Plot(path string) DomainManipulator {
	return func(d *Domain) error {
		if err := d.PlotField(VarHydropotential, path); err != nil {
			return err
		}
		d.logger().WithField("path", path).Info("wrote plot")
		return nil
	}
}
