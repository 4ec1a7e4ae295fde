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
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds summary statistics of a field, ignoring missing values.
type Summary struct {
	Cells  int     `json:"cells"`
	Valid  int     `json:"valid"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P01    float64 `json:"p01"`
	P50    float64 `json:"median"`
	P99    float64 `json:"p99"`
}

// Summarize calculates summary statistics of v. If v has no valid values
// the statistics other than the counts are NaN.
func Summarize(v []float64) Summary {
	valid := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			valid = append(valid, x)
		}
	}
	s := Summary{Cells: len(v), Valid: len(valid)}
	if len(valid) == 0 {
		nan := math.NaN()
		s.Min, s.Max, s.Mean, s.StdDev, s.P01, s.P50, s.P99 = nan, nan, nan, nan, nan, nan, nan
		return s
	}
	sort.Float64s(valid)
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	if len(valid) < 2 {
		s.StdDev = 0
	}
	s.P01 = stat.Quantile(0.01, stat.Empirical, valid, nil)
	s.P50 = stat.Quantile(0.5, stat.Empirical, valid, nil)
	s.P99 = stat.Quantile(0.99, stat.Empirical, valid, nil)
	return s
}

// Summaries returns the summary statistics of each output field.
func (d *Domain) Summaries() map[string]Summary {
	o := make(map[string]Summary, len(d.Outputs))
	for _, name := range d.Outputs {
		if f, ok := d.Fields[name]; ok {
			o[name] = Summarize(f.Data.Elements)
		}
	}
	return o
}

// MarshalJSON encodes the statistics, writing missing values as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	f := func(v float64) interface{} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	}
	return json.Marshal(map[string]interface{}{
		"cells":   s.Cells,
		"valid":   s.Valid,
		"min":     f(s.Min),
		"max":     f(s.Max),
		"mean":    f(s.Mean),
		"std_dev": f(s.StdDev),
		"p01":     f(s.P01),
		"median":  f(s.P50),
		"p99":     f(s.P99),
	})
}
