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
	"runtime"
	"strconv"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Physical constants
const (
	Gravity  = 9.81   // acceleration of gravity [m/s2]
	RhoIce   = 917.0  // density of ice [kg/m3]
	RhoWater = 1000.0 // density of fresh water [kg/m3]
)

// HydropotentialFormula describes the calculation in output metadata.
const HydropotentialFormula = "phi = g * ((rho_water - rho_ice) * bed + rho_ice * (surface - firn)) / 1000"

// Constants holds the physical constants used to calculate the
// hydropotential.
type Constants struct {
	Gravity  float64 `toml:"gravity"`   // [m/s2]
	RhoIce   float64 `toml:"rho_ice"`   // [kg/m3]
	RhoWater float64 `toml:"rho_water"` // [kg/m3]
}

// DefaultConstants returns the standard values of the constants.
func DefaultConstants() Constants {
	return Constants{Gravity: Gravity, RhoIce: RhoIce, RhoWater: RhoWater}
}

// Hydropotential returns the subglacial hydropotential [kPa] (Shreve, 1972)
// given the bed elevation, the surface elevation and the firn air
// content, all in meters. The firn air content is subtracted from the
// surface elevation to give the ice-equivalent surface. If any input is
// NaN the result is NaN.
func (c Constants) Hydropotential(bed, surface, firn float64) float64 {
	return c.Gravity * ((c.RhoWater-c.RhoIce)*bed + c.RhoIce*(surface-firn)) / 1000
}

// Hydropotential calculates the hydropotential with the default constants.
func Hydropotential(bed, surface, firn float64) float64 {
	return DefaultConstants().Hydropotential(bed, surface, firn)
}

// attributes returns the constants as variable attributes.
func (c Constants) attributes() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"formula":                 HydropotentialFormula,
		"gravity_m_s-2":           f(c.Gravity),
		"ice_density_kg_m-3":      f(c.RhoIce),
		"water_density_kg_m-3":    f(c.RhoWater),
		"reference":               "Shreve, R. L. (1972). Movement of water in glaciers. Journal of Glaciology, 11(62), 205-214.",
		"firn_correction_applied": "true",
	}
}

// CalculateHydropotential returns a function that calculates the
// hydropotential from the bed, surface and firn fields and adds it to the
// domain as the "hydropotential" field, which is marked for output.
func CalculateHydropotential(c Constants) DomainManipulator {
	return func(d *Domain) error {
		bed, err := d.Field(VarBed)
		if err != nil {
			return err
		}
		surface, err := d.Field(VarSurface)
		if err != nil {
			return err
		}
		firn, err := d.Field(VarFirn)
		if err != nil {
			return err
		}
		ny, nx := d.Shape()
		phi := sparse.ZerosDense(ny, nx)
		rowsParallel(ny, func(j int) {
			for i := j * nx; i < (j+1)*nx; i++ {
				phi.Elements[i] = c.Hydropotential(bed.Data.Elements[i],
					surface.Data.Elements[i], firn.Data.Elements[i])
			}
		})
		f := &Field{
			Name:        VarHydropotential,
			Units:       "kPa",
			Description: "subglacial hydropotential",
			Attributes:  c.attributes(),
			Data:        phi,
		}
		if err := d.AddField(f); err != nil {
			return err
		}
		d.addOutput(VarHydropotential)

		var n int
		for _, v := range phi.Elements {
			if !math.IsNaN(v) {
				n++
			}
		}
		d.logger().WithFields(logrus.Fields{
			"cells": len(phi.Elements),
			"valid": n,
		}).Info("calculated hydropotential")
		return nil
	}
}

// rowsParallel calls f for every row index in [0, ny), distributing
// the rows among one goroutine per processor.
func rowsParallel(ny int, f func(j int)) {
	nprocs := runtime.GOMAXPROCS(0)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			for j := pp; j < ny; j += nprocs {
				f(j)
			}
			wg.Done()
		}(pp)
	}
	wg.Wait()
}
