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
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// BedMachine mask classes.
const (
	Ocean = iota
	IceFreeLand
	GroundedIce
	FloatingIce
	LakeVostok
)

// MaskClassNames gives the names of the BedMachine mask classes.
var MaskClassNames = map[int]string{
	Ocean:       "ocean",
	IceFreeLand: "ice_free_land",
	GroundedIce: "grounded_ice",
	FloatingIce: "floating_ice",
	LakeVostok:  "lake_vostok",
}

// DefaultMaskClasses are the classes kept by default: the hydropotential
// is only meaningful beneath grounded ice.
var DefaultMaskClasses = []int{GroundedIce}

// ApplyMask returns a function that sets every cell of the output fields
// whose mask class is not in keep to NaN. If keep is empty,
// DefaultMaskClasses is used.
func ApplyMask(keep ...int) DomainManipulator {
	if len(keep) == 0 {
		keep = DefaultMaskClasses
	}
	return func(d *Domain) error {
		if d.Mask == nil {
			return fmt.Errorf("hydropot: applying mask: %w: %s", ErrMissingVariable, VarMask)
		}
		keepSet := make(map[int]bool)
		var names []string
		for _, k := range keep {
			name, ok := MaskClassNames[k]
			if !ok {
				return fmt.Errorf("hydropot: invalid mask class %d", k)
			}
			keepSet[k] = true
			names = append(names, fmt.Sprintf("%d (%s)", k, name))
		}
		classes := intList(keep)
		ny, nx := d.Shape()
		var masked int
		for _, name := range d.Outputs {
			f, err := d.Field(name)
			if err != nil {
				return err
			}
			rowsParallel(ny, func(j int) {
				for i := j * nx; i < (j+1)*nx; i++ {
					if !keepSet[d.Mask.Elements[i]] {
						f.Data.Elements[i] = math.NaN()
					}
				}
			})
			f.Attributes["mask_classes_retained"] = classes
			f.Attributes["mask_description"] = "cells outside mask classes " +
				strings.Join(names, ", ") + " are set to missing"
		}
		for _, m := range d.Mask.Elements {
			if !keepSet[m] {
				masked++
			}
		}
		d.logger().WithFields(logrus.Fields{
			"keep":   classes,
			"masked": masked,
		}).Info("applied mask")
		return nil
	}
}

// intList formats a list of integers as "2,3".
func intList(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.Itoa(x)
	}
	return strings.Join(s, ",")
}
