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
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
)

// expressionFuncs are the functions available in derived variable
// expressions.
var expressionFuncs = map[string]govaluate.ExpressionFunction{
	"abs":   unaryFunc("abs", math.Abs),
	"sqrt":  unaryFunc("sqrt", math.Sqrt),
	"exp":   unaryFunc("exp", math.Exp),
	"log":   unaryFunc("log", math.Log),
	"log10": unaryFunc("log10", math.Log10),
	"max":   binaryFunc("max", math.Max),
	"min":   binaryFunc("min", math.Min),
	"isnan": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("hydropot: got %d arguments for function 'isnan', but needs 1", len(arg))
		}
		v, ok := arg[0].(float64)
		if !ok {
			return nil, fmt.Errorf("hydropot: invalid argument type %T for function 'isnan'", arg[0])
		}
		return math.IsNaN(v), nil
	},
	"nan": func(arg ...interface{}) (interface{}, error) {
		return math.NaN(), nil
	},
}

func unaryFunc(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("hydropot: got %d arguments for function '%s', but needs 1", len(arg), name)
		}
		v, ok := arg[0].(float64)
		if !ok {
			return nil, fmt.Errorf("hydropot: invalid argument type %T for function '%s'", arg[0], name)
		}
		return f(v), nil
	}
}

func binaryFunc(name string, f func(a, b float64) float64) govaluate.ExpressionFunction {
	return func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 2 {
			return nil, fmt.Errorf("hydropot: got %d arguments for function '%s', but needs 2", len(arg), name)
		}
		a, ok1 := arg[0].(float64)
		b, ok2 := arg[1].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("hydropot: invalid argument types %T, %T for function '%s'", arg[0], arg[1], name)
		}
		return f(a, b), nil
	}
}

var validVarName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DerivedVariable is an output field calculated from an expression of
// other fields, for example "surface - bed".
type DerivedVariable struct {
	Name       string
	Expression string
	Units      string

	expr *govaluate.EvaluableExpression
	vars []string
}

// NewDerivedVariables parses a map of variable names to expressions.
// Expressions can use the fields bed, surface, firn, thickness, mask and
// hydropotential, the constants g, rho_ice and rho_water, and the
// functions abs, sqrt, exp, log, log10, max, min, isnan and nan.
func NewDerivedVariables(defs map[string]string) ([]*DerivedVariable, error) {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	o := make([]*DerivedVariable, 0, len(defs))
	for _, n := range names {
		if !validVarName.MatchString(n) {
			return nil, fmt.Errorf("hydropot: invalid derived variable name %q", n)
		}
		switch n {
		case VarX, VarY, VarBed, VarSurface, VarFirn, VarThickness, VarMask, VarMapping, VarHydropotential:
			return nil, fmt.Errorf("hydropot: derived variable name %q is reserved", n)
		}
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(defs[n], expressionFuncs)
		if err != nil {
			return nil, fmt.Errorf("hydropot: derived variable %s: %v", n, err)
		}
		o = append(o, &DerivedVariable{
			Name:       n,
			Expression: defs[n],
			expr:       expr,
			vars:       removeDuplicates(expr.Vars()),
		})
	}
	return o, nil
}

func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]bool)
	for _, val := range s {
		if !seen[val] {
			result = append(result, val)
			seen[val] = true
		}
	}
	return result
}

// DerivedVariables returns a function that calculates the given derived
// variables and marks them for output. It must run after
// CalculateHydropotential if any expression uses the hydropotential.
func DerivedVariables(vars []*DerivedVariable, c Constants) DomainManipulator {
	return func(d *Domain) error {
		consts := map[string]float64{
			"g":         c.Gravity,
			"rho_ice":   c.RhoIce,
			"rho_water": c.RhoWater,
		}
		ny, nx := d.Shape()
		for _, v := range vars {
			fields := make(map[string][]float64)
			for _, name := range v.vars {
				if _, ok := consts[name]; ok {
					continue
				}
				if name == VarMask && d.Mask != nil {
					m := make([]float64, len(d.Mask.Elements))
					for i, class := range d.Mask.Elements {
						m[i] = float64(class)
					}
					fields[name] = m
					continue
				}
				f, err := d.Field(name)
				if err != nil {
					return fmt.Errorf("hydropot: derived variable %s: %w", v.Name, err)
				}
				fields[name] = f.Data.Elements
			}

			data := sparse.ZerosDense(ny, nx)
			errs := make([]error, ny)
			rowsParallel(ny, func(j int) {
				params := make(govaluate.MapParameters, len(v.vars))
				for name, val := range consts {
					params[name] = val
				}
				for i := j * nx; i < (j+1)*nx; i++ {
					for name, f := range fields {
						params[name] = f[i]
					}
					r, err := v.expr.Eval(params)
					if err != nil {
						errs[j] = err
						return
					}
					switch t := r.(type) {
					case float64:
						data.Elements[i] = t
					case bool:
						if t {
							data.Elements[i] = 1
						}
					default:
						errs[j] = fmt.Errorf("result has type %T", r)
						return
					}
				}
			})
			for _, err := range errs {
				if err != nil {
					return fmt.Errorf("hydropot: evaluating derived variable %s: %v", v.Name, err)
				}
			}
			err := d.AddField(&Field{
				Name:        v.Name,
				Units:       v.Units,
				Description: v.Expression,
				Attributes:  map[string]string{"expression": v.Expression},
				Data:        data,
			})
			if err != nil {
				return err
			}
			d.addOutput(v.Name)
		}
		return nil
	}
}
