// Package search sweeps a grid of warp configurations through the
// viability evaluator and ranks the results.
package search

import (
	"fmt"
	"math"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// Range is an inclusive linear range sampled at Steps points.
type Range struct {
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Steps int     `json:"steps" yaml:"steps"`
}

// Fixed returns a range holding the single value v.
func Fixed(v float64) *Range { return &Range{Min: v, Max: v, Steps: 1} }

// Values lists the sample points of r.
func (r Range) Values() []float64 {
	if r.Steps <= 1 || r.Min == r.Max {
		return []float64{r.Min}
	}
	out := make([]float64, r.Steps)
	step := (r.Max - r.Min) / float64(r.Steps-1)
	for i := range out {
		out[i] = r.Min + step*float64(i)
	}
	out[len(out)-1] = r.Max
	return out
}

func (r Range) validate(name string) error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("search: %s range must be finite", name)
	}
	if r.Max < r.Min {
		return fmt.Errorf("search: %s range max %g is below min %g", name, r.Max, r.Min)
	}
	return nil
}

// Grid is the cartesian product of the set axes over a base config.
// Nil axes keep the base value.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Grid struct {
	Base          contracts.WarpConfig `json:"base" yaml:"-"`
	Radius        *Range               `json:"bubbleRadius,omitempty" yaml:"bubbleRadius,omitempty"`
	WallThickness *Range               `json:"wallThickness,omitempty" yaml:"wallThickness,omitempty"`
	DutyCycle     *Range               `json:"dutyCycle,omitempty" yaml:"dutyCycle,omitempty"`
	TileCount     *Range               `json:"tileCount,omitempty" yaml:"tileCount,omitempty"`
}

type axis struct {
	name  string
	r     *Range
	apply func(c *contracts.WarpConfig, v float64)
}

func (g Grid) axes() []axis {
	return []axis{
		{"bubbleRadius", g.Radius, func(c *contracts.WarpConfig, v float64) { c.BubbleRadius = &v }},
		{"wallThickness", g.WallThickness, func(c *contracts.WarpConfig, v float64) { c.WallThickness = &v }},
		{"dutyCycle", g.DutyCycle, func(c *contracts.WarpConfig, v float64) { c.DutyCycle = &v }},
		{"tileCount", g.TileCount, func(c *contracts.WarpConfig, v float64) {
			n := int64(math.Round(v))
			c.TileCount = &n
		}},
	}
}

// Expand lists every grid point in axis order, the last axis varying fastest.
func (g Grid) Expand() ([]contracts.WarpConfig, error) {
	out := []contracts.WarpConfig{g.Base.Clone()}
	for _, a := range g.axes() {
		if a.r == nil {
			continue
		}
		if err := a.r.validate(a.name); err != nil {
			return nil, err
		}
		values := a.r.Values()
		next := make([]contracts.WarpConfig, 0, len(out)*len(values))
		for _, cfg := range out {
			for _, v := range values {
				c := cfg.Clone()
				a.apply(&c, v)
				next = append(next, c)
			}
		}
		out = next
	}
	return out, nil
}

// Size is the number of points Expand yields.
func (g Grid) Size() int {
	n := 1
	for _, a := range g.axes() {
		if a.r != nil {
			n *= len(a.r.Values())
		}
	}
	return n
}
