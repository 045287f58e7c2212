package physics

import (
	"context"
	"math"
)

// Physical constants (SI).
const (
	HBarC  = 3.164e-26    // J m
	CLight = 2.99792458e8 // m/s
)

// Derived holds the pipeline outputs. NaN means undefined.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Derived struct {
	TSRatio   float64
	MExotic   float64 // kg
	MTarget   float64 // kg
	QIMargin  float64 // Ford-Roman zeta
	ThetaCal  float64
	GammaVdB  float64
	T00Min    float64 // J/m^3
	T00Max    float64 // J/m^3
	PowerAvg  float64 // W
	Citations []string
}

// Engine derives viability quantities from a seed. Implementations make at
// most one bounded computation per call and must not retry.
type Engine interface {
	Derive(ctx context.Context, seed Seed) (Derived, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, seed Seed) (Derived, error)

// Derive implements Engine.
func (f EngineFunc) Derive(ctx context.Context, seed Seed) (Derived, error) { return f(ctx, seed) }

// Undefined returns a Derived with every quantity undefined.
func Undefined() Derived {
	nan := math.NaN()
	return Derived{
		TSRatio: nan, MExotic: nan, MTarget: nan, QIMargin: nan, ThetaCal: nan,
		GammaVdB: nan, T00Min: nan, T00Max: nan, PowerAvg: nan,
	}
}
