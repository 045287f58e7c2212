package physics

import (
	"context"
	"fmt"
	"math"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// Calibration anchors the reference model to pipeline targets at a
// reference design point.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Calibration struct {
	Gap        float64  `yaml:"gap_m" json:"gap_m"`               // parallel-plate gap
	Frequency  float64  `yaml:"frequency_hz" json:"frequency_hz"` // modulation frequency
	PulseLen   float64  `yaml:"pulse_s" json:"pulse_s"`           // pulse length in the zeta proxy
	PTarget    float64  `yaml:"p_target_w" json:"p_target_w"`
	MTarget    float64  `yaml:"m_target_kg" json:"m_target_kg"`
	ZetaTarget float64  `yaml:"zeta_target" json:"zeta_target"`
	Reference  Defaults `yaml:"reference" json:"reference"`
}

// DefaultCalibration targets 100 MW, 1400 kg and zeta 0.5 at DefaultHull.
func DefaultCalibration() Calibration {
	return Calibration{
		Gap:        1e-9,
		Frequency:  15e9,
		PulseLen:   10e-6,
		PTarget:    100e6,
		MTarget:    1400,
		ZetaTarget: 0.5,
		Reference:  DefaultHull(),
	}
}

// ReferenceEngine is a closed-form Casimir tile pipeline. Energy is the
// parallel-plate static energy per tile; power, exotic mass and the
// Ford-Roman proxy are scaled by constants fitted at the reference point.
type ReferenceEngine struct {
	cal                    Calibration
	kappaP, kappaM, kappaZ float64
}

type nominal struct {
	power, mass, zeta float64
}

// NewReferenceEngine fits the calibration constants.
func NewReferenceEngine(cal Calibration) (*ReferenceEngine, error) {
	if !(cal.Gap > 0) || !(cal.Frequency > 0) || !(cal.PulseLen > 0) {
		return nil, fmt.Errorf("physics: calibration needs positive gap, frequency and pulse length")
	}
	e := &ReferenceEngine{cal: cal}
	ref := e.nominals(DeriveSeed(contracts.WarpConfig{}, cal.Reference))
	if !(ref.power > 0) || !(ref.mass > 0) || !(ref.zeta > 0) {
		return nil, fmt.Errorf("physics: reference design point yields non-positive nominals")
	}
	e.kappaP = cal.PTarget / ref.power
	e.kappaM = cal.MTarget / ref.mass
	e.kappaZ = cal.ZetaTarget / ref.zeta
	return e, nil
}

// Calibration returns the fitted calibration.
func (e *ReferenceEngine) Calibration() Calibration { return e.cal }

// staticEnergy is |U| per tile: pi^2 hbar c A / (720 a^3).
func (e *ReferenceEngine) staticEnergy(tileArea float64) float64 {
	return math.Pi * math.Pi * HBarC / (720 * math.Pow(e.cal.Gap, 3)) * tileArea
}

func (e *ReferenceEngine) nominals(s Seed) nominal {
	u := e.staticEnergy(s.TileArea)
	omega := 2 * math.Pi * e.cal.Frequency
	return nominal{
		power: u * omega * s.TileCount * s.DutyEffective,
		mass:  u * s.TileCount / (CLight * CLight),
		zeta:  u * s.DutyEffective * e.cal.PulseLen / HBarC,
	}
}

// Derive implements Engine.
func (e *ReferenceEngine) Derive(ctx context.Context, s Seed) (Derived, error) {
	if err := ctx.Err(); err != nil {
		return Derived{}, err
	}
	nom := e.nominals(s)

	// Light-crossing time over modulation period.
	tLC := 2 * s.Radius / CLight
	tM := 1 / e.cal.Frequency

	// Instantaneous Casimir energy density between the plates.
	rho := -math.Pi * math.Pi * HBarC / (720 * math.Pow(e.cal.Gap, 4))

	return Derived{
		TSRatio:  tLC / tM,
		MExotic:  e.kappaM * nom.mass,
		MTarget:  e.cal.MTarget,
		QIMargin: e.kappaZ * nom.zeta,
		ThetaCal: math.Pow(s.GammaGeo, 3) * s.QFactor * s.GammaVdB * s.DutyEffective,
		GammaVdB: s.GammaVdB,
		T00Min:   rho,
		T00Max:   rho * s.DutyEffective,
		PowerAvg: e.kappaP * nom.power,
		Citations: []string{
			"Casimir 1948, parallel-plate vacuum energy",
			"Ford & Roman 1995, quantum inequality bound",
			"Van Den Broeck 1999, pocket compression",
		},
	}, nil
}
