package viability

import (
	"fmt"
	"math"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// Built-in check ids.
const (
	IDFordRoman = "FordRomanQI"
	IDTheta     = "ThetaAudit"
	IDTSRatio   = "TS_ratio_min"
	IDMass      = "M_exotic_budget"
	IDVdB       = "VdB_band"
)

// Thresholds are the numeric bounds of the built-in checks.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Thresholds struct {
	QIMax         float64 `yaml:"qi_max" json:"qiMax"`                 // zeta must be strictly below
	ThetaMax      float64 `yaml:"theta_max" json:"thetaMax"`           // |theta| upper bound
	TSMin         float64 `yaml:"ts_min" json:"tsMin"`                 // time-scale ratio floor
	MassTolerance float64 `yaml:"mass_tolerance" json:"massTolerance"` // relative deviation from target
	VdBMin        float64 `yaml:"vdb_min" json:"vdbMin"`
	VdBMax        float64 `yaml:"vdb_max" json:"vdbMax"`
}

// DefaultThresholds returns the standard bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QIMax:         1,
		ThetaMax:      1e12,
		TSMin:         100,
		MassTolerance: 0.10,
		VdBMin:        0,
		VdBMax:        1e16,
	}
}

type builtin struct {
	id          string
	severity    contracts.Severity
	description string
	// inputs names the seed quantities the check depends on beyond the
	// snapshot value it reads; a proxy input marks the result as proxy.
	inputs []string
	// judge returns lhs, rhs, passed and details; ok=false means a required
	// upstream quantity is undefined and the check is skipped.
	judge func(s contracts.ViabilitySnapshot, th Thresholds) (lhs, rhs float64, passed bool, details string, ok bool)
}

var builtins = []builtin{
	{
		id:          IDFordRoman,
		severity:    contracts.SeverityHard,
		description: "Ford-Roman quantum inequality margin below 1",
		judge: func(s contracts.ViabilitySnapshot, th Thresholds) (float64, float64, bool, string, bool) {
			if !contracts.IsFinite(s.QIMargin) {
				return 0, 0, false, "", false
			}
			zeta := *s.QIMargin
			return zeta, th.QIMax, zeta < th.QIMax, fmt.Sprintf("zeta = %.3g", zeta), true
		},
	},
	{
		id:          IDTheta,
		severity:    contracts.SeverityHard,
		description: "Theta calibration within audit band",
		inputs:      []string{"gammaVdB", "qFactor"},
		judge: func(s contracts.ViabilitySnapshot, th Thresholds) (float64, float64, bool, string, bool) {
			if !contracts.IsFinite(s.ThetaCal) {
				return 0, 0, false, "", false
			}
			mag := math.Abs(*s.ThetaCal)
			return mag, th.ThetaMax, mag <= th.ThetaMax, fmt.Sprintf("|theta| = %.3g", mag), true
		},
	},
	{
		id:          IDTSRatio,
		severity:    contracts.SeveritySoft,
		description: "Time-scale separation above floor",
		judge: func(s contracts.ViabilitySnapshot, th Thresholds) (float64, float64, bool, string, bool) {
			if !contracts.IsFinite(s.TSRatio) {
				return 0, 0, false, "", false
			}
			ts := *s.TSRatio
			return ts, th.TSMin, ts >= th.TSMin, fmt.Sprintf("TS = %.3g", ts), true
		},
	},
	{
		id:          IDMass,
		severity:    contracts.SeveritySoft,
		description: "Exotic mass within budget of target",
		judge: func(s contracts.ViabilitySnapshot, th Thresholds) (float64, float64, bool, string, bool) {
			if !contracts.IsFinite(s.MExotic) || !contracts.IsFinite(s.MTarget) || *s.MTarget == 0 {
				return 0, 0, false, "", false
			}
			m, target := *s.MExotic, *s.MTarget
			dev := math.Abs(m-target) / math.Abs(target)
			return dev, th.MassTolerance, dev <= th.MassTolerance,
				fmt.Sprintf("M_exotic = %.4g kg vs target %.4g kg", m, target), true
		},
	},
	{
		id:          IDVdB,
		severity:    contracts.SeveritySoft,
		description: "Van den Broeck compression factor within band",
		inputs:      []string{"gammaVdB"},
		judge: func(s contracts.ViabilitySnapshot, th Thresholds) (float64, float64, bool, string, bool) {
			if !contracts.IsFinite(s.GammaVdB) {
				return 0, 0, false, "", false
			}
			g := *s.GammaVdB
			return g, th.VdBMax, g >= th.VdBMin && g <= th.VdBMax,
				fmt.Sprintf("gammaVdB = %.3g, band [%.3g, %.3g]", g, th.VdBMin, th.VdBMax), true
		},
	},
}

func (b builtin) proxy(s contracts.ViabilitySnapshot) bool {
	for _, in := range b.inputs {
		if s.IsProxy(in) {
			return true
		}
	}
	return false
}

// IsBuiltin reports whether id names a built-in check.
func IsBuiltin(id string) bool {
	for _, b := range builtins {
		if b.id == id {
			return true
		}
	}
	return false
}
