// Package gate judges solver residual diagnostics against thresholds.
//
// Evaluate is a pure function: no I/O and no shared state. Every residual
// maps to "pass", "fail" or "unknown"; a missing or non-finite value is
// always unknown and never a silent pass.
package gate

import (
	"fmt"
	"math"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
)

// Status of one constraint or of the whole gate.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusUnknown Status = "unknown"
)

// Constraint ids.
const (
	IDHamiltonianRMS    = "BSSN_H_rms"
	IDMomentumRMS       = "BSSN_M_rms"
	IDHamiltonianMaxAbs = "BSSN_H_maxAbs"
	IDMomentumMaxAbs    = "BSSN_M_maxAbs"
	IDCFL               = "CFL"
)

// Mode selects which severities can fail the gate.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeHardOnly Mode = "hard-only"
)

// Policy controls gate aggregation. ProxyAsUnknown demotes a passing
// constraint whose value came from a proxy field to unknown; a failing
// proxy value still fails.
type Policy struct {
	Mode           Mode `json:"mode" yaml:"mode"`
	UnknownAsFail  bool `json:"unknownAsFail" yaml:"unknown_as_fail"`
	ProxyAsUnknown bool `json:"proxyAsUnknown" yaml:"proxy_as_unknown"`
}

// DefaultPolicy counts every constraint and treats unknown and
// proxy-sourced values as failing.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeAll, UnknownAsFail: true, ProxyAsUnknown: true}
}

// Thresholds are upper bounds on residual magnitudes.
type Thresholds struct {
	HRmsMax    float64 `json:"H_rms_max" yaml:"h_rms_max"`
	MRmsMax    float64 `json:"M_rms_max" yaml:"m_rms_max"`
	HMaxAbsMax float64 `json:"H_maxAbs_max" yaml:"h_max_abs_max"`
	MMaxAbsMax float64 `json:"M_maxAbs_max" yaml:"m_max_abs_max"`
	CFLMax     float64 `json:"cfl_max" yaml:"cfl_max"`
}

// DefaultThresholds returns the standard BSSN limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HRmsMax:    1e-2,
		MRmsMax:    1e-3,
		HMaxAbsMax: 1e-1,
		MMaxAbsMax: 1e-2,
		CFLMax:     1,
	}
}

// ThresholdOverrides replaces individual thresholds; nil fields keep the base.
type ThresholdOverrides struct {
	HRmsMax    *float64 `json:"H_rms_max,omitempty"`
	MRmsMax    *float64 `json:"M_rms_max,omitempty"`
	HMaxAbsMax *float64 `json:"H_maxAbs_max,omitempty"`
	MMaxAbsMax *float64 `json:"M_maxAbs_max,omitempty"`
	CFLMax     *float64 `json:"cfl_max,omitempty"`
}

// Apply returns t with the finite, non-negative overrides in o applied.
func (t Thresholds) Apply(o *ThresholdOverrides) Thresholds {
	if o == nil {
		return t
	}
	set := func(dst *float64, v *float64) {
		if contracts.IsFinite(v) && *v >= 0 {
			*dst = *v
		}
	}
	set(&t.HRmsMax, o.HRmsMax)
	set(&t.MRmsMax, o.MRmsMax)
	set(&t.HMaxAbsMax, o.HMaxAbsMax)
	set(&t.MMaxAbsMax, o.MMaxAbsMax)
	set(&t.CFLMax, o.CFLMax)
	return t
}

// Constraint is the outcome for one residual.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Constraint struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Severity    contracts.Severity `json:"severity"`
	Status      Status             `json:"status"`
	Value       *float64           `json:"value,omitempty"`
	Limit       float64            `json:"limit"`
	Source      string             `json:"source,omitempty"`
	Proxy       bool               `json:"proxy,omitempty"`
	Note        string             `json:"note,omitempty"`
}

// Evaluation is the gate result.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Evaluation struct {
	Status      Status       `json:"status"`
	Constraints []Constraint `json:"constraints"`
	Notes       []string     `json:"notes"`
	Policy      Policy       `json:"policy"`
	Thresholds  Thresholds   `json:"thresholds"`
}

type spec struct {
	id          string
	field       string
	description string
	severity    contracts.Severity
	value       func(*ResidualSet) *float64
	limit       func(Thresholds) float64
}

var specs = []spec{
	{IDHamiltonianRMS, "H_rms", "Hamiltonian constraint RMS", contracts.SeverityHard,
		func(r *ResidualSet) *float64 { return r.HRms }, func(t Thresholds) float64 { return t.HRmsMax }},
	{IDMomentumRMS, "M_rms", "Momentum constraint RMS", contracts.SeverityHard,
		func(r *ResidualSet) *float64 { return r.MRms }, func(t Thresholds) float64 { return t.MRmsMax }},
	{IDHamiltonianMaxAbs, "H_maxAbs", "Hamiltonian constraint max |H|", contracts.SeveritySoft,
		func(r *ResidualSet) *float64 { return r.HMaxAbs }, func(t Thresholds) float64 { return t.HMaxAbsMax }},
	{IDMomentumMaxAbs, "M_maxAbs", "Momentum constraint max |M|", contracts.SeveritySoft,
		func(r *ResidualSet) *float64 { return r.MMaxAbs }, func(t Thresholds) float64 { return t.MMaxAbsMax }},
	{IDCFL, "cfl", "Courant-Friedrichs-Lewy number", contracts.SeveritySoft,
		func(r *ResidualSet) *float64 { return r.CFL }, func(t Thresholds) float64 { return t.CFLMax }},
}

// Option configures Evaluate.
type Option func(*options)

type options struct {
	bundle *policyloader.Bundle
}

// WithBundle resolves severities and descriptions from a policy bundle.
func WithBundle(b *policyloader.Bundle) Option {
	return func(o *options) { o.bundle = b }
}

// Evaluate judges residuals against thresholds under policy. A nil
// ResidualSet marks every constraint unknown.
func Evaluate(res *ResidualSet, th Thresholds, p Policy, opts ...Option) Evaluation {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if p.Mode == "" {
		p.Mode = ModeAll
	}

	ev := Evaluation{
		Constraints: make([]Constraint, 0, len(specs)),
		Notes:       []string{},
		Policy:      p,
		Thresholds:  th,
	}
	if res == nil {
		ev.Notes = append(ev.Notes, "diagnostics missing: all residual constraints are unknown")
	}

	failed, unknown := false, false
	for _, s := range specs {
		c := Constraint{
			ID:          s.id,
			Description: policyloader.Describe(o.bundle, s.id, s.description),
			Severity:    policyloader.ResolveSeverity(o.bundle, s.id, s.severity),
			Limit:       s.limit(th),
		}
		var v *float64
		if res != nil {
			v = s.value(res)
			if pk, ok := res.Sources[s.field]; ok {
				c.Source, c.Proxy = pk.Source, pk.Proxy
			}
		}

		switch {
		case v == nil:
			c.Status = StatusUnknown
			c.Note = "value missing"
			if res != nil {
				ev.Notes = append(ev.Notes, fmt.Sprintf("%s unknown: %s missing from diagnostics", s.id, s.field))
			}
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			c.Status = StatusUnknown
			c.Note = "value non-finite"
			if s.id == IDCFL {
				ev.Notes = append(ev.Notes, "CFL is non-finite: the time integration likely diverged; rerun with a smaller time step")
			} else {
				ev.Notes = append(ev.Notes, fmt.Sprintf("%s unknown: %s is non-finite", s.id, s.field))
			}
		default:
			c.Value = contracts.Finite(*v)
			mag := math.Abs(*v)
			if mag <= c.Limit {
				c.Status = StatusPass
			} else {
				c.Status = StatusFail
				if s.id == IDCFL {
					ev.Notes = append(ev.Notes, fmt.Sprintf("CFL %.3g exceeds %.3g: reduce the time step or coarsen the grid", mag, c.Limit))
				} else {
					ev.Notes = append(ev.Notes, fmt.Sprintf("%s fail: |%s| = %.3g exceeds %.3g", s.id, s.field, mag, c.Limit))
				}
			}
			switch {
			case c.Proxy && p.ProxyAsUnknown && c.Status == StatusPass:
				c.Status = StatusUnknown
				c.Note = "proxy value"
				ev.Notes = append(ev.Notes, fmt.Sprintf("%s unknown: uses proxy field %s, not a solved residual", s.id, c.Source))
			case c.Proxy:
				ev.Notes = append(ev.Notes, fmt.Sprintf("%s uses proxy field %s; treat as unverified", s.id, c.Source))
			}
		}

		counted := p.Mode != ModeHardOnly || c.Severity == contracts.SeverityHard
		if counted {
			switch c.Status {
			case StatusFail:
				failed = true
			case StatusUnknown:
				unknown = true
			}
		}
		ev.Constraints = append(ev.Constraints, c)
	}

	if !failed && (!p.UnknownAsFail || !unknown) {
		ev.Status = StatusPass
	} else {
		ev.Status = StatusFail
	}
	return ev
}
