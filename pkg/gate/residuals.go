package gate

import (
	"math"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/pick"
)

// ResidualSet holds solver constraint diagnostics. A nil field is missing;
// a NaN or infinite field is present but non-finite.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ResidualSet struct {
	HRms    *float64 `json:"H_rms,omitempty"`
	MRms    *float64 `json:"M_rms,omitempty"`
	HMaxAbs *float64 `json:"H_maxAbs,omitempty"`
	MMaxAbs *float64 `json:"M_maxAbs,omitempty"`
	CFL     *float64 `json:"cfl,omitempty"`

	// Sources records which upstream field supplied each value.
	Sources map[string]pick.Pick `json:"sources,omitempty"`
}

// Sanitized returns a copy with non-finite values dropped, safe to encode.
func (r *ResidualSet) Sanitized() *ResidualSet {
	if r == nil {
		return nil
	}
	out := &ResidualSet{
		HRms:    finiteCopy(r.HRms),
		MRms:    finiteCopy(r.MRms),
		HMaxAbs: finiteCopy(r.HMaxAbs),
		MMaxAbs: finiteCopy(r.MMaxAbs),
		CFL:     finiteCopy(r.CFL),
	}
	if len(r.Sources) > 0 {
		out.Sources = make(map[string]pick.Pick, len(r.Sources))
		for k, v := range r.Sources {
			out.Sources[k] = v
		}
	}
	return out
}

func finiteCopy(p *float64) *float64 {
	if !contracts.IsFinite(p) {
		return nil
	}
	return contracts.Finite(*p)
}

// Aliases lists the upstream field names for each residual, in priority
// order. Proxy candidates are estimates standing in for a solved value.
var Aliases = map[string][]pick.Candidate{
	"H_rms": {
		pick.Exact("H_rms"), pick.Exact("constraints.H_rms"), pick.Exact("hamiltonianRms"),
		pick.Proxy("H_rms_proxy"), pick.Proxy("hamiltonianRmsEstimate"),
	},
	"M_rms": {
		pick.Exact("M_rms"), pick.Exact("constraints.M_rms"), pick.Exact("momentumRms"),
		pick.Proxy("M_rms_proxy"), pick.Proxy("momentumRmsEstimate"),
	},
	"H_maxAbs": {
		pick.Exact("H_maxAbs"), pick.Exact("constraints.H_maxAbs"), pick.Exact("hamiltonianMaxAbs"),
		pick.Proxy("H_maxAbs_proxy"),
	},
	"M_maxAbs": {
		pick.Exact("M_maxAbs"), pick.Exact("constraints.M_maxAbs"), pick.Exact("momentumMaxAbs"),
		pick.Proxy("M_maxAbs_proxy"),
	},
	"cfl": {
		pick.Exact("cfl"), pick.Exact("CFL"), pick.Exact("constraints.cfl"), pick.Exact("courant"),
		pick.Proxy("cfl_estimate"),
	},
}

// ResidualsFromRecord resolves a ResidualSet from a loosely-typed upstream
// diagnostics record. A nil record yields nil.
func ResidualsFromRecord(rec map[string]any) *ResidualSet {
	if rec == nil {
		return nil
	}
	src := pick.Record(rec)
	out := &ResidualSet{Sources: map[string]pick.Pick{}}
	for _, field := range []struct {
		name string
		dst  **float64
	}{
		{"H_rms", &out.HRms},
		{"M_rms", &out.MRms},
		{"H_maxAbs", &out.HMaxAbs},
		{"M_maxAbs", &out.MMaxAbs},
		{"cfl", &out.CFL},
	} {
		cands := Aliases[field.name]
		p := pick.FirstFinite(src, cands...)
		if p.OK() {
			*field.dst = p.Value
			out.Sources[field.name] = p
			continue
		}
		if nonFinitePresent(src, cands) {
			nan := math.NaN()
			*field.dst = &nan
		}
	}
	if len(out.Sources) == 0 {
		out.Sources = nil
	}
	return out
}

// nonFinitePresent reports whether some candidate holds NaN or Infinity,
// as opposed to being absent.
func nonFinitePresent(src pick.Source, cands []pick.Candidate) bool {
	for _, c := range cands {
		raw, ok := src.Lookup(c.Field)
		if !ok || raw == nil {
			continue
		}
		switch t := raw.(type) {
		case float64:
			if math.IsNaN(t) || math.IsInf(t, 0) {
				return true
			}
		case string:
			switch t {
			case "NaN", "nan", "Infinity", "-Infinity", "Inf", "-Inf", "inf", "-inf":
				return true
			}
		}
	}
	return false
}
