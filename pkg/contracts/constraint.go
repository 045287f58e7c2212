package contracts

import "math"

// ConstraintResult is the outcome of evaluating one constraint.
// Values are created once and never mutated afterwards.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ConstraintResult struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Passed      bool     `json:"passed"`
	LHS         *float64 `json:"lhs,omitempty"`
	RHS         *float64 `json:"rhs,omitempty"`
	Margin      *float64 `json:"margin,omitempty"` // lhs - rhs
	Details     string   `json:"details,omitempty"`
	Proxy       bool     `json:"proxy,omitempty"`
}

// NewConstraintResult builds a result and derives Margin from lhs and rhs.
func NewConstraintResult(id, description string, severity Severity, passed bool, lhs, rhs *float64, details string) ConstraintResult {
	r := ConstraintResult{
		ID:          id,
		Description: description,
		Severity:    severity,
		Passed:      passed,
		LHS:         lhs,
		RHS:         rhs,
		Details:     details,
	}
	if IsFinite(lhs) && IsFinite(rhs) {
		r.Margin = Finite(*lhs - *rhs)
	}
	return r
}

// Finite returns a pointer to v, or nil when v is NaN or infinite.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// IsFinite reports whether p is present and holds a finite value.
func IsFinite(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}

// Value dereferences p, returning NaN when absent.
func Value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
