package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSeverity is returned when a policy document carries a severity
// outside the closed HARD/SOFT set.
var ErrUnknownSeverity = errors.New("unknown severity")

// Severity classifies how a failed constraint affects the final status.
type Severity string

const (
	// SeverityHard failures alone make a configuration inadmissible.
	SeverityHard Severity = "HARD"
	// SeveritySoft failures only downgrade the status to MARGINAL.
	SeveritySoft Severity = "SOFT"
)

// ParseSeverity converts a free-form policy string into a Severity.
// Surrounding whitespace and letter case are ignored; anything else is rejected.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SeverityHard):
		return SeverityHard, nil
	case string(SeveritySoft):
		return SeveritySoft, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
	}
}

// Valid reports whether s is one of the closed set of severities.
func (s Severity) Valid() bool {
	return s == SeverityHard || s == SeveritySoft
}

// UnmarshalJSON parses and validates the severity.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("severity must be a string: %w", err)
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ViabilityStatus is the aggregate outcome of a viability evaluation.
type ViabilityStatus string

const (
	StatusAdmissible   ViabilityStatus = "ADMISSIBLE"
	StatusMarginal     ViabilityStatus = "MARGINAL"
	StatusInadmissible ViabilityStatus = "INADMISSIBLE"
)

// Rank orders statuses from best (0) to worst (2). Unknown values rank last.
func (s ViabilityStatus) Rank() int {
	switch s {
	case StatusAdmissible:
		return 0
	case StatusMarginal:
		return 1
	case StatusInadmissible:
		return 2
	default:
		return 3
	}
}
