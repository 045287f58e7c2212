package policyloader

import "github.com/pestypig/casimirbot/warpgate/pkg/contracts"

// ResolveSeverity returns the severity the bundle assigns to id, or
// fallback when the bundle is nil or does not name id. It never fails, so
// older policy documents keep working as new constraints are added.
func ResolveSeverity(b *Bundle, id string, fallback contracts.Severity) contracts.Severity {
	spec, ok := b.Constraint(id)
	if !ok || !spec.Severity.Valid() {
		return fallback
	}
	return spec.Severity
}

// Describe returns the bundle's description for id, or fallback.
func Describe(b *Bundle, id, fallback string) string {
	spec, ok := b.Constraint(id)
	if !ok || spec.Description == "" {
		return fallback
	}
	return spec.Description
}
