//go:build property
// +build property

package viability_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

func results(hard, passed []bool) []contracts.ConstraintResult {
	n := len(hard)
	if len(passed) < n {
		n = len(passed)
	}
	out := make([]contracts.ConstraintResult, n)
	for i := 0; i < n; i++ {
		sev := contracts.SeveritySoft
		if hard[i] {
			sev = contracts.SeverityHard
		}
		out[i] = contracts.ConstraintResult{Severity: sev, Passed: passed[i]}
	}
	return out
}

// Property: any failed HARD result is INADMISSIBLE, otherwise any failed
// SOFT result is MARGINAL, otherwise ADMISSIBLE.
func TestAggregateSeverityRule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("status follows the worst failed severity", prop.ForAll(
		func(hard, passed []bool) bool {
			rs := results(hard, passed)
			hardFailed, softFailed := false, false
			for _, r := range rs {
				if r.Passed {
					continue
				}
				if r.Severity == contracts.SeverityHard {
					hardFailed = true
				} else {
					softFailed = true
				}
			}
			got := viability.Aggregate(rs)
			switch {
			case hardFailed:
				return got == contracts.StatusInadmissible
			case softFailed:
				return got == contracts.StatusMarginal
			default:
				return got == contracts.StatusAdmissible
			}
		},
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("order does not matter", prop.ForAll(
		func(hard, passed []bool) bool {
			rs := results(hard, passed)
			rev := make([]contracts.ConstraintResult, len(rs))
			for i, r := range rs {
				rev[len(rs)-1-i] = r
			}
			return viability.Aggregate(rs) == viability.Aggregate(rev)
		},
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
