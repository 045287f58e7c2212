// Package policyloader loads the versioned warp policy document into a
// Bundle and memoizes it per root directory.
//
// The policy document is markdown containing exactly one fenced rule block
// (info string "json" or "warp-policy"). The block is schema-validated,
// severities are parsed into the closed HARD/SOFT enum, and any constraint
// of type "cel" is compiled up front so a bad expression fails the load
// instead of an evaluation.
package policyloader

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// ConstraintSpec is one declarative rule from the policy document.
type ConstraintSpec struct {
	ID          string             `json:"id"`
	Severity    contracts.Severity `json:"severity"`
	Description string             `json:"description,omitempty"`
	Type        string             `json:"type,omitempty"`
	Expression  string             `json:"expression,omitempty"`
}

// ViabilityPolicy governs how a certificate status maps to certified.
type ViabilityPolicy struct {
	AdmissibleStatus                      contracts.ViabilityStatus `json:"admissibleStatus"`
	AllowMarginalAsViable                 bool                      `json:"allowMarginalAsViable"`
	TreatMissingCertificateAsNotCertified bool                      `json:"treatMissingCertificateAsNotCertified"`
}

// SearchDefaults bounds configuration sweeps.
type SearchDefaults struct {
	MaxSamples  int `json:"maxSamples"`
	Concurrency int `json:"concurrency"`
	TopK        int `json:"topK"`
}

// DefaultViabilityPolicy is applied for fields the document omits.
var DefaultViabilityPolicy = ViabilityPolicy{
	AdmissibleStatus:                      contracts.StatusAdmissible,
	AllowMarginalAsViable:                 false,
	TreatMissingCertificateAsNotCertified: true,
}

// DefaultSearchDefaults is applied for fields the document omits.
var DefaultSearchDefaults = SearchDefaults{MaxSamples: 64, Concurrency: 4, TopK: 5}

// Bundle is a parsed, validated policy document. It is immutable once
// returned by Parse or Load.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Bundle struct {
	Version         string           `json:"version"`
	Constraints     []ConstraintSpec `json:"constraints"`
	RequiredTests   []string         `json:"requiredTests,omitempty"`
	ViabilityPolicy ViabilityPolicy  `json:"viabilityPolicy"`
	SearchDefaults  SearchDefaults   `json:"searchDefaults"`

	// Extra holds top-level keys this core does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
	// Source is the path the bundle was loaded from.
	Source string `json:"-"`
	// Hash is the canonical hash of the rule block.
	Hash string `json:"-"`

	semver *semver.Version
	index  map[string]int
	rules  []*Rule
}

// SemVer returns the document version coerced to semantic versioning.
func (b *Bundle) SemVer() *semver.Version {
	if b == nil || b.semver == nil {
		return semver.MustParse("0.0.0")
	}
	return b.semver
}

// Constraint looks up a constraint by id.
func (b *Bundle) Constraint(id string) (ConstraintSpec, bool) {
	if b == nil {
		return ConstraintSpec{}, false
	}
	i, ok := b.index[id]
	if !ok {
		return ConstraintSpec{}, false
	}
	return b.Constraints[i], true
}

// Rules returns the compiled CEL rules in document order.
func (b *Bundle) Rules() []*Rule {
	if b == nil {
		return nil
	}
	return b.rules
}

// Fingerprint identifies the bundle as loaded: its semantic version with
// the first 12 hex digits of the rule block hash as build metadata.
func (b *Bundle) Fingerprint() string {
	if b == nil {
		return ""
	}
	v := b.SemVer()
	meta := b.Hash
	if len(meta) > 12 {
		meta = meta[:12]
	}
	if meta == "" {
		return v.String()
	}
	return fmt.Sprintf("%d.%d.%d+%s", v.Major(), v.Minor(), v.Patch(), meta)
}
