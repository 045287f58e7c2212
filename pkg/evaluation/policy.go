package evaluation

import (
	"errors"
	"fmt"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
)

// GateOverrides replace gate aggregation settings for one call.
type GateOverrides struct {
	Mode           *gate.Mode `json:"mode,omitempty"`
	UnknownAsFail  *bool      `json:"unknownAsFail,omitempty"`
	ProxyAsUnknown *bool      `json:"proxyAsUnknown,omitempty"`
}

// CertificateOverrides replace the document's viability policy for one call.
type CertificateOverrides struct {
	AdmissibleStatus                      *contracts.ViabilityStatus `json:"admissibleStatus,omitempty"`
	AllowMarginalAsViable                 *bool                      `json:"allowMarginalAsViable,omitempty"`
	TreatMissingCertificateAsNotCertified *bool                      `json:"treatMissingCertificateAsNotCertified,omitempty"`
}

// Overrides are caller-supplied policy adjustments. Nil fields keep the
// loaded or configured value.
type Overrides struct {
	Gate        *GateOverrides           `json:"gate,omitempty"`
	Certificate *CertificateOverrides    `json:"certificate,omitempty"`
	Thresholds  *gate.ThresholdOverrides `json:"thresholds,omitempty"`
}

// Base holds the configured defaults that overrides apply to.
type Base struct {
	Gate       gate.Policy
	Thresholds gate.Thresholds
}

// DefaultBase returns the standard gate policy and thresholds.
func DefaultBase() Base {
	return Base{Gate: gate.DefaultPolicy(), Thresholds: gate.DefaultThresholds()}
}

// EffectivePolicy is the policy one evaluation actually ran under.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type EffectivePolicy struct {
	Version         string                       `json:"policyVersion"`
	DocumentVersion string                       `json:"documentVersion"`
	DocumentHash    string                       `json:"documentHash,omitempty"`
	Source          string                       `json:"source,omitempty"`
	Gate            gate.Policy                  `json:"gate"`
	Thresholds      gate.Thresholds              `json:"thresholds"`
	Certificate     policyloader.ViabilityPolicy `json:"certificate"`
	RequiredTests   []string                     `json:"requiredTests,omitempty"`
}

// ErrInvalidOverride means a request override names an unknown enum value.
var ErrInvalidOverride = errors.New("evaluation: invalid override")

// versioned is the hashed view of an effective policy.
type versioned struct {
	DocumentHash string                       `json:"documentHash"`
	Gate         gate.Policy                  `json:"gate"`
	Thresholds   gate.Thresholds              `json:"thresholds"`
	Certificate  policyloader.ViabilityPolicy `json:"certificate"`
}

// Resolve merges overrides onto the bundle and base. Version is the
// document's semantic version with the first 12 hex digits of the
// canonical hash of the effective policy as build metadata, so any change
// to the document or to an override changes it.
func Resolve(b *policyloader.Bundle, o Overrides, base Base) (EffectivePolicy, error) {
	eff := EffectivePolicy{
		Gate:        base.Gate,
		Thresholds:  base.Thresholds.Apply(o.Thresholds),
		Certificate: policyloader.DefaultViabilityPolicy,
	}
	if b != nil {
		eff.DocumentVersion = b.SemVer().String()
		eff.DocumentHash = b.Hash
		eff.Source = b.Source
		eff.Certificate = b.ViabilityPolicy
		eff.RequiredTests = append([]string(nil), b.RequiredTests...)
	}

	if g := o.Gate; g != nil {
		if g.Mode != nil {
			switch *g.Mode {
			case gate.ModeAll, gate.ModeHardOnly:
				eff.Gate.Mode = *g.Mode
			default:
				return EffectivePolicy{}, fmt.Errorf("%w: unknown gate mode %q", ErrInvalidOverride, *g.Mode)
			}
		}
		if g.UnknownAsFail != nil {
			eff.Gate.UnknownAsFail = *g.UnknownAsFail
		}
		if g.ProxyAsUnknown != nil {
			eff.Gate.ProxyAsUnknown = *g.ProxyAsUnknown
		}
	}
	if c := o.Certificate; c != nil {
		if c.AdmissibleStatus != nil {
			switch *c.AdmissibleStatus {
			case contracts.StatusAdmissible, contracts.StatusMarginal, contracts.StatusInadmissible:
				eff.Certificate.AdmissibleStatus = *c.AdmissibleStatus
			default:
				return EffectivePolicy{}, fmt.Errorf("%w: unknown admissible status %q", ErrInvalidOverride, *c.AdmissibleStatus)
			}
		}
		if c.AllowMarginalAsViable != nil {
			eff.Certificate.AllowMarginalAsViable = *c.AllowMarginalAsViable
		}
		if c.TreatMissingCertificateAsNotCertified != nil {
			eff.Certificate.TreatMissingCertificateAsNotCertified = *c.TreatMissingCertificateAsNotCertified
		}
	}

	hash, err := canonicalize.CanonicalHash(versioned{
		DocumentHash: eff.DocumentHash,
		Gate:         eff.Gate,
		Thresholds:   eff.Thresholds,
		Certificate:  eff.Certificate,
	})
	if err != nil {
		return EffectivePolicy{}, fmt.Errorf("evaluation: hash effective policy: %w", err)
	}
	v := b.SemVer()
	eff.Version = fmt.Sprintf("%d.%d.%d+%s", v.Major(), v.Minor(), v.Patch(), hash[:12])
	return eff, nil
}

// Viable reports whether status satisfies the certificate policy.
func (p EffectivePolicy) Viable(status contracts.ViabilityStatus) bool {
	return status == p.Certificate.AdmissibleStatus ||
		(p.Certificate.AllowMarginalAsViable && status == contracts.StatusMarginal)
}
