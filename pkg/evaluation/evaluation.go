// Package evaluation merges the constraint gate and the viability
// certificate into one explainable pass/fail decision.
package evaluation

import (
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
)

// Diagnostics is the solver output supplied with a request. Constraints
// holds the residual record; its fields may be nested or aliased.
type Diagnostics struct {
	Constraints map[string]any `json:"constraints"`
}

// Request is one evaluation call. Every field is optional.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Request struct {
	Diagnostics *Diagnostics          `json:"diagnostics,omitempty"`
	Config      *contracts.WarpConfig `json:"config,omitempty"`
	Overrides   Overrides             `json:"overrides"`
	// UseLiveSnapshot defaults to true.
	UseLiveSnapshot *bool `json:"useLiveSnapshot,omitempty"`
}

// GateSummary is the gate portion of an evaluation.
type GateSummary struct {
	Status      gate.Status       `json:"status"`
	Constraints []gate.Constraint `json:"constraints"`
	Notes       []string          `json:"notes"`
}

// CertificateSummary is the certificate portion of an evaluation.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type CertificateSummary struct {
	Status          contracts.ViabilityStatus `json:"status,omitempty"`
	HasCertificate  bool                      `json:"hasCertificate"`
	CertificateID   string                    `json:"certificateId,omitempty"`
	CertificateHash string                    `json:"certificateHash,omitempty"`
	IntegrityOK     bool                      `json:"integrityOk"`
	Viable          bool                      `json:"viable"`
}

// GrEvaluation is the aggregate decision for one request.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type GrEvaluation struct {
	Policy      EffectivePolicy    `json:"policy"`
	Residuals   *gate.ResidualSet  `json:"residuals"`
	Gate        GateSummary        `json:"gate"`
	Certificate CertificateSummary `json:"certificate"`
	Pass        bool               `json:"pass"`
	Notes       []string           `json:"notes"`
}

// Outcome is returned to callers. The certificate is nil when issuance
// failed; the reason is in Evaluation.Notes.
type Outcome struct {
	Evaluation  GrEvaluation           `json:"evaluation"`
	Certificate *contracts.Certificate `json:"certificate"`
	IntegrityOK bool                   `json:"integrityOk"`
}
