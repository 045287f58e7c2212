package contracts

import "time"

// CertificateKind identifies the payload schema bound by the certificate hash.
const CertificateKind = "warp-viability/v1"

// SnapshotMode records which snapshot source an issuance used.
type SnapshotMode string

const (
	SnapshotLive   SnapshotMode = "live"
	SnapshotCached SnapshotMode = "cached"
)

// CertificateHeader carries issuance metadata. It is not covered by the hash,
// so two issuances of the same evaluation bind identical payload hashes.
type CertificateHeader struct {
	ID           string       `json:"id"`
	IssuedAt     time.Time    `json:"issuedAt"`
	Issuer       string       `json:"issuer,omitempty"`
	SnapshotMode SnapshotMode `json:"snapshotMode,omitempty"`
}

// CertificatePayload is the hash-bound body of a certificate.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type CertificatePayload struct {
	Kind          string             `json:"kind"`
	Status        ViabilityStatus    `json:"status"`
	PolicyVersion string             `json:"policyVersion,omitempty"`
	Config        WarpConfig         `json:"config"`
	Snapshot      ViabilitySnapshot  `json:"snapshot"`
	Constraints   []ConstraintResult `json:"constraints"`
	Citations     []string           `json:"citations,omitempty"`
}

// Certificate is a tamper-evident attestation of one viability evaluation.
// It is immutable after issuance; integrity is always re-derived from the
// payload rather than trusted from a stored flag.
type Certificate struct {
	Header          CertificateHeader  `json:"header"`
	Payload         CertificatePayload `json:"payload"`
	CertificateHash string             `json:"certificateHash"`
}

// HasHash reports whether issuance produced a hash.
func (c *Certificate) HasHash() bool {
	return c != nil && c.CertificateHash != ""
}
