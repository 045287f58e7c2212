// Package verifier checks viability certificate integrity offline.
//
// The verifier has no server, cache or network dependency. It trusts only
// SHA-256 and the RFC 8785 canonicalization of the payload, so a third
// party holding nothing but the certificate can confirm it was not altered.
package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

var (
	// ErrMissingHash means the certificate carries no hash.
	ErrMissingHash = errors.New("verifier: certificate has no hash")
	// ErrHashMismatch means the recomputed payload hash differs.
	ErrHashMismatch = errors.New("verifier: certificate hash mismatch")
)

// VerifierVersion is reported in every VerifyReport.
const VerifierVersion = "1.0.0"

// Verify reports whether cert's payload hashes to its certificateHash.
func Verify(cert *contracts.Certificate) bool {
	return Check(cert) == nil
}

// Check recomputes the payload hash and explains any failure.
func Check(cert *contracts.Certificate) error {
	if !cert.HasHash() {
		return ErrMissingHash
	}
	b, err := canonicalize.JCS(cert.Payload)
	if err != nil {
		return fmt.Errorf("verifier: canonicalize payload: %w", err)
	}
	if got := canonicalize.ComputeArtifactHash(b); got != cert.CertificateHash {
		return fmt.Errorf("%w: recomputed %s, certificate claims %s", ErrHashMismatch, got, cert.CertificateHash)
	}
	return nil
}

type rawCertificate struct {
	Header          json.RawMessage `json:"header"`
	Payload         json.RawMessage `json:"payload"`
	CertificateHash string          `json:"certificateHash"`
}

// VerifyJSON verifies a serialized certificate. The hash is recomputed over
// the payload object exactly as received, so fields injected after
// issuance are detected even when this version does not know them.
// An error is returned only for input that is not a certificate at all.
func VerifyJSON(raw []byte) (bool, error) {
	var rc rawCertificate
	if err := json.Unmarshal(raw, &rc); err != nil {
		return false, fmt.Errorf("verifier: decode certificate: %w", err)
	}
	if len(rc.Payload) == 0 || string(rc.Payload) == "null" {
		return false, fmt.Errorf("verifier: certificate has no payload")
	}
	return checkRaw(rc) == nil, nil
}

func checkRaw(rc rawCertificate) error {
	if rc.CertificateHash == "" {
		return ErrMissingHash
	}
	b, err := canonicalize.Transform(rc.Payload)
	if err != nil {
		return fmt.Errorf("verifier: canonicalize payload: %w", err)
	}
	if got := canonicalize.ComputeArtifactHash(b); got != rc.CertificateHash {
		return fmt.Errorf("%w: recomputed %s, certificate claims %s", ErrHashMismatch, got, rc.CertificateHash)
	}
	return nil
}

// VerifyReport is the structured output of file verification.
type VerifyReport struct {
	File          string        `json:"file"`
	CertificateID string        `json:"certificate_id,omitempty"`
	Status        string        `json:"status,omitempty"`
	Verified      bool          `json:"verified"`
	Timestamp     time.Time     `json:"timestamp"`
	Checks        []CheckResult `json:"checks"`
	Summary       string        `json:"summary"`
	IssueCount    int           `json:"issue_count"`
	VerifierVer   string        `json:"verifier_version"`
}

// CheckResult represents a single verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// VerifyFile verifies a certificate JSON file. Verification failures are
// reported in the returned report; the error is reserved for unreadable input.
func VerifyFile(path string) (*VerifyReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verifier: read %s: %w", path, err)
	}
	report := VerifyBytes(data)
	report.File = path
	return report, nil
}

// VerifyBytes runs every named check over a serialized certificate.
func VerifyBytes(data []byte) *VerifyReport {
	report := &VerifyReport{
		Verified:    true,
		Timestamp:   time.Now().UTC(),
		Checks:      make([]CheckResult, 0, 5),
		VerifierVer: VerifierVersion,
	}

	var rc rawCertificate
	structure := checkStructure(data, &rc)
	report.addCheck(structure)
	if structure.Pass {
		report.addCheck(checkHashPresent(rc))
		report.addCheck(checkHashMatch(rc))

		var cert contracts.Certificate
		typed := checkTypedPayload(data, &cert)
		report.addCheck(typed)
		if typed.Pass {
			report.CertificateID = cert.Header.ID
			report.Status = string(cert.Payload.Status)
			report.addCheck(checkStatusConsistent(cert))
		}
	}

	failed := 0
	for _, c := range report.Checks {
		if !c.Pass {
			failed++
		}
	}
	report.IssueCount = failed
	if failed > 0 {
		report.Verified = false
		report.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", failed, len(report.Checks))
	} else {
		report.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(report.Checks), len(report.Checks))
	}
	return report
}

func (r *VerifyReport) addCheck(c CheckResult) {
	r.Checks = append(r.Checks, c)
}

// --- Check implementations ---

func checkStructure(data []byte, rc *rawCertificate) CheckResult {
	if err := json.Unmarshal(data, rc); err != nil {
		return CheckResult{Name: "structure", Pass: false, Reason: fmt.Sprintf("invalid certificate JSON: %v", err)}
	}
	if len(rc.Header) == 0 {
		return CheckResult{Name: "structure", Pass: false, Reason: "missing header"}
	}
	if len(rc.Payload) == 0 || string(rc.Payload) == "null" {
		return CheckResult{Name: "structure", Pass: false, Reason: "missing payload"}
	}
	return CheckResult{Name: "structure", Pass: true, Detail: "header and payload present"}
}

func checkHashPresent(rc rawCertificate) CheckResult {
	if rc.CertificateHash == "" {
		return CheckResult{Name: "hash_present", Pass: false, Reason: "certificateHash is empty"}
	}
	return CheckResult{Name: "hash_present", Pass: true, Detail: rc.CertificateHash}
}

func checkHashMatch(rc rawCertificate) CheckResult {
	if err := checkRaw(rc); err != nil {
		return CheckResult{Name: "hash_match", Pass: false, Reason: err.Error()}
	}
	return CheckResult{Name: "hash_match", Pass: true, Detail: "payload hash recomputed and matched"}
}

func checkTypedPayload(data []byte, cert *contracts.Certificate) CheckResult {
	if err := json.Unmarshal(data, cert); err != nil {
		return CheckResult{Name: "payload_schema", Pass: false, Reason: fmt.Sprintf("payload does not decode: %v", err)}
	}
	if cert.Payload.Kind != contracts.CertificateKind {
		return CheckResult{Name: "payload_schema", Pass: false, Reason: fmt.Sprintf("unknown payload kind %q", cert.Payload.Kind)}
	}
	return CheckResult{Name: "payload_schema", Pass: true, Detail: cert.Payload.Kind}
}

// checkStatusConsistent confirms the stated status follows from the
// constraint results under the severity rule.
func checkStatusConsistent(cert contracts.Certificate) CheckResult {
	want := contracts.AggregateStatus(cert.Payload.Constraints)
	if want != cert.Payload.Status {
		return CheckResult{Name: "status_consistent", Pass: false,
			Reason: fmt.Sprintf("status %s does not follow from constraints (expected %s)", cert.Payload.Status, want)}
	}
	return CheckResult{Name: "status_consistent", Pass: true, Detail: string(want)}
}
