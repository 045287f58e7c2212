//go:build property
// +build property

package verifier_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
)

func seal(radius, ts float64, note string) *contracts.Certificate {
	cert := &contracts.Certificate{
		Header: contracts.CertificateHeader{ID: "prop", Issuer: "warpgate"},
		Payload: contracts.CertificatePayload{
			Kind:          contracts.CertificateKind,
			Status:        contracts.StatusAdmissible,
			PolicyVersion: "1.0.0+000000000000",
			Config:        contracts.WarpConfig{BubbleRadius: &radius},
			Snapshot:      contracts.ViabilitySnapshot{TSRatio: contracts.Finite(ts)},
			Citations:     []string{note},
		},
	}
	b, err := canonicalize.JCS(cert.Payload)
	if err != nil {
		return nil
	}
	cert.CertificateHash = canonicalize.ComputeArtifactHash(b)
	return cert
}

// Property: a sealed certificate verifies, and verification depends only
// on the payload, so header changes never affect it.
func TestIntegrityIsPayloadOnly(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sealed certificates verify", prop.ForAll(
		func(radius, ts float64, note, id string) bool {
			cert := seal(radius, ts, note)
			if cert == nil {
				return true
			}
			cert.Header.ID = id
			if !verifier.Verify(cert) {
				return false
			}
			raw, err := json.Marshal(cert)
			if err != nil {
				return false
			}
			ok, err := verifier.VerifyJSON(raw)
			return err == nil && ok
		},
		gen.Float64Range(1, 1e4),
		gen.Float64Range(-1e6, 1e6),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("changing a citation breaks the hash", prop.ForAll(
		func(radius float64, note string) bool {
			cert := seal(radius, 1, note)
			if cert == nil {
				return true
			}
			cert.Payload.Citations[0] = note + "x"
			return !verifier.Verify(cert)
		},
		gen.Float64Range(1, 1e4),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
