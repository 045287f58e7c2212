package certificate

import (
	"fmt"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// HashPayload returns "sha256:" followed by the hex SHA-256 of the RFC 8785
// canonical form of p. Field order and NFC-equivalent strings do not change
// the hash.
func HashPayload(p contracts.CertificatePayload) (string, error) {
	b, err := canonicalize.JCS(p)
	if err != nil {
		return "", fmt.Errorf("certificate: canonicalize payload: %w", err)
	}
	return canonicalize.ComputeArtifactHash(b), nil
}

// HashRawPayload hashes a payload object exactly as serialized, including
// fields unknown to this version.
func HashRawPayload(raw []byte) (string, error) {
	b, err := canonicalize.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("certificate: canonicalize payload: %w", err)
	}
	return canonicalize.ComputeArtifactHash(b), nil
}
