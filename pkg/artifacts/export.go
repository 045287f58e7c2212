package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
)

// CertificateSchemaID tags exported certificate artifacts.
const CertificateSchemaID = "warpgate/certificate/v1"

// ErrTampered means an imported blob no longer verifies.
var ErrTampered = errors.New("artifacts: certificate failed verification")

// Exporter writes certificates to a Store as canonical JSON so the blob
// address is reproducible from the certificate alone.
type Exporter struct {
	store  Store
	logger *slog.Logger
}

// NewExporter wraps store.
func NewExporter(store Store) *Exporter {
	return &Exporter{store: store, logger: slog.Default().With("component", "artifacts")}
}

// ExportCertificate stores cert and returns the artifact describing it.
func (e *Exporter) ExportCertificate(ctx context.Context, cert *contracts.Certificate) (*canonicalize.Artifact, error) {
	if cert == nil {
		return nil, fmt.Errorf("artifacts: export: nil certificate")
	}
	art, err := canonicalize.Canonicalize(CertificateSchemaID, cert)
	if err != nil {
		return nil, fmt.Errorf("artifacts: export: %w", err)
	}
	addr, err := e.store.Store(ctx, art.CanonicalBytes)
	if err != nil {
		return nil, fmt.Errorf("artifacts: export: %w", err)
	}
	if addr != art.Digest {
		return nil, fmt.Errorf("artifacts: export: store returned %s for digest %s", addr, art.Digest)
	}
	art.Metadata["certificate_id"] = cert.Header.ID
	art.Metadata["certificate_hash"] = cert.CertificateHash
	e.logger.InfoContext(ctx, "certificate exported", "digest", art.Digest, "id", cert.Header.ID)
	return art, nil
}

// ImportCertificate loads the blob at digest and verifies it. The raw
// certificate is returned along with ErrTampered when verification fails.
func (e *Exporter) ImportCertificate(ctx context.Context, digest string) ([]byte, error) {
	data, err := e.store.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	ok, err := verifier.VerifyJSON(data)
	if err != nil {
		return nil, fmt.Errorf("artifacts: import %s: %w", digest, err)
	}
	if !ok {
		e.logger.WarnContext(ctx, "imported certificate failed verification", "digest", digest)
		return data, fmt.Errorf("%w: %s", ErrTampered, digest)
	}
	return data, nil
}
