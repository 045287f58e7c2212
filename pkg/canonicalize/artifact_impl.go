package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Artifact is a canonicalized, content-addressed blob ready for export.
type Artifact struct {
	SchemaID       string            `json:"schema_id"`
	ContentType    string            `json:"content_type"`
	CanonicalBytes []byte            `json:"-"`
	Digest         string            `json:"digest"`
	Preview        string            `json:"preview"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Canonicalize converts a raw value into a canonical Artifact.
// Strings are NFC-normalized text, byte slices are passed through, and
// anything else is canonical JSON.
func Canonicalize(schemaID string, raw interface{}) (*Artifact, error) {
	var canonicalBytes []byte
	var contentType string
	var err error

	switch v := raw.(type) {
	case string:
		contentType = "text/plain"
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("canonicalize: invalid UTF-8 string")
		}
		canonicalBytes = []byte(norm.NFC.String(v))
	case []byte:
		contentType = "application/octet-stream"
		canonicalBytes = v
	default:
		contentType = "application/json"
		canonicalBytes, err = JCS(v)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: %s as JSON: %w", schemaID, err)
		}
	}

	return &Artifact{
		SchemaID:       schemaID,
		ContentType:    contentType,
		CanonicalBytes: canonicalBytes,
		Digest:         ComputeArtifactHash(canonicalBytes),
		Preview:        generatePreview(canonicalBytes),
		Metadata:       make(map[string]string),
	}, nil
}

// ComputeArtifactHash returns the "sha256:"-prefixed digest of the canonical bytes.
func ComputeArtifactHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

func generatePreview(data []byte) string {
	const maxPreviewLen = 50
	if len(data) <= maxPreviewLen {
		return string(data)
	}
	return string(data[:maxPreviewLen]) + "..."
}
