// Package artifacts exports certificates to content-addressed blob storage
// on the local filesystem, S3, or GCS (behind the gcp build tag).
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound means no blob is stored under the address.
var ErrNotFound = errors.New("artifacts: not found")

// Store is content-addressed blob storage. Addresses are "sha256:<hex>".
type Store interface {
	// Store persists data and returns its address. Storing the same bytes
	// twice is a no-op.
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Delete(ctx context.Context, hash string) error
}

// address returns the prefixed address and the bare hex digest of data.
func address(data []byte) (string, string) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	return "sha256:" + digest, digest
}

// parseAddress validates a "sha256:<hex>" address and returns the digest.
func parseAddress(hash string) (string, error) {
	digest, ok := strings.CutPrefix(hash, "sha256:")
	if !ok {
		return "", fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("artifacts: invalid hash length: %s", hash)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("artifacts: invalid hash hex: %w", err)
	}
	return digest, nil
}

func objectKey(prefix, digest string) string { return prefix + digest + ".blob" }

// FileStore keeps blobs under a directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.baseDir, objectKey("", digest))
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, digest := address(data)
	path := s.path(digest)
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	// Write to temp, then rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return addr, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	digest, err := parseAddress(hash)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	digest, err := parseAddress(hash)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("artifacts: stat blob: %w", err)
	}
}

func (s *FileStore) Delete(_ context.Context, hash string) error {
	digest, err := parseAddress(hash)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: delete blob: %w", err)
	}
	return nil
}
