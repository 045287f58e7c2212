// Package store archives issued certificates in SQL databases.
//
// The full certificate is stored as issued. Integrity is recomputed on
// every read; the integrity column written at save time is informational
// and never trusted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"   // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// ErrNotFound means no certificate matched the lookup.
var ErrNotFound = errors.New("store: certificate not found")

// Record is a stored certificate with freshly recomputed integrity.
type Record struct {
	Certificate *contracts.Certificate `json:"certificate"`
	IntegrityOK bool                   `json:"integrityOk"`
	StoredAt    time.Time              `json:"storedAt"`
}

// CertificateStore persists and retrieves certificates.
type CertificateStore interface {
	Save(ctx context.Context, cert *contracts.Certificate) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByHash(ctx context.Context, hash string) ([]*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
}

// Open connects to the archive named by dsn. "postgres://" and
// "postgresql://" select Postgres; "sqlite://<path>" or a bare path selects
// SQLite, creating parent directories as needed.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: ping postgres: %w", err)
		}
		s := NewPostgres(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("store: empty sqlite path")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		// SQLite allows one writer; :memory: databases are per connection.
		db.SetMaxOpenConns(1)
		s := NewSQLite(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}
}
