package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
)

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore is a CertificateStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	clock   func() time.Time
	logger  *slog.Logger
}

// NewSQLite wraps a modernc.org/sqlite handle.
func NewSQLite(db *sql.DB) *SQLStore { return newSQLStore(db, dialectSQLite) }

// NewPostgres wraps a lib/pq handle.
func NewPostgres(db *sql.DB) *SQLStore { return newSQLStore(db, dialectPostgres) }

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: d,
		clock:   time.Now,
		logger:  slog.Default().With("component", "store"),
	}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// q rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Migrate creates the certificates table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS certificates (
		id TEXT PRIMARY KEY,
		certificate_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		policy_version TEXT NOT NULL DEFAULT '',
		issued_at TEXT NOT NULL,
		stored_at TEXT NOT NULL,
		integrity_ok BOOLEAN NOT NULL,
		body TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS certificates_hash_idx ON certificates (certificate_hash)`); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save archives cert. Saving the same id twice is a no-op.
func (s *SQLStore) Save(ctx context.Context, cert *contracts.Certificate) error {
	if cert == nil || cert.Header.ID == "" {
		return fmt.Errorf("store: certificate has no id")
	}
	body, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("store: encode certificate: %w", err)
	}
	query := s.q(`
		INSERT INTO certificates (id, certificate_hash, status, policy_version, issued_at, stored_at, integrity_ok, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err = s.db.ExecContext(ctx, query,
		cert.Header.ID,
		cert.CertificateHash,
		string(cert.Payload.Status),
		cert.Payload.PolicyVersion,
		cert.Header.IssuedAt.UTC().Format(timeLayout),
		s.clock().UTC().Format(timeLayout),
		verifier.Verify(cert),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("store: insert certificate: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, stored_at, integrity_ok, body FROM certificates`

// Get returns the certificate with the given header id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(selectColumns+` WHERE id = ?`), id)
	rec, err := s.scan(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetByHash returns every certificate bound to hash, newest first. Identical
// evaluations reproduce the hash, so several records may match.
func (s *SQLStore) GetByHash(ctx context.Context, hash string) ([]*Record, error) {
	recs, err := s.query(ctx, s.q(selectColumns+` WHERE certificate_hash = ? ORDER BY issued_at DESC`), hash)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs, nil
}

// List returns up to limit certificates, newest first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, s.q(selectColumns+` ORDER BY issued_at DESC LIMIT ?`), limit)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query certificates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := s.scan(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query certificates: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scan(ctx context.Context, row scanner) (*Record, error) {
	var (
		id       string
		storedAt string
		savedOK  bool
		body     string
	)
	if err := row.Scan(&id, &storedAt, &savedOK, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan certificate: %w", err)
	}

	var cert contracts.Certificate
	if err := json.Unmarshal([]byte(body), &cert); err != nil {
		return nil, fmt.Errorf("store: decode certificate %s: %w", id, err)
	}
	ok, err := verifier.VerifyJSON([]byte(body))
	if err != nil {
		ok = false
	}
	if ok != savedOK {
		s.logger.WarnContext(ctx, "stored integrity flag disagrees with recomputation", "id", id, "stored", savedOK, "recomputed", ok)
	}
	return &Record{Certificate: &cert, IntegrityOK: ok, StoredAt: parseTime(storedAt)}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
