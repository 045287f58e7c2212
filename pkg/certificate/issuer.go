// Package certificate issues tamper-evident viability certificates.
//
// A certificate binds one viability evaluation: the payload (status,
// config, snapshot, constraint results, policy version) is canonicalized
// and hashed. The header carries issuance metadata and is not hashed, so
// re-issuing identical inputs under the same policy reproduces the hash.
package certificate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/snapshotcache"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

// DefaultIssuerName identifies this core in certificate headers.
const DefaultIssuerName = "warpgate"

// IssueOptions select snapshot freshness and policy binding.
type IssueOptions struct {
	// UseLiveSnapshot recomputes the physics snapshot. Otherwise the cache
	// is consulted first and populated on a miss.
	UseLiveSnapshot bool
	// PolicyVersion overrides the bundle fingerprint bound into the payload.
	PolicyVersion string
	// Bundle is the pre-resolved policy. When nil the evaluator loads it.
	Bundle *policyloader.Bundle
}

// Issuer builds certificates from viability evaluations.
type Issuer struct {
	viability *viability.Evaluator
	cache     snapshotcache.Cache
	clock     func() time.Time
	newID     func() string
	name      string
	logger    *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithCache sets the snapshot cache used when UseLiveSnapshot is false.
func WithCache(c snapshotcache.Cache) Option { return func(i *Issuer) { i.cache = c } }

// WithClock sets the header timestamp source.
func WithClock(clock func() time.Time) Option { return func(i *Issuer) { i.clock = clock } }

// WithIDs sets the header id generator.
func WithIDs(fn func() string) Option { return func(i *Issuer) { i.newID = fn } }

// WithName sets the header issuer name.
func WithName(name string) Option { return func(i *Issuer) { i.name = name } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(i *Issuer) { i.logger = l } }

// NewIssuer creates an Issuer. Without WithCache a process-local memory
// cache is used.
func NewIssuer(v *viability.Evaluator, opts ...Option) *Issuer {
	i := &Issuer{
		viability: v,
		clock:     time.Now,
		newID:     uuid.NewString,
		name:      DefaultIssuerName,
		logger:    slog.Default().With("component", "certificate"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.cache == nil {
		i.cache = snapshotcache.NewMemory(0)
	}
	return i
}

// Issue evaluates cfg and returns a hashed certificate. It makes at most one
// physics engine call and never retries.
func (i *Issuer) Issue(ctx context.Context, cfg contracts.WarpConfig, opts IssueOptions) (*contracts.Certificate, error) {
	b := opts.Bundle
	if b == nil {
		var err error
		if b, err = i.viability.Policy(ctx); err != nil {
			return nil, fmt.Errorf("certificate: %w", err)
		}
	}

	snap, citations, mode, err := i.snapshot(ctx, cfg, opts.UseLiveSnapshot)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}
	res := i.viability.Judge(ctx, b, snap, citations)

	version := opts.PolicyVersion
	if version == "" {
		version = res.PolicyVersion
	}
	payload := contracts.CertificatePayload{
		Kind:          contracts.CertificateKind,
		Status:        res.Status,
		PolicyVersion: version,
		Config:        cfg.Clone(),
		Snapshot:      res.Snapshot,
		Constraints:   res.Constraints,
		Citations:     res.Citations,
	}
	hash, err := HashPayload(payload)
	if err != nil {
		return nil, err
	}

	cert := &contracts.Certificate{
		Header: contracts.CertificateHeader{
			ID:           i.newID(),
			IssuedAt:     i.clock().UTC(),
			Issuer:       i.name,
			SnapshotMode: mode,
		},
		Payload:         payload,
		CertificateHash: hash,
	}
	i.logger.InfoContext(ctx, "certificate issued",
		"id", cert.Header.ID,
		"status", payload.Status,
		"hash", hash,
		"snapshot_mode", mode,
	)
	return cert, nil
}

func (i *Issuer) snapshot(ctx context.Context, cfg contracts.WarpConfig, live bool) (contracts.ViabilitySnapshot, []string, contracts.SnapshotMode, error) {
	seed := i.viability.Seed(cfg)
	if live {
		d, err := i.viability.Derive(ctx, seed)
		if err != nil {
			return contracts.ViabilitySnapshot{}, nil, "", err
		}
		return viability.Snapshot(seed, d), d.Citations, contracts.SnapshotLive, nil
	}

	key, err := seed.Key()
	if err != nil {
		return contracts.ViabilitySnapshot{}, nil, "", fmt.Errorf("seed key: %w", err)
	}
	entry, hit, err := i.cache.Get(ctx, key)
	if err != nil {
		i.logger.WarnContext(ctx, "snapshot cache read failed, recomputing", "error", err)
	}
	if hit {
		e := entry.Clone()
		return e.Snapshot, e.Citations, contracts.SnapshotCached, nil
	}

	d, err := i.viability.Derive(ctx, seed)
	if err != nil {
		return contracts.ViabilitySnapshot{}, nil, "", err
	}
	snap := viability.Snapshot(seed, d)
	if err := i.cache.Put(ctx, key, snapshotcache.Entry{Snapshot: snap, Citations: d.Citations, StoredAt: i.clock().UTC()}); err != nil {
		i.logger.WarnContext(ctx, "snapshot cache write failed", "error", err)
	}
	return snap, d.Citations, contracts.SnapshotCached, nil
}
