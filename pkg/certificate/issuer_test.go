package certificate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/physics"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/snapshotcache"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

type staticPolicy struct {
	bundle *policyloader.Bundle
	err    error
}

func (s staticPolicy) Get(context.Context) (*policyloader.Bundle, error) { return s.bundle, s.err }

type failingCache struct{}

func (failingCache) Get(context.Context, string) (snapshotcache.Entry, bool, error) {
	return snapshotcache.Entry{}, false, errors.New("redis down")
}
func (failingCache) Put(context.Context, string, snapshotcache.Entry) error { return errors.New("redis down") }
func (failingCache) Invalidate(context.Context) error { return nil }

func testBundle(t *testing.T) *policyloader.Bundle {
	t.Helper()
	b, err := policyloader.Parse([]byte("```json\n" + `{"version": 1, "constraints": [{"id": "FordRomanQI", "severity": "HARD"}]}` + "\n```\n"))
	require.NoError(t, err)
	return b
}

type fixture struct {
	issuer *Issuer
	calls  *int
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	calls := 0
	eng := physics.EngineFunc(func(context.Context, physics.Seed) (physics.Derived, error) {
		calls++
		return physics.Derived{
			TSRatio: 5.03e4, MExotic: 1400, MTarget: 1400, QIMargin: 0.4,
			ThetaCal: 1e10, GammaVdB: 1, T00Min: -4e8, T00Max: -1e4, PowerAvg: 1e8,
			Citations: []string{"Ford & Roman 1995"},
		}, nil
	})
	ev := viability.New(staticPolicy{bundle: testBundle(t)}, eng)
	n := 0
	ids := func() string { n++; return fmt.Sprintf("cert-%d", n) }
	base := []Option{
		WithIDs(ids),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }),
	}
	return fixture{issuer: NewIssuer(ev, append(base, opts...)...), calls: &calls}
}

func radius(v float64) contracts.WarpConfig { return contracts.WarpConfig{BubbleRadius: &v} }

func TestIssue_LiveSnapshot(t *testing.T) {
	fx := newFixture(t)
	cert, err := fx.issuer.Issue(context.Background(), radius(503.5), IssueOptions{UseLiveSnapshot: true})
	require.NoError(t, err)

	assert.Equal(t, "cert-1", cert.Header.ID)
	assert.Equal(t, DefaultIssuerName, cert.Header.Issuer)
	assert.Equal(t, contracts.SnapshotLive, cert.Header.SnapshotMode)
	assert.Equal(t, contracts.CertificateKind, cert.Payload.Kind)
	assert.Equal(t, contracts.StatusAdmissible, cert.Payload.Status)
	assert.True(t, strings.HasPrefix(cert.CertificateHash, "sha256:"))
	assert.Len(t, cert.CertificateHash, len("sha256:")+64)
	assert.Equal(t, 1, *fx.calls)

	want, err := HashPayload(cert.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, cert.CertificateHash)
}

func TestIssue_Reproducible(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{UseLiveSnapshot: true})
	require.NoError(t, err)
	b, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{UseLiveSnapshot: true})
	require.NoError(t, err)

	assert.NotEqual(t, a.Header.ID, b.Header.ID)
	assert.Equal(t, a.Payload.Status, b.Payload.Status)
	assert.Equal(t, a.CertificateHash, b.CertificateHash)
}

func TestIssue_CachedSnapshotReusesPipelineRun(t *testing.T) {
	cache := snapshotcache.NewMemory(0)
	fx := newFixture(t, WithCache(cache))
	ctx := context.Background()

	first, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{})
	require.NoError(t, err)
	second, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{})
	require.NoError(t, err)
	live, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{UseLiveSnapshot: true})
	require.NoError(t, err)

	assert.Equal(t, 2, *fx.calls)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, contracts.SnapshotCached, second.Header.SnapshotMode)
	assert.Equal(t, first.CertificateHash, second.CertificateHash)
	assert.Equal(t, live.CertificateHash, second.CertificateHash)

	_, err = fx.issuer.Issue(ctx, radius(200), IssueOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, *fx.calls)
}

func TestIssue_CachedSnapshotIsNotShared(t *testing.T) {
	fx := newFixture(t, WithCache(snapshotcache.NewMemory(0)))
	ctx := context.Background()

	first, err := fx.issuer.Issue(ctx, radius(500), IssueOptions{})
	require.NoError(t, err)
	require.Equal(t, contracts.StatusAdmissible, first.Payload.Status)
	*first.Payload.Snapshot.QIMargin = 5

	second, err := fx.issuer.Issue(ctx, radius(500), IssueOptions{})
	require.NoError(t, err)
	*second.Payload.Snapshot.TSRatio = 1

	third, err := fx.issuer.Issue(ctx, radius(500), IssueOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, *fx.calls)
	for _, c := range []*contracts.Certificate{second, third} {
		assert.Equal(t, contracts.StatusAdmissible, c.Payload.Status)
		assert.Equal(t, first.CertificateHash, c.CertificateHash)
	}
	assert.InDelta(t, 0.4, *third.Payload.Snapshot.QIMargin, 1e-12)
	assert.InDelta(t, 5.03e4, *third.Payload.Snapshot.TSRatio, 1e-6)
}

func TestIssue_CacheFailureFallsBackToOneComputation(t *testing.T) {
	fx := newFixture(t, WithCache(failingCache{}))
	cert, err := fx.issuer.Issue(context.Background(), radius(503.5), IssueOptions{})
	require.NoError(t, err)
	assert.True(t, cert.HasHash())
	assert.Equal(t, 1, *fx.calls)
}

func TestIssue_PolicyVersionIsBound(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{UseLiveSnapshot: true, PolicyVersion: "1.0.0+aaaaaaaaaaaa"})
	require.NoError(t, err)
	b, err := fx.issuer.Issue(ctx, radius(503.5), IssueOptions{UseLiveSnapshot: true, PolicyVersion: "1.0.0+bbbbbbbbbbbb"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0+aaaaaaaaaaaa", a.Payload.PolicyVersion)
	assert.NotEqual(t, a.CertificateHash, b.CertificateHash)
}

func TestIssue_PolicyFailureIsAnError(t *testing.T) {
	eng := physics.EngineFunc(func(context.Context, physics.Seed) (physics.Derived, error) { return physics.Undefined(), nil })
	issuer := NewIssuer(viability.New(staticPolicy{err: policyloader.ErrConfigNotFound}, eng))
	_, err := issuer.Issue(context.Background(), contracts.WarpConfig{}, IssueOptions{UseLiveSnapshot: true})
	assert.ErrorIs(t, err, policyloader.ErrConfigNotFound)
}

func TestIssue_ConfigIsCopied(t *testing.T) {
	fx := newFixture(t)
	cfg := radius(503.5)
	cert, err := fx.issuer.Issue(context.Background(), cfg, IssueOptions{UseLiveSnapshot: true})
	require.NoError(t, err)
	*cfg.BubbleRadius = 1
	assert.Equal(t, 503.5, *cert.Payload.Config.BubbleRadius)
}

func TestHashPayload_OrderIndependent(t *testing.T) {
	p := contracts.CertificatePayload{Kind: contracts.CertificateKind, Status: contracts.StatusMarginal}
	h1, err := HashPayload(p)
	require.NoError(t, err)
	h2, err := HashRawPayload([]byte(`{"status":"MARGINAL","snapshot":{},"kind":"warp-viability/v1","config":{},"constraints":null}`))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestToken_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	fx := newFixture(t)
	cert, err := fx.issuer.Issue(context.Background(), radius(503.5), IssueOptions{UseLiveSnapshot: true})
	require.NoError(t, err)

	tok, err := SignToken(cert, priv, "k1", 0)
	require.NoError(t, err)
	claims, err := ParseToken(tok, pub)
	require.NoError(t, err)
	assert.Equal(t, cert.CertificateHash, claims.Hash)
	assert.Equal(t, cert.Header.ID, claims.CertificateID)
	assert.Equal(t, contracts.StatusAdmissible, claims.Status)
	require.NoError(t, MatchToken(claims, cert))

	other := *cert
	other.CertificateHash = "sha256:00"
	assert.ErrorIs(t, MatchToken(claims, &other), ErrTokenMismatch)

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = ParseToken(tok, otherPub)
	assert.Error(t, err)

	_, err = SignToken(&contracts.Certificate{}, priv, "", 0)
	assert.Error(t, err)
}
