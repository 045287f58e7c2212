package api

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pestypig/casimirbot/warpgate/pkg/artifacts"
	"github.com/pestypig/casimirbot/warpgate/pkg/certificate"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/evaluation"
	"github.com/pestypig/casimirbot/warpgate/pkg/observability"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/store"
	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

const maxBodyBytes = 1 << 20

// ViabilityEvaluator evaluates a configuration.
type ViabilityEvaluator interface {
	Evaluate(ctx context.Context, cfg contracts.WarpConfig) (*contracts.ViabilityResult, error)
}

// Orchestrator runs full evaluations.
type Orchestrator interface {
	Evaluate(ctx context.Context, req evaluation.Request) (*evaluation.Outcome, error)
}

// Signer attests issued certificates with an EdDSA token.
type Signer struct {
	Key   ed25519.PrivateKey
	KeyID string
	TTL   time.Duration
}

// Server is the HTTP surface over the evaluation core.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Server struct {
	viability    ViabilityEvaluator
	orchestrator Orchestrator
	policy       viability.PolicySource
	base         evaluation.Base

	certs    store.CertificateStore
	exporter *artifacts.Exporter
	signer   *Signer
	slo      *observability.SLOTracker
	limiter  *RateLimiter
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore archives every issued certificate and serves lookups.
func WithStore(s store.CertificateStore) Option { return func(srv *Server) { srv.certs = s } }

// WithExporter exports every issued certificate as a canonical artifact.
func WithExporter(e *artifacts.Exporter) Option { return func(srv *Server) { srv.exporter = e } }

// WithSigner attaches attestation tokens to evaluation responses.
func WithSigner(s *Signer) Option { return func(srv *Server) { srv.signer = s } }

// WithSLO records request outcomes against service level objectives.
func WithSLO(t *observability.SLOTracker) Option { return func(srv *Server) { srv.slo = t } }

// WithRateLimiter enables per-client rate limiting.
func WithRateLimiter(rl *RateLimiter) Option { return func(srv *Server) { srv.limiter = rl } }

// WithBase sets the gate defaults reported by the policy endpoint.
func WithBase(b evaluation.Base) Option { return func(srv *Server) { srv.base = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(srv *Server) { srv.logger = l } }

// NewServer creates a Server.
func NewServer(v ViabilityEvaluator, o Orchestrator, policy viability.PolicySource, opts ...Option) *Server {
	s := &Server{
		viability:    v,
		orchestrator: o,
		policy:       policy,
		base:         evaluation.DefaultBase(),
		logger:       slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/viability", s.handleViability)
	mux.HandleFunc("POST /api/v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /api/v1/certificates/verify", s.handleVerify)
	mux.HandleFunc("GET /api/v1/certificates", s.handleListCertificates)
	mux.HandleFunc("GET /api/v1/certificates/{id}", s.handleGetCertificate)
	mux.HandleFunc("GET /api/v1/policy", s.handlePolicy)
	mux.HandleFunc("GET /api/v1/attestation/keys", s.handleKeys)
	mux.HandleFunc("GET /api/v1/slo", s.handleSLO)

	var h http.Handler = mux
	h = s.limiter.Middleware(h)
	h = AccessLog(s.logger)(h)
	return RequestID(h)
}

func (s *Server) observe(op string, start time.Time, ok bool) {
	if s.slo == nil {
		return
	}
	s.slo.Record(observability.SLOObservation{
		Operation: op,
		Latency:   time.Since(start),
		Success:   ok,
		Timestamp: time.Now(),
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decode(r *http.Request, w http.ResponseWriter, v any, allowEmpty, strict bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleViability(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var cfg contracts.WarpConfig
	if err := decode(r, w, &cfg, true, false); err != nil {
		WriteBadRequest(w, r, "invalid warp config: "+err.Error())
		return
	}
	res, err := s.viability.Evaluate(r.Context(), cfg)
	if err != nil {
		s.observe(observability.OpViability, start, false)
		s.writeEvalError(w, r, err)
		return
	}
	s.observe(observability.OpViability, start, true)
	writeJSON(w, http.StatusOK, res)
}

// EvaluateResponse is the evaluation outcome plus optional attestations.
type EvaluateResponse struct {
	*evaluation.Outcome
	Attestation    string `json:"attestation,omitempty"`
	ArtifactDigest string `json:"artifactDigest,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req evaluation.Request
	if err := decode(r, w, &req, true, true); err != nil {
		WriteBadRequest(w, r, "invalid evaluation request: "+err.Error())
		return
	}
	ctx := r.Context()
	out, err := s.orchestrator.Evaluate(ctx, req)
	if err != nil {
		s.observe(observability.OpEvaluate, start, false)
		if errors.Is(err, evaluation.ErrInvalidOverride) {
			WriteBadRequest(w, r, err.Error())
			return
		}
		s.writeEvalError(w, r, err)
		return
	}

	resp := EvaluateResponse{Outcome: out}
	if cert := out.Certificate; cert.HasHash() {
		if s.certs != nil {
			if err := s.certs.Save(ctx, cert); err != nil {
				s.observe(observability.OpEvaluate, start, false)
				WriteInternal(w, r, s.logger, err)
				return
			}
		}
		if s.exporter != nil {
			art, err := s.exporter.ExportCertificate(ctx, cert)
			if err != nil {
				s.observe(observability.OpEvaluate, start, false)
				WriteInternal(w, r, s.logger, err)
				return
			}
			resp.ArtifactDigest = art.Digest
		}
		// Only certificates that verified are attested.
		if s.signer != nil && out.IntegrityOK {
			tok, err := certificate.SignToken(cert, s.signer.Key, s.signer.KeyID, s.signer.TTL)
			if err != nil {
				s.observe(observability.OpEvaluate, start, false)
				WriteInternal(w, r, s.logger, err)
				return
			}
			resp.Attestation = tok
		}
	}
	s.observe(observability.OpEvaluate, start, true)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEvalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case r.Context().Err() != nil:
		s.logger.DebugContext(r.Context(), "request cancelled", "path", r.URL.Path)
	case errors.Is(err, policyloader.ErrConfigNotFound):
		WritePolicyUnavailable(w, r, s.logger, err)
	default:
		WriteInternal(w, r, s.logger, err)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, r, "unreadable body: "+err.Error())
		return
	}
	if len(data) == 0 {
		WriteBadRequest(w, r, "certificate body is required")
		return
	}
	report := verifier.VerifyBytes(data)
	s.observe(observability.OpVerify, start, true)
	if !report.Verified {
		s.logger.WarnContext(r.Context(), "certificate failed verification",
			"certificate_id", report.CertificateID, "summary", report.Summary)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	if s.certs == nil {
		WriteNotFound(w, r, "certificate archive is not configured")
		return
	}
	rec, err := s.certs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, r, err.Error())
		return
	}
	if err != nil {
		WriteInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	if s.certs == nil {
		WriteNotFound(w, r, "certificate archive is not configured")
		return
	}
	q := r.URL.Query()
	var (
		recs []*store.Record
		err  error
	)
	if hash := q.Get("hash"); hash != "" {
		recs, err = s.certs.GetByHash(r.Context(), hash)
	} else {
		limit := 0
		if v := q.Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 0 {
				WriteBadRequest(w, r, "limit must be a non-negative integer")
				return
			}
		}
		recs, err = s.certs.List(r.Context(), limit)
	}
	if err != nil {
		WriteInternal(w, r, s.logger, err)
		return
	}
	if recs == nil {
		recs = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": recs})
}

// PolicyResponse describes the loaded policy document.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type PolicyResponse struct {
	Version          string                        `json:"version"`
	Fingerprint      string                        `json:"fingerprint"`
	EffectiveVersion string                        `json:"effectiveVersion"`
	Source           string                        `json:"source,omitempty"`
	Hash             string                        `json:"hash"`
	Constraints      []policyloader.ConstraintSpec `json:"constraints"`
	RequiredTests    []string                      `json:"requiredTests"`
	ViabilityPolicy  policyloader.ViabilityPolicy  `json:"viabilityPolicy"`
	SearchDefaults   policyloader.SearchDefaults   `json:"searchDefaults"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.policy == nil {
		WritePolicyUnavailable(w, r, s.logger, policyloader.ErrConfigNotFound)
		return
	}
	b, err := s.policy.Get(r.Context())
	if err != nil {
		s.observe(observability.OpPolicy, start, false)
		s.writeEvalError(w, r, err)
		return
	}
	eff, err := evaluation.Resolve(b, evaluation.Overrides{}, s.base)
	if err != nil {
		s.observe(observability.OpPolicy, start, false)
		WriteInternal(w, r, s.logger, err)
		return
	}
	s.observe(observability.OpPolicy, start, true)
	resp := PolicyResponse{
		Version:          b.SemVer().String(),
		Fingerprint:      b.Fingerprint(),
		EffectiveVersion: eff.Version,
		Source:           b.Source,
		Hash:             b.Hash,
		Constraints:      b.Constraints,
		RequiredTests:    b.RequiredTests,
		ViabilityPolicy:  b.ViabilityPolicy,
		SearchDefaults:   b.SearchDefaults,
	}
	if resp.Constraints == nil {
		resp.Constraints = []policyloader.ConstraintSpec{}
	}
	if resp.RequiredTests == nil {
		resp.RequiredTests = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AttestationKey is the public half of the token signing key.
type AttestationKey struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"alg"`
	PublicKey string `json:"public_key"` // hex-encoded Ed25519 public key
}

func (s *Server) handleKeys(w http.ResponseWriter, _ *http.Request) {
	keys := []AttestationKey{}
	if s.signer != nil {
		pub, ok := s.signer.Key.Public().(ed25519.PublicKey)
		if ok {
			keys = append(keys, AttestationKey{KeyID: s.signer.KeyID, Algorithm: "EdDSA", PublicKey: hex.EncodeToString(pub)})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleSLO(w http.ResponseWriter, _ *http.Request) {
	statuses := []*observability.SLOStatus{}
	if s.slo != nil {
		statuses = s.slo.Statuses()
	}
	writeJSON(w, http.StatusOK, map[string]any{"slos": statuses})
}
