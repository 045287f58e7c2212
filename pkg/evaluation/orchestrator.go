package evaluation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pestypig/casimirbot/warpgate/pkg/certificate"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
	"github.com/pestypig/casimirbot/warpgate/pkg/observability"
	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

// CertificateIssuer issues viability certificates.
type CertificateIssuer interface {
	Issue(ctx context.Context, cfg contracts.WarpConfig, opts certificate.IssueOptions) (*contracts.Certificate, error)
}

// Orchestrator runs complete evaluations. It holds no per-call state and
// is safe for concurrent use.
type Orchestrator struct {
	policy    viability.PolicySource
	issuer    CertificateIssuer
	base      Base
	telemetry *observability.Provider
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBase sets the gate defaults that request overrides apply to.
func WithBase(b Base) Option { return func(o *Orchestrator) { o.base = b } }

// WithTelemetry sets the provider that traces evaluations.
func WithTelemetry(p *observability.Provider) Option { return func(o *Orchestrator) { o.telemetry = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New creates an Orchestrator.
func New(policy viability.PolicySource, issuer CertificateIssuer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policy: policy,
		issuer: issuer,
		base:   DefaultBase(),
		logger: slog.Default().With("component", "evaluation"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Evaluate gates the diagnostics, certifies the config, verifies the
// certificate and combines the results. Only policy failures and
// cancellation are returned as errors; every other problem is reported
// in the outcome notes.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (out *Outcome, err error) {
	ctx, finish := o.telemetry.TrackOperation(ctx, observability.SpanEvaluate)
	defer func() { finish(err) }()

	if o.policy == nil {
		return nil, fmt.Errorf("evaluation: no policy source configured")
	}
	b, err := o.policy.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluation: load policy: %w", err)
	}
	eff, err := Resolve(b, req.Overrides, o.base)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if req.Diagnostics != nil {
		record = req.Diagnostics.Constraints
	}
	residuals := gate.ResidualsFromRecord(record)
	ge := gate.Evaluate(residuals, eff.Thresholds, eff.Gate, gate.WithBundle(b))

	cfg := contracts.WarpConfig{}
	if req.Config != nil {
		cfg = req.Config.Clone()
	}
	live := req.UseLiveSnapshot == nil || *req.UseLiveSnapshot

	var certNotes []string
	var cert *contracts.Certificate
	if o.issuer == nil {
		certNotes = append(certNotes, "certificate issuance unavailable: no issuer configured")
	} else {
		cert, err = o.issuer.Issue(ctx, cfg, certificate.IssueOptions{
			UseLiveSnapshot: live,
			PolicyVersion:   eff.Version,
			Bundle:          b,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("evaluation: %w", ctxErr)
			}
			o.logger.WarnContext(ctx, "certificate issuance failed", "error", err)
			certNotes = append(certNotes, fmt.Sprintf("certificate issuance failed: %v", err))
			cert = nil
			err = nil
		}
	}

	summary := CertificateSummary{HasCertificate: cert.HasHash()}
	if cert != nil {
		summary.Status = cert.Payload.Status
		summary.CertificateID = cert.Header.ID
		summary.CertificateHash = cert.CertificateHash
	}
	var certOK bool
	if summary.HasCertificate {
		if verr := verifier.Check(cert); verr != nil {
			o.logger.WarnContext(ctx, "certificate integrity check failed", "id", cert.Header.ID, "error", verr)
			certNotes = append(certNotes, fmt.Sprintf("certificate integrity check failed: %v", verr))
		} else {
			summary.IntegrityOK = true
		}
		summary.Viable = eff.Viable(summary.Status)
		if !summary.Viable {
			certNotes = append(certNotes, statusNote(summary.Status, eff))
		}
		certNotes = append(certNotes, constraintNotes(cert.Payload.Constraints)...)
		certOK = summary.IntegrityOK && summary.Viable
	} else {
		if eff.Certificate.TreatMissingCertificateAsNotCertified {
			certNotes = append(certNotes, "no certificate hash was produced; policy treats a missing certificate as not certified")
		} else {
			certNotes = append(certNotes, "no certificate hash was produced; policy does not require certification")
			certOK = true
		}
	}

	pass := ge.Status == gate.StatusPass && certOK
	notes := make([]string, 0, len(ge.Notes)+len(certNotes))
	notes = append(notes, ge.Notes...)
	notes = append(notes, certNotes...)

	out = &Outcome{
		Evaluation: GrEvaluation{
			Policy:      eff,
			Residuals:   residuals.Sanitized(),
			Gate:        GateSummary{Status: ge.Status, Constraints: ge.Constraints, Notes: ge.Notes},
			Certificate: summary,
			Pass:        pass,
			Notes:       notes,
		},
		Certificate: cert,
		IntegrityOK: summary.IntegrityOK,
	}

	observability.SetAttributes(ctx, observability.EvaluationResult(
		string(ge.Status), len(ge.Constraints), pass, string(summary.Status), summary.IntegrityOK)...)
	observability.SetAttributes(ctx, observability.AttrPolicyVersion.String(eff.Version))

	o.logger.InfoContext(ctx, "evaluation complete",
		"pass", pass,
		"gate_status", ge.Status,
		"certificate_status", summary.Status,
		"integrity_ok", summary.IntegrityOK,
		"policy_version", eff.Version,
	)
	return out, nil
}

func statusNote(status contracts.ViabilityStatus, eff EffectivePolicy) string {
	want := string(eff.Certificate.AdmissibleStatus)
	if eff.Certificate.AllowMarginalAsViable {
		want += " or MARGINAL"
	}
	return fmt.Sprintf("certificate status %s is not viable (requires %s)", status, want)
}

func constraintNotes(results []contracts.ConstraintResult) []string {
	var notes []string
	for _, r := range results {
		if r.Passed {
			continue
		}
		n := fmt.Sprintf("viability %s constraint %s failed", r.Severity, r.ID)
		if r.Details != "" {
			n += ": " + r.Details
		}
		notes = append(notes, n)
	}
	return notes
}
