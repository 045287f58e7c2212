package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/observability"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

// Evaluator judges one configuration.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg contracts.WarpConfig) (*contracts.ViabilityResult, error)
}

// Candidate is one evaluated grid point.
type Candidate struct {
	Index  int                        `json:"index"`
	Config contracts.WarpConfig       `json:"config"`
	Result *contracts.ViabilityResult `json:"result"`
}

// Failure records a grid point whose evaluation errored.
type Failure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Report is the outcome of a sweep.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Report struct {
	Limits    policyloader.SearchDefaults `json:"limits"`
	Requested int                         `json:"requested"`
	Evaluated int                         `json:"evaluated"`
	Dropped   int                         `json:"dropped"`
	Counts    map[string]int              `json:"counts"`
	Top       []Candidate                 `json:"top"`
	Failures  []Failure                   `json:"failures,omitempty"`
}

// Sweeper runs bounded-concurrency sweeps.
type Sweeper struct {
	eval      Evaluator
	policy    viability.PolicySource
	limits    *policyloader.SearchDefaults
	telemetry *observability.Provider
	logger    *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLimits overrides the policy document's searchDefaults.
func WithLimits(l policyloader.SearchDefaults) Option { return func(s *Sweeper) { s.limits = &l } }

// WithTelemetry sets the provider that traces sweeps.
func WithTelemetry(p *observability.Provider) Option { return func(s *Sweeper) { s.telemetry = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sweeper) { s.logger = l } }

// NewSweeper creates a Sweeper. Limits come from policy unless WithLimits
// is given.
func NewSweeper(eval Evaluator, policy viability.PolicySource, opts ...Option) *Sweeper {
	s := &Sweeper{
		eval:   eval,
		policy: policy,
		logger: slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) resolveLimits(ctx context.Context) (policyloader.SearchDefaults, error) {
	l := policyloader.DefaultSearchDefaults
	if s.limits != nil {
		l = *s.limits
	} else if s.policy != nil {
		b, err := s.policy.Get(ctx)
		if err != nil {
			return l, fmt.Errorf("search: load policy: %w", err)
		}
		l = b.SearchDefaults
	}
	if l.MaxSamples < 1 {
		l.MaxSamples = policyloader.DefaultSearchDefaults.MaxSamples
	}
	if l.Concurrency < 1 {
		l.Concurrency = 1
	}
	if l.TopK < 1 {
		l.TopK = policyloader.DefaultSearchDefaults.TopK
	}
	return l, nil
}

// Run evaluates up to MaxSamples candidates with Concurrency workers and
// returns the TopK ranked results. Per-candidate errors are reported, not
// returned; only policy failure and cancellation abort the sweep.
func (s *Sweeper) Run(ctx context.Context, candidates []contracts.WarpConfig) (rep *Report, err error) {
	ctx, finish := s.telemetry.TrackOperation(ctx, observability.SpanSweep)
	defer func() { finish(err) }()

	limits, err := s.resolveLimits(ctx)
	if err != nil {
		return nil, err
	}

	rep = &Report{Limits: limits, Requested: len(candidates), Counts: map[string]int{}}
	if len(candidates) > limits.MaxSamples {
		rep.Dropped = len(candidates) - limits.MaxSamples
		candidates = candidates[:limits.MaxSamples]
	}

	results := make([]*contracts.ViabilityResult, len(candidates))
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limits.Concurrency)
	for i, cfg := range candidates {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			res, err := s.eval.Evaluate(egCtx, cfg)
			if err != nil {
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				rep.Failures = append(rep.Failures, Failure{Index: i, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("search: sweep: %w", err)
	}
	sort.Slice(rep.Failures, func(a, b int) bool { return rep.Failures[a].Index < rep.Failures[b].Index })

	ranked := make([]Candidate, 0, len(candidates))
	for i, res := range results {
		if res == nil {
			continue
		}
		rep.Counts[string(res.Status)]++
		ranked = append(ranked, Candidate{Index: i, Config: candidates[i], Result: res})
	}
	rep.Evaluated = len(ranked)
	Rank(ranked)
	if len(ranked) > limits.TopK {
		ranked = ranked[:limits.TopK]
	}
	rep.Top = ranked

	observability.SetAttributes(ctx,
		attribute.Int("search.evaluated", rep.Evaluated),
		attribute.Int("search.failed", len(rep.Failures)),
	)
	s.logger.InfoContext(ctx, "sweep complete",
		"requested", rep.Requested,
		"evaluated", rep.Evaluated,
		"dropped", rep.Dropped,
		"failed", len(rep.Failures),
	)
	return rep, nil
}

// Rank orders candidates ADMISSIBLE first, then MARGINAL, then
// INADMISSIBLE; within a status the lowest QI margin wins and candidates
// without one sort last. Ties keep grid order.
func Rank(cs []Candidate) {
	sort.SliceStable(cs, func(a, b int) bool {
		ra, rb := cs[a].Result.Status.Rank(), cs[b].Result.Status.Rank()
		if ra != rb {
			return ra < rb
		}
		qa, qb := cs[a].Result.Snapshot.QIMargin, cs[b].Result.Snapshot.QIMargin
		switch {
		case qa == nil && qb == nil:
			return false
		case qa == nil:
			return false
		case qb == nil:
			return true
		}
		return *qa < *qb
	})
}
