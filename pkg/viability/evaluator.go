// Package viability judges derived physics quantities of a warp
// configuration against policy-resolved severities.
//
// Five independent built-in checks (quantum inequality, theta audit,
// time-scale floor, exotic-mass budget and compression band) run on every
// evaluation. A check whose upstream quantity is undefined is skipped, not
// failed. Policy constraints of type "cel" with non-built-in ids run as
// additional checks over the same snapshot.
package viability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/physics"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
)

// PolicySource supplies the governing policy bundle. *policyloader.Cell
// satisfies it.
type PolicySource interface {
	Get(ctx context.Context) (*policyloader.Bundle, error)
}

// Evaluator runs viability evaluations. It holds no per-call state and is
// safe for concurrent use.
type Evaluator struct {
	policy     PolicySource
	engine     physics.Engine
	defaults   physics.Defaults
	thresholds Thresholds
	clock      func() time.Time
	logger     *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDefaults sets the values used for absent config fields.
func WithDefaults(d physics.Defaults) Option { return func(e *Evaluator) { e.defaults = d } }

// WithThresholds sets the built-in check bounds.
func WithThresholds(t Thresholds) Option { return func(e *Evaluator) { e.thresholds = t } }

// WithClock sets the evaluation timestamp source.
func WithClock(clock func() time.Time) Option { return func(e *Evaluator) { e.clock = clock } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Evaluator) { e.logger = l } }

// New creates an Evaluator.
func New(policy PolicySource, engine physics.Engine, opts ...Option) *Evaluator {
	e := &Evaluator{
		policy:     policy,
		engine:     engine,
		defaults:   physics.DefaultHull(),
		thresholds: DefaultThresholds(),
		clock:      time.Now,
		logger:     slog.Default().With("component", "viability"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the configured bounds.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// Policy loads the governing bundle. Failure is fatal to the evaluation.
func (e *Evaluator) Policy(ctx context.Context) (*policyloader.Bundle, error) {
	if e.policy == nil {
		return nil, fmt.Errorf("viability: no policy source: %w", policyloader.ErrConfigNotFound)
	}
	b, err := e.policy.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("viability: load policy: %w", err)
	}
	return b, nil
}

// Seed derives the pipeline seed for cfg.
func (e *Evaluator) Seed(cfg contracts.WarpConfig) physics.Seed {
	return physics.DeriveSeed(cfg, e.defaults)
}

// Derive makes the single physics engine call for seed.
func (e *Evaluator) Derive(ctx context.Context, seed physics.Seed) (physics.Derived, error) {
	if e.engine == nil {
		return physics.Derived{}, fmt.Errorf("viability: no physics engine configured")
	}
	d, err := e.engine.Derive(ctx, seed)
	if err != nil {
		return physics.Derived{}, fmt.Errorf("viability: derive: %w", err)
	}
	return d, nil
}

// Evaluate loads policy, derives quantities and judges cfg.
func (e *Evaluator) Evaluate(ctx context.Context, cfg contracts.WarpConfig) (*contracts.ViabilityResult, error) {
	b, err := e.Policy(ctx)
	if err != nil {
		return nil, err
	}
	seed := e.Seed(cfg)
	d, err := e.Derive(ctx, seed)
	if err != nil {
		return nil, err
	}
	return e.Judge(ctx, b, Snapshot(seed, d), d.Citations), nil
}

// Judge builds the result for an already-captured snapshot. It is pure
// apart from the clock and debug logging.
func (e *Evaluator) Judge(ctx context.Context, b *policyloader.Bundle, snap contracts.ViabilitySnapshot, citations []string) *contracts.ViabilityResult {
	res := &contracts.ViabilityResult{
		Constraints:   make([]contracts.ConstraintResult, 0, len(builtins)),
		Snapshot:      snap,
		Citations:     append([]string(nil), citations...),
		PolicyVersion: b.Fingerprint(),
		EvaluatedAt:   e.clock().UTC(),
	}

	for _, c := range builtins {
		lhs, rhs, passed, details, ok := c.judge(snap, e.thresholds)
		if !ok {
			e.logger.DebugContext(ctx, "viability check skipped: upstream value undefined", "id", c.id)
			res.Skipped = append(res.Skipped, c.id)
			continue
		}
		r := contracts.NewConstraintResult(
			c.id,
			policyloader.Describe(b, c.id, c.description),
			policyloader.ResolveSeverity(b, c.id, c.severity),
			passed,
			contracts.Finite(lhs),
			contracts.Finite(rhs),
			details,
		)
		if c.proxy(snap) {
			r.Proxy = true
			r.Details += " (proxy input)"
		}
		res.Constraints = append(res.Constraints, r)
	}

	vars := snapshotVars(snap)
	for _, rule := range b.Rules() {
		if IsBuiltin(rule.ID) {
			continue
		}
		passed, missing, err := rule.Eval(vars)
		switch {
		case err != nil:
			res.Constraints = append(res.Constraints, contracts.NewConstraintResult(
				rule.ID, rule.Description, rule.Severity, false, nil, nil,
				"cel: "+err.Error()))
		case len(missing) > 0:
			e.logger.DebugContext(ctx, "policy rule skipped: upstream value undefined", "id", rule.ID, "missing", missing)
			res.Skipped = append(res.Skipped, rule.ID)
		default:
			res.Constraints = append(res.Constraints, contracts.NewConstraintResult(
				rule.ID, rule.Description, rule.Severity, passed, nil, nil,
				"cel: "+rule.Expression))
		}
	}

	res.Status = Aggregate(res.Constraints)
	return res
}

// Aggregate applies the severity rule to results.
func Aggregate(results []contracts.ConstraintResult) contracts.ViabilityStatus {
	return contracts.AggregateStatus(results)
}

// Snapshot assembles the observed quantities, dropping non-finite values.
func Snapshot(seed physics.Seed, d physics.Derived) contracts.ViabilitySnapshot {
	return contracts.ViabilitySnapshot{
		Radius:         contracts.Finite(seed.Radius),
		WallThickness:  contracts.Finite(seed.WallThickness),
		HullArea:       contracts.Finite(seed.HullArea),
		DutyCycle:      contracts.Finite(seed.DutyCycle),
		DutyEffective:  contracts.Finite(seed.DutyEffective),
		TileCount:      contracts.Finite(seed.TileCount),
		TileArea:       contracts.Finite(seed.TileArea),
		GammaGeo:       contracts.Finite(seed.GammaGeo),
		TargetVelocity: contracts.Finite(seed.TargetVelocity),
		TSRatio:        contracts.Finite(d.TSRatio),
		MExotic:        contracts.Finite(d.MExotic),
		MTarget:        contracts.Finite(d.MTarget),
		QIMargin:       contracts.Finite(d.QIMargin),
		ThetaCal:       contracts.Finite(d.ThetaCal),
		GammaVdB:       contracts.Finite(d.GammaVdB),
		T00Min:         contracts.Finite(d.T00Min),
		T00Max:         contracts.Finite(d.T00Max),
		PowerAvg:       contracts.Finite(d.PowerAvg),
		Proxies:        append([]string(nil), seed.Proxies...),
	}
}

func snapshotVars(s contracts.ViabilitySnapshot) map[string]float64 {
	out := make(map[string]float64, len(policyloader.RuleVariables))
	put := func(name string, p *float64) {
		if contracts.IsFinite(p) {
			out[name] = *p
		}
	}
	put("radius", s.Radius)
	put("wallThickness", s.WallThickness)
	put("hullArea", s.HullArea)
	put("dutyCycle", s.DutyCycle)
	put("dutyEffective", s.DutyEffective)
	put("tileCount", s.TileCount)
	put("tileArea", s.TileArea)
	put("gammaGeo", s.GammaGeo)
	put("targetVelocity", s.TargetVelocity)
	put("TS_ratio", s.TSRatio)
	put("M_exotic", s.MExotic)
	put("M_target", s.MTarget)
	put("qiMargin", s.QIMargin)
	put("thetaCal", s.ThetaCal)
	put("gammaVdB", s.GammaVdB)
	put("T00_min", s.T00Min)
	put("T00_max", s.T00Max)
	put("P_avg", s.PowerAvg)
	return out
}
