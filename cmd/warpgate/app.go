package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pestypig/casimirbot/warpgate/pkg/certificate"
	"github.com/pestypig/casimirbot/warpgate/pkg/config"
	"github.com/pestypig/casimirbot/warpgate/pkg/evaluation"
	"github.com/pestypig/casimirbot/warpgate/pkg/observability"
	"github.com/pestypig/casimirbot/warpgate/pkg/physics"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/snapshotcache"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

const snapshotTTL = 10 * time.Minute

// app is the wired evaluation core shared by every command.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type app struct {
	cfg          *config.Config
	profile      *config.Profile
	policy       *policyloader.Cell
	viability    *viability.Evaluator
	issuer       *certificate.Issuer
	orchestrator *evaluation.Orchestrator
	telemetry    *observability.Provider
	logger       *slog.Logger

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, profile *config.Profile, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, profile: profile, logger: logger}

	if cfg.OTelEnabled {
		oc := observability.DefaultConfig()
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTLPEndpoint
		oc.Insecure = cfg.OTLPInsecure
		tp, err := observability.New(ctx, oc)
		if err != nil {
			return nil, err
		}
		a.telemetry = tp
		a.closers = append(a.closers, tp.Shutdown)
	}

	eng, err := physics.NewReferenceEngine(profile.Calibration)
	if err != nil {
		return nil, fmt.Errorf("warpgate: calibration: %w", err)
	}

	a.policy = policyloader.NewCell(cfg.Root, policyloader.Options{Logger: logger.With("component", "policyloader")})
	a.viability = viability.New(a.policy, eng,
		viability.WithThresholds(profile.Viability),
		viability.WithDefaults(profile.Calibration.Reference),
		viability.WithLogger(logger.With("component", "viability")),
	)

	var cache snapshotcache.Cache = snapshotcache.NewMemory(snapshotTTL)
	if cfg.RedisAddr != "" {
		r := snapshotcache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, 0, snapshotTTL)
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
		cache = r
	}
	a.issuer = certificate.NewIssuer(a.viability,
		certificate.WithCache(cache),
		certificate.WithLogger(logger.With("component", "certificate")),
	)
	a.orchestrator = evaluation.New(a.policy, a.issuer,
		evaluation.WithBase(evaluation.Base{Gate: profile.Gate.Policy, Thresholds: profile.Gate.Thresholds}),
		evaluation.WithTelemetry(a.telemetry),
		evaluation.WithLogger(logger.With("component", "evaluation")),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *rootOptions) app(ctx context.Context) (*app, error) {
	return newApp(ctx, o.cfg, o.profile, o.logger)
}
