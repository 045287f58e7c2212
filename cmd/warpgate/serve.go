package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pestypig/casimirbot/warpgate/pkg/api"
	"github.com/pestypig/casimirbot/warpgate/pkg/artifacts"
	"github.com/pestypig/casimirbot/warpgate/pkg/evaluation"
	"github.com/pestypig/casimirbot/warpgate/pkg/observability"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/store"
)

const (
	attestationTTL  = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = net.JoinHostPort("", opts.cfg.Port)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, addr, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the policy document when it changes")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, addr string, watch bool) error {
	a, err := opts.app(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}()

	certs, err := store.Open(ctx, opts.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer certs.Close()

	blobs, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return err
	}

	signer, err := newSigner(opts)
	if err != nil {
		return err
	}

	srvOpts := []api.Option{
		api.WithStore(certs),
		api.WithExporter(artifacts.NewExporter(blobs)),
		api.WithSLO(observability.NewSLOTracker(observability.DefaultSLOTargets()...)),
		api.WithRateLimiter(api.NewRateLimiter(opts.cfg.RateLimitRPS, opts.cfg.RateLimitBurst)),
		api.WithBase(evaluation.Base{Gate: opts.profile.Gate.Policy, Thresholds: opts.profile.Gate.Thresholds}),
		api.WithLogger(a.logger.With("component", "api")),
	}
	if signer != nil {
		srvOpts = append(srvOpts, api.WithSigner(signer))
	}
	handler := api.NewServer(a.viability, a.orchestrator, a.policy, srvOpts...).Handler()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		a.logger.Info("listening", "addr", addr, "root", opts.cfg.Root, "signing", signer != nil)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return httpSrv.Shutdown(shutCtx)
	})
	if watch {
		eg.Go(func() error {
			// A missing document is not fatal; requests report the load error.
			if err := policyloader.Watch(egCtx, a.policy); err != nil && egCtx.Err() == nil {
				a.logger.Warn("policy watch disabled", "error", err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func newSigner(opts *rootOptions) (*api.Signer, error) {
	key, err := opts.cfg.SigningPrivateKey()
	if err != nil || key == nil {
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	return &api.Signer{
		Key:   key,
		KeyID: "ed25519:" + hex.EncodeToString(pub[:8]),
		TTL:   attestationTTL,
	}, nil
}
