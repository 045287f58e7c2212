package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/evaluation"
)

func newEvaluateCommand(opts *rootOptions) *cobra.Command {
	var (
		requestPath string
		diagPath    string
		configPath  string
		cached      bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Gate diagnostics and certify a configuration",
		Long: `Run a full evaluation: judge residual diagnostics, issue a viability
certificate, verify it and combine both into a pass/fail decision.

Exit codes: 0 pass, 1 fail, 2 error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildRequest(cmd, requestPath, diagPath, configPath)
			if err != nil {
				return err
			}
			if cached {
				live := false
				req.UseLiveSnapshot = &live
			} else if req.UseLiveSnapshot == nil && !opts.cfg.LiveSnapshot {
				live := false
				req.UseLiveSnapshot = &live
			}

			ctx := cmd.Context()
			a, err := opts.app(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			out, err := a.orchestrator.Evaluate(ctx, req)
			if err != nil {
				return err
			}
			if err := opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) { printOutcome(w, out) }); err != nil {
				return err
			}
			if !out.Evaluation.Pass {
				return failed()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&requestPath, "request", "", "evaluation request JSON file (- for stdin)")
	cmd.Flags().StringVar(&diagPath, "diagnostics", "", "solver diagnostics JSON file")
	cmd.Flags().StringVar(&configPath, "config", "", "warp config JSON file")
	cmd.Flags().BoolVar(&cached, "cached", false, "use the cached snapshot instead of a live evaluation")
	cmd.MarkFlagsMutuallyExclusive("request", "diagnostics")
	cmd.MarkFlagsMutuallyExclusive("request", "config")
	return cmd
}

func buildRequest(cmd *cobra.Command, requestPath, diagPath, configPath string) (evaluation.Request, error) {
	var req evaluation.Request
	if requestPath != "" {
		data, err := readInput(cmd, requestPath)
		if err != nil {
			return req, &exitError{code: ExitRuntime, err: err}
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, &exitError{code: ExitRuntime, err: fmt.Errorf("decode request: %w", err)}
		}
		return req, nil
	}
	if diagPath != "" {
		data, err := readInput(cmd, diagPath)
		if err != nil {
			return req, &exitError{code: ExitRuntime, err: err}
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			return req, &exitError{code: ExitRuntime, err: fmt.Errorf("decode diagnostics: %w", err)}
		}
		// Accept either {"constraints": {...}} or the bare residual record.
		if inner, ok := rec["constraints"].(map[string]any); ok {
			rec = inner
		}
		req.Diagnostics = &evaluation.Diagnostics{Constraints: rec}
	}
	if configPath != "" {
		cfg, err := readConfig(cmd, configPath)
		if err != nil {
			return req, err
		}
		req.Config = &cfg
	}
	return req, nil
}

func readConfig(cmd *cobra.Command, path string) (contracts.WarpConfig, error) {
	var cfg contracts.WarpConfig
	if path == "" {
		return cfg, nil
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return cfg, &exitError{code: ExitRuntime, err: err}
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, &exitError{code: ExitRuntime, err: fmt.Errorf("decode config: %w", err)}
	}
	return cfg, nil
}

func printOutcome(w io.Writer, out *evaluation.Outcome) {
	ev := out.Evaluation
	verdict := "FAIL"
	if ev.Pass {
		verdict = "PASS"
	}
	_, _ = fmt.Fprintf(w, "Evaluation: %s\n", verdict)
	_, _ = fmt.Fprintf(w, "Policy: %s\n", ev.Policy.Version)
	_, _ = fmt.Fprintf(w, "Gate: %s\n", ev.Gate.Status)
	for _, c := range ev.Gate.Constraints {
		value := "n/a"
		if c.Value != nil {
			value = fmt.Sprintf("%.3g", *c.Value)
		}
		_, _ = fmt.Fprintf(w, "  %-14s %-4s %-7s %s <= %.3g\n", c.ID, c.Severity, c.Status, value, c.Limit)
	}
	cs := ev.Certificate
	if cs.HasCertificate {
		_, _ = fmt.Fprintf(w, "Certificate: %s (integrity ok: %t, viable: %t)\n", cs.Status, cs.IntegrityOK, cs.Viable)
		_, _ = fmt.Fprintf(w, "  id:   %s\n  hash: %s\n", cs.CertificateID, cs.CertificateHash)
	} else {
		_, _ = fmt.Fprintln(w, "Certificate: none")
	}
	if len(ev.Notes) > 0 {
		_, _ = fmt.Fprintln(w, "Notes:")
		for _, n := range ev.Notes {
			_, _ = fmt.Fprintf(w, "  - %s\n", n)
		}
	}
}
