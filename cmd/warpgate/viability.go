package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

func newViabilityCommand(opts *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "viability",
		Short: "Evaluate a warp configuration against the viability constraints",
		Long: `Evaluate a warp configuration. Omitted fields use the reference hull.

Exit codes: 0 admissible or marginal, 1 inadmissible, 2 error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(cmd, configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := opts.app(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			res, err := a.viability.Evaluate(ctx, cfg)
			if err != nil {
				return err
			}
			if err := opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) { printViability(w, res) }); err != nil {
				return err
			}
			if res.Status == contracts.StatusInadmissible {
				return failed()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "warp config JSON file (- for stdin)")
	return cmd
}

func printViability(w io.Writer, res *contracts.ViabilityResult) {
	_, _ = fmt.Fprintf(w, "Status: %s\n", res.Status)
	_, _ = fmt.Fprintf(w, "Policy: %s\n", res.PolicyVersion)
	for _, c := range res.Constraints {
		mark := "ok"
		if !c.Passed {
			mark = "FAILED"
		}
		_, _ = fmt.Fprintf(w, "  %-16s %-4s %-6s %s\n", c.ID, c.Severity, mark, c.Details)
	}
	for _, id := range res.Skipped {
		_, _ = fmt.Fprintf(w, "  %-16s skipped: upstream value missing\n", id)
	}
}
