package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pestypig/casimirbot/warpgate/pkg/evaluation"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
)

func newPolicyCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policy document",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Load the policy document and print the effective policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := policyloader.Load(opts.cfg.Root, policyloader.Options{Logger: opts.logger})
			if err != nil {
				return err
			}
			base := evaluation.Base{Gate: opts.profile.Gate.Policy, Thresholds: opts.profile.Gate.Thresholds}
			eff, err := evaluation.Resolve(b, evaluation.Overrides{}, base)
			if err != nil {
				return err
			}
			view := struct {
				Bundle    *policyloader.Bundle       `json:"bundle"`
				Source    string                     `json:"source"`
				Effective evaluation.EffectivePolicy `json:"effective"`
			}{b, b.Source, eff}
			return opts.emit(cmd.OutOrStdout(), view, func(w io.Writer) { printPolicy(w, b, eff) })
		},
	})
	return cmd
}

func printPolicy(w io.Writer, b *policyloader.Bundle, eff evaluation.EffectivePolicy) {
	_, _ = fmt.Fprintf(w, "Source: %s\n", b.Source)
	_, _ = fmt.Fprintf(w, "Document version: %s\n", b.SemVer())
	_, _ = fmt.Fprintf(w, "Effective policy: %s\n", eff.Version)
	_, _ = fmt.Fprintf(w, "Gate: mode=%s unknownAsFail=%t proxyAsUnknown=%t\n", eff.Gate.Mode, eff.Gate.UnknownAsFail, eff.Gate.ProxyAsUnknown)
	vp := eff.Certificate
	_, _ = fmt.Fprintf(w, "Certificate: admissible=%s allowMarginal=%t missingIsNotCertified=%t\n",
		vp.AdmissibleStatus, vp.AllowMarginalAsViable, vp.TreatMissingCertificateAsNotCertified)
	_, _ = fmt.Fprintln(w, "Constraints:")
	for _, c := range b.Constraints {
		kind := c.Type
		if kind == "" {
			kind = "builtin"
		}
		_, _ = fmt.Fprintf(w, "  %-16s %-4s %-7s %s\n", c.ID, c.Severity, kind, c.Description)
	}
	if len(b.RequiredTests) > 0 {
		_, _ = fmt.Fprintf(w, "Required tests: %v\n", b.RequiredTests)
	}
}
