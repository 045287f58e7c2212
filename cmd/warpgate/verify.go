package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <certificate.json>",
		Short: "Verify a certificate offline",
		Long: `Recompute the payload hash of a certificate and compare it with the
hash it carries. Needs nothing but the file.

Exit codes: 0 verified, 1 verification failed, 2 unreadable input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report *verifier.VerifyReport
			if args[0] == "-" {
				data, err := readInput(cmd, "-")
				if err != nil {
					return err
				}
				report = verifier.VerifyBytes(data)
				report.File = "-"
			} else {
				var err error
				if report, err = verifier.VerifyFile(args[0]); err != nil {
					return err
				}
			}
			if err := opts.emit(cmd.OutOrStdout(), report, func(w io.Writer) { printReport(w, report) }); err != nil {
				return err
			}
			if !report.Verified {
				return failed()
			}
			return nil
		},
	}
}

func printReport(w io.Writer, r *verifier.VerifyReport) {
	if r.Verified {
		_, _ = fmt.Fprintln(w, "Certificate verification PASSED")
	} else {
		_, _ = fmt.Fprintln(w, "Certificate verification FAILED")
	}
	_, _ = fmt.Fprintf(w, "File: %s\n", r.File)
	if r.CertificateID != "" {
		_, _ = fmt.Fprintf(w, "Certificate: %s (%s)\n", r.CertificateID, r.Status)
	}
	_, _ = fmt.Fprintf(w, "Checks: %s\n", r.Summary)
	for _, c := range r.Checks {
		if !c.Pass {
			_, _ = fmt.Fprintf(w, "  - %s: %s\n", c.Name, c.Reason)
		}
	}
}
