package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pestypig/casimirbot/warpgate/pkg/config"
)

var validFormats = []string{"text", "json"}

// rootOptions holds global flags.
type rootOptions struct {
	Format  string
	Root    string
	Profile string
	Verbose bool

	cfg     *config.Config
	profile *config.Profile
	logger  *slog.Logger
	stderr  io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}

	cmd := &cobra.Command{
		Use:           "warpgate",
		Short:         "Constraint gate and viability certification",
		Long:          "Judge solver residuals, certify warp configurations and verify certificates offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "policy root directory (default $WARPGATE_ROOT)")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "YAML evaluation profile (default $WARPGATE_PROFILE)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newEvaluateCommand(opts),
		newViabilityCommand(opts),
		newVerifyCommand(opts),
		newPolicyCommand(opts),
		newSweepCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

func (o *rootOptions) init() error {
	if !isValidFormat(o.Format) {
		return &exitError{code: ExitRuntime, err: fmt.Errorf("invalid format %q: must be one of %v", o.Format, validFormats)}
	}
	o.cfg = config.Load()
	if o.Root != "" {
		o.cfg.Root = o.Root
	}
	if o.Profile != "" {
		o.cfg.ProfilePath = o.Profile
	}

	level := o.cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	// Logs go to stderr so JSON output on stdout stays parseable.
	o.logger = slog.New(slog.NewJSONHandler(o.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)

	o.profile = config.DefaultProfile()
	if o.cfg.ProfilePath != "" {
		p, err := config.LoadProfile(o.cfg.ProfilePath)
		if err != nil {
			return err
		}
		o.profile = p
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

// emit writes v as indented JSON, or calls text for the text format.
func (o *rootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
