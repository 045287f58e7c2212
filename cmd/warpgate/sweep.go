package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
	"github.com/pestypig/casimirbot/warpgate/pkg/search"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var (
		gridPath    string
		configPath  string
		radius      string
		wall        string
		duty        string
		tiles       string
		top         int
		concurrency int
		maxSamples  int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate a grid of configurations and rank the results",
		Long: `Sweep a grid of warp configurations through the viability evaluator.
Axes come from a YAML grid file or from min:max:steps flags; flags
override the file. Sample limits default to the policy document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var grid search.Grid
			if gridPath != "" {
				g, err := loadGrid(gridPath)
				if err != nil {
					return &exitError{code: ExitRuntime, err: err}
				}
				grid = g
			}
			base, err := readConfig(cmd, configPath)
			if err != nil {
				return err
			}
			grid.Base = base
			for _, ax := range []struct {
				flag string
				val  string
				dst  **search.Range
			}{
				{"radius", radius, &grid.Radius},
				{"wall", wall, &grid.WallThickness},
				{"duty", duty, &grid.DutyCycle},
				{"tiles", tiles, &grid.TileCount},
			} {
				if ax.val == "" {
					continue
				}
				r, err := parseRange(ax.val)
				if err != nil {
					return &exitError{code: ExitRuntime, err: fmt.Errorf("--%s: %w", ax.flag, err)}
				}
				*ax.dst = r
			}

			cands, err := grid.Expand()
			if err != nil {
				return &exitError{code: ExitRuntime, err: err}
			}

			ctx := cmd.Context()
			a, err := opts.app(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			sopts := []search.Option{search.WithTelemetry(a.telemetry), search.WithLogger(a.logger.With("component", "search"))}
			if top > 0 || concurrency > 0 || maxSamples > 0 {
				b, err := a.policy.Get(ctx)
				if err != nil {
					return err
				}
				limits := b.SearchDefaults
				overrideLimits(&limits, top, concurrency, maxSamples)
				sopts = append(sopts, search.WithLimits(limits))
			}
			rep, err := search.NewSweeper(a.viability, a.policy, sopts...).Run(ctx, cands)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), rep, func(w io.Writer) { printSweep(w, rep) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&gridPath, "grid", "", "YAML grid file")
	f.StringVar(&configPath, "config", "", "base warp config JSON file")
	f.StringVar(&radius, "radius", "", "bubble radius range min:max:steps")
	f.StringVar(&wall, "wall", "", "wall thickness range min:max:steps")
	f.StringVar(&duty, "duty", "", "duty cycle range min:max:steps")
	f.StringVar(&tiles, "tiles", "", "tile count range min:max:steps")
	f.IntVar(&top, "top", 0, "number of ranked results to keep (default from policy)")
	f.IntVar(&concurrency, "concurrency", 0, "concurrent evaluations (default from policy)")
	f.IntVar(&maxSamples, "max-samples", 0, "grid points to evaluate (default from policy)")
	return cmd
}

func overrideLimits(l *policyloader.SearchDefaults, top, concurrency, maxSamples int) {
	if top > 0 {
		l.TopK = top
	}
	if concurrency > 0 {
		l.Concurrency = concurrency
	}
	if maxSamples > 0 {
		l.MaxSamples = maxSamples
	}
}

func loadGrid(path string) (search.Grid, error) {
	var g search.Grid
	f, err := os.Open(path)
	if err != nil {
		return g, fmt.Errorf("open grid: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return g, fmt.Errorf("decode grid %s: %w", path, err)
	}
	return g, nil
}

// parseRange reads "min:max:steps", "min:max" (two steps) or a single value.
func parseRange(s string) (*search.Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return nil, fmt.Errorf("range %q: want min:max:steps", s)
	}
	nums := make([]float64, 2)
	for i := 0; i < 2 && i < len(parts); i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", s, err)
		}
		nums[i] = v
	}
	if len(parts) == 1 {
		return search.Fixed(nums[0]), nil
	}
	r := &search.Range{Min: nums[0], Max: nums[1], Steps: 2}
	if len(parts) == 3 {
		n, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("range %q: steps: %w", s, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("range %q: steps must be at least 1", s)
		}
		r.Steps = n
	}
	return r, nil
}

func printSweep(w io.Writer, rep *search.Report) {
	_, _ = fmt.Fprintf(w, "Evaluated %d of %d candidates", rep.Evaluated, rep.Requested)
	if rep.Dropped > 0 {
		_, _ = fmt.Fprintf(w, " (%d over the sample limit)", rep.Dropped)
	}
	_, _ = fmt.Fprintln(w)
	for _, s := range []string{"ADMISSIBLE", "MARGINAL", "INADMISSIBLE"} {
		_, _ = fmt.Fprintf(w, "  %-12s %d\n", s, rep.Counts[s])
	}
	_, _ = fmt.Fprintf(w, "Top %d:\n", len(rep.Top))
	for i, c := range rep.Top {
		_, _ = fmt.Fprintf(w, "  %2d. #%d %s radius=%s wall=%s duty=%s tiles=%s\n", i+1, c.Index, c.Result.Status,
			fmtFloat(c.Config.BubbleRadius), fmtFloat(c.Config.WallThickness), fmtFloat(c.Config.DutyCycle), fmtInt(c.Config.TileCount))
	}
	for _, f := range rep.Failures {
		_, _ = fmt.Fprintf(w, "  failed #%d: %s\n", f.Index, f.Error)
	}
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', 4, 64)
}

func fmtInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
