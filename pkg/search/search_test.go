package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
)

func TestRange_Values(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		want []float64
	}{
		{"single", Range{Min: 2, Max: 9, Steps: 1}, []float64{2}},
		{"degenerate", Range{Min: 3, Max: 3, Steps: 4}, []float64{3}},
		{"linear", Range{Min: 0, Max: 1, Steps: 5}, []float64{0, 0.25, 0.5, 0.75, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDeltaSlice(t, tc.want, tc.r.Values(), 1e-12)
		})
	}
}

func TestGrid_Expand(t *testing.T) {
	wall := 2.0
	g := Grid{
		Base:      contracts.WarpConfig{WallThickness: &wall},
		Radius:    &Range{Min: 10, Max: 30, Steps: 3},
		DutyCycle: &Range{Min: 0.01, Max: 0.02, Steps: 2},
		TileCount: Fixed(1e6),
	}
	cfgs, err := g.Expand()
	require.NoError(t, err)
	require.Len(t, cfgs, 6)
	assert.Equal(t, g.Size(), len(cfgs))

	assert.Equal(t, 10.0, *cfgs[0].BubbleRadius)
	assert.Equal(t, 0.01, *cfgs[0].DutyCycle)
	assert.Equal(t, 0.02, *cfgs[1].DutyCycle)
	assert.Equal(t, 30.0, *cfgs[5].BubbleRadius)
	for _, c := range cfgs {
		assert.Equal(t, int64(1_000_000), *c.TileCount)
		assert.Equal(t, 2.0, *c.WallThickness)
	}

	// Points do not alias each other or the base.
	*cfgs[0].WallThickness = 9
	assert.Equal(t, 2.0, wall)
	assert.Equal(t, 2.0, *cfgs[1].WallThickness)
}

func TestGrid_ExpandRejectsBadRange(t *testing.T) {
	_, err := Grid{Radius: &Range{Min: 5, Max: 1, Steps: 2}}.Expand()
	assert.Error(t, err)
}

type qiEvaluator struct {
	calls atomic.Int64
	fail  map[float64]bool
}

// Evaluate treats the radius as the QI margin to make ranking observable.
func (e *qiEvaluator) Evaluate(_ context.Context, cfg contracts.WarpConfig) (*contracts.ViabilityResult, error) {
	e.calls.Add(1)
	r := *cfg.BubbleRadius
	if e.fail[r] {
		return nil, errors.New("engine diverged")
	}
	status := contracts.StatusAdmissible
	switch {
	case r >= 10:
		status = contracts.StatusInadmissible
	case r >= 5:
		status = contracts.StatusMarginal
	}
	return &contracts.ViabilityResult{Status: status, Snapshot: contracts.ViabilitySnapshot{QIMargin: contracts.Finite(r)}}, nil
}

func radii(vs ...float64) []contracts.WarpConfig {
	out := make([]contracts.WarpConfig, len(vs))
	for i, v := range vs {
		v := v
		out[i] = contracts.WarpConfig{BubbleRadius: &v}
	}
	return out
}

func TestSweeper_RanksAndTruncates(t *testing.T) {
	eval := &qiEvaluator{}
	s := NewSweeper(eval, nil, WithLimits(policyloader.SearchDefaults{MaxSamples: 6, Concurrency: 3, TopK: 4}))

	rep, err := s.Run(context.Background(), radii(12, 6, 3, 1, 7, 11, 0.5, 0.2))
	require.NoError(t, err)

	assert.EqualValues(t, 6, eval.calls.Load())
	assert.Equal(t, 8, rep.Requested)
	assert.Equal(t, 6, rep.Evaluated)
	assert.Equal(t, 2, rep.Dropped)
	assert.Equal(t, map[string]int{"ADMISSIBLE": 2, "MARGINAL": 2, "INADMISSIBLE": 2}, rep.Counts)

	require.Len(t, rep.Top, 4)
	var got []float64
	for _, c := range rep.Top {
		got = append(got, *c.Config.BubbleRadius)
	}
	assert.Equal(t, []float64{1, 3, 6, 7}, got)
	assert.Equal(t, 3, rep.Top[0].Index)
}

func TestSweeper_RecordsFailures(t *testing.T) {
	eval := &qiEvaluator{fail: map[float64]bool{3: true}}
	s := NewSweeper(eval, nil, WithLimits(policyloader.SearchDefaults{MaxSamples: 10, Concurrency: 2, TopK: 10}))

	rep, err := s.Run(context.Background(), radii(1, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Evaluated)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, 1, rep.Failures[0].Index)
	assert.Contains(t, rep.Failures[0].Error, "diverged")
}

type staticPolicy struct {
	bundle *policyloader.Bundle
	err    error
}

func (s staticPolicy) Get(context.Context) (*policyloader.Bundle, error) { return s.bundle, s.err }

func TestSweeper_UsesPolicySearchDefaults(t *testing.T) {
	b, err := policyloader.Parse([]byte("```json\n" +
		`{"version": 1, "constraints": [], "searchDefaults": {"maxSamples": 2, "concurrency": 1, "topK": 1}}` +
		"\n```\n"))
	require.NoError(t, err)

	eval := &qiEvaluator{}
	rep, err := NewSweeper(eval, staticPolicy{bundle: b}).Run(context.Background(), radii(4, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, policyloader.SearchDefaults{MaxSamples: 2, Concurrency: 1, TopK: 1}, rep.Limits)
	assert.Equal(t, 2, rep.Evaluated)
	require.Len(t, rep.Top, 1)
	assert.Equal(t, 2.0, *rep.Top[0].Config.BubbleRadius)
}

func TestSweeper_PolicyFailure(t *testing.T) {
	_, err := NewSweeper(&qiEvaluator{}, staticPolicy{err: policyloader.ErrConfigNotFound}).Run(context.Background(), radii(1))
	require.ErrorIs(t, err, policyloader.ErrConfigNotFound)
}

func TestSweeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSweeper(&qiEvaluator{}, nil).Run(ctx, radii(1, 2, 3))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRank_MissingMarginSortsLast(t *testing.T) {
	cs := []Candidate{
		{Index: 0, Result: &contracts.ViabilityResult{Status: contracts.StatusAdmissible}},
		{Index: 1, Result: &contracts.ViabilityResult{Status: contracts.StatusAdmissible, Snapshot: contracts.ViabilitySnapshot{QIMargin: contracts.Finite(0.9)}}},
		{Index: 2, Result: &contracts.ViabilityResult{Status: contracts.StatusMarginal, Snapshot: contracts.ViabilitySnapshot{QIMargin: contracts.Finite(0.1)}}},
	}
	Rank(cs)
	assert.Equal(t, []int{1, 0, 2}, []int{cs[0].Index, cs[1].Index, cs[2].Index})
}

func TestRank_StatusOrder(t *testing.T) {
	cs := []Candidate{
		{Index: 0, Result: &contracts.ViabilityResult{Status: contracts.ViabilityStatus("PENDING")}},
		{Index: 1, Result: &contracts.ViabilityResult{Status: contracts.StatusInadmissible}},
		{Index: 2, Result: &contracts.ViabilityResult{Status: contracts.StatusMarginal}},
		{Index: 3, Result: &contracts.ViabilityResult{Status: contracts.StatusAdmissible}},
	}
	Rank(cs)
	assert.Equal(t, []int{3, 2, 1, 0}, []int{cs[0].Index, cs[1].Index, cs[2].Index, cs[3].Index})
}
