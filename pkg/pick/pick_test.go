package pick

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstFinite(t *testing.T) {
	rec := Record{
		"H_rms":       math.NaN(),
		"H_rms_est":   "0.004",
		"M_rms":       nil,
		"cfl":         json.Number("0.5"),
		"flag":        true,
		"constraints": map[string]any{"H_maxAbs": 0.02},
	}

	tests := []struct {
		name       string
		candidates []Candidate
		wantOK     bool
		wantValue  float64
		wantSource string
		wantProxy  bool
	}{
		{
			name:       "skips non-finite and uses proxy",
			candidates: []Candidate{Exact("H_rms"), Proxy("H_rms_est")},
			wantOK:     true, wantValue: 0.004, wantSource: "H_rms_est", wantProxy: true,
		},
		{
			name:       "json number",
			candidates: []Candidate{Exact("cfl")},
			wantOK:     true, wantValue: 0.5, wantSource: "cfl",
		},
		{
			name:       "nested path",
			candidates: []Candidate{Exact("H_maxAbs"), Exact("constraints.H_maxAbs")},
			wantOK:     true, wantValue: 0.02, wantSource: "constraints.H_maxAbs",
		},
		{
			name:       "nil and bool are not numbers",
			candidates: []Candidate{Exact("M_rms"), Exact("flag"), Exact("absent")},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FirstFinite(rec, tc.candidates...)
			require.Equal(t, tc.wantOK, got.OK())
			if !tc.wantOK {
				assert.Empty(t, got.Source)
				assert.True(t, math.IsNaN(got.Float()))
				return
			}
			assert.InDelta(t, tc.wantValue, *got.Value, 1e-15)
			assert.Equal(t, tc.wantSource, got.Source)
			assert.Equal(t, tc.wantProxy, got.Proxy)
		})
	}
}

func TestFirstFinite_NilSource(t *testing.T) {
	assert.False(t, FirstFinite(nil, Exact("x")).OK())
	var r Record
	assert.False(t, FirstFinite(r, Exact("x")).OK())
}

func TestToFloat_RejectsInfinity(t *testing.T) {
	_, ok := ToFloat(math.Inf(1))
	assert.False(t, ok)
	_, ok = ToFloat("Inf")
	assert.False(t, ok)
	v, ok := ToFloat(int64(7))
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}
