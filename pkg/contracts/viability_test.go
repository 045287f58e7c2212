package contracts

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/pick"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{in: "HARD", want: SeverityHard},
		{in: " soft ", want: SeveritySoft},
		{in: "Hard", want: SeverityHard},
		{in: "CRITICAL", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSeverity(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownSeverity))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSeverity_UnmarshalRejectsUnknown(t *testing.T) {
	var s Severity
	err := json.Unmarshal([]byte(`"WARN"`), &s)
	require.ErrorIs(t, err, ErrUnknownSeverity)

	require.NoError(t, json.Unmarshal([]byte(`"soft"`), &s))
	assert.Equal(t, SeveritySoft, s)
}

func TestAggregateStatus(t *testing.T) {
	hardFail := ConstraintResult{ID: "h", Severity: SeverityHard, Passed: false}
	hardPass := ConstraintResult{ID: "h", Severity: SeverityHard, Passed: true}
	softFail := ConstraintResult{ID: "s", Severity: SeveritySoft, Passed: false}
	softPass := ConstraintResult{ID: "s", Severity: SeveritySoft, Passed: true}

	assert.Equal(t, StatusAdmissible, AggregateStatus(nil))
	assert.Equal(t, StatusAdmissible, AggregateStatus([]ConstraintResult{hardPass, softPass}))
	assert.Equal(t, StatusMarginal, AggregateStatus([]ConstraintResult{hardPass, softFail}))
	assert.Equal(t, StatusInadmissible, AggregateStatus([]ConstraintResult{softFail, hardFail}))
	assert.Equal(t, StatusInadmissible, AggregateStatus([]ConstraintResult{hardFail, softPass}))
}

func TestNewConstraintResult_Margin(t *testing.T) {
	r := NewConstraintResult("TS_ratio_min", "floor", SeveritySoft, true, Finite(150), Finite(100), "")
	require.NotNil(t, r.Margin)
	assert.InDelta(t, 50.0, *r.Margin, 1e-12)

	r = NewConstraintResult("x", "", SeveritySoft, false, Finite(math.NaN()), Finite(1), "")
	assert.Nil(t, r.LHS)
	assert.Nil(t, r.Margin)
}

func TestWarpConfig_PreservesExtensionFields(t *testing.T) {
	in := `{"bubbleRadius":503.5,"dutyCycle":0.01,"tileCount":1960000000,"gammaVanDenBroeck":1e11,"hull":{"a":1}}`

	var cfg WarpConfig
	require.NoError(t, json.Unmarshal([]byte(in), &cfg))
	require.NotNil(t, cfg.BubbleRadius)
	assert.Equal(t, 503.5, *cfg.BubbleRadius)
	require.NotNil(t, cfg.TileCount)
	assert.Equal(t, int64(1960000000), *cfg.TileCount)
	assert.Len(t, cfg.Extra, 2)

	p := pick.FirstFinite(cfg, pick.Exact("hull"), pick.Exact("gammaVanDenBroeck"))
	require.True(t, p.OK())
	assert.Equal(t, 1e11, *p.Value)
	assert.Equal(t, "gammaVanDenBroeck", p.Source)
	assert.False(t, pick.FirstFinite(cfg, pick.Exact("hull")).OK())

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestWarpConfig_CloneDoesNotAlias(t *testing.T) {
	r := 10.0
	cfg := WarpConfig{BubbleRadius: &r, Extra: map[string]json.RawMessage{"k": json.RawMessage(`1`)}}
	cp := cfg.Clone()
	*cp.BubbleRadius = 20
	cp.Extra["k"] = json.RawMessage(`2`)

	assert.Equal(t, 10.0, *cfg.BubbleRadius)
	assert.Equal(t, `1`, string(cfg.Extra["k"]))
}

func TestViabilitySnapshot_CloneDoesNotAlias(t *testing.T) {
	s := ViabilitySnapshot{Radius: Finite(10), QIMargin: Finite(0.4), PowerAvg: Finite(1e8)}
	cp := s.Clone()
	*cp.Radius = 20
	*cp.QIMargin = 2
	*cp.PowerAvg = 0

	assert.Equal(t, 10.0, *s.Radius)
	assert.Equal(t, 0.4, *s.QIMargin)
	assert.Equal(t, 1e8, *s.PowerAvg)
	assert.Nil(t, cp.TSRatio)
}

func TestViabilitySnapshot_CloneCopiesProxies(t *testing.T) {
	s := ViabilitySnapshot{Proxies: []string{"gammaVdB"}}
	c := s.Clone()
	c.Proxies[0] = "qFactor"
	assert.Equal(t, []string{"gammaVdB"}, s.Proxies)
}

func TestViabilityStatus_Rank(t *testing.T) {
	tests := []struct {
		status ViabilityStatus
		want   int
	}{
		{StatusAdmissible, 0},
		{StatusMarginal, 1},
		{StatusInadmissible, 2},
		{ViabilityStatus("PENDING"), 3},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.status.Rank())
		})
	}
}
