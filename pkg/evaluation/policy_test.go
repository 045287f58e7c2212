package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
	"github.com/pestypig/casimirbot/warpgate/pkg/policyloader"
)

func TestResolve_Defaults(t *testing.T) {
	b := testBundle(t)
	eff, err := Resolve(b, Overrides{}, DefaultBase())
	require.NoError(t, err)

	assert.Equal(t, gate.DefaultPolicy(), eff.Gate)
	assert.Equal(t, gate.DefaultThresholds(), eff.Thresholds)
	assert.Equal(t, b.ViabilityPolicy, eff.Certificate)
	assert.Equal(t, "1.0.0", eff.DocumentVersion)
	assert.True(t, strings.HasPrefix(eff.Version, "1.0.0+"), eff.Version)
	assert.Len(t, strings.TrimPrefix(eff.Version, "1.0.0+"), 12)
}

func TestResolve_VersionTracksEffectivePolicy(t *testing.T) {
	b := testBundle(t)
	base, err := Resolve(b, Overrides{}, DefaultBase())
	require.NoError(t, err)
	again, err := Resolve(b, Overrides{}, DefaultBase())
	require.NoError(t, err)
	assert.Equal(t, base.Version, again.Version)

	hardOnly := gate.ModeHardOnly
	no := false
	cfl := 0.5
	marginal := contracts.StatusMarginal
	variants := map[string]Overrides{
		"gate mode":   {Gate: &GateOverrides{Mode: &hardOnly}},
		"unknowns":    {Gate: &GateOverrides{UnknownAsFail: &no}},
		"proxies":     {Gate: &GateOverrides{ProxyAsUnknown: &no}},
		"threshold":   {Thresholds: &gate.ThresholdOverrides{CFLMax: &cfl}},
		"admissible":  {Certificate: &CertificateOverrides{AdmissibleStatus: &marginal}},
		"certificate": {Certificate: &CertificateOverrides{TreatMissingCertificateAsNotCertified: &no}},
	}
	seen := map[string]string{base.Version: "base"}
	for name, o := range variants {
		eff, err := Resolve(b, o, DefaultBase())
		require.NoError(t, err, name)
		prev, dup := seen[eff.Version]
		assert.False(t, dup, "%s collides with %s", name, prev)
		seen[eff.Version] = name
	}

	other, err := policyloader.Parse([]byte("```json\n{\"version\": 1, \"constraints\": []}\n```\n"))
	require.NoError(t, err)
	eff, err := Resolve(other, Overrides{}, DefaultBase())
	require.NoError(t, err)
	assert.NotEqual(t, base.Version, eff.Version)
}

func TestResolve_ProxyOverride(t *testing.T) {
	b := testBundle(t)
	eff, err := Resolve(b, Overrides{}, DefaultBase())
	require.NoError(t, err)
	assert.True(t, eff.Gate.ProxyAsUnknown)

	no := false
	eff, err = Resolve(b, Overrides{Gate: &GateOverrides{ProxyAsUnknown: &no}}, DefaultBase())
	require.NoError(t, err)
	assert.False(t, eff.Gate.ProxyAsUnknown)
	assert.True(t, eff.Gate.UnknownAsFail, "other gate fields keep the base")
}

func TestResolve_RejectsUnknownEnums(t *testing.T) {
	b := testBundle(t)
	mode := gate.Mode("strict")
	_, err := Resolve(b, Overrides{Gate: &GateOverrides{Mode: &mode}}, DefaultBase())
	assert.ErrorIs(t, err, ErrInvalidOverride)

	status := contracts.ViabilityStatus("PERHAPS")
	_, err = Resolve(b, Overrides{Certificate: &CertificateOverrides{AdmissibleStatus: &status}}, DefaultBase())
	assert.ErrorIs(t, err, ErrInvalidOverride)
}

func TestEffectivePolicy_Viable(t *testing.T) {
	p := EffectivePolicy{Certificate: policyloader.DefaultViabilityPolicy}
	assert.True(t, p.Viable(contracts.StatusAdmissible))
	assert.False(t, p.Viable(contracts.StatusMarginal))
	p.Certificate.AllowMarginalAsViable = true
	assert.True(t, p.Viable(contracts.StatusMarginal))
	assert.False(t, p.Viable(contracts.StatusInadmissible))
}
