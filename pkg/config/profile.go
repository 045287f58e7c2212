package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
	"github.com/pestypig/casimirbot/warpgate/pkg/physics"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

// Profile tunes evaluation without editing the policy document. Omitted
// keys keep their defaults.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Profile struct {
	Name        string               `yaml:"name"`
	Gate        GateProfile          `yaml:"gate"`
	Viability   viability.Thresholds `yaml:"viability"`
	Calibration physics.Calibration  `yaml:"calibration"`
}

// GateProfile holds the gate base policy and thresholds.
type GateProfile struct {
	Policy     gate.Policy     `yaml:"policy"`
	Thresholds gate.Thresholds `yaml:"thresholds"`
}

// DefaultProfile returns the built-in configuration.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "default",
		Gate: GateProfile{
			Policy:     gate.DefaultPolicy(),
			Thresholds: gate.DefaultThresholds(),
		},
		Viability:   viability.DefaultThresholds(),
		Calibration: physics.DefaultCalibration(),
	}
}

// LoadProfile reads a YAML profile. Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("config: profile %s: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes a YAML profile over DefaultProfile.
func ParseProfile(data []byte) (*Profile, error) {
	p := DefaultProfile()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects profiles the evaluators cannot honor.
func (p *Profile) Validate() error {
	switch p.Gate.Policy.Mode {
	case gate.ModeAll, gate.ModeHardOnly:
	default:
		return fmt.Errorf("gate.policy.mode: unknown mode %q", p.Gate.Policy.Mode)
	}
	th := p.Gate.Thresholds
	for name, v := range map[string]float64{
		"h_rms_max":     th.HRmsMax,
		"m_rms_max":     th.MRmsMax,
		"h_max_abs_max": th.HMaxAbsMax,
		"m_max_abs_max": th.MMaxAbsMax,
		"cfl_max":       th.CFLMax,
	} {
		if v < 0 {
			return fmt.Errorf("gate.thresholds.%s: must be non-negative", name)
		}
	}
	v := p.Viability
	if v.VdBMin > v.VdBMax {
		return fmt.Errorf("viability: vdb_min %g exceeds vdb_max %g", v.VdBMin, v.VdBMax)
	}
	if v.MassTolerance < 0 || v.ThetaMax < 0 {
		return errors.New("viability: mass_tolerance and theta_max must be non-negative")
	}
	return nil
}
