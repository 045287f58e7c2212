// Package physics is the boundary to the physics pipeline that derives
// viability quantities from a warp configuration.
//
// DeriveSeed turns a WarpConfig into pipeline inputs. Engine implementations
// turn a Seed into derived quantities; ReferenceEngine is a calibrated
// closed-form Casimir tile model suitable for tests, sweeps and offline use.
package physics

import (
	"math"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/pick"
)

// Packing is the hexagonal circle-packing density used to convert a tile
// count into a per-tile area.
var Packing = math.Pi / (2 * math.Sqrt(3))

// Extension field aliases, in priority order. Proxy candidates are
// estimates published by upstream tooling in place of a configured value.
var (
	GammaVdBAliases = []pick.Candidate{
		pick.Exact("gammaVanDenBroeck"), pick.Exact("gammaVdB"), pick.Proxy("gammaVdB_estimate"),
	}
	QFactorAliases = []pick.Candidate{
		pick.Exact("qSpoilingFactor"), pick.Exact("qSpoil"), pick.Proxy("qSpoil_estimate"),
	}
)

// Defaults fills fields absent from a WarpConfig.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Defaults struct {
	Radius         float64 `yaml:"radius_m" json:"radius_m"`
	WallThickness  float64 `yaml:"wall_thickness_m" json:"wall_thickness_m"`
	DutyCycle      float64 `yaml:"duty_cycle" json:"duty_cycle"`
	TileArea       float64 `yaml:"tile_area_m2" json:"tile_area_m2"`
	GammaGeo       float64 `yaml:"gamma_geo" json:"gamma_geo"`
	TargetVelocity float64 `yaml:"target_velocity_c" json:"target_velocity_c"`
	GammaVdB       float64 `yaml:"gamma_vdb" json:"gamma_vdb"`
	QFactor        float64 `yaml:"q_factor" json:"q_factor"`
	Sectors        float64 `yaml:"sectors" json:"sectors"`
}

// DefaultHull is the reference design point: a ~503 m bubble strobed over
// 400 sectors at 1% local duty.
func DefaultHull() Defaults {
	return Defaults{
		Radius:         503.5,
		WallThickness:  1.0,
		DutyCycle:      0.01,
		TileArea:       0.25,
		GammaGeo:       25,
		TargetVelocity: 0.1,
		GammaVdB:       1e11,
		QFactor:        1,
		Sectors:        400,
	}
}

// Seed is the pipeline input derived from a WarpConfig. Invalid inputs
// propagate as NaN so downstream quantities become undefined.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Seed struct {
	Radius         float64    // m
	BoundingBox    [3]float64 // m, axis-aligned cube enclosing the bubble
	WallThickness  float64    // m
	HullArea       float64    // m^2
	DutyCycle      float64    // clamped to [0,1]
	DutyEffective  float64    // ship-averaged duty after sector strobing
	TileCount      float64
	TileArea       float64 // m^2
	GammaGeo       float64
	TargetVelocity float64 // fraction of c
	GammaVdB       float64
	QFactor        float64

	// Defaulted lists config fields that were absent and took defaults.
	Defaulted []string
	// Proxies lists seed quantities ("gammaVdB", "qFactor") resolved from a
	// proxy alias.
	Proxies []string
	// Sources records the config field that supplied each extension value.
	Sources map[string]string
}

// DeriveSeed builds the pipeline seed for cfg, taking absent fields from d.
func DeriveSeed(cfg contracts.WarpConfig, d Defaults) Seed {
	s := Seed{}
	take := func(name string, p *float64, def float64) float64 {
		if p == nil {
			s.Defaulted = append(s.Defaulted, name)
			return def
		}
		return *p
	}

	r := take("bubbleRadius", cfg.BubbleRadius, d.Radius)
	if !(r > 0) || math.IsInf(r, 0) {
		r = math.NaN()
	}
	s.Radius = r
	s.BoundingBox = [3]float64{2 * r, 2 * r, 2 * r}
	s.HullArea = 4 * math.Pi * r * r

	s.WallThickness = take("wallThickness", cfg.WallThickness, d.WallThickness)

	duty := take("dutyCycle", cfg.DutyCycle, d.DutyCycle)
	s.DutyCycle = math.Min(1, math.Max(0, duty))
	sectors := d.Sectors
	if !(sectors >= 1) {
		sectors = 1
	}
	s.DutyEffective = s.DutyCycle / sectors

	if cfg.TileCount == nil {
		s.Defaulted = append(s.Defaulted, "tileCount")
		s.TileArea = d.TileArea
		s.TileCount = s.HullArea * Packing / d.TileArea
	} else {
		s.TileCount = float64(*cfg.TileCount)
		if s.TileCount > 0 {
			s.TileArea = s.HullArea * Packing / s.TileCount
		} else {
			s.TileArea = math.NaN()
		}
	}

	s.GammaGeo = take("gammaGeo", cfg.GammaGeo, d.GammaGeo)
	s.TargetVelocity = take("targetVelocity", cfg.TargetVelocity, d.TargetVelocity)

	s.GammaVdB = s.extension(cfg, "gammaVdB", GammaVdBAliases, d.GammaVdB)
	s.QFactor = s.extension(cfg, "qFactor", QFactorAliases, d.QFactor)
	return s
}

// extension resolves an extension quantity through its aliases. An absent
// quantity is recorded under its primary config field name.
func (s *Seed) extension(cfg contracts.WarpConfig, name string, aliases []pick.Candidate, def float64) float64 {
	p := pick.FirstFinite(cfg, aliases...)
	if !p.OK() {
		s.Defaulted = append(s.Defaulted, aliases[0].Field)
		return def
	}
	if s.Sources == nil {
		s.Sources = map[string]string{}
	}
	s.Sources[name] = p.Source
	if p.Proxy {
		s.Proxies = append(s.Proxies, name)
	}
	return *p.Value
}

// Key returns a canonical hash identifying the seed, for snapshot caching.
func (s Seed) Key() (string, error) {
	view := map[string]any{
		"radius":         contracts.Finite(s.Radius),
		"wallThickness":  contracts.Finite(s.WallThickness),
		"dutyCycle":      contracts.Finite(s.DutyCycle),
		"dutyEffective":  contracts.Finite(s.DutyEffective),
		"tileCount":      contracts.Finite(s.TileCount),
		"tileArea":       contracts.Finite(s.TileArea),
		"gammaGeo":       contracts.Finite(s.GammaGeo),
		"targetVelocity": contracts.Finite(s.TargetVelocity),
		"gammaVdB":       contracts.Finite(s.GammaVdB),
		"qFactor":        contracts.Finite(s.QFactor),
	}
	if len(s.Proxies) > 0 {
		view["proxies"] = s.Proxies
	}
	return canonicalize.CanonicalHash(view)
}
