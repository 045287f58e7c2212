package contracts

import "time"

// ViabilitySnapshot captures the observed physics quantities at evaluation
// time. Undefined or non-finite quantities are nil.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ViabilitySnapshot struct {
	// Seed
	Radius         *float64 `json:"radius,omitempty"`        // m
	WallThickness  *float64 `json:"wallThickness,omitempty"` // m
	HullArea       *float64 `json:"hullArea,omitempty"`      // m^2
	DutyCycle      *float64 `json:"dutyCycle,omitempty"`
	DutyEffective  *float64 `json:"dutyEffective,omitempty"`
	TileCount      *float64 `json:"tileCount,omitempty"`
	TileArea       *float64 `json:"tileArea,omitempty"` // m^2
	GammaGeo       *float64 `json:"gammaGeo,omitempty"`
	TargetVelocity *float64 `json:"targetVelocity,omitempty"`

	// Derived
	TSRatio  *float64 `json:"TS_ratio,omitempty"`
	MExotic  *float64 `json:"M_exotic,omitempty"` // kg
	MTarget  *float64 `json:"M_target,omitempty"` // kg
	QIMargin *float64 `json:"qiMargin,omitempty"` // Ford-Roman margin ratio, must be < 1
	ThetaCal *float64 `json:"thetaCal,omitempty"`
	GammaVdB *float64 `json:"gammaVdB,omitempty"` // compression factor
	T00Min   *float64 `json:"T00_min,omitempty"`  // J/m^3
	T00Max   *float64 `json:"T00_max,omitempty"`  // J/m^3
	PowerAvg *float64 `json:"P_avg,omitempty"`    // W

	// Proxies names seed quantities resolved from proxy config fields.
	Proxies []string `json:"proxies,omitempty"`
}

// IsProxy reports whether the named seed quantity came from a proxy field.
func (s ViabilitySnapshot) IsProxy(name string) bool {
	for _, p := range s.Proxies {
		if p == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; the copy shares no pointers with s.
func (s ViabilitySnapshot) Clone() ViabilitySnapshot {
	out := s
	for _, p := range []struct{ dst, src **float64 }{
		{&out.Radius, &s.Radius}, {&out.WallThickness, &s.WallThickness},
		{&out.HullArea, &s.HullArea}, {&out.DutyCycle, &s.DutyCycle},
		{&out.DutyEffective, &s.DutyEffective}, {&out.TileCount, &s.TileCount},
		{&out.TileArea, &s.TileArea}, {&out.GammaGeo, &s.GammaGeo},
		{&out.TargetVelocity, &s.TargetVelocity}, {&out.TSRatio, &s.TSRatio},
		{&out.MExotic, &s.MExotic}, {&out.MTarget, &s.MTarget},
		{&out.QIMargin, &s.QIMargin}, {&out.ThetaCal, &s.ThetaCal},
		{&out.GammaVdB, &s.GammaVdB}, {&out.T00Min, &s.T00Min},
		{&out.T00Max, &s.T00Max}, {&out.PowerAvg, &s.PowerAvg},
	} {
		*p.dst = clonePtr(*p.src)
	}
	out.Proxies = append([]string(nil), s.Proxies...)
	return out
}

// ViabilityResult is the outcome of one viability evaluation.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ViabilityResult struct {
	Status        ViabilityStatus    `json:"status"`
	Constraints   []ConstraintResult `json:"constraints"`
	Snapshot      ViabilitySnapshot  `json:"snapshot"`
	Citations     []string           `json:"citations,omitempty"`
	Skipped       []string           `json:"skipped,omitempty"` // checks with missing upstream values
	PolicyVersion string             `json:"policyVersion,omitempty"`
	EvaluatedAt   time.Time          `json:"evaluatedAt"`
}

// AggregateStatus applies the severity rule: any HARD failure is
// INADMISSIBLE, otherwise any SOFT failure is MARGINAL, otherwise ADMISSIBLE.
func AggregateStatus(results []ConstraintResult) ViabilityStatus {
	softFailed := false
	for _, r := range results {
		if r.Passed {
			continue
		}
		if r.Severity == SeverityHard {
			return StatusInadmissible
		}
		softFailed = true
	}
	if softFailed {
		return StatusMarginal
	}
	return StatusAdmissible
}
