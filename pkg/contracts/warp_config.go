package contracts

import (
	"encoding/json"
	"fmt"
)

// WarpConfig is the physics configuration judged by the viability evaluator.
// The explicit fields are the ones this core reads; any other fields sent by
// upstream producers are kept verbatim in Extra so they survive round trips
// and remain bound into certificate payloads.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type WarpConfig struct {
	BubbleRadius   *float64 `json:"bubbleRadius,omitempty"`   // m
	WallThickness  *float64 `json:"wallThickness,omitempty"`  // m
	DutyCycle      *float64 `json:"dutyCycle,omitempty"`      // fraction of a cycle, clamped to [0,1]
	TileCount      *int64   `json:"tileCount,omitempty"`      // tiles on the hull
	GammaGeo       *float64 `json:"gammaGeo,omitempty"`       // geometric amplification override
	TargetVelocity *float64 `json:"targetVelocity,omitempty"` // fraction of c

	Extra map[string]json.RawMessage `json:"-"`
}

var warpConfigFields = map[string]struct{}{
	"bubbleRadius":   {},
	"wallThickness":  {},
	"dutyCycle":      {},
	"tileCount":      {},
	"gammaGeo":       {},
	"targetVelocity": {},
}

type plainWarpConfig WarpConfig

// UnmarshalJSON decodes the explicit fields and keeps the rest in Extra.
func (c *WarpConfig) UnmarshalJSON(b []byte) error {
	var p plainWarpConfig
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("warp config: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return fmt.Errorf("warp config: %w", err)
	}
	for k := range warpConfigFields {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*c = WarpConfig(p)
	return nil
}

// MarshalJSON writes the explicit fields followed by the extension fields.
func (c WarpConfig) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(plainWarpConfig(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(c.Extra)+len(warpConfigFields))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := warpConfigFields[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Lookup returns the raw value of a named field, explicit or extension.
// It satisfies pick.Source.
func (c WarpConfig) Lookup(field string) (any, bool) {
	switch field {
	case "bubbleRadius":
		return ptrValue(c.BubbleRadius)
	case "wallThickness":
		return ptrValue(c.WallThickness)
	case "dutyCycle":
		return ptrValue(c.DutyCycle)
	case "gammaGeo":
		return ptrValue(c.GammaGeo)
	case "targetVelocity":
		return ptrValue(c.TargetVelocity)
	case "tileCount":
		if c.TileCount == nil {
			return nil, false
		}
		return float64(*c.TileCount), true
	}
	raw, ok := c.Extra[field]
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Clone returns a deep copy so callers can vary a config without aliasing.
func (c WarpConfig) Clone() WarpConfig {
	out := c
	out.BubbleRadius = clonePtr(c.BubbleRadius)
	out.WallThickness = clonePtr(c.WallThickness)
	out.DutyCycle = clonePtr(c.DutyCycle)
	out.GammaGeo = clonePtr(c.GammaGeo)
	out.TargetVelocity = clonePtr(c.TargetVelocity)
	if c.TileCount != nil {
		n := *c.TileCount
		out.TileCount = &n
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func ptrValue(p *float64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
