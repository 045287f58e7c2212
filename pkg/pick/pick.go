// Package pick resolves a quantity from the first finite value among an
// ordered list of aliased upstream fields.
//
// Upstream producers publish the same physical quantity under several names,
// some of which are proxies (estimates standing in for a measured value).
// FirstFinite walks the candidates in order and reports which field won and
// whether it was a proxy, so callers can surface proxy provenance.
package pick

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Source is anything that can look up a raw field value by name.
type Source interface {
	Lookup(field string) (any, bool)
}

// Candidate is one aliased field to try.
type Candidate struct {
	Field string
	Proxy bool
}

// Exact is a non-proxy candidate.
func Exact(field string) Candidate { return Candidate{Field: field} }

// Proxy is a proxy candidate.
func Proxy(field string) Candidate { return Candidate{Field: field, Proxy: true} }

// Pick is the result of FirstFinite. Value is nil when no candidate matched.
type Pick struct {
	Value  *float64 `json:"value,omitempty"`
	Source string   `json:"source,omitempty"`
	Proxy  bool     `json:"proxy,omitempty"`
}

// OK reports whether a finite value was found.
func (p Pick) OK() bool { return p.Value != nil }

// Float returns the picked value or NaN.
func (p Pick) Float() float64 {
	if p.Value == nil {
		return math.NaN()
	}
	return *p.Value
}

// FirstFinite returns the first candidate whose value is present and finite.
func FirstFinite(src Source, candidates ...Candidate) Pick {
	if src == nil {
		return Pick{}
	}
	for _, c := range candidates {
		raw, ok := src.Lookup(c.Field)
		if !ok {
			continue
		}
		v, ok := ToFloat(raw)
		if !ok {
			continue
		}
		return Pick{Value: &v, Source: c.Field, Proxy: c.Proxy}
	}
	return Pick{}
}

// ToFloat converts a decoded JSON scalar into a finite float64.
// Numeric strings are accepted; booleans are not.
func ToFloat(raw any) (float64, bool) {
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case float32:
		v = float64(t)
	case int:
		v = float64(t)
	case int64:
		v = float64(t)
	case int32:
		v = float64(t)
	case uint64:
		v = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		v = f
	case *float64:
		if t == nil {
			return 0, false
		}
		v = *t
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Record is a decoded JSON object. Field names may use dots to reach into
// nested objects, e.g. "constraints.H_rms".
type Record map[string]any

// Lookup implements Source.
func (r Record) Lookup(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if v, ok := r[field]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}
	next, ok := r[head]
	if !ok {
		return nil, false
	}
	switch n := next.(type) {
	case map[string]any:
		return Record(n).Lookup(rest)
	case Record:
		return n.Lookup(rest)
	}
	return nil, false
}
