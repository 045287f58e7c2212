package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Operations tracked against service level objectives.
const (
	OpEvaluate  = "evaluate"
	OpViability = "viability"
	OpVerify    = "verify"
	OpPolicy    = "policy"
)

// SLOTarget defines a service level objective.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	WindowHours int           `json:"window_hours"`
}

// DefaultSLOTargets returns the objectives served by the evaluation API.
func DefaultSLOTargets() []*SLOTarget {
	return []*SLOTarget{
		{SLOID: "slo-evaluate", Name: "Evaluation latency", Operation: OpEvaluate, LatencyP99: 2 * time.Second, SuccessRate: 0.99, WindowHours: 24},
		{SLOID: "slo-viability", Name: "Viability latency", Operation: OpViability, LatencyP99: time.Second, SuccessRate: 0.99, WindowHours: 24},
		{SLOID: "slo-verify", Name: "Verification latency", Operation: OpVerify, LatencyP99: 100 * time.Millisecond, SuccessRate: 0.999, WindowHours: 24},
		{SLOID: "slo-policy", Name: "Policy availability", Operation: OpPolicy, LatencyP99: 100 * time.Millisecond, SuccessRate: 0.999, WindowHours: 24},
	}
}

// SLOObservation is a single data point. Success means the operation
// produced an answer; a failing gate is still a successful evaluation.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`         // >1 means burning faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percentage remaining
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker monitors SLOs across operations. Observations older than
// their target's window are pruned on Record.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates a tracker holding the given targets.
func NewSLOTracker(targets ...*SLOTarget) *SLOTracker {
	t := &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
	for _, target := range targets {
		t.targets[target.Operation] = target
	}
	return t
}

// WithClock overrides clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets an SLO target for an operation.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record records an observation.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	kept := t.observations[obs.Operation]
	if target, ok := t.targets[obs.Operation]; ok {
		kept = prune(kept, t.windowStart(target))
	}
	t.observations[obs.Operation] = append(kept, obs)
}

func (t *SLOTracker) windowStart(target *SLOTarget) time.Time {
	return t.clock().Add(-time.Duration(target.WindowHours) * time.Hour)
}

func prune(obs []SLOObservation, from time.Time) []SLOObservation {
	i := 0
	for i < len(obs) && !obs[i].Timestamp.After(from) {
		i++
	}
	return obs[i:]
}

// Status computes current SLO status for an operation.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("observability: no SLO target for operation %q", operation)
	}

	from := t.windowStart(target)
	var windowed []SLOObservation
	for _, obs := range t.observations[operation] {
		if obs.Timestamp.After(from) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:           target.SLOID,
			Operation:       operation,
			InCompliance:    true,
			ErrorBudgetLeft: 100.0,
		}, nil
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(target.LatencyP99.Milliseconds())
	successOK := successRate >= target.SuccessRate

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - burnRate)
	} else if errorRate > 0 {
		budgetLeft = 0
	}
	if budgetLeft < 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     latencyOK && successOK,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}

// Statuses reports every target, ordered by operation.
func (t *SLOTracker) Statuses() []*SLOStatus {
	t.mu.Lock()
	ops := make([]string, 0, len(t.targets))
	for op := range t.targets {
		ops = append(ops, op)
	}
	t.mu.Unlock()
	sort.Strings(ops)

	out := make([]*SLOStatus, 0, len(ops))
	for _, op := range ops {
		if s, err := t.Status(op); err == nil {
			out = append(out, s)
		}
	}
	return out
}
