package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanEvaluate  = "warpgate.evaluate"
	SpanViability = "warpgate.viability"
	SpanIssue     = "warpgate.certificate.issue"
	SpanSweep     = "warpgate.search.sweep"
)

// Evaluation attributes consumed by downstream dashboards.
var (
	AttrGateStatus         = attribute.Key("gate.status")
	AttrConstraintsCount   = attribute.Key("constraints.count")
	AttrPass               = attribute.Key("pass")
	AttrCertificateStatus  = attribute.Key("certificate.status")
	AttrCertificateIntegOK = attribute.Key("certificate.integrity_ok")

	AttrViabilityStatus = attribute.Key("viability.status")
	AttrPolicyVersion   = attribute.Key("policy.version")
	AttrSnapshotMode    = attribute.Key("certificate.snapshot_mode")
)

// EvaluationResult creates the attributes describing one evaluation outcome.
func EvaluationResult(gateStatus string, constraints int, pass bool, certStatus string, integrityOK bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrGateStatus.String(gateStatus),
		AttrConstraintsCount.Int(constraints),
		AttrPass.Bool(pass),
		AttrCertificateStatus.String(certStatus),
		AttrCertificateIntegOK.Bool(integrityOK),
	}
}

// SetAttributes annotates the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
