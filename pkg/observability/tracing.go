package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for capture operations.
	TracerName = "meetcap"
)

// Span attribute keys
const (
	AttrMeetingID = "meeting_id"
	AttrRunID     = "run_id"
	AttrPlatform  = "platform"
	AttrEvent     = "event"
	AttrFromState = "from_state"
	AttrToState   = "to_state"
	AttrStage     = "stage"
	AttrErrorCode = "error_code"
	AttrRetryable = "retryable"
)

// Span names
const (
	SpanClaim      = "meetcap.claim"
	SpanSession    = "meetcap.capture_session"
	SpanConnect    = "meetcap.connect"
	SpanTransition = "meetcap.transition"
)

// Tracer provides distributed tracing for capture operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerWithProvider(otel.GetTracerProvider())
}

// NewTracerWithProvider creates a tracer from an explicit provider.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartClaimSpan starts the span around one claim attempt.
func (t *Tracer) StartClaimSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanClaim)
}

// StartSessionSpan starts the root span of a capture session.
func (t *Tracer) StartSessionSpan(ctx context.Context, meetingID int64, platform, runID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSession,
		trace.WithAttributes(
			attribute.Int64(AttrMeetingID, meetingID),
			attribute.String(AttrPlatform, platform),
			attribute.String(AttrRunID, runID),
		),
	)
}

// StartConnectSpan starts the span around the platform connection sequence.
func (t *Tracer) StartConnectSpan(ctx context.Context, platform string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanConnect,
		trace.WithAttributes(attribute.String(AttrPlatform, platform)),
	)
}

// StartTransitionSpan starts the span around one lifecycle transition.
func (t *Tracer) StartTransitionSpan(ctx context.Context, meetingID int64, event string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanTransition,
		trace.WithAttributes(
			attribute.Int64(AttrMeetingID, meetingID),
			attribute.String(AttrEvent, event),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetTransition records the states of a transition.
func (h *SpanHelper) SetTransition(from, to string) {
	h.span.SetAttributes(
		attribute.String(AttrFromState, from),
		attribute.String(AttrToState, to),
	)
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
