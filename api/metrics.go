package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	mutationSpanName    = "board.mutation"
	mutationEventName   = "board.mutation.completed"
	mutationEventDomain = "board"
	tracerName          = "collab-board/api"
)

// mutationMetrics captures per-request timings for a task mutation and emits
// them both as a span and as a structured observability.event log entry.
type mutationMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route         string
	op            string
	authDuration  time.Duration
	storeDuration time.Duration
	taskID        string
	errorStage    string
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, route, op string) (*mutationMetrics, context.Context) {
	m := &mutationMetrics{
		logger: logger,
		start:  time.Now(),
		route:  route,
		op:     op,
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, mutationSpanName,
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("board.mutation.op", op),
		))
	m.span = span
	return m, spanCtx
}

func (m *mutationMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *mutationMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *mutationMetrics) SetTaskID(id string) {
	m.taskID = id
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finalizes the span and writes the observability event. It must be
// called exactly once, after the response status is known.
func (m *mutationMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("http.route", m.route),
		attribute.String("board.mutation.op", m.op),
		attribute.Float64("board.mutation.total_ms", totalMs),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.mutation.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.mutation.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.taskID != "" {
		attrs = append(attrs, attribute.String("board.mutation.task_id", m.taskID))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.mutation.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attribute.Int("http.status_code", status))
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("board.mutation.error_stage", m.errorStage))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
		if severityText == "ERROR" {
			desc := m.errorStage
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := map[string]any{
		"http.route":              m.route,
		"board.mutation.op":       m.op,
		"board.mutation.total_ms": totalMs,
	}
	if m.authDuration > 0 {
		attrMap["board.mutation.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		attrMap["board.mutation.store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.taskID != "" {
		attrMap["board.mutation.task_id"] = m.taskID
	}
	if m.errorStage != "" {
		attrMap["board.mutation.error_stage"] = m.errorStage
	}
	if err != nil {
		attrMap["error.message"] = err.Error()
	}

	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"status":          status,
		"attributes":      attrMap,
	}
	if m.span != nil {
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
