package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestMutationMetricsLogProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newMutationMetrics(context.Background(), logger, "/api/tasks", "create")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.ObserveAuth(10 * time.Millisecond)
	metrics.ObserveStore(15 * time.Millisecond)
	metrics.SetTaskID("t1")

	metrics.Log(http.StatusCreated, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Message != "observability.event" {
		t.Fatalf("unexpected message: %s", entry.Message)
	}
	if got := entry.Data["event.name"]; got != mutationEventName {
		t.Fatalf("unexpected event name: %v", got)
	}
	attrsVal, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrsVal["http.route"] != "/api/tasks" {
		t.Fatalf("unexpected route attribute: %#v", attrsVal["http.route"])
	}
	if attrsVal["board.mutation.op"] != "create" {
		t.Fatalf("unexpected op attribute: %#v", attrsVal["board.mutation.op"])
	}
	if attrsVal["board.mutation.task_id"] != "t1" {
		t.Fatalf("unexpected task id attribute: %#v", attrsVal["board.mutation.task_id"])
	}
	if total, ok := attrsVal["board.mutation.total_ms"].(float64); !ok || total == 0 {
		t.Fatalf("expected total duration attribute, got %#v", attrsVal["board.mutation.total_ms"])
	}
	if entry.Data["severity_text"] != "INFO" {
		t.Fatalf("unexpected severity text: %v", entry.Data["severity_text"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != mutationSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	spanAttrs := attributesToMap(span.Attributes)
	if spanAttrs["http.route"] != "/api/tasks" {
		t.Fatalf("span route attribute mismatch: %#v", spanAttrs["http.route"])
	}
	if code, ok := spanAttrs["http.status_code"].(int64); !ok || code != int64(http.StatusCreated) {
		t.Fatalf("unexpected http.status_code on span: %#v", spanAttrs["http.status_code"])
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}

	var event sdktrace.Event
	for _, ev := range span.Events {
		if ev.Name == "observability.event" {
			event = ev
			break
		}
	}
	if event.Name == "" {
		t.Fatalf("expected observability.event span event, got %#v", span.Events)
	}
	eventAttrs := attributesToMap(event.Attributes)
	if eventAttrs["event.domain"] != mutationEventDomain {
		t.Fatalf("unexpected event.domain attribute: %#v", eventAttrs["event.domain"])
	}
	if eventAttrs["severity_text"] != "INFO" {
		t.Fatalf("unexpected span event severity: %#v", eventAttrs["severity_text"])
	}
}

func TestMutationMetricsLogWithErrorSetsSpanStatus(t *testing.T) {
	logger, _ := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newMutationMetrics(context.Background(), logger, "/api/tasks/:taskId", "update")
	metrics.SetErrorStage("storage")
	boom := errors.New("storage failure")

	metrics.Log(http.StatusInternalServerError, boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Fatalf("expected span status error, got %v", span.Status.Code)
	}
	if span.Status.Description == "" {
		t.Fatalf("expected status description for error")
	}

	var obsEvent sdktrace.Event
	for _, ev := range span.Events {
		if ev.Name == "observability.event" {
			obsEvent = ev
			break
		}
	}
	if obsEvent.Name == "" {
		t.Fatalf("expected observability event in span events, got %#v", span.Events)
	}
	attrs := attributesToMap(obsEvent.Attributes)
	if attrs["severity_text"] != "ERROR" {
		t.Fatalf("unexpected severity_text for error: %#v", attrs["severity_text"])
	}
	if attrs["board.mutation.error_stage"] != "storage" {
		t.Fatalf("expected error stage attribute propagated, got %#v", attrs["board.mutation.error_stage"])
	}
	if attrs["error.message"] != boom.Error() {
		t.Fatalf("expected error.message attribute, got %#v", attrs["error.message"])
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: errors.New("boom"), wantText: "ERROR", wantNumber: 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}
