package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/friendsincode/anomalyops/internal/models"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		siteAttrs.Store(nil)
	})
	return rec
}

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Site: Site{Name: "Unit 2"}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	t.Cleanup(func() { siteAttrs.Store(nil) })
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSchedulingSpanCarriesSiteAndBookingFields(t *testing.T) {
	if _, err := InitTracer(context.Background(), TracerConfig{
		Site: Site{Name: "Unit 2", Timezone: "Europe/Paris", CapacityMW: 315},
	}, zerolog.Nop()); err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	rec := recordSpans(t)

	_, span := StartSchedulingSpan(context.Background(), "book_earliest", map[string]any{
		"anomaly_id": "a-1",
		"priority":   models.PriorityCritical,
		"duration":   90 * time.Minute,
		"ignored":    struct{}{},
	})
	AnnotateSpan(span, map[string]any{"overrides": true, "window": models.WindowEmergency})
	RecordError(span, nil)
	RecordError(span, errors.New("slot conflict"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans=%d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "scheduler.book_earliest" {
		t.Fatalf("name=%q", got.Name())
	}
	if got.Status().Code != codes.Error {
		t.Fatalf("status=%v, want error", got.Status().Code)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	want := map[attribute.Key]attribute.Value{
		"site.name":              attribute.StringValue("Unit 2"),
		"site.timezone":          attribute.StringValue("Europe/Paris"),
		"site.capacity_mw":       attribute.Float64Value(315),
		"booking.anomaly_id":     attribute.StringValue("a-1"),
		"booking.priority":       attribute.StringValue("critical"),
		"booking.duration_hours": attribute.Float64Value(1.5),
		"booking.overrides":      attribute.BoolValue(true),
		"booking.window":         attribute.StringValue(string(models.WindowEmergency)),
	}
	for key, value := range want {
		if attrs[key] != value {
			t.Errorf("%s=%v, want %v", key, attrs[key].Emit(), value.Emit())
		}
	}
	if _, ok := attrs["booking.ignored"]; ok {
		t.Error("unsupported field should be dropped")
	}
}

func TestSchedulingSpanWithoutSite(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSchedulingSpan(context.Background(), "suggest_dates", nil)
	span.End()

	for _, kv := range rec.Ended()[0].Attributes() {
		if kv.Key == "site.name" {
			t.Fatalf("unexpected site attribute %v", kv.Value.Emit())
		}
	}
}
