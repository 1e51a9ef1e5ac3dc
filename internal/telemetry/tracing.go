/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/friendsincode/anomalyops/internal/models"
)

const (
	// ServiceName is the OTLP service name of every instance.
	ServiceName = "anomalyops"
	// TracerName is the instrumentation scope for scheduling spans.
	TracerName = "anomalyops/scheduler"
)

// Site identifies the plant whose bookings are traced.
type Site struct {
	Name       string
	Timezone   string
	CapacityMW float64
}

func (s Site) attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if s.Name != "" {
		attrs = append(attrs, attribute.String("site.name", s.Name))
	}
	if s.Timezone != "" {
		attrs = append(attrs, attribute.String("site.timezone", s.Timezone))
	}
	if s.CapacityMW > 0 {
		attrs = append(attrs, attribute.Float64("site.capacity_mw", s.CapacityMW))
	}
	return attrs
}

// TracerConfig contains configuration for OpenTelemetry tracing.
type TracerConfig struct {
	Site         Site
	Version      string
	Environment  string
	OTLPEndpoint string // e.g., "localhost:4317"
	Enabled      bool
	SampleRate   float64 // 0.0 to 1.0, applied to root spans
}

// TracerProvider owns the exporter pipeline, nil when tracing is disabled.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   zerolog.Logger
}

// siteAttrs is stamped on every scheduling span.
var siteAttrs atomic.Pointer[[]attribute.KeyValue]

// InitTracer installs the global tracer provider for the site.
func InitTracer(ctx context.Context, cfg TracerConfig, logger zerolog.Logger) (*TracerProvider, error) {
	logger = logger.With().Str("component", "tracing").Logger()
	attrs := cfg.Site.attributes()
	siteAttrs.Store(&attrs)

	if !cfg.Enabled {
		logger.Info().Msg("tracing disabled")
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &TracerProvider{logger: logger}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(append([]attribute.KeyValue{
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(cfg.Version),
		attribute.String("deployment.environment", cfg.Environment),
	}, attrs...)...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	// Child spans follow the caller's sampling decision.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().
		Str("site", cfg.Site.Name).
		Str("otlp_endpoint", cfg.OTLPEndpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("tracing enabled")
	return &TracerProvider{provider: tp, logger: logger}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	tp.logger.Debug().Msg("tracer provider flushed")
	return nil
}

// StartSchedulingSpan starts "scheduler.<operation>" carrying the site and
// the given booking fields as "booking.<key>" attributes.
func StartSchedulingSpan(ctx context.Context, operation string, fields map[string]any) (context.Context, trace.Span) {
	attrs := bookingAttributes(fields)
	if site := siteAttrs.Load(); site != nil {
		attrs = append(attrs, *site...)
	}
	return otel.Tracer(TracerName).Start(ctx, "scheduler."+operation, trace.WithAttributes(attrs...))
}

// AnnotateSpan adds booking fields to a running scheduling span.
func AnnotateSpan(span trace.Span, fields map[string]any) {
	span.SetAttributes(bookingAttributes(fields)...)
}

// RecordError marks the span failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// bookingAttributes converts booking fields; unsupported values are dropped.
func bookingAttributes(fields map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for key, value := range fields {
		key = "booking." + key
		switch v := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case models.AnomalyPriority:
			attrs = append(attrs, attribute.String(key, string(v)))
		case models.WindowType:
			attrs = append(attrs, attribute.String(key, string(v)))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		case time.Time:
			attrs = append(attrs, attribute.String(key, v.Format(time.RFC3339)))
		case time.Duration:
			attrs = append(attrs, attribute.Float64(key+"_hours", v.Hours()))
		}
	}
	return attrs
}
