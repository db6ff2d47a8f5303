// Package ddpotel provides OpenTelemetry instrumentation for the DDP engine.
// It implements [ddp.DispatchHook] to add a server span and request metrics
// to every method call.
//
// Usage:
//
//	hook := ddpotel.NewHook(ddpotel.DefaultConfig())
//	engine := ddp.New(emit, ddp.WithDispatchHook(hook))
package ddpotel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaspardpetit/ddpx/internal/ddp"
)

const instrumentationName = "ddpx"

// Config configures the instrumentation hook.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	EnableTracing bool
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span of failed calls.
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and exception recording against the
// global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

type hook struct {
	cfg      Config
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewHook builds a dispatch hook from cfg.
func NewHook(cfg Config) ddp.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	h := &hook{cfg: cfg, tracer: cfg.TracerProvider.Tracer(instrumentationName)}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.requests, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of DDP method calls"),
		)
		h.duration, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of DDP method calls"),
		)
	}
	return h
}

type spanToken struct {
	span trace.Span
}

func (h *hook) OnDispatchStart(ctx context.Context, info ddp.DispatchInfo) (context.Context, ddp.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{}
	}
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "ddp"),
		attribute.String("rpc.method", info.Method),
		attribute.String("ddp.session", info.Session),
		attribute.String("ddp.method_id", info.MethodID),
		attribute.Int("ddp.num_args", info.NumArgs),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)
	ctx, span := h.tracer.Start(ctx, "ddp/"+info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span}
}

func (h *hook) OnDispatchEnd(ctx context.Context, token ddp.HookToken, info ddp.DispatchInfo, stats ddp.DispatchStats, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	if h.cfg.EnableMetrics {
		method := info.Method
		if !info.Found {
			method = "(unknown)"
		}
		attrs := metric.WithAttributes(
			attribute.String("rpc.system", "ddp"),
			attribute.String("rpc.method", method),
			attribute.String("status", status),
		)
		if h.requests != nil {
			h.requests.Add(ctx, 1, attrs)
		}
		if h.duration != nil {
			h.duration.Record(ctx, stats.Duration.Seconds(), attrs)
		}
	}

	if st.span == nil {
		return
	}
	if st.span.IsRecording() {
		st.span.SetAttributes(
			attribute.Bool("ddp.method_found", info.Found),
			attribute.Bool("ddp.timed_out", stats.TimedOut),
			attribute.Bool("ddp.panicked", stats.Panicked),
		)
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			st.span.SetAttributes(attribute.String("ddp.error_type", errorType(err)))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
	}
	st.span.End()
}

func errorType(err error) string {
	if de, ok := err.(*ddp.Error); ok {
		return de.Code
	}
	return fmt.Sprintf("%T", err)
}
