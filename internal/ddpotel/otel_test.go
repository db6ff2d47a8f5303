package ddpotel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gaspardpetit/ddpx/internal/ddp"
)

func newTestHook(t *testing.T) (ddp.DispatchHook, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	cfg := DefaultConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	cfg.CustomAttributes = []attribute.KeyValue{attribute.String("deployment", "test")}
	return NewHook(cfg), sr, reader
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHookSpans(t *testing.T) {
	hook, sr, _ := newTestHook(t)
	e := ddp.New(nil, ddp.WithDispatchHook(hook), ddp.WithSessionIDs(func() string { return "S1" }))
	_ = e.RegisterMethod("echo", func(call *ddp.Call) (any, error) { return call.Value(0), nil })
	_ = e.RegisterMethod("deny", func(*ddp.Call) (any, error) { return nil, ddp.NewError("403", "no") })

	batch := `["{\"msg\":\"connect\"}","{\"msg\":\"method\",\"method\":\"echo\",\"id\":\"1\",\"params\":[\"hi\"]}","{\"msg\":\"method\",\"method\":\"deny\",\"id\":\"2\"}"]`
	if err := e.Process(context.Background(), batch); err != nil {
		t.Fatalf("Process: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d; want 2", len(spans))
	}
	ok := spans[0]
	if ok.Name() != "ddp/echo" {
		t.Fatalf("span name = %q; want ddp/echo", ok.Name())
	}
	if v, _ := spanAttr(ok, "rpc.system"); v.AsString() != "ddp" {
		t.Fatalf("rpc.system = %q", v.AsString())
	}
	if v, _ := spanAttr(ok, "ddp.session"); v.AsString() != "S1" {
		t.Fatalf("ddp.session = %q", v.AsString())
	}
	if v, _ := spanAttr(ok, "ddp.method_id"); v.AsString() != "1" {
		t.Fatalf("ddp.method_id = %q", v.AsString())
	}
	if v, _ := spanAttr(ok, "deployment"); v.AsString() != "test" {
		t.Fatalf("custom attribute = %q", v.AsString())
	}
	if ok.Status().Code != codes.Ok {
		t.Fatalf("status = %v; want Ok", ok.Status().Code)
	}

	failed := spans[1]
	if failed.Status().Code != codes.Error {
		t.Fatalf("status = %v; want Error", failed.Status().Code)
	}
	if v, _ := spanAttr(failed, "ddp.error_type"); v.AsString() != "403" {
		t.Fatalf("error type = %q; want 403", v.AsString())
	}
	if len(failed.Events()) == 0 {
		t.Fatal("expected a recorded exception event")
	}
}

func TestHookMetrics(t *testing.T) {
	hook, _, reader := newTestHook(t)
	e := ddp.New(nil, ddp.WithDispatchHook(hook))
	_ = e.RegisterMethod("echo", func(call *ddp.Call) (any, error) { return nil, nil })
	batch := `["{\"msg\":\"method\",\"method\":\"echo\",\"id\":\"1\"}","{\"msg\":\"method\",\"method\":\"missing\",\"id\":\"2\"}"]`
	if err := e.Process(context.Background(), batch); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	var sawHistogram bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "rpc.server.requests" {
					for _, dp := range data.DataPoints {
						total += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name == "rpc.server.duration" {
					sawHistogram = true
				}
			}
		}
	}
	if total != 2 {
		t.Fatalf("requests = %d; want 2", total)
	}
	if !sawHistogram {
		t.Fatal("duration histogram not recorded")
	}
}

func TestHookTracingDisabled(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	hook := NewHook(Config{TracerProvider: tp})
	ctx, tok := hook.OnDispatchStart(context.Background(), ddp.DispatchInfo{Method: "x", Found: true})
	hook.OnDispatchEnd(ctx, tok, ddp.DispatchInfo{Method: "x", Found: true}, ddp.DispatchStats{}, nil)
	if n := len(sr.Ended()); n != 0 {
		t.Fatalf("spans = %d; want 0", n)
	}
}

func TestSetupStdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := SetupStdout(&buf, "ddpx-test", "v0")
	if err != nil {
		t.Fatalf("SetupStdout: %v", err)
	}
	hook := NewHook(Config{TracerProvider: p.Tracer, MeterProvider: p.Meter, EnableTracing: true, EnableMetrics: true})
	ctx, tok := hook.OnDispatchStart(context.Background(), ddp.DispatchInfo{Method: "echo", Found: true})
	hook.OnDispatchEnd(ctx, tok, ddp.DispatchInfo{Method: "echo", Found: true}, ddp.DispatchStats{}, nil)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ddp/echo") {
		t.Fatalf("stdout export missing span: %s", out)
	}
	if !strings.Contains(out, "rpc.server.requests") {
		t.Fatalf("stdout export missing metric: %s", out)
	}
}
