package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
)

type testProviders struct {
	reader   *sdkmetric.ManualReader
	recorder *tracetest.SpanRecorder
	mp       *sdkmetric.MeterProvider
	tp       *sdktrace.TracerProvider
}

func newTestProviders() *testProviders {
	p := &testProviders{
		reader:   sdkmetric.NewManualReader(),
		recorder: tracetest.NewSpanRecorder(),
	}
	p.mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(p.reader))
	p.tp = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p.recorder))
	return p
}

func (p *testProviders) collect(t *testing.T) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestStartCommandRecordsMetricsAndSpan(t *testing.T) {
	p := newTestProviders()
	inst, err := NewInstrumentsFrom(p.mp, p.tp)
	if err != nil {
		t.Fatalf("NewInstrumentsFrom failed: %v", err)
	}

	_, end := inst.StartCommand(context.Background(), "take_picture", "req-1")
	end("success", nil)
	_, end = inst.StartCommand(context.Background(), "take_picture", "req-2")
	end("error", errors.New("Camera not created"))

	metrics := p.collect(t)

	commands, ok := metrics["captured.commands"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("Expected int64 sum for captured.commands, got %T", metrics["captured.commands"].Data)
	}
	var total int64
	for _, dp := range commands.DataPoints {
		total += dp.Value
		if v, _ := dp.Attributes.Value(attribute.Key("command")); v.AsString() != "take_picture" {
			t.Errorf("Unexpected command attribute %v", v)
		}
	}
	if total != 2 || len(commands.DataPoints) != 2 {
		t.Errorf("Expected 2 commands in 2 status series, got %d in %d", total, len(commands.DataPoints))
	}

	if _, ok := metrics["captured.command.duration"].Data.(metricdata.Histogram[float64]); !ok {
		t.Errorf("Expected float64 histogram for command duration")
	}

	spans := p.recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "command take_picture" {
		t.Errorf("Unexpected span name %q", spans[0].Name())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("Expected error event on failed command span")
	}

	t.Logf("✅ Commands recorded: %d series, %d spans", len(commands.DataPoints), len(spans))
}

func TestCameraStatsCallback(t *testing.T) {
	p := newTestProviders()
	inst, err := NewInstrumentsFrom(p.mp, p.tp)
	if err != nil {
		t.Fatalf("NewInstrumentsFrom failed: %v", err)
	}

	err = inst.RegisterCameraStats(p.mp, func() map[string]capturecontroller.Stats {
		return map[string]capturecontroller.Stats{
			"/dev/video0": {FramesReceived: 30, FramesPublished: 28, FramesDropped: 2},
		}
	})
	if err != nil {
		t.Fatalf("RegisterCameraStats failed: %v", err)
	}

	metrics := p.collect(t)
	dropped, ok := metrics["captured.frames.dropped"].Data.(metricdata.Sum[int64])
	if !ok || len(dropped.DataPoints) != 1 || dropped.DataPoints[0].Value != 2 {
		t.Errorf("Unexpected dropped frames metric %+v", metrics["captured.frames.dropped"].Data)
	}
}

func TestNilInstrumentsAreNoop(t *testing.T) {
	var inst *Instruments
	ctx, end := inst.StartCommand(context.Background(), "list", "")
	end("success", nil)
	inst.CaptureCompleted(ctx, "photo")
}
