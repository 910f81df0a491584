package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
)

const instrumentationName = "github.com/e7canasta/orion-care-sensor"

// Instruments are the command and camera instruments of the daemon. They
// use the global providers, so they are no-ops until Setup has run.
type Instruments struct {
	tracer   trace.Tracer
	commands metric.Int64Counter
	latency  metric.Float64Histogram
	captures metric.Int64Counter
}

// NewInstruments creates the instruments from the global providers.
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsFrom(otel.GetMeterProvider(), otel.GetTracerProvider())
}

// NewInstrumentsFrom creates the instruments from explicit providers.
func NewInstrumentsFrom(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	meter := mp.Meter(instrumentationName)

	commands, err := meter.Int64Counter("captured.commands",
		metric.WithDescription("Control commands handled, by command and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create command counter: %w", err)
	}
	latency, err := meter.Float64Histogram("captured.command.duration",
		metric.WithDescription("Time from command receipt to response"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	captures, err := meter.Int64Counter("captured.captures",
		metric.WithDescription("Completed photos and recordings, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture counter: %w", err)
	}

	return &Instruments{
		tracer:   tp.Tracer(instrumentationName),
		commands: commands,
		latency:  latency,
		captures: captures,
	}, nil
}

// RegisterCameraStats reports frame counters of every camera returned by
// list on each collection.
func (i *Instruments) RegisterCameraStats(mp metric.MeterProvider, list func() map[string]capturecontroller.Stats) error {
	meter := mp.Meter(instrumentationName)

	received, err := meter.Int64ObservableCounter("captured.frames.received")
	if err != nil {
		return fmt.Errorf("failed to create frames received counter: %w", err)
	}
	published, err := meter.Int64ObservableCounter("captured.frames.published")
	if err != nil {
		return fmt.Errorf("failed to create frames published counter: %w", err)
	}
	dropped, err := meter.Int64ObservableCounter("captured.frames.dropped")
	if err != nil {
		return fmt.Errorf("failed to create frames dropped counter: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for device, s := range list() {
			attrs := metric.WithAttributes(attribute.String("device", device))
			o.ObserveInt64(received, int64(s.FramesReceived), attrs)
			o.ObserveInt64(published, int64(s.FramesPublished), attrs)
			o.ObserveInt64(dropped, int64(s.FramesDropped), attrs)
		}
		return nil
	}, received, published, dropped)
	if err != nil {
		return fmt.Errorf("failed to register camera stats callback: %w", err)
	}
	return nil
}

// StartCommand opens a span for command. The returned function ends it and
// records the outcome.
func (i *Instruments) StartCommand(ctx context.Context, command, requestID string) (context.Context, func(status string, err error)) {
	if i == nil {
		return ctx, func(string, error) {}
	}

	start := time.Now()
	ctx, span := i.tracer.Start(ctx, "command "+command,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("command", command),
			attribute.String("request_id", requestID),
		),
	)

	return ctx, func(status string, err error) {
		attrs := metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		)
		i.commands.Add(ctx, 1, attrs)
		i.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// CaptureCompleted counts a finished photo or recording.
func (i *Instruments) CaptureCompleted(ctx context.Context, kind string) {
	if i == nil {
		return
	}
	i.captures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
