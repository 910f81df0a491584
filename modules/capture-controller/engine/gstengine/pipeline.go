package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipeline is one running capture pipeline and its bus monitor.
type pipeline struct {
	gst    *gst.Pipeline
	valve  *gst.Element
	cancel context.CancelFunc

	hasPreview bool
	hasPhoto   bool
	hasRecord  bool
	startedAt  time.Time
}

// pipelineHooks are the engine callbacks wired into a pipeline.
type pipelineHooks struct {
	onPreviewSample func(p *pipeline, sink *app.Sink) gst.FlowReturn
	onPhotoSample   func(p *pipeline, sink *app.Sink) gst.FlowReturn
	onBusMessage    func(p *pipeline, msg *gst.Message)
}

// startPipeline builds the pipeline described by cfg, wires the appsinks and
// sets it to PLAYING.
//
// The pipeline is left in NULL state and nil is returned on any failure.
func startPipeline(cfg launchConfig, device string, hooks pipelineHooks) (*pipeline, error) {
	desc, err := buildLaunch(cfg)
	if err != nil {
		return nil, err
	}

	gst.Init(nil)

	slog.Debug("gstengine: creating pipeline", "pipeline", desc)
	gp, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	p := &pipeline{
		gst:        gp,
		hasPreview: cfg.Preview != nil,
		hasPhoto:   cfg.Photo != nil,
		hasRecord:  cfg.Record != nil,
	}

	src, err := gp.GetElementByName(nameSource)
	if err != nil {
		return nil, fmt.Errorf("failed to find source: %w", err)
	}
	if err := src.SetProperty("device", device); err != nil {
		return nil, fmt.Errorf("failed to set device: %w", err)
	}

	if p.hasPreview {
		el, err := gp.GetElementByName(namePreview)
		if err != nil {
			return nil, fmt.Errorf("failed to find preview sink: %w", err)
		}
		app.SinkFromElement(el).SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				return hooks.onPreviewSample(p, sink)
			},
		})
	}

	if p.hasPhoto {
		valve, err := gp.GetElementByName(namePhotoValve)
		if err != nil {
			return nil, fmt.Errorf("failed to find photo valve: %w", err)
		}
		p.valve = valve

		el, err := gp.GetElementByName(namePhoto)
		if err != nil {
			return nil, fmt.Errorf("failed to find photo sink: %w", err)
		}
		app.SinkFromElement(el).SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				return hooks.onPhotoSample(p, sink)
			},
		})
	}

	if p.hasRecord {
		fs, err := gp.GetElementByName(nameRecordFile)
		if err != nil {
			return nil, fmt.Errorf("failed to find record file sink: %w", err)
		}
		if err := fs.SetProperty("location", cfg.RecordPath); err != nil {
			return nil, fmt.Errorf("failed to set record location: %w", err)
		}
	}

	// Set before PLAYING: sample timestamps are relative to it.
	p.startedAt = time.Now()
	if err := gp.SetState(gst.StatePlaying); err != nil {
		gp.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.monitor(ctx, hooks.onBusMessage)

	slog.Info("gstengine: pipeline started",
		"device", device,
		"preview", p.hasPreview,
		"photo", p.hasPhoto,
		"record", p.hasRecord,
		"audio", cfg.RecordAudio,
	)
	return p, nil
}

// monitor polls the pipeline bus until ctx is cancelled. A short timeout
// keeps shutdown responsive.
func (p *pipeline) monitor(ctx context.Context, onMessage func(*pipeline, *gst.Message)) {
	bus := p.gst.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstengine: context cancelled, stopping pipeline monitor")
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}
			onMessage(p, msg)
		}
	}
}

// openValve lets frames through to the photo encoder.
func (p *pipeline) openValve() error {
	if p.valve == nil {
		return fmt.Errorf("pipeline has no photo branch")
	}
	return p.valve.SetProperty("drop", false)
}

func (p *pipeline) closeValve() {
	if p.valve != nil {
		p.valve.SetProperty("drop", true)
	}
}

// stopRecording sends EOS so the muxer can finalize the file. The bus
// monitor sees the EOS message once every sink has drained.
func (p *pipeline) stopRecording() error {
	if !p.gst.SendEvent(gst.NewEOSEvent()) {
		return fmt.Errorf("pipeline rejected end of stream")
	}
	return nil
}

// stop cancels the monitor and sets the pipeline to NULL.
func (p *pipeline) stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if err := p.gst.SetState(gst.StateNull); err != nil {
		slog.Warn("gstengine: failed to set pipeline to NULL", "error", err)
	}
	slog.Debug("gstengine: pipeline stopped", "uptime", time.Since(p.startedAt))
}

// pullSampleData copies the data of the next sample, as the buffer is
// reused by GStreamer, and returns it with the buffer's presentation
// timestamp.
func pullSampleData(sink *app.Sink) ([]byte, gst.ClockTime) {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstengine: failed to pull sample from appsink, skipping frame")
		return nil, gst.ClockTimeNone
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstengine: failed to get buffer from sample, skipping frame")
		return nil, gst.ClockTimeNone
	}
	pts := buffer.PresentationTimestamp()

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, pts
	}
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()
	return out, pts
}

// probeMediaTypes opens device and returns the media types its source pad
// can produce.
func probeMediaTypes(device string) (string, error) {
	gst.Init(nil)

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return "", fmt.Errorf("failed to create v4l2src: %w", err)
	}
	if err := src.SetProperty("device", device); err != nil {
		return "", fmt.Errorf("failed to set device: %w", err)
	}
	if err := src.SetState(gst.StateReady); err != nil {
		return "", fmt.Errorf("failed to open %s: %w", device, err)
	}
	defer src.SetState(gst.StateNull)

	pad := src.GetStaticPad("src")
	if pad == nil {
		return "", fmt.Errorf("failed to get src pad from v4l2src")
	}
	caps := pad.QueryCaps(nil)
	if caps == nil {
		return "", fmt.Errorf("device %s reported no caps", device)
	}
	return caps.String(), nil
}
