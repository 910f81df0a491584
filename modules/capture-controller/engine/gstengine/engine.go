// Package gstengine implements the capture engine on GStreamer for V4L2
// devices.
//
// One pipeline per engine reads the device and splits it with a tee into a
// preview appsink, a valve-gated JPEG photo branch and, while recording, an
// H.264 encode and mux branch. Starting or stopping a branch rebuilds the
// pipeline; stopping a recording sends end-of-stream first so the container
// is finalized.
//
// Events reach the observer on a single dispatch goroutine, never from
// inside an Engine method.
package gstengine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Options tunes the GStreamer engines created by a Platform.
type Options struct {
	// MaxQueuedSamples bounds the preview samples waiting for the observer.
	MaxQueuedSamples int
	// X264Preset is the x264enc speed-preset. Default ultrafast.
	X264Preset string
	// X264BitrateKbps is the x264enc bitrate. Zero keeps the encoder default.
	X264BitrateKbps uint32
	// FinalizeTimeout bounds how long Release waits for a stopping recording
	// to reach end of stream. Default 3s.
	FinalizeTimeout time.Duration
}

// Platform creates GStreamer engines and V4L2 sources.
type Platform struct {
	opts Options
}

// NewPlatform creates a platform.
func NewPlatform(opts Options) *Platform {
	if opts.MaxQueuedSamples <= 0 {
		opts.MaxQueuedSamples = 2
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 3 * time.Second
	}
	return &Platform{opts: opts}
}

// NewEngine implements engine.Platform.
func (p *Platform) NewEngine() (engine.Engine, error) {
	gst.Init(nil)
	return &Engine{
		opts:  p.opts,
		sinks: make(map[engine.SinkKind]*sink),
	}, nil
}

// VideoSource implements engine.Platform. The device is opened by the
// pipeline; here it is only checked for existence and access.
func (p *Platform) VideoSource(deviceID string) (engine.Source, error) {
	if strings.HasPrefix(deviceID, "/dev/") {
		f, err := os.Open(deviceID)
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, engine.Errorf(engine.StatusAccessDenied, "video_source", "open %s: %v", deviceID, err)
		case err != nil:
			return nil, engine.Errorf(engine.StatusFail, "video_source", "open %s: %v", deviceID, err)
		}
		f.Close()
	}
	return &Source{id: deviceID}, nil
}

// DefaultAudioSource implements engine.Platform.
func (p *Platform) DefaultAudioSource() (engine.Source, error) {
	return &Source{id: "autoaudiosrc", audio: true}, nil
}

// Source is a capture device handle.
type Source struct {
	id     string
	audio  bool
	closed atomic.Bool
}

// ID implements engine.Source.
func (s *Source) ID() string { return s.id }

// Close implements engine.Source.
func (s *Source) Close() error {
	s.closed.Store(true)
	return nil
}

// Engine is a GStreamer capture engine for one device.
type Engine struct {
	opts Options

	mu         sync.Mutex
	device     string
	audio      bool
	mediaTypes []engine.MediaType
	sinks      map[engine.SinkKind]*sink
	pipe       *pipeline
	released   bool

	previewing     bool
	previewPending bool
	recording      bool
	recordPending  bool
	recordStopping bool
	photoPending   bool

	// finalized is closed once a stopping recording reached end of stream
	// or failed.
	finalized chan struct{}

	// The streaming thread only touches these, never e.mu.
	queue     atomic.Pointer[eventQueue]
	previewOn atomic.Bool
	photoPath atomic.Pointer[string]
	start     time.Time
}

// Initialize implements engine.Engine. The device is probed on a separate
// goroutine; EventInitialized reports the result.
func (e *Engine) Initialize(obs engine.Observer, video, audio engine.Source) error {
	vs, ok := video.(*Source)
	if !ok || vs == nil {
		return engine.Errorf(engine.StatusUnexpected, "initialize", "unsupported video source %T", video)
	}

	e.mu.Lock()
	switch {
	case e.released:
		e.mu.Unlock()
		return engine.Errorf(engine.StatusUnexpected, "initialize", "engine released")
	case e.queue.Load() != nil:
		e.mu.Unlock()
		return engine.Errorf(engine.StatusUnexpected, "initialize", "engine already initialized")
	}
	e.device = vs.id
	e.audio = audio != nil
	e.start = time.Now()
	queue := newEventQueue(e.opts.MaxQueuedSamples)
	e.queue.Store(queue)
	e.mu.Unlock()

	go queue.run(obs)
	go e.probe(vs.id)
	return nil
}

func (e *Engine) probe(device string) {
	caps, err := probeMediaTypes(device)
	if err != nil {
		category := classifyMessage(err.Error(), "")
		slog.Error("gstengine: device probe failed",
			"device", device,
			"error", err,
			"category", category.String(),
		)
		e.push(engine.Event{Kind: engine.EventInitialized, Status: category.Status(), Message: "Failed to open capture device"})
		return
	}

	types := parseCaps(caps)
	if len(types) == 0 {
		slog.Error("gstengine: device reported no usable media types", "device", device, "caps", caps)
		e.push(engine.Event{Kind: engine.EventInitialized, Status: engine.StatusFail, Message: "No usable media types"})
		return
	}

	e.mu.Lock()
	e.mediaTypes = types
	e.mu.Unlock()

	slog.Info("gstengine: device probed", "device", device, "media_types", len(types))
	e.push(engine.Event{Kind: engine.EventInitialized, Status: engine.StatusOK})
}

// push hands ev to the dispatch goroutine. It takes no lock, so GStreamer
// threads may call it while e.mu is held elsewhere.
func (e *Engine) push(ev engine.Event) {
	if q := e.queue.Load(); q != nil {
		q.push(ev)
	}
}

// pushAll pushes events collected while e.mu was held.
func (e *Engine) pushAll(events []engine.Event) {
	for _, ev := range events {
		e.push(ev)
	}
}

// AvailableMediaTypes implements engine.Engine. Every video role shares the
// device's native types.
func (e *Engine) AvailableMediaTypes(role engine.StreamRole) ([]engine.MediaType, error) {
	if role == engine.RoleAudio {
		return nil, engine.ErrNotSupported
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaTypes == nil {
		return nil, engine.Errorf(engine.StatusUnexpected, "media_types", "engine not initialized")
	}
	out := make([]engine.MediaType, len(e.mediaTypes))
	copy(out, e.mediaTypes)
	return out, nil
}

// Sink implements engine.Engine.
func (e *Engine) Sink(kind engine.SinkKind) (engine.Sink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sinks[kind]
	if !ok {
		s = &sink{kind: kind}
		e.sinks[kind] = s
	}
	return s, nil
}

// StartPreview implements engine.Engine.
func (e *Engine) StartPreview() error {
	e.mu.Lock()
	if err := e.checkLocked("start_preview"); err != nil {
		e.mu.Unlock()
		return err
	}
	e.previewing = true
	e.previewOn.Store(true)

	if e.pipe != nil && e.pipe.hasPreview {
		e.mu.Unlock()
		e.push(engine.Event{Kind: engine.EventPreviewStarted, Status: engine.StatusOK})
		return nil
	}

	e.previewPending = true
	if err := e.restartLocked(); err != nil {
		e.previewing = false
		e.previewPending = false
		e.previewOn.Store(false)
		e.mu.Unlock()
		return engine.Errorf(engine.StatusFail, "start_preview", "%v", err)
	}
	e.mu.Unlock()
	return nil
}

// StopPreview implements engine.Engine.
func (e *Engine) StopPreview() error {
	e.mu.Lock()
	if err := e.checkLocked("stop_preview"); err != nil {
		e.mu.Unlock()
		return err
	}
	e.previewing = false
	e.previewPending = false
	e.previewOn.Store(false)
	var p *pipeline
	if !e.recording && !e.photoPending {
		p = e.detachLocked()
	}
	e.mu.Unlock()

	stopPipeline(p)
	e.push(engine.Event{Kind: engine.EventPreviewStopped, Status: engine.StatusOK})
	return nil
}

// StartRecord implements engine.Engine. The pipeline is rebuilt with the
// record branch; EventRecordStarted follows once it is playing.
func (e *Engine) StartRecord() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked("start_record"); err != nil {
		return err
	}
	if e.recording {
		return engine.Errorf(engine.StatusUnexpected, "start_record", "already recording")
	}
	s := e.sinks[engine.SinkRecord]
	if s == nil || s.outputPath() == "" {
		return engine.Errorf(engine.StatusUnexpected, "start_record", "record sink not configured")
	}

	e.recording = true
	e.recordPending = true
	if err := e.restartLocked(); err != nil {
		e.recording = false
		e.recordPending = false
		return engine.Errorf(engine.StatusFail, "start_record", "%v", err)
	}
	return nil
}

// StopRecord implements engine.Engine. EventRecordStopped follows once the
// file is finalized.
func (e *Engine) StopRecord() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked("stop_record"); err != nil {
		return err
	}
	if !e.recording || e.recordStopping || e.pipe == nil || !e.pipe.hasRecord {
		return engine.Errorf(engine.StatusUnexpected, "stop_record", "not recording")
	}
	if err := e.stopRecordingLocked(); err != nil {
		return engine.Errorf(engine.StatusFail, "stop_record", "%v", err)
	}
	return nil
}

// stopRecordingLocked sends end of stream through the record branch.
// onEOS finishes the stop.
func (e *Engine) stopRecordingLocked() error {
	if err := e.pipe.stopRecording(); err != nil {
		return err
	}
	e.recordStopping = true
	e.finalized = make(chan struct{})
	return nil
}

// TakePhoto implements engine.Engine. The next frame through the photo
// branch is written to the photo sink's output file.
func (e *Engine) TakePhoto() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked("take_photo"); err != nil {
		return err
	}
	s := e.sinks[engine.SinkPhoto]
	if s == nil || s.outputPath() == "" {
		return engine.Errorf(engine.StatusUnexpected, "take_photo", "photo sink not configured")
	}
	path := s.outputPath()

	e.photoPending = true
	if e.pipe == nil || !e.pipe.hasPhoto {
		if err := e.restartLocked(); err != nil {
			e.photoPending = false
			return engine.Errorf(engine.StatusFail, "take_photo", "%v", err)
		}
	}

	e.photoPath.Store(&path)
	if err := e.pipe.openValve(); err != nil {
		e.photoPath.Store(nil)
		e.photoPending = false
		return engine.Errorf(engine.StatusFail, "take_photo", "%v", err)
	}
	return nil
}

// Release implements engine.Engine. A recording is stopped first and given
// up to Options.FinalizeTimeout to reach end of stream, so its file is
// complete when the pipeline is torn down.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	if e.recording && !e.recordStopping && e.pipe != nil && e.pipe.hasRecord {
		if err := e.stopRecordingLocked(); err != nil {
			slog.Warn("gstengine: failed to stop recording on release", "device", e.device, "error", err)
		}
	}
	finalized := e.finalized
	e.mu.Unlock()

	if finalized != nil && !awaitFinalized(finalized, e.opts.FinalizeTimeout) {
		slog.Warn("gstengine: recording not finalized before release",
			"device", e.device,
			"timeout", e.opts.FinalizeTimeout,
		)
	}

	e.mu.Lock()
	p := e.detachLocked()
	e.resetLocked()
	e.mu.Unlock()
	stopPipeline(p)

	if q := e.queue.Swap(nil); q != nil {
		q.close()
		if dropped := q.Dropped(); dropped > 0 {
			slog.Info("gstengine: engine released", "device", e.device, "samples_dropped", dropped)
		}
	}
	return nil
}

func (e *Engine) checkLocked(op string) error {
	switch {
	case e.released:
		return engine.Errorf(engine.StatusUnexpected, op, "engine released")
	case e.mediaTypes == nil:
		return engine.Errorf(engine.StatusUnexpected, op, "engine not initialized")
	}
	return nil
}

// deviceTypeLocked returns the native media type of the given size with the
// highest frame rate.
func (e *Engine) deviceTypeLocked(width, height uint32) (engine.MediaType, bool) {
	var (
		best  engine.MediaType
		found bool
	)
	for _, mt := range e.mediaTypes {
		if mt.Width != width || mt.Height != height {
			continue
		}
		if !found || mt.FrameRate() > best.FrameRate() {
			best, found = mt, true
		}
	}
	return best, found
}

// launchConfigLocked derives the pipeline branches from the engine state.
// The device runs in the record mode while recording, else the photo mode
// once a photo stream is configured, else the preview mode.
func (e *Engine) launchConfigLocked() (launchConfig, error) {
	cfg := launchConfig{
		X264Preset:  e.opts.X264Preset,
		X264Bitrate: e.opts.X264BitrateKbps,
	}

	if e.previewing {
		if mt, ok := e.sinks[engine.SinkPreview].stream(engine.RolePreview); ok {
			cfg.Preview = &mt
		}
	}
	if mt, ok := e.sinks[engine.SinkPhoto].stream(engine.RolePhoto); ok {
		cfg.Photo = &mt
	}
	if e.recording {
		s := e.sinks[engine.SinkRecord]
		mt, ok := s.stream(engine.RoleRecord)
		if !ok {
			return cfg, fmt.Errorf("record sink has no video stream")
		}
		cfg.Record = &mt
		cfg.RecordPath = s.outputPath()
		_, withAudio := s.stream(engine.RoleAudio)
		cfg.RecordAudio = withAudio && e.audio
	}

	var mode *engine.MediaType
	switch {
	case cfg.Record != nil:
		mode = cfg.Record
	case cfg.Photo != nil:
		mode = cfg.Photo
	case cfg.Preview != nil:
		mode = cfg.Preview
	default:
		return cfg, errNoBranch
	}
	source, ok := e.deviceTypeLocked(mode.Width, mode.Height)
	if !ok {
		return cfg, fmt.Errorf("device has no %dx%d mode", mode.Width, mode.Height)
	}
	cfg.Source = source
	return cfg, nil
}

// restartLocked replaces the running pipeline with one matching the engine
// state. The old pipeline is stopped under e.mu because the device has to be
// free before the new one opens it.
func (e *Engine) restartLocked() error {
	cfg, err := e.launchConfigLocked()
	if err != nil {
		return err
	}
	stopPipeline(e.detachLocked())

	p, err := startPipeline(cfg, e.device, pipelineHooks{
		onPreviewSample: e.onPreviewSample,
		onPhotoSample:   e.onPhotoSample,
		onBusMessage:    e.onBusMessage,
	})
	if err != nil {
		slog.Error("gstengine: failed to start pipeline", "device", e.device, "error", err)
		return err
	}
	e.pipe = p
	return nil
}

// detachLocked takes the running pipeline away from the engine. The caller
// stops it, after unlocking when it can.
func (e *Engine) detachLocked() *pipeline {
	p := e.pipe
	e.pipe = nil
	return p
}

func stopPipeline(p *pipeline) {
	if p != nil {
		p.stop()
	}
}

// awaitFinalized waits up to timeout for done to be closed.
func awaitFinalized(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// sampleTimestampUs places a buffer timestamp on the engine clock. base is
// the pipeline start relative to the engine start; elapsed is the engine
// clock now and is used when the buffer carries no timestamp.
func sampleTimestampUs(pts gst.ClockTime, base, elapsed time.Duration) int64 {
	if pts == gst.ClockTimeNone {
		return elapsed.Microseconds()
	}
	return (base + time.Duration(pts)).Microseconds()
}

// onPreviewSample runs on the GStreamer streaming thread and must not take
// e.mu.
func (e *Engine) onPreviewSample(p *pipeline, s *app.Sink) gst.FlowReturn {
	data, pts := pullSampleData(s)
	if data == nil || !e.previewOn.Load() {
		return gst.FlowOK
	}
	e.push(engine.Event{
		Kind: engine.EventSample,
		Sample: engine.Sample{
			Data:        data,
			TimestampUs: sampleTimestampUs(pts, p.startedAt.Sub(e.start), time.Since(e.start)),
		},
	})
	return gst.FlowOK
}

// onPhotoSample runs on the GStreamer streaming thread and must not take
// e.mu.
func (e *Engine) onPhotoSample(p *pipeline, s *app.Sink) gst.FlowReturn {
	data, _ := pullSampleData(s)
	path := e.photoPath.Swap(nil)
	if path == nil {
		return gst.FlowOK
	}
	p.closeValve()

	ev := engine.Event{Kind: engine.EventPhotoTaken, Status: engine.StatusOK}
	switch {
	case data == nil:
		ev.Status, ev.Message = engine.StatusFail, "Empty photo frame"
	default:
		if err := os.WriteFile(*path, data, 0o644); err != nil {
			slog.Error("gstengine: failed to write photo", "path", *path, "error", err)
			ev.Status, ev.Message = engine.StatusFail, "Failed to write photo"
			if errors.Is(err, fs.ErrPermission) {
				ev.Status = engine.StatusAccessDenied
			}
		}
	}
	e.push(ev)

	go e.afterPhoto(p)
	return gst.FlowOK
}

// afterPhoto drops a pipeline that only existed for the photo.
func (e *Engine) afterPhoto(p *pipeline) {
	e.mu.Lock()
	e.photoPending = false
	var idle *pipeline
	if e.pipe == p && !e.previewing && !e.recording {
		idle = e.detachLocked()
	}
	e.mu.Unlock()
	stopPipeline(idle)
}

// onBusMessage runs on the pipeline monitor goroutine.
func (e *Engine) onBusMessage(p *pipeline, msg *gst.Message) {
	switch msg.Type() {
	case gst.MessageEOS:
		e.onEOS(p)

	case gst.MessageError:
		gerr := msg.ParseError()
		category := ClassifyGStreamerError(gerr)
		message := "Capture pipeline error"
		if gerr != nil {
			message = gerr.Error()
			slog.Error("gstengine: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"device", e.device,
				"uptime", time.Since(p.startedAt),
			)
		}
		e.onPipelineError(p, category.Status(), message)

	case gst.MessageStateChanged:
		if msg.Source() == p.gst.GetName() {
			oldState, newState := msg.ParseStateChanged()
			slog.Debug("gstengine: pipeline state changed", "from", oldState.String(), "to", newState.String())
			if newState == gst.StatePlaying {
				e.onPlaying(p)
			}
		}
	}
}

func (e *Engine) onPlaying(p *pipeline) {
	e.mu.Lock()
	if e.pipe != p {
		e.mu.Unlock()
		return
	}
	var events []engine.Event
	if e.previewPending {
		e.previewPending = false
		events = append(events, engine.Event{Kind: engine.EventPreviewStarted, Status: engine.StatusOK})
	}
	if e.recordPending {
		e.recordPending = false
		events = append(events, engine.Event{Kind: engine.EventRecordStarted, Status: engine.StatusOK})
	}
	e.mu.Unlock()
	e.pushAll(events)
}

// onEOS finalizes a recording and brings the preview back.
func (e *Engine) onEOS(p *pipeline) {
	e.mu.Lock()
	if e.pipe != p {
		e.mu.Unlock()
		return
	}

	var (
		events []engine.Event
		old    *pipeline
	)
	if e.recordStopping {
		e.recordStopping = false
		e.recording = false
		e.closeFinalizedLocked()
		events = append(events, engine.Event{Kind: engine.EventRecordStopped, Status: engine.StatusOK})

		if e.previewing && !e.released {
			if err := e.restartLocked(); err != nil {
				e.resetLocked()
				events = append(events, engine.Event{Kind: engine.EventError, Status: engine.StatusFail, Message: "Failed to restart preview"})
			}
		} else {
			old = e.detachLocked()
		}
	} else {
		slog.Warn("gstengine: unexpected end of stream", "device", e.device)
		old = e.detachLocked()
		events = append(events, e.branchesStoppedLocked(engine.StatusFail, "End of stream")...)
		e.resetLocked()
		events = append(events, engine.Event{Kind: engine.EventError, Status: engine.StatusFail, Message: "End of stream"})
	}
	e.mu.Unlock()

	stopPipeline(old)
	e.pushAll(events)
}

// onPipelineError fails every pending transition and reports the error.
func (e *Engine) onPipelineError(p *pipeline, status engine.Status, message string) {
	e.mu.Lock()
	if e.pipe != p {
		e.mu.Unlock()
		return
	}

	events := e.branchesStoppedLocked(status, message)
	events = append(events, engine.Event{Kind: engine.EventError, Status: status, Message: message})

	old := e.detachLocked()
	e.resetLocked()
	e.mu.Unlock()

	stopPipeline(old)
	e.pushAll(events)
}

// branchesStoppedLocked fails every pending transition and reports every
// active branch as stopped with status.
func (e *Engine) branchesStoppedLocked(status engine.Status, message string) []engine.Event {
	var events []engine.Event
	switch {
	case e.previewPending:
		events = append(events, engine.Event{Kind: engine.EventPreviewStarted, Status: status, Message: message})
	case e.previewing:
		events = append(events, engine.Event{Kind: engine.EventPreviewStopped, Status: status, Message: message})
	}
	switch {
	case e.recordPending:
		events = append(events, engine.Event{Kind: engine.EventRecordStarted, Status: status, Message: message})
	case e.recording:
		events = append(events, engine.Event{Kind: engine.EventRecordStopped, Status: status, Message: message})
	}
	if e.photoPath.Swap(nil) != nil {
		events = append(events, engine.Event{Kind: engine.EventPhotoTaken, Status: status, Message: message})
	}
	return events
}

func (e *Engine) closeFinalizedLocked() {
	if e.finalized != nil {
		close(e.finalized)
		e.finalized = nil
	}
}

func (e *Engine) resetLocked() {
	e.previewing = false
	e.previewPending = false
	e.recording = false
	e.recordPending = false
	e.recordStopping = false
	e.photoPending = false
	e.previewOn.Store(false)
	e.closeFinalizedLocked()
}

// sink records the stream configuration requested by a handler.
type sink struct {
	kind engine.SinkKind

	mu      sync.Mutex
	streams map[engine.StreamRole]engine.MediaType
	path    string
}

// RemoveAllStreams implements engine.Sink.
func (s *sink) RemoveAllStreams() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = nil
	return nil
}

// AddStream implements engine.Sink.
func (s *sink) AddStream(role engine.StreamRole, mt engine.MediaType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams == nil {
		s.streams = make(map[engine.StreamRole]engine.MediaType)
	}
	s.streams[role] = mt
	return nil
}

// SetOutputFile implements engine.Sink.
func (s *sink) SetOutputFile(path string) error {
	if s.kind == engine.SinkPreview {
		return engine.ErrNotSupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	return nil
}

func (s *sink) stream(role engine.StreamRole) (engine.MediaType, bool) {
	if s == nil {
		return engine.MediaType{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.streams[role]
	return mt, ok
}

func (s *sink) outputPath() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}
