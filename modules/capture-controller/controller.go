package capturecontroller

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/internal/handler"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/texture"
)

// engineState tracks the capture engine lifecycle.
type engineState int

const (
	stateUninitialized engineState = iota
	stateInitializing
	stateInitialized
)

func (s engineState) String() string {
	switch s {
	case stateInitializing:
		return "initializing"
	case stateInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// outcome is a deferred Listener call, run after the controller lock is
// released.
type outcome func(Listener)

// Controller drives one capture engine through initialization, preview,
// photo capture and recording.
//
// Operations are requests: they return once the engine call has been issued
// and report their outcome through the Listener, either right away (for
// precondition failures and synchronous operations) or when the matching
// engine event arrives through Handle.
type Controller struct {
	platform engine.Platform

	mu       sync.Mutex
	listener Listener
	state    engineState
	closed   bool

	eng     engine.Engine
	video   engine.Source
	audio   engine.Source
	texture *texture.Handler

	audioEnabled bool
	preset       ResolutionPreset
	previewSize  Size
	captureType  *engine.MediaType

	preview *handler.Preview
	photo   *handler.Photo
	record  *handler.Record

	lastTimestampUs int64

	framesReceived  atomic.Uint64
	framesPublished atomic.Uint64
	framesDropped   atomic.Uint64
	eventsIgnored   atomic.Uint64
}

// New creates a controller that builds its engine from platform and
// reports to listener.
func New(platform engine.Platform, listener Listener) *Controller {
	return &Controller{
		platform: platform,
		listener: listener,
	}
}

// unlockAndNotify releases the lock and runs the collected outcomes.
func (c *Controller) unlockAndNotify(outs []outcome) {
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return
	}
	for _, o := range outs {
		o(l)
	}
}

// InitCaptureDevice creates the engine for deviceID and starts its
// asynchronous initialization.
//
// This method:
//  1. Rejects the call if the engine is initialized or initializing
//  2. Creates the engine and opens the video (and optionally audio) source
//  3. Issues the engine initialize call
//
// The texture is registered and the outcome reported when EventInitialized
// arrives. Any failure tears down everything that was created and is both
// returned and reported through OnCreateCaptureEngineFailed.
func (c *Controller) InitCaptureDevice(registrar texture.Registrar, deviceID string, enableAudio bool, preset ResolutionPreset) error {
	c.mu.Lock()

	fail := func(err *Error) error {
		c.unlockAndNotify([]outcome{func(l Listener) { l.OnCreateCaptureEngineFailed(err) }})
		return err
	}

	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrDisposed
	case c.state == stateInitialized:
		return fail(ErrAlreadyInitialized)
	case c.state == stateInitializing:
		return fail(ErrInitializationAlreadyPending)
	}

	c.audioEnabled = enableAudio
	c.preset = preset
	c.texture = texture.NewHandler(registrar)

	eng, err := c.platform.NewEngine()
	if err != nil {
		slog.Error("capture-controller: failed to create engine", "device", deviceID, "error", err)
		c.releaseLocked()
		return fail(engineError(err, "Failed to create capture engine"))
	}
	c.eng = eng

	c.video, err = c.platform.VideoSource(deviceID)
	if err != nil {
		slog.Error("capture-controller: failed to open video source", "device", deviceID, "error", err)
		c.releaseLocked()
		return fail(engineError(err, "Failed to create video source"))
	}

	if enableAudio {
		c.audio, err = c.platform.DefaultAudioSource()
		if err != nil {
			slog.Error("capture-controller: failed to open audio source", "error", err)
			c.releaseLocked()
			return fail(engineError(err, "Failed to create audio source"))
		}
	}

	c.state = stateInitializing
	if err := c.eng.Initialize(c, c.video, c.audio); err != nil {
		slog.Error("capture-controller: engine initialize rejected", "device", deviceID, "error", err)
		c.releaseLocked()
		return fail(engineError(err, "Failed to initialize capture engine"))
	}

	slog.Info("capture-controller: initializing capture engine",
		"device", deviceID,
		"audio", enableAudio,
		"preset", preset.String(),
	)
	c.mu.Unlock()
	return nil
}

// StartPreview configures the preview sink and starts the preview. Success
// is reported with the first delivered frame.
func (c *Controller) StartPreview() {
	c.mu.Lock()
	c.unlockAndNotify(c.startPreviewLocked())
}

func (c *Controller) startPreviewLocked() []outcome {
	failed := func(err *Error) []outcome {
		return []outcome{func(l Listener) { l.OnStartPreviewFailed(err) }}
	}

	if c.state != stateInitialized {
		return failed(ErrNotInitialized)
	}

	if c.preview != nil {
		switch {
		case c.preview.IsRunning(), c.preview.IsPaused():
			size := c.previewSize
			return []outcome{func(l Listener) { l.OnStartPreviewSucceeded(size) }}
		case c.preview.IsStarting():
			// The first frame resolves it.
			return nil
		case c.preview.State() == handler.StateStopping:
			return failed(&Error{Code: CodeError, Message: "Preview is stopping"})
		}
	}

	types, err := c.eng.AvailableMediaTypes(engine.RolePreview)
	if err != nil {
		slog.Error("capture-controller: failed to enumerate preview media types", "error", err)
		return failed(engineError(err, "Failed to enumerate preview media types"))
	}
	mt, ok := FindBestMediaType(types, c.preset.MaxPreviewHeight())
	if !ok {
		return failed(&Error{Code: CodeError, Message: "Failed to find a suitable preview media type"})
	}

	c.previewSize = Size{Width: mt.Width, Height: mt.Height}
	c.texture.SetSize(int(mt.Width), int(mt.Height))

	if c.preview == nil {
		c.preview = handler.NewPreview()
	}
	if err := c.preview.Start(c.eng, mt); err != nil {
		slog.Error("capture-controller: failed to start preview", "error", err)
		c.preview = nil
		return failed(engineError(err, "Failed to start preview"))
	}

	slog.Debug("capture-controller: preview requested",
		"width", mt.Width,
		"height", mt.Height,
		"fps", mt.FrameRate(),
	)
	return nil
}

// PausePreview stops publishing frames to the texture.
func (c *Controller) PausePreview() {
	c.mu.Lock()
	var outs []outcome
	if c.state != stateInitialized || c.preview == nil || c.preview.Pause() != nil {
		outs = append(outs, func(l Listener) { l.OnPausePreviewFailed(ErrPreviewNotStarted) })
	} else {
		outs = append(outs, func(l Listener) { l.OnPausePreviewSucceeded() })
	}
	c.unlockAndNotify(outs)
}

// ResumePreview resumes publishing frames to the texture.
func (c *Controller) ResumePreview() {
	c.mu.Lock()
	var outs []outcome
	switch {
	case c.state != stateInitialized || c.preview == nil:
		outs = append(outs, func(l Listener) { l.OnResumePreviewFailed(ErrPreviewNotStarted) })
	case c.preview.Resume() != nil:
		outs = append(outs, func(l Listener) { l.OnResumePreviewFailed(ErrPreviewNotPaused) })
	default:
		outs = append(outs, func(l Listener) { l.OnResumePreviewSucceeded() })
	}
	c.unlockAndNotify(outs)
}

// StopPreview asks the engine to stop the preview. It is a no-op when no
// preview is active. Completion is confirmed by EventPreviewStopped.
func (c *Controller) StopPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopPreviewLocked()
}

func (c *Controller) stopPreviewLocked() error {
	if c.eng == nil || c.preview == nil {
		return nil
	}
	switch c.preview.State() {
	case handler.StateNotStarted, handler.StateStopping:
		return nil
	}
	if err := c.preview.Stop(c.eng); err != nil {
		c.preview = nil
		return engineError(err, "Failed to stop preview")
	}
	return nil
}

// TakePicture captures a still image into path.
func (c *Controller) TakePicture(path string) {
	c.mu.Lock()
	c.unlockAndNotify(c.takePictureLocked(path))
}

func (c *Controller) takePictureLocked(path string) []outcome {
	failed := func(err *Error) []outcome {
		return []outcome{func(l Listener) { l.OnTakePictureFailed(err) }}
	}

	if c.state != stateInitialized {
		return failed(ErrNotInitialized)
	}
	if c.photo != nil && c.photo.IsTaking() {
		return failed(ErrAlreadyCapturing)
	}

	mt, err := c.captureMediaTypeLocked()
	if err != nil {
		return failed(err)
	}

	if c.photo == nil {
		c.photo = handler.NewPhoto()
	}
	if err := c.photo.TakePhoto(c.eng, path, mt); err != nil {
		slog.Error("capture-controller: failed to take photo", "path", path, "error", err)
		if c.photo.State() == handler.StateNotStarted {
			c.photo = nil
		}
		return failed(engineError(err, "Failed to take photo"))
	}
	return nil
}

// StartRecord starts a recording into path. maxDurationMs < 0 records until
// StopRecord; otherwise the controller stops the recording itself once the
// frame timestamps cover maxDurationMs.
func (c *Controller) StartRecord(path string, maxDurationMs int64) {
	c.mu.Lock()
	c.unlockAndNotify(c.startRecordLocked(path, maxDurationMs))
}

func (c *Controller) startRecordLocked(path string, maxDurationMs int64) []outcome {
	failed := func(err *Error) []outcome {
		return []outcome{func(l Listener) { l.OnStartRecordFailed(err) }}
	}

	if c.state != stateInitialized {
		return failed(ErrNotInitialized)
	}
	if c.record != nil {
		switch {
		case c.record.IsStarting():
			return failed(ErrStartAlreadyRequested)
		case !c.record.CanStart():
			return failed(ErrAlreadyRecording)
		}
	}

	mt, err := c.captureMediaTypeLocked()
	if err != nil {
		return failed(err)
	}

	if c.record == nil {
		c.record = handler.NewRecord(c.audioEnabled && c.audio != nil)
	}
	if err := c.record.Start(c.eng, path, maxDurationMs, mt); err != nil {
		slog.Error("capture-controller: failed to start recording", "path", path, "error", err)
		return failed(engineError(err, "Failed to start video recording"))
	}

	slog.Info("capture-controller: recording requested",
		"path", path,
		"type", c.record.Type().String(),
		"max_duration_ms", maxDurationMs,
	)
	return nil
}

// StopRecord stops the running recording.
func (c *Controller) StopRecord() {
	c.mu.Lock()
	c.unlockAndNotify(c.stopRecordLocked())
}

func (c *Controller) stopRecordLocked() []outcome {
	failed := func(err *Error) []outcome {
		return []outcome{func(l Listener) { l.OnStopRecordFailed(err) }}
	}

	if c.state != stateInitialized {
		return failed(ErrNotInitialized)
	}
	if c.record == nil {
		return failed(ErrNotRecording)
	}
	switch {
	case c.record.IsStopping():
		return failed(ErrStopAlreadyRequested)
	case !c.record.CanStop():
		return failed(ErrNotRecording)
	}

	if err := c.record.Stop(c.eng); err != nil {
		slog.Error("capture-controller: failed to stop recording", "error", err)
		c.record.Abort()
		return failed(engineError(err, "Failed to stop video recording"))
	}
	return nil
}

// stopTimedRecordLocked stops a timed recording that reached its maximum
// duration. Only failures are reported here; success arrives with
// EventRecordStopped.
func (c *Controller) stopTimedRecordLocked() []outcome {
	slog.Info("capture-controller: max video duration reached, stopping recording",
		"path", c.record.Path(),
		"elapsed_ms", c.record.RecordedDurationMs(),
		"max_duration_ms", c.record.MaxDurationMs(),
	)
	if err := c.record.Stop(c.eng); err != nil {
		slog.Error("capture-controller: failed to stop timed recording", "error", err)
		c.record.Abort()
		e := engineError(err, "Failed to stop video recording")
		return []outcome{
			func(l Listener) { l.OnStopRecordFailed(e) },
			func(l Listener) { l.OnVideoRecordFailed(e) },
		}
	}
	return nil
}

// captureMediaTypeLocked returns the largest capture media type, querying
// the engine once.
func (c *Controller) captureMediaTypeLocked() (engine.MediaType, *Error) {
	if c.captureType != nil {
		return *c.captureType, nil
	}
	types, err := c.eng.AvailableMediaTypes(engine.RoleRecord)
	if err != nil {
		slog.Error("capture-controller: failed to enumerate capture media types", "error", err)
		return engine.MediaType{}, engineError(err, "Failed to enumerate capture media types")
	}
	mt, ok := FindBestMediaType(types, math.MaxUint32)
	if !ok {
		return engine.MediaType{}, &Error{Code: CodeError, Message: "Failed to find a suitable capture media type"}
	}
	c.captureType = &mt
	return mt, nil
}

// Handle is the single entry point of the engine event stream. It runs on
// the engine callback goroutine.
func (c *Controller) Handle(ev engine.Event) {
	c.mu.Lock()

	if c.closed || c.eng == nil || c.state == stateUninitialized {
		c.mu.Unlock()
		c.eventsIgnored.Add(1)
		slog.Debug("capture-controller: ignoring event, engine released", "event", ev.Kind.String())
		return
	}
	if c.state == stateInitializing && ev.Kind != engine.EventInitialized && ev.Kind != engine.EventError {
		c.mu.Unlock()
		c.eventsIgnored.Add(1)
		slog.Debug("capture-controller: ignoring event during initialization", "event", ev.Kind.String())
		return
	}

	var outs []outcome
	switch ev.Kind {
	case engine.EventInitialized:
		outs = c.onEngineInitializedLocked(ev)
	case engine.EventError:
		outs = c.onEngineErrorLocked(ev)
	case engine.EventPreviewStarted:
		outs = c.onPreviewStartedLocked(ev)
	case engine.EventPreviewStopped:
		c.onPreviewStoppedLocked(ev)
	case engine.EventRecordStarted:
		outs = c.onRecordStartedLocked(ev)
	case engine.EventRecordStopped:
		outs = c.onRecordStoppedLocked(ev)
	case engine.EventPhotoTaken:
		outs = c.onPhotoTakenLocked(ev)
	case engine.EventSample:
		outs = c.onSampleLocked(ev.Sample)
	default:
		slog.Warn("capture-controller: unknown engine event", "kind", int(ev.Kind))
	}
	c.unlockAndNotify(outs)
}

func (c *Controller) onEngineInitializedLocked(ev engine.Event) []outcome {
	if c.state != stateInitializing {
		return nil
	}
	if ev.Failed() {
		err := eventError(ev, "Failed to initialize capture engine")
		slog.Error("capture-controller: engine initialization failed", "status", ev.Status.String(), "code", err.Code)
		c.releaseLocked()
		return []outcome{func(l Listener) { l.OnCreateCaptureEngineFailed(err) }}
	}

	id, err := c.texture.Register()
	if err != nil {
		slog.Error("capture-controller: failed to register texture", "error", err)
		c.releaseLocked()
		e := &Error{Code: CodeError, Message: "Failed to create texture_id"}
		return []outcome{func(l Listener) { l.OnCreateCaptureEngineFailed(e) }}
	}

	c.state = stateInitialized
	slog.Info("capture-controller: capture engine initialized", "texture_id", id)
	return []outcome{func(l Listener) { l.OnCreateCaptureEngineSucceeded(id) }}
}

func (c *Controller) onEngineErrorLocked(ev engine.Event) []outcome {
	err := eventError(ev, "Capture engine error")
	slog.Error("capture-controller: engine error",
		"status", ev.Status.String(),
		"code", err.Code,
		"message", err.Message,
	)
	if c.state == stateInitializing {
		c.releaseLocked()
		return []outcome{func(l Listener) { l.OnCreateCaptureEngineFailed(err) }}
	}

	outs := []outcome{func(l Listener) { l.OnCaptureError(err) }}

	// The engine drops every branch on error. A later StartPreview or
	// StartRecord has to go back to the engine.
	if c.preview != nil {
		slog.Warn("capture-controller: preview dropped after engine error", "state", c.preview.State())
		c.preview = nil
	}
	if c.record != nil && !c.record.CanStart() {
		timed := c.record.IsTimed()
		slog.Warn("capture-controller: recording dropped after engine error",
			"path", c.record.Path(),
			"state", c.record.State(),
			"elapsed_ms", c.record.RecordedDurationMs(),
		)
		c.record.Abort()
		if timed {
			outs = append(outs, func(l Listener) { l.OnVideoRecordFailed(err) })
		}
	}
	if c.photo != nil && c.photo.IsTaking() {
		c.photo.OnPhotoTaken()
	}
	return outs
}

// onPreviewStartedLocked only handles failures. Success is reported with the
// first frame because the engine may report a start right before an error.
func (c *Controller) onPreviewStartedLocked(ev engine.Event) []outcome {
	if !ev.Failed() {
		slog.Debug("capture-controller: preview started event, waiting for first frame")
		return nil
	}
	c.preview = nil
	err := eventError(ev, "Failed to start preview")
	return []outcome{func(l Listener) { l.OnStartPreviewFailed(err) }}
}

func (c *Controller) onPreviewStoppedLocked(ev engine.Event) {
	if c.preview != nil {
		c.preview.OnStopped()
	}
	c.preview = nil
	slog.Debug("capture-controller: preview stopped", "status", ev.Status.String())
}

func (c *Controller) onRecordStartedLocked(ev engine.Event) []outcome {
	if c.record == nil || !c.record.IsStarting() {
		return nil
	}
	if ev.Failed() {
		c.record.Abort()
		err := eventError(ev, "Failed to start video recording")
		return []outcome{func(l Listener) { l.OnStartRecordFailed(err) }}
	}
	c.record.OnStarted()
	slog.Info("capture-controller: recording started", "path", c.record.Path())
	return []outcome{func(l Listener) { l.OnStartRecordSucceeded() }}
}

// onRecordStoppedLocked reports the stop result, and for timed recordings
// the video-recorded notification as well.
func (c *Controller) onRecordStoppedLocked(ev engine.Event) []outcome {
	if c.record == nil || !c.record.IsStopping() {
		return nil
	}

	path := c.record.Path()
	durationMs := c.record.RecordedDurationMs()
	timed := c.record.IsTimed()

	if ev.Failed() {
		c.record.Abort()
		err := eventError(ev, "Failed to record video")
		outs := []outcome{func(l Listener) { l.OnStopRecordFailed(err) }}
		if timed {
			outs = append(outs, func(l Listener) { l.OnVideoRecordFailed(err) })
		}
		return outs
	}

	c.record.OnStopped()
	slog.Info("capture-controller: recording stopped", "path", path, "duration_ms", durationMs, "timed", timed)
	outs := []outcome{func(l Listener) { l.OnStopRecordSucceeded(path) }}
	if timed {
		outs = append(outs, func(l Listener) { l.OnVideoRecordSucceeded(path, durationMs) })
	}
	return outs
}

func (c *Controller) onPhotoTakenLocked(ev engine.Event) []outcome {
	if c.photo == nil || !c.photo.IsTaking() {
		return nil
	}
	path := c.photo.Path()
	c.photo.OnPhotoTaken()
	if ev.Failed() {
		err := eventError(ev, "Failed to take photo")
		return []outcome{func(l Listener) { l.OnTakePictureFailed(err) }}
	}
	slog.Debug("capture-controller: photo taken", "path", path)
	return []outcome{func(l Listener) { l.OnTakePictureSucceeded(path) }}
}

// onSampleLocked handles one preview frame.
//
// This method:
//  1. Records the timestamp
//  2. Reports the preview as started on the first frame after StartPreview
//  3. Advances the recording clock and stops a timed recording at its limit
//  4. Publishes the frame to the texture while the preview runs unpaused
func (c *Controller) onSampleLocked(s engine.Sample) []outcome {
	c.framesReceived.Add(1)
	c.lastTimestampUs = s.TimestampUs

	var outs []outcome
	if c.preview != nil && c.preview.OnStarted() {
		size := c.previewSize
		slog.Info("capture-controller: preview started", "width", size.Width, "height", size.Height)
		outs = append(outs, func(l Listener) { l.OnStartPreviewSucceeded(size) })
	}

	if c.record != nil {
		c.record.UpdateRecordingTime(s.TimestampUs)
		if c.record.ShouldStopTimedRecording() {
			outs = append(outs, c.stopTimedRecordLocked()...)
		}
	}

	if c.state == stateInitialized && c.preview != nil && c.preview.IsRunning() && c.texture.Publish(s.Data) {
		c.framesPublished.Add(1)
	} else {
		c.framesDropped.Add(1)
	}
	return outs
}

// Close stops any recording and preview, releases the engine and its
// sources and unregisters the texture. No Listener call is made once Close
// returns.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.listener = nil

	var errs []error
	if c.eng != nil && c.record != nil && c.record.CanStop() {
		if err := c.record.Stop(c.eng); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.stopPreviewLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := c.releaseLocked(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("capture-controller: closed",
		"frames_received", c.framesReceived.Load(),
		"frames_published", c.framesPublished.Load(),
		"frames_dropped", c.framesDropped.Load(),
	)

	if len(errs) > 0 {
		return fmt.Errorf("capture-controller: close: %v", errs)
	}
	return nil
}

// releaseLocked frees everything in order: preview, record, photo, engine,
// sources, texture.
func (c *Controller) releaseLocked() error {
	var errs []error

	c.preview = nil
	c.record = nil
	c.photo = nil
	c.captureType = nil

	if c.eng != nil {
		if err := c.eng.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release engine: %w", err))
		}
		c.eng = nil
	}
	if c.video != nil {
		if err := c.video.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close video source: %w", err))
		}
		c.video = nil
	}
	if c.audio != nil {
		if err := c.audio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio source: %w", err))
		}
		c.audio = nil
	}
	if c.texture != nil {
		c.texture.Unregister()
	}

	c.state = stateUninitialized
	if len(errs) > 0 {
		slog.Warn("capture-controller: release finished with errors", "errors", errs)
		return fmt.Errorf("%v", errs)
	}
	return nil
}

// IsInitialized reports whether the engine finished initializing.
func (c *Controller) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateInitialized
}

// TextureID returns the registered texture id or texture.NoTexture.
func (c *Controller) TextureID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.texture == nil {
		return texture.NoTexture
	}
	return c.texture.ID()
}

// Stats is a snapshot of the controller state.
type Stats struct {
	EngineState     string
	PreviewState    string
	RecordState     string
	PhotoState      string
	TextureID       int64
	PreviewSize     Size
	LastTimestampUs int64
	FramesReceived  uint64
	FramesPublished uint64
	FramesDropped   uint64
	EventsIgnored   uint64
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		EngineState:     c.state.String(),
		PreviewState:    handler.StateNotStarted,
		RecordState:     handler.StateNotStarted,
		PhotoState:      handler.StateNotStarted,
		TextureID:       texture.NoTexture,
		PreviewSize:     c.previewSize,
		LastTimestampUs: c.lastTimestampUs,
		FramesReceived:  c.framesReceived.Load(),
		FramesPublished: c.framesPublished.Load(),
		FramesDropped:   c.framesDropped.Load(),
		EventsIgnored:   c.eventsIgnored.Load(),
	}
	if c.preview != nil {
		s.PreviewState = c.preview.State()
	}
	if c.record != nil {
		s.RecordState = c.record.State()
	}
	if c.photo != nil {
		s.PhotoState = c.photo.State()
	}
	if c.texture != nil {
		s.TextureID = c.texture.ID()
	}
	return s
}
