package capturecontroller

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/internal/pending"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/texture"
)

// Result is the outcome of one camera request. Only the fields relevant to
// the request are set; Err is nil on success.
type Result struct {
	TextureID   int64
	PreviewSize Size
	Path        string
	Err         *Error
}

// ResultFunc receives the outcome of a camera request exactly once.
type ResultFunc func(Result)

// EventSink receives camera notifications that are not tied to a request.
type EventSink interface {
	VideoRecorded(cameraID int64, path string, durationMs int64)
	CaptureError(cameraID int64, description string)
	CameraClosing(cameraID int64)
}

// Camera is the caller-facing side of a Controller. Every request takes a
// ResultFunc that is called exactly once: with the outcome, with an
// immediate error when an identical request is still pending, or with
// ErrDisposed when the camera is disposed first. No ResultFunc is started
// once Dispose has returned.
type Camera struct {
	deviceID   string
	sink       EventSink
	controller *Controller
	pending    *pending.Registry[ResultFunc]

	// mu orders taking a request out of pending against Dispose. It is
	// never held while a ResultFunc runs.
	mu       sync.Mutex
	disposed atomic.Bool
	failing  map[*failBatch]struct{}

	id atomic.Int64
}

// failBatch holds the requests an engine error fails one at a time. Dispose
// takes over whatever is left in it.
type failBatch struct {
	dones []ResultFunc
}

// NewCamera creates a camera for deviceID. sink may be nil.
func NewCamera(deviceID string, platform engine.Platform, sink EventSink) *Camera {
	c := &Camera{
		deviceID: deviceID,
		sink:     sink,
		pending:  pending.New[ResultFunc](),
		failing:  make(map[*failBatch]struct{}),
	}
	c.id.Store(texture.NoTexture)
	c.controller = New(platform, c)
	return c
}

// ID returns the camera id, which is the texture id once the camera has been
// created, or texture.NoTexture before that.
func (c *Camera) ID() int64 { return c.id.Load() }

// DeviceID returns the capture device this camera drives.
func (c *Camera) DeviceID() string { return c.deviceID }

// Stats returns the controller snapshot.
func (c *Camera) Stats() Stats { return c.controller.Stats() }

// Pending returns the number of outstanding requests.
func (c *Camera) Pending() int { return c.pending.Len() }

// Disposed reports whether Dispose has been called.
func (c *Camera) Disposed() bool { return c.disposed.Load() }

// duplicateError maps a rejected duplicate request to its error.
func duplicateError(kind pending.Kind) *Error {
	switch kind {
	case pending.CreateCamera:
		return ErrInitializationAlreadyPending
	case pending.TakePicture:
		return ErrAlreadyCapturing
	case pending.StartRecord:
		return ErrStartAlreadyRequested
	case pending.StopRecord:
		return ErrStopAlreadyRequested
	default:
		return ErrDuplicateRequest
	}
}

// add registers done for kind. It answers done immediately and returns false
// when the request cannot be registered.
func (c *Camera) add(kind pending.Kind, done ResultFunc) bool {
	if done == nil {
		done = func(Result) {}
	}

	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		done(Result{Err: ErrDisposed})
		return false
	}
	added := c.pending.Add(kind, done)
	c.mu.Unlock()

	if !added {
		slog.Warn("capture-controller: duplicate request rejected",
			"device", c.deviceID,
			"request", kind.String(),
		)
		done(Result{Err: duplicateError(kind)})
		return false
	}
	return true
}

// take removes the request for kind. It finds nothing once the camera is
// disposed, since Dispose fails every request itself.
func (c *Camera) take(kind pending.Kind) (ResultFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return nil, false
	}
	return c.pending.Resolve(kind)
}

func (c *Camera) resolve(kind pending.Kind, r Result) {
	done, ok := c.take(kind)
	if !ok {
		slog.Debug("capture-controller: no pending request for result",
			"device", c.deviceID,
			"request", kind.String(),
		)
		return
	}
	done(r)
}

// nextFailing pops the next request of b, or reports false when b is done
// or Dispose took it over.
func (c *Camera) nextFailing(b *failBatch) (ResultFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() || len(b.dones) == 0 {
		delete(c.failing, b)
		return nil, false
	}
	done := b.dones[0]
	b.dones = b.dones[1:]
	return done, true
}

// Create initializes the capture engine and registers the preview texture.
// On success the result carries the texture id.
func (c *Camera) Create(registrar texture.Registrar, enableAudio bool, preset ResolutionPreset, done ResultFunc) {
	if !c.add(pending.CreateCamera, done) {
		return
	}
	if err := c.controller.InitCaptureDevice(registrar, c.deviceID, enableAudio, preset); err != nil {
		// Already reported through the listener unless the controller was
		// closed underneath us.
		c.resolve(pending.CreateCamera, Result{Err: asError(err)})
	}
}

// Initialize starts the preview. The result carries the preview size and is
// delivered with the first frame.
func (c *Camera) Initialize(done ResultFunc) {
	if c.add(pending.Initialize, done) {
		c.controller.StartPreview()
	}
}

// PausePreview stops publishing frames to the texture.
func (c *Camera) PausePreview(done ResultFunc) {
	if c.add(pending.PausePreview, done) {
		c.controller.PausePreview()
	}
}

// ResumePreview resumes a paused preview.
func (c *Camera) ResumePreview(done ResultFunc) {
	if c.add(pending.ResumePreview, done) {
		c.controller.ResumePreview()
	}
}

// StopPreview stops the preview without waiting for the engine.
func (c *Camera) StopPreview() error {
	return c.controller.StopPreview()
}

// TakePicture captures a still image into path. The result carries the path.
func (c *Camera) TakePicture(path string, done ResultFunc) {
	if c.add(pending.TakePicture, done) {
		c.controller.TakePicture(path)
	}
}

// StartRecord starts recording into path. A negative maxDurationMs records
// until StopRecord; otherwise the recording stops itself and the EventSink
// receives VideoRecorded.
func (c *Camera) StartRecord(path string, maxDurationMs int64, done ResultFunc) {
	if c.add(pending.StartRecord, done) {
		c.controller.StartRecord(path, maxDurationMs)
	}
}

// StopRecord stops the recording. The result carries the recorded file path.
func (c *Camera) StopRecord(done ResultFunc) {
	if c.add(pending.StopRecord, done) {
		c.controller.StopRecord()
	}
}

// Dispose closes the controller and fails every outstanding request with
// ErrDisposed. Later requests fail immediately with ErrDisposed. A
// ResultFunc may call Dispose; one that is already running when Dispose is
// called is not waited for.
func (c *Camera) Dispose() error {
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.disposed.Store(true)
	drained := c.pending.Drain()
	for b := range c.failing {
		drained = append(drained, b.dones...)
		b.dones = nil
	}
	clear(c.failing)
	c.mu.Unlock()

	if id := c.ID(); id >= 0 && c.sink != nil {
		c.sink.CameraClosing(id)
	}

	err := c.controller.Close()

	for _, done := range drained {
		done(Result{Err: ErrDisposed})
	}

	slog.Info("capture-controller: camera disposed",
		"device", c.deviceID,
		"camera_id", c.ID(),
		"pending_failed", len(drained),
	)
	return err
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeError, Message: err.Error()}
}

// Listener implementation. Calls after Dispose are ignored.

func (c *Camera) OnCreateCaptureEngineSucceeded(textureID int64) {
	if c.disposed.Load() {
		return
	}
	c.id.Store(textureID)
	c.resolve(pending.CreateCamera, Result{TextureID: textureID})
}

func (c *Camera) OnCreateCaptureEngineFailed(err *Error) {
	c.resolve(pending.CreateCamera, Result{TextureID: texture.NoTexture, Err: err})
}

func (c *Camera) OnStartPreviewSucceeded(size Size) {
	c.resolve(pending.Initialize, Result{TextureID: c.ID(), PreviewSize: size})
}

func (c *Camera) OnStartPreviewFailed(err *Error) {
	c.resolve(pending.Initialize, Result{Err: err})
}

func (c *Camera) OnPausePreviewSucceeded() {
	c.resolve(pending.PausePreview, Result{})
}

func (c *Camera) OnPausePreviewFailed(err *Error) {
	c.resolve(pending.PausePreview, Result{Err: err})
}

func (c *Camera) OnResumePreviewSucceeded() {
	c.resolve(pending.ResumePreview, Result{})
}

func (c *Camera) OnResumePreviewFailed(err *Error) {
	c.resolve(pending.ResumePreview, Result{Err: err})
}

func (c *Camera) OnStartRecordSucceeded() {
	c.resolve(pending.StartRecord, Result{})
}

func (c *Camera) OnStartRecordFailed(err *Error) {
	c.resolve(pending.StartRecord, Result{Err: err})
}

func (c *Camera) OnStopRecordSucceeded(path string) {
	c.resolve(pending.StopRecord, Result{Path: path})
}

func (c *Camera) OnStopRecordFailed(err *Error) {
	c.resolve(pending.StopRecord, Result{Err: err})
}

func (c *Camera) OnTakePictureSucceeded(path string) {
	c.resolve(pending.TakePicture, Result{Path: path})
}

func (c *Camera) OnTakePictureFailed(err *Error) {
	c.resolve(pending.TakePicture, Result{Err: err})
}

func (c *Camera) OnVideoRecordSucceeded(path string, durationMs int64) {
	if c.disposed.Load() || c.sink == nil {
		return
	}
	c.sink.VideoRecorded(c.ID(), path, durationMs)
}

// OnVideoRecordFailed only logs. The failure already reached the StopRecord
// request, if any, and the sink has no failure notification for a timed
// recording.
func (c *Camera) OnVideoRecordFailed(err *Error) {
	slog.Warn("capture-controller: timed recording failed",
		"device", c.deviceID,
		"camera_id", c.ID(),
		"code", err.Code,
		"error", err.Message,
	)
}

// OnCaptureError notifies the sink and fails every outstanding request with
// err.
func (c *Camera) OnCaptureError(err *Error) {
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return
	}
	b := &failBatch{dones: c.pending.Drain()}
	c.failing[b] = struct{}{}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.CaptureError(c.ID(), err.Message)
	}
	for {
		done, ok := c.nextFailing(b)
		if !ok {
			return
		}
		done(Result{Err: err})
	}
}
