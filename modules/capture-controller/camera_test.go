package capturecontroller

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine/enginetest"
)

// collector records every Result delivered to the ResultFuncs it hands out.
type collector struct {
	mu  sync.Mutex
	got map[string][]Result
}

func newCollector() *collector {
	return &collector{got: make(map[string][]Result)}
}

func (c *collector) fn(name string) ResultFunc {
	return func(r Result) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.got[name] = append(c.got[name], r)
	}
}

func (c *collector) results(name string) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.got[name]...)
}

// one returns the single result delivered under name.
func (c *collector) one(t *testing.T, name string) Result {
	t.Helper()
	got := c.results(name)
	if len(got) != 1 {
		t.Fatalf("%s resolved %d times, want 1", name, len(got))
	}
	return got[0]
}

func (c *collector) none(t *testing.T, name string) {
	t.Helper()
	if got := c.results(name); len(got) != 0 {
		t.Fatalf("%s resolved early: %+v", name, got)
	}
}

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeSink) add(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeSink) VideoRecorded(id int64, path string, durationMs int64) {
	s.add(fmt.Sprintf("video_recorded %d %s %d", id, path, durationMs))
}

func (s *fakeSink) CaptureError(id int64, description string) {
	s.add(fmt.Sprintf("error %d %s", id, description))
}

func (s *fakeSink) CameraClosing(id int64) {
	s.add(fmt.Sprintf("camera_closing %d", id))
}

type cameraFixture struct {
	cam  *Camera
	eng  *enginetest.Engine
	reg  *fakeRegistrar
	sink *fakeSink
	res  *collector
}

func newCameraFixture() *cameraFixture {
	eng := enginetest.NewEngine()
	f := &cameraFixture{
		eng:  eng,
		reg:  newFakeRegistrar(),
		sink: &fakeSink{},
		res:  newCollector(),
	}
	f.cam = NewCamera("/dev/video0", enginetest.NewPlatform(eng), f.sink)
	return f
}

// newCreatedCamera returns a camera whose engine is initialized.
func newCreatedCamera(t *testing.T) *cameraFixture {
	t.Helper()
	f := newCameraFixture()
	f.cam.Create(f.reg, false, PresetAuto, f.res.fn("create"))
	f.eng.EmitStatus(engine.EventInitialized, engine.StatusOK)
	if r := f.res.one(t, "create"); r.Err != nil {
		t.Fatalf("create: %v", r.Err)
	}
	return f
}

func TestCameraCreate(t *testing.T) {
	f := newCameraFixture()
	if f.cam.ID() != -1 {
		t.Errorf("ID before create = %d", f.cam.ID())
	}

	f.cam.Create(f.reg, false, PresetAuto, f.res.fn("create"))
	f.res.none(t, "create")

	f.cam.Create(f.reg, false, PresetAuto, f.res.fn("dup"))
	dup := f.res.one(t, "dup")
	if !errors.Is(dup.Err, ErrInitializationAlreadyPending) {
		t.Errorf("duplicate create = %v", dup.Err)
	}

	f.eng.EmitStatus(engine.EventInitialized, engine.StatusOK)
	r := f.res.one(t, "create")
	if r.Err != nil || r.TextureID != 7 {
		t.Fatalf("create = %+v", r)
	}
	if f.cam.ID() != 7 {
		t.Errorf("ID = %d, want 7", f.cam.ID())
	}

	f.cam.Create(f.reg, false, PresetAuto, f.res.fn("again"))
	if r := f.res.one(t, "again"); !errors.Is(r.Err, ErrAlreadyInitialized) {
		t.Errorf("create after init = %v", r.Err)
	}
	t.Logf("✅ Camera created with id %d", f.cam.ID())
}

func TestCameraCreateFailure(t *testing.T) {
	f := newCameraFixture()
	f.cam.Create(f.reg, false, PresetAuto, f.res.fn("create"))
	f.eng.EmitStatus(engine.EventInitialized, engine.StatusAccessDenied)

	r := f.res.one(t, "create")
	if r.Err == nil || r.Err.Code != CodeAccessDenied {
		t.Fatalf("create = %+v", r)
	}
	if f.cam.Pending() != 0 {
		t.Errorf("pending = %d", f.cam.Pending())
	}
}

func TestCameraInitializeStartsPreview(t *testing.T) {
	f := newCreatedCamera(t)

	f.cam.Initialize(f.res.fn("init"))
	f.res.none(t, "init")

	f.eng.EmitFrame(1280, 720, 0)
	r := f.res.one(t, "init")
	if r.Err != nil || r.PreviewSize != (Size{Width: 1280, Height: 720}) || r.TextureID != 7 {
		t.Fatalf("init = %+v", r)
	}

	f.cam.PausePreview(f.res.fn("pause"))
	if r := f.res.one(t, "pause"); r.Err != nil {
		t.Errorf("pause = %v", r.Err)
	}
	f.cam.ResumePreview(f.res.fn("resume"))
	if r := f.res.one(t, "resume"); r.Err != nil {
		t.Errorf("resume = %v", r.Err)
	}
	f.cam.ResumePreview(f.res.fn("resume2"))
	if r := f.res.one(t, "resume2"); r.Err == nil || r.Err.Code != CodeNotStarted {
		t.Errorf("resume while running = %+v", r.Err)
	}

	if err := f.cam.StopPreview(); err != nil {
		t.Errorf("StopPreview: %v", err)
	}
	if f.eng.Calls(enginetest.OpStopPreview) != 1 {
		t.Error("engine StopPreview not called")
	}
}

func TestCameraDuplicateRequests(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *cameraFixture)
		issue   func(f *cameraFixture, done ResultFunc)
		want    *Error
	}{
		{
			name:  "initialize",
			issue: func(f *cameraFixture, done ResultFunc) { f.cam.Initialize(done) },
			want:  ErrDuplicateRequest,
		},
		{
			name:  "take picture",
			issue: func(f *cameraFixture, done ResultFunc) { f.cam.TakePicture("/media/p.jpeg", done) },
			want:  ErrAlreadyCapturing,
		},
		{
			name:  "start record",
			issue: func(f *cameraFixture, done ResultFunc) { f.cam.StartRecord("/media/v.mp4", -1, done) },
			want:  ErrStartAlreadyRequested,
		},
		{
			name: "stop record",
			prepare: func(f *cameraFixture) {
				f.cam.StartRecord("/media/v.mp4", -1, f.res.fn("start"))
				f.eng.EmitStatus(engine.EventRecordStarted, engine.StatusOK)
			},
			issue: func(f *cameraFixture, done ResultFunc) { f.cam.StopRecord(done) },
			want:  ErrStopAlreadyRequested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCreatedCamera(t)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			tt.issue(f, f.res.fn("first"))
			f.res.none(t, "first")

			tt.issue(f, f.res.fn("second"))
			r := f.res.one(t, "second")
			if r.Err == nil || r.Err.Code != tt.want.Code {
				t.Fatalf("duplicate = %+v, want %s", r.Err, tt.want.Code)
			}

			// The first request is untouched and still resolves on dispose.
			_ = f.cam.Dispose()
			if r := f.res.one(t, "first"); !errors.Is(r.Err, ErrDisposed) {
				t.Errorf("first after dispose = %v", r.Err)
			}
		})
	}
}

func TestCameraPictureAndRecording(t *testing.T) {
	f := newCreatedCamera(t)

	f.cam.TakePicture("/media/PhotoCapture_1.jpeg", f.res.fn("picture"))
	f.eng.EmitStatus(engine.EventPhotoTaken, engine.StatusOK)
	if r := f.res.one(t, "picture"); r.Err != nil || r.Path != "/media/PhotoCapture_1.jpeg" {
		t.Fatalf("picture = %+v", r)
	}

	f.cam.StartRecord("/media/VideoCapture_1.mp4", -1, f.res.fn("start"))
	f.eng.EmitStatus(engine.EventRecordStarted, engine.StatusOK)
	if r := f.res.one(t, "start"); r.Err != nil {
		t.Fatalf("start = %v", r.Err)
	}

	f.cam.StopRecord(f.res.fn("stop"))
	f.eng.EmitStatus(engine.EventRecordStopped, engine.StatusOK)
	if r := f.res.one(t, "stop"); r.Err != nil || r.Path != "/media/VideoCapture_1.mp4" {
		t.Fatalf("stop = %+v", r)
	}
	if events := f.sink.all(); len(events) != 0 {
		t.Errorf("continuous recording notified %v", events)
	}
}

func TestCameraTimedRecordingNotifies(t *testing.T) {
	f := newCreatedCamera(t)

	f.cam.StartRecord("/media/timed.mp4", 500, f.res.fn("start"))
	f.eng.EmitStatus(engine.EventRecordStarted, engine.StatusOK)
	f.eng.EmitFrame(4, 4, 0)
	f.eng.EmitFrame(4, 4, 500_000)
	f.eng.EmitStatus(engine.EventRecordStopped, engine.StatusOK)

	events := f.sink.all()
	if len(events) != 1 || events[0] != "video_recorded 7 /media/timed.mp4 500" {
		t.Errorf("events = %v", events)
	}
}

func TestCameraTimedRecordingFailureOnlyLogs(t *testing.T) {
	f := newCreatedCamera(t)

	f.cam.StartRecord("/media/timed.mp4", 500, f.res.fn("start"))
	f.eng.EmitStatus(engine.EventRecordStarted, engine.StatusOK)
	f.eng.EmitFrame(4, 4, 0)
	f.eng.EmitFrame(4, 4, 500_000)
	if n := f.eng.Calls(enginetest.OpStopRecord); n != 1 {
		t.Fatalf("StopRecord called %d times, want 1", n)
	}
	f.eng.EmitStatus(engine.EventRecordStopped, engine.StatusFail)

	if events := f.sink.all(); len(events) != 0 {
		t.Errorf("failed timed recording notified %v", events)
	}
	if f.cam.Pending() != 0 {
		t.Errorf("pending = %d", f.cam.Pending())
	}
}

func TestCameraCaptureErrorFailsPending(t *testing.T) {
	f := newCreatedCamera(t)

	f.cam.TakePicture("/media/p.jpeg", f.res.fn("picture"))
	f.cam.StartRecord("/media/v.mp4", -1, f.res.fn("start"))

	f.eng.Emit(engine.Event{Kind: engine.EventError, Status: engine.StatusAccessDenied, Message: "camera unplugged"})

	for _, name := range []string{"picture", "start"} {
		r := f.res.one(t, name)
		if r.Err == nil || r.Err.Code != CodeAccessDenied {
			t.Errorf("%s = %+v", name, r.Err)
		}
	}
	if f.cam.Pending() != 0 {
		t.Errorf("pending = %d", f.cam.Pending())
	}
	events := f.sink.all()
	if len(events) != 1 || events[0] != "error 7 camera unplugged" {
		t.Errorf("events = %v", events)
	}

	// Late completions find nothing to resolve.
	f.eng.EmitStatus(engine.EventPhotoTaken, engine.StatusOK)
	if n := len(f.res.results("picture")); n != 1 {
		t.Errorf("picture resolved %d times", n)
	}
}

func TestCameraDispose(t *testing.T) {
	f := newCreatedCamera(t)

	f.cam.Initialize(f.res.fn("init"))
	f.cam.TakePicture("/media/p.jpeg", f.res.fn("picture"))
	f.cam.StartRecord("/media/v.mp4", -1, f.res.fn("start"))

	if err := f.cam.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	for _, name := range []string{"init", "picture", "start"} {
		r := f.res.one(t, name)
		if !errors.Is(r.Err, ErrDisposed) {
			t.Errorf("%s = %v, want disposed", name, r.Err)
		}
		if r.Err.Message != "Plugin disposed before request was handled" {
			t.Errorf("%s message = %q", name, r.Err.Message)
		}
	}

	events := f.sink.all()
	if len(events) != 1 || events[0] != "camera_closing 7" {
		t.Errorf("events = %v", events)
	}
	if !f.eng.Released() {
		t.Error("engine not released")
	}

	// Completions after dispose are ignored; new requests fail at once.
	f.eng.EmitStatus(engine.EventPhotoTaken, engine.StatusOK)
	f.eng.EmitFrame(1280, 720, 0)
	f.cam.TakePicture("/media/q.jpeg", f.res.fn("late"))
	if r := f.res.one(t, "late"); !errors.Is(r.Err, ErrDisposed) {
		t.Errorf("request after dispose = %v", r.Err)
	}
	if n := len(f.res.results("picture")); n != 1 {
		t.Errorf("picture resolved %d times", n)
	}

	if err := f.cam.Dispose(); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
	if n := len(f.sink.all()); n != 1 {
		t.Errorf("second Dispose notified again")
	}
	t.Log("✅ Dispose resolved every pending request")
}

func TestCameraNoResultStartsAfterDispose(t *testing.T) {
	f := newCreatedCamera(t)

	var (
		mu    sync.Mutex
		order []string
	)
	mark := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	f.cam.TakePicture("/media/p.jpeg", func(Result) {
		mark("picture")
		close(entered)
		<-release
	})
	var start Result
	f.cam.StartRecord("/media/v.mp4", -1, func(r Result) {
		start = r
		mark("start")
	})

	// The engine error fails the picture first; its callback blocks while
	// the camera is disposed.
	failed := make(chan struct{})
	go func() {
		defer close(failed)
		f.eng.Emit(engine.Event{Kind: engine.EventError, Status: engine.StatusFail, Message: "Internal data stream error"})
	}()
	<-entered

	if err := f.cam.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	mark("disposed")
	close(release)
	<-failed

	mu.Lock()
	got := fmt.Sprint(order)
	mu.Unlock()
	if got != "[picture start disposed]" {
		t.Fatalf("order = %s, want the record result before Dispose returned", got)
	}
	if !errors.Is(start.Err, ErrDisposed) {
		t.Errorf("start = %v, want disposed", start.Err)
	}
	if f.cam.Pending() != 0 {
		t.Errorf("pending = %d", f.cam.Pending())
	}
}

func TestCameraDisposeFromResult(t *testing.T) {
	f := newCameraFixture()

	record := f.res.fn("create")
	f.cam.Create(f.reg, false, PresetAuto, func(r Result) {
		if r.Err != nil {
			_ = f.cam.Dispose()
		}
		record(r)
	})
	f.eng.EmitStatus(engine.EventInitialized, engine.StatusAccessDenied)

	r := f.res.one(t, "create")
	if r.Err == nil || r.Err.Code != CodeAccessDenied {
		t.Fatalf("create = %+v", r.Err)
	}
	if !f.cam.Disposed() {
		t.Fatal("camera not disposed")
	}

	f.cam.Initialize(f.res.fn("init"))
	if r := f.res.one(t, "init"); !errors.Is(r.Err, ErrDisposed) {
		t.Errorf("init = %v, want disposed", r.Err)
	}
}

func TestCameraConcurrentRequestsResolveOnce(t *testing.T) {
	f := newCreatedCamera(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		calls int
	)
	done := func(Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	const n = 32
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			f.cam.TakePicture(fmt.Sprintf("/media/p%d.jpeg", i), done)
		}(i)
	}
	wg.Wait()

	// n-1 duplicates answered immediately, one pending.
	mu.Lock()
	if calls != n-1 {
		t.Errorf("immediate answers = %d, want %d", calls, n-1)
	}
	mu.Unlock()

	f.eng.EmitStatus(engine.EventPhotoTaken, engine.StatusOK)

	mu.Lock()
	defer mu.Unlock()
	if calls != n {
		t.Errorf("total answers = %d, want %d", calls, n)
	}
}
