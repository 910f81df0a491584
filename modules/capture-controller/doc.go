// Package capturecontroller drives an asynchronous hardware capture engine
// through device initialization, live preview, still capture and recording.
//
// # Overview
//
// The engine completes every operation on its own callback goroutine. The
// Controller turns those completions into exactly one outcome per request:
//
//	caller → Camera → Controller → engine (async)
//	engine goroutine → Controller.Handle(event) → Listener → Camera → ResultFunc
//
// Camera is the caller-facing API. It keeps at most one outstanding request
// per operation kind and answers duplicates immediately.
//
// # Basic Usage
//
//	cam := capturecontroller.NewCamera("/dev/video0", platform, sink)
//	defer cam.Dispose()
//
//	cam.Create(registrar, false, capturecontroller.PresetHigh, func(r capturecontroller.Result) {
//	    if r.Err != nil {
//	        return
//	    }
//	    cam.Initialize(func(r capturecontroller.Result) {
//	        fmt.Println("preview", r.PreviewSize.Width, r.PreviewSize.Height)
//	    })
//	})
//
// # Preview Frames
//
// Preview samples are BGRX. While the preview runs unpaused each sample is
// copied into a frame buffer and the texture registrar is told a frame is
// available. The registrar pulls the frame from its own goroutine and gets
// RGBA pixels back (see package texture).
//
// # Timed Recording
//
// StartRecord with maxDurationMs >= 0 measures elapsed time from the first
// frame timestamp after the start request and stops the recording itself
// once the limit is reached. The EventSink then receives VideoRecorded.
//
// # Thread Safety
//
// All Controller state is guarded by one mutex. Listener methods are never
// called with that mutex held, so a Listener may call back into the
// Controller. Engine implementations must not call Handle from inside an
// Engine method.
package capturecontroller
