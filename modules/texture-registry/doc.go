// Package textureregistry is a display-side texture registry for capture
// controllers.
//
// # Overview
//
// The registry hands out texture ids and implements the pull model expected
// by capture controllers: the producer calls MarkFrameAvailable, and a
// per-texture worker calls back into the registered PullFunc, copies the RGBA
// pixels and fans the frame out to subscribers.
//
//	"Drop frames, never queue. Latency > Completeness."
//
// Marks that arrive while a pull is in flight coalesce into one pull.
//
// # Basic Usage
//
//	reg := textureregistry.New()
//	defer reg.Close()
//
//	cam := capturecontroller.NewCamera("/dev/video0", platform, sink)
//	cam.Create(reg, false, capturecontroller.PresetHigh, done)
//
//	// Latest-only subscriber, e.g. an MJPEG stream
//	rx, _ := reg.SubscribeLatest(cam.ID(), "http-1")
//	defer reg.Unsubscribe(cam.ID(), "http-1")
//	for {
//	    frame, ok := rx.Receive()
//	    if !ok {
//	        break
//	    }
//	    render(frame)
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use. PullFunc is always called from the
// texture's own worker goroutine, never from inside MarkFrameAvailable.
package textureregistry
