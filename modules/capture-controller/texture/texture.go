// Package texture converts raw preview frames into display pixels and
// publishes them through a pull-based texture registrar.
//
// The registrar side is external: it hands out texture ids, is told when a
// new frame is available and calls back into the PullFunc from its own
// goroutine to fetch the pixels.
package texture

import "sync"

// BytesPerPixel is the size of one pixel in both the source (BGRX) and the
// display (RGBA) layouts.
const BytesPerPixel = 4

// PullFunc returns the current display frame. The requested size is a hint
// and may be ignored. It returns nil when no frame is available.
type PullFunc func(width, height int) *PixelBuffer

// Registrar is the display-side texture registry.
type Registrar interface {
	RegisterTexture(pull PullFunc) (int64, error)
	UnregisterTexture(id int64)
	MarkFrameAvailable(id int64)
}

// PixelBuffer is an RGBA frame handed out by a PullFunc. Pix stays valid, and
// the producing frame buffer stays locked, until Release is called.
type PixelBuffer struct {
	Pix    []byte
	Width  int
	Height int

	once    sync.Once
	release func()
}

// Release returns the buffer to its producer. It is safe to call more than
// once.
func (p *PixelBuffer) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}
