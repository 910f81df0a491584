package texture

import "sync"

// ConvertBGRXToRGBA converts pixels from B,G,R,X byte order into R,G,B,A with
// alpha forced to 255. Both slices must hold at least pixels*4 bytes.
func ConvertBGRXToRGBA(dst, src []byte, pixels int) {
	n := pixels * BytesPerPixel
	_ = dst[:n]
	_ = src[:n]
	for i := 0; i < n; i += BytesPerPixel {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		dst[i+3] = 0xFF
	}
}

// FrameBuffer stores the latest raw frame and converts it on demand.
//
// Update and Pull are mutually exclusive; a PixelBuffer returned by Pull
// keeps the frame buffer locked until it is released.
type FrameBuffer struct {
	mu     sync.Mutex
	width  int
	height int
	src    []byte
	dst    []byte
}

// SetSize sets the authoritative source frame size.
func (b *FrameBuffer) SetSize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width = width
	b.height = height
}

// Size returns the source frame size.
func (b *FrameBuffer) Size() (width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}

// Update copies data into the source buffer, reallocating only when the
// length changed. It returns false for an empty frame.
func (b *FrameBuffer) Update(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.src) != len(data) {
		b.src = make([]byte, len(data))
	}
	copy(b.src, data)
	return true
}

// Pull converts the stored frame into the display buffer. The requested
// size is ignored. It returns nil when no frame has been stored or the
// stored length does not match the frame size.
func (b *FrameBuffer) Pull(_, _ int) *PixelBuffer {
	b.mu.Lock()

	pixels := b.width * b.height
	size := pixels * BytesPerPixel
	if pixels == 0 || len(b.src) != size {
		b.mu.Unlock()
		return nil
	}

	if len(b.dst) != size {
		b.dst = make([]byte, size)
	}
	ConvertBGRXToRGBA(b.dst, b.src, pixels)

	return &PixelBuffer{
		Pix:     b.dst,
		Width:   b.width,
		Height:  b.height,
		release: b.mu.Unlock,
	}
}

// Reset drops the stored frame.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.src = nil
	b.dst = nil
}
