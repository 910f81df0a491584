package texture

import (
	"sync"
	"testing"
	"time"
)

func solidBGRX(pixels int, r, g, b byte) []byte {
	data := make([]byte, pixels*BytesPerPixel)
	for i := 0; i < len(data); i += BytesPerPixel {
		data[i] = b
		data[i+1] = g
		data[i+2] = r
		data[i+3] = 0x00
	}
	return data
}

func TestConvertBGRXToRGBASolidColor(t *testing.T) {
	tests := []struct {
		name   string
		pixels int
	}{
		{"empty", 0},
		{"single pixel", 1},
		{"1080p", 1920 * 1080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := solidBGRX(tt.pixels, 0xC8, 0x64, 0x0A)
			dst := make([]byte, tt.pixels*BytesPerPixel)

			ConvertBGRXToRGBA(dst, src, tt.pixels)

			if len(dst)/BytesPerPixel != tt.pixels {
				t.Fatalf("expected %d display pixels, got %d", tt.pixels, len(dst)/BytesPerPixel)
			}
			for i := 0; i < len(dst); i += BytesPerPixel {
				if dst[i] != 0xC8 || dst[i+1] != 0x64 || dst[i+2] != 0x0A || dst[i+3] != 0xFF {
					t.Fatalf("pixel %d = %v, want [200 100 10 255]", i/BytesPerPixel, dst[i:i+4])
				}
			}
			t.Logf("✅ %d pixels converted", tt.pixels)
		})
	}
}

func TestFrameBufferPullWithoutFrame(t *testing.T) {
	var b FrameBuffer
	b.SetSize(4, 2)

	if pb := b.Pull(4, 2); pb != nil {
		t.Fatal("Pull before any frame should return nil")
	}
}

func TestFrameBufferPullLengthMismatch(t *testing.T) {
	var b FrameBuffer
	b.SetSize(4, 2)
	b.Update(solidBGRX(3, 1, 2, 3))

	if pb := b.Pull(4, 2); pb != nil {
		pb.Release()
		t.Fatal("Pull with mismatched length should return nil")
	}

	// Pull must not leave the buffer locked.
	done := make(chan struct{})
	go func() {
		b.Update(solidBGRX(8, 1, 2, 3))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update blocked after failed Pull")
	}
}

func TestFrameBufferPullIgnoresRequestedSize(t *testing.T) {
	var b FrameBuffer
	b.SetSize(2, 2)
	b.Update(solidBGRX(4, 9, 8, 7))

	pb := b.Pull(100, 100)
	if pb == nil {
		t.Fatal("expected frame")
	}
	defer pb.Release()

	if pb.Width != 2 || pb.Height != 2 {
		t.Errorf("size = %dx%d, want 2x2", pb.Width, pb.Height)
	}
	if len(pb.Pix) != 16 {
		t.Errorf("len(Pix) = %d, want 16", len(pb.Pix))
	}
	if pb.Pix[0] != 9 || pb.Pix[1] != 8 || pb.Pix[2] != 7 || pb.Pix[3] != 0xFF {
		t.Errorf("first pixel = %v", pb.Pix[:4])
	}
}

func TestFrameBufferReallocatesOnlyOnLengthChange(t *testing.T) {
	var b FrameBuffer
	b.SetSize(2, 1)

	b.Update(solidBGRX(2, 1, 1, 1))
	first := &b.src[0]

	b.Update(solidBGRX(2, 2, 2, 2))
	if &b.src[0] != first {
		t.Error("buffer reallocated for same length")
	}

	b.Update(solidBGRX(3, 3, 3, 3))
	if &b.src[0] == first {
		t.Error("buffer not reallocated after length change")
	}
}

func TestFrameBufferUpdateWaitsForRelease(t *testing.T) {
	var b FrameBuffer
	b.SetSize(1, 1)
	b.Update(solidBGRX(1, 1, 1, 1))

	pb := b.Pull(1, 1)
	if pb == nil {
		t.Fatal("expected frame")
	}

	updated := make(chan struct{})
	go func() {
		b.Update(solidBGRX(1, 5, 5, 5))
		close(updated)
	}()

	select {
	case <-updated:
		t.Fatal("Update ran while a pulled buffer was held")
	case <-time.After(50 * time.Millisecond):
	}

	if pb.Pix[0] != 1 {
		t.Errorf("held buffer changed: %v", pb.Pix[:4])
	}
	pb.Release()
	pb.Release()

	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("Update still blocked after Release")
	}
}

func TestFrameBufferConcurrentUpdatePull(t *testing.T) {
	var b FrameBuffer
	b.SetSize(64, 48)
	frame := solidBGRX(64*48, 10, 20, 30)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Update(frame)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if pb := b.Pull(0, 0); pb != nil {
				if pb.Pix[3] != 0xFF {
					t.Errorf("alpha = %d", pb.Pix[3])
				}
				pb.Release()
			}
		}
	}()
	wg.Wait()
}
