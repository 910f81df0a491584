package textureregistry

import (
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/texture"
)

func bgrx(pixels int, b, g, r byte) []byte {
	data := make([]byte, pixels*texture.BytesPerPixel)
	for i := 0; i < len(data); i += texture.BytesPerPixel {
		data[i], data[i+1], data[i+2], data[i+3] = b, g, r, 0
	}
	return data
}

func receiveWithin(t *testing.T, rx Receiver, d time.Duration) Frame {
	t.Helper()
	got := make(chan Frame, 1)
	go func() {
		if f, ok := rx.Receive(); ok {
			got <- f
		}
	}()
	select {
	case f := <-got:
		return f
	case <-time.After(d):
		t.Fatal("Timeout waiting for frame")
		return Frame{}
	}
}

// TestPublishThroughHandler drives the registry from a texture handler the
// way a capture controller does.
func TestPublishThroughHandler(t *testing.T) {
	reg := New()
	defer reg.Close()

	h := texture.NewHandler(reg)
	id, err := h.Register()
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected first texture id 1, got %d", id)
	}

	rx, err := reg.SubscribeLatest(id, "display")
	if err != nil {
		t.Fatalf("SubscribeLatest failed: %v", err)
	}

	h.SetSize(2, 2)
	if !h.Publish(bgrx(4, 0x10, 0x20, 0x30)) {
		t.Fatal("Publish rejected frame")
	}

	frame := receiveWithin(t, rx, time.Second)
	if frame.Width != 2 || frame.Height != 2 {
		t.Errorf("Expected 2x2 frame, got %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Pix) != 16 {
		t.Fatalf("Expected 16 bytes, got %d", len(frame.Pix))
	}
	if frame.Pix[0] != 0x30 || frame.Pix[1] != 0x20 || frame.Pix[2] != 0x10 || frame.Pix[3] != 0xFF {
		t.Errorf("Unexpected RGBA pixel %v", frame.Pix[:4])
	}
	if frame.TextureID != id || frame.Sequence != 1 {
		t.Errorf("Unexpected frame header: texture=%d seq=%d", frame.TextureID, frame.Sequence)
	}

	// The pulled pixels are a copy: the next frame must not change them.
	h.Publish(bgrx(4, 0, 0, 0))
	receiveWithin(t, rx, time.Second)
	if frame.Pix[0] != 0x30 {
		t.Error("Frame pixels changed after a later publish")
	}

	stats, err := reg.Stats(id)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pulled < 2 || stats.Width != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	t.Logf("✅ Frame pulled and converted: %+v", stats)
}

// TestMarkWithoutFrame verifies empty pulls are counted and not published.
func TestMarkWithoutFrame(t *testing.T) {
	reg := New()
	defer reg.Close()

	pulled := make(chan struct{}, 1)
	id, _ := reg.RegisterTexture(func(int, int) *texture.PixelBuffer {
		pulled <- struct{}{}
		return nil
	})

	reg.MarkFrameAvailable(id)
	select {
	case <-pulled:
	case <-time.After(time.Second):
		t.Fatal("Pull not called")
	}

	deadline := time.Now().Add(time.Second)
	for {
		stats, _ := reg.Stats(id)
		if stats.EmptyPulls == 1 {
			if stats.Published != 0 {
				t.Errorf("Expected nothing published, got %d", stats.Published)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 empty pull, got %+v", stats)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUnregisterClosesSubscribers(t *testing.T) {
	reg := New()
	defer reg.Close()

	id, _ := reg.RegisterTexture(func(int, int) *texture.PixelBuffer { return nil })
	rx, _ := reg.SubscribeLatest(id, "display")

	reg.UnregisterTexture(id)

	if _, ok := rx.Receive(); ok {
		t.Error("Expected Receive to report closed after unregister")
	}
	if reg.Has(id) {
		t.Error("Texture still registered")
	}
	if _, err := reg.SubscribeLatest(id, "late"); !errors.Is(err, ErrTextureNotFound) {
		t.Errorf("Expected ErrTextureNotFound, got %v", err)
	}

	// Unknown ids are ignored.
	reg.UnregisterTexture(id)
	reg.MarkFrameAvailable(id)
}

func TestRegistryErrors(t *testing.T) {
	reg := New()

	if _, err := reg.RegisterTexture(nil); !errors.Is(err, ErrNilPull) {
		t.Errorf("Expected ErrNilPull, got %v", err)
	}
	if err := reg.Unsubscribe(42, "x"); !errors.Is(err, ErrTextureNotFound) {
		t.Errorf("Expected ErrTextureNotFound, got %v", err)
	}

	id, _ := reg.RegisterTexture(func(int, int) *texture.PixelBuffer { return nil })
	if err := reg.Subscribe(id, "a", nil); !errors.Is(err, ErrNilChannel) {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}
	if err := reg.Unsubscribe(id, "a"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if _, err := reg.RegisterTexture(func(int, int) *texture.PixelBuffer { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := reg.Stats(id); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Stats, got %v", err)
	}
}

func TestChannelSubscriberDrops(t *testing.T) {
	reg := New()
	defer reg.Close()

	h := texture.NewHandler(reg)
	id, _ := h.Register()
	h.SetSize(1, 1)

	ch := make(chan Frame, 1)
	if err := reg.Subscribe(id, "slow", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Wait for each pull so marks do not coalesce.
	for i := 0; i < 3; i++ {
		h.Publish(bgrx(1, byte(i), 0, 0))
		deadline := time.Now().Add(time.Second)
		for {
			stats, _ := reg.Stats(id)
			if stats.Published == uint64(i+1) {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("Frame %d not published: %+v", i, stats)
			}
			time.Sleep(time.Millisecond)
		}
	}

	stats, _ := reg.Stats(id)
	sub := stats.Subscribers["slow"]
	if sub.Sent != 1 || sub.Dropped != 2 {
		t.Errorf("Expected 1 sent and 2 dropped, got %+v", sub)
	}

	t.Logf("✅ Slow subscriber dropped %d frames", sub.Dropped)
}
