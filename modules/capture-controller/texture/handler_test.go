package texture

import (
	"errors"
	"sync"
	"testing"
)

type recordingRegistrar struct {
	mu        sync.Mutex
	nextID    int64
	pulls     map[int64]PullFunc
	available map[int64]int
	failWith  error
}

func newRecordingRegistrar() *recordingRegistrar {
	return &recordingRegistrar{
		nextID:    3,
		pulls:     make(map[int64]PullFunc),
		available: make(map[int64]int),
	}
}

func (r *recordingRegistrar) RegisterTexture(pull PullFunc) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return NoTexture, r.failWith
	}
	id := r.nextID
	r.nextID++
	r.pulls[id] = pull
	return id, nil
}

func (r *recordingRegistrar) UnregisterTexture(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pulls, id)
}

func (r *recordingRegistrar) MarkFrameAvailable(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available[id]++
}

func TestHandlerPublishAndPull(t *testing.T) {
	reg := newRecordingRegistrar()
	h := NewHandler(reg)

	if h.Publish(solidBGRX(4, 1, 2, 3)) {
		t.Fatal("Publish before Register should fail")
	}

	id, err := h.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.SetSize(2, 2)

	if !h.Publish(solidBGRX(4, 1, 2, 3)) {
		t.Fatal("Publish failed")
	}
	if reg.available[id] != 1 {
		t.Errorf("MarkFrameAvailable called %d times, want 1", reg.available[id])
	}

	pb := reg.pulls[id](2, 2)
	if pb == nil {
		t.Fatal("registered pull returned nil")
	}
	defer pb.Release()
	if pb.Pix[0] != 1 || pb.Pix[3] != 0xFF {
		t.Errorf("pixel = %v", pb.Pix[:4])
	}
}

func TestHandlerRegisterFailure(t *testing.T) {
	reg := newRecordingRegistrar()
	reg.failWith = errors.New("registry closed")
	h := NewHandler(reg)

	if _, err := h.Register(); err == nil {
		t.Fatal("expected error")
	}
	if h.ID() != NoTexture {
		t.Errorf("ID = %d after failed register", h.ID())
	}

	if _, err := NewHandler(nil).Register(); !errors.Is(err, ErrNoRegistrar) {
		t.Errorf("nil registrar: got %v", err)
	}
}

func TestHandlerUnregister(t *testing.T) {
	reg := newRecordingRegistrar()
	h := NewHandler(reg)
	id, _ := h.Register()

	h.Unregister()
	if _, ok := reg.pulls[id]; ok {
		t.Error("texture still registered")
	}
	if h.ID() != NoTexture {
		t.Error("ID not reset")
	}
	h.Unregister()
}
