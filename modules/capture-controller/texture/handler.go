package texture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// NoTexture is the id of an unbound texture.
const NoTexture int64 = -1

// ErrNoRegistrar is returned by Register when the handler has no registrar.
var ErrNoRegistrar = errors.New("texture: no registrar")

// Handler binds a FrameBuffer to one registered texture.
type Handler struct {
	registrar Registrar
	frames    FrameBuffer
	id        atomic.Int64
	published atomic.Uint64
}

// NewHandler creates a handler publishing into registrar.
func NewHandler(registrar Registrar) *Handler {
	h := &Handler{registrar: registrar}
	h.id.Store(NoTexture)
	return h
}

// Register registers the pull callback and returns the texture id.
func (h *Handler) Register() (int64, error) {
	if h.registrar == nil {
		return NoTexture, ErrNoRegistrar
	}
	if id := h.id.Load(); id >= 0 {
		return id, nil
	}
	id, err := h.registrar.RegisterTexture(h.frames.Pull)
	if err != nil {
		return NoTexture, fmt.Errorf("texture: register: %w", err)
	}
	if id < 0 {
		return NoTexture, fmt.Errorf("texture: registrar returned invalid id %d", id)
	}
	h.id.Store(id)
	slog.Debug("texture: registered", "texture_id", id)
	return id, nil
}

// ID returns the texture id or NoTexture.
func (h *Handler) ID() int64 {
	return h.id.Load()
}

// SetSize sets the preview frame size.
func (h *Handler) SetSize(width, height int) {
	h.frames.SetSize(width, height)
}

// Publish stores data as the latest frame and signals the registrar.
func (h *Handler) Publish(data []byte) bool {
	id := h.id.Load()
	if id < 0 {
		return false
	}
	if !h.frames.Update(data) {
		return false
	}
	h.published.Add(1)
	h.registrar.MarkFrameAvailable(id)
	return true
}

// Pull is the PullFunc registered with the registrar.
func (h *Handler) Pull(width, height int) *PixelBuffer {
	return h.frames.Pull(width, height)
}

// Published returns the number of frames published so far.
func (h *Handler) Published() uint64 {
	return h.published.Load()
}

// Unregister removes the texture from the registrar and drops the frame.
func (h *Handler) Unregister() {
	id := h.id.Swap(NoTexture)
	if id >= 0 && h.registrar != nil {
		h.registrar.UnregisterTexture(id)
		slog.Debug("texture: unregistered", "texture_id", id)
	}
	h.frames.Reset()
}
