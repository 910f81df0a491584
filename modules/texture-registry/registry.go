package textureregistry

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/texture"
	"github.com/e7canasta/orion-care-sensor/modules/texture-registry/internal/fanout"
)

// Frame is one RGBA display frame.
type Frame = fanout.Frame

// Receiver gives access to the latest frame of a texture.
type Receiver = fanout.Receiver

// SubscriberStats tracks frame distribution for one subscriber.
type SubscriberStats = fanout.SubscriberStats

var (
	ErrClosed             = fanout.ErrClosed
	ErrSubscriberExists   = fanout.ErrSubscriberExists
	ErrSubscriberNotFound = fanout.ErrSubscriberNotFound
	ErrNilChannel         = fanout.ErrNilChannel
	ErrReceiverClosed     = fanout.ErrReceiverClosed

	// ErrTextureNotFound is returned for ids that are not registered.
	ErrTextureNotFound = errors.New("textureregistry: texture not found")
	// ErrNilPull is returned by RegisterTexture for a nil PullFunc.
	ErrNilPull = errors.New("textureregistry: nil pull function")
)

// TextureStats is a snapshot of one texture's counters.
type TextureStats struct {
	ID          int64
	Marked      uint64
	Pulled      uint64
	EmptyPulls  uint64
	Published   uint64
	Width       int
	Height      int
	Subscribers map[string]SubscriberStats
}

type entry struct {
	id     int64
	pull   texture.PullFunc
	fanout *fanout.Fanout
	wake   chan struct{}
	done   chan struct{}

	seq    uint64
	width  atomic.Int64
	height atomic.Int64
	marked atomic.Uint64
	pulled atomic.Uint64
	empty  atomic.Uint64
}

// Registry implements texture.Registrar.
type Registry struct {
	mu       sync.RWMutex
	textures map[int64]*entry
	nextID   int64
	closed   bool
	wg       sync.WaitGroup
}

var _ texture.Registrar = (*Registry)(nil)

// New creates an empty registry. Texture ids start at 1.
func New() *Registry {
	return &Registry{
		textures: make(map[int64]*entry),
		nextID:   1,
	}
}

// RegisterTexture implements texture.Registrar.
func (r *Registry) RegisterTexture(pull texture.PullFunc) (int64, error) {
	if pull == nil {
		return texture.NoTexture, ErrNilPull
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return texture.NoTexture, ErrClosed
	}

	e := &entry{
		id:     r.nextID,
		pull:   pull,
		fanout: fanout.New(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.nextID++
	r.textures[e.id] = e

	r.wg.Add(1)
	go r.worker(e)

	slog.Debug("textureregistry: texture registered", "texture_id", e.id)
	return e.id, nil
}

// UnregisterTexture implements texture.Registrar. The worker is stopped and
// subscribers are closed; unknown ids are ignored.
func (r *Registry) UnregisterTexture(id int64) {
	r.mu.Lock()
	e, ok := r.textures[id]
	if ok {
		delete(r.textures, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	close(e.done)
	e.fanout.Close()
	slog.Debug("textureregistry: texture unregistered",
		"texture_id", id,
		"pulled", e.pulled.Load(),
		"published", e.fanout.Published(),
	)
}

// MarkFrameAvailable implements texture.Registrar. It never blocks.
func (r *Registry) MarkFrameAvailable(id int64) {
	r.mu.RLock()
	e, ok := r.textures[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.marked.Add(1)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) worker(e *entry) {
	defer r.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
			r.pullOnce(e)
		}
	}
}

// pullOnce fetches the current frame, copies it and releases the buffer
// before fanning out.
func (r *Registry) pullOnce(e *entry) {
	buf := e.pull(int(e.width.Load()), int(e.height.Load()))
	if buf == nil {
		e.empty.Add(1)
		return
	}
	pix := make([]byte, len(buf.Pix))
	copy(pix, buf.Pix)
	width, height := buf.Width, buf.Height
	buf.Release()

	e.pulled.Add(1)
	e.width.Store(int64(width))
	e.height.Store(int64(height))
	e.seq++

	e.fanout.Publish(Frame{
		TextureID: e.id,
		Pix:       pix,
		Width:     width,
		Height:    height,
		Sequence:  e.seq,
		Timestamp: time.Now().UnixNano(),
	})
}

func (r *Registry) lookup(id int64) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.textures[id]
	if !ok {
		return nil, ErrTextureNotFound
	}
	return e, nil
}

// Subscribe delivers frames of texture id to ch, dropping frames while ch
// is full.
func (r *Registry) Subscribe(id int64, subscriberID string, ch chan<- Frame) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	return e.fanout.Subscribe(subscriberID, ch)
}

// SubscribeLatest returns a receiver that only ever holds the newest frame
// of texture id. The receiver is closed when the texture is unregistered.
func (r *Registry) SubscribeLatest(id int64, subscriberID string) (Receiver, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.fanout.SubscribeLatest(subscriberID)
}

// Unsubscribe removes a subscriber of texture id.
func (r *Registry) Unsubscribe(id int64, subscriberID string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	return e.fanout.Unsubscribe(subscriberID)
}

// Has reports whether id is registered.
func (r *Registry) Has(id int64) bool {
	_, err := r.lookup(id)
	return err == nil
}

// Stats returns a snapshot of texture id.
func (r *Registry) Stats(id int64) (TextureStats, error) {
	e, err := r.lookup(id)
	if err != nil {
		return TextureStats{}, err
	}
	return TextureStats{
		ID:          e.id,
		Marked:      e.marked.Load(),
		Pulled:      e.pulled.Load(),
		EmptyPulls:  e.empty.Load(),
		Published:   e.fanout.Published(),
		Width:       int(e.width.Load()),
		Height:      int(e.height.Load()),
		Subscribers: e.fanout.Stats(),
	}, nil
}

// Close unregisters every texture and waits for the workers to exit.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	textures := r.textures
	r.textures = make(map[int64]*entry)
	r.mu.Unlock()

	for _, e := range textures {
		close(e.done)
		e.fanout.Close()
	}
	r.wg.Wait()
	return nil
}
