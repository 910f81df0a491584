// Package pending correlates asynchronous camera requests with their
// completion events.
package pending

import "sync"

// Kind is the closed set of operations that can have an outstanding result.
type Kind int

const (
	CreateCamera Kind = iota
	Initialize
	TakePicture
	StartRecord
	StopRecord
	PausePreview
	ResumePreview
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{CreateCamera, Initialize, TakePicture, StartRecord, StopRecord, PausePreview, ResumePreview}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case CreateCamera:
		return "create_camera"
	case Initialize:
		return "initialize"
	case TakePicture:
		return "take_picture"
	case StartRecord:
		return "start_record"
	case StopRecord:
		return "stop_record"
	case PausePreview:
		return "pause_preview"
	case ResumePreview:
		return "resume_preview"
	default:
		return "unknown"
	}
}

// Registry holds at most one outstanding value per Kind.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[Kind]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[Kind]T)}
}

// Add stores v for kind. It returns false and leaves the registry untouched
// if kind already has an entry.
func (r *Registry[T]) Add(kind Kind, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[kind]; exists {
		return false
	}
	r.entries[kind] = v
	return true
}

// Resolve removes and returns the entry for kind, if any.
func (r *Registry[T]) Resolve(kind Kind) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[kind]
	if ok {
		delete(r.entries, kind)
	}
	return v, ok
}

// Has reports whether kind has an outstanding entry.
func (r *Registry[T]) Has(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[kind]
	return ok
}

// Len returns the number of outstanding entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Drain removes and returns every entry in Kind order.
func (r *Registry[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.entries))
	for _, k := range Kinds {
		if v, ok := r.entries[k]; ok {
			out = append(out, v)
			delete(r.entries, k)
		}
	}
	return out
}
