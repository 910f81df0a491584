package fanout

import "errors"

// Internal errors, re-exported by the textureregistry package.
var (
	ErrClosed             = errors.New("textureregistry: registry is closed")
	ErrSubscriberExists   = errors.New("textureregistry: subscriber already exists")
	ErrSubscriberNotFound = errors.New("textureregistry: subscriber not found")
	ErrNilChannel         = errors.New("textureregistry: nil channel provided")
	ErrReceiverClosed     = errors.New("textureregistry: receiver is closed")
)

// DropPolicy defines what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	// DropNew drops the incoming frame when the subscriber channel is full.
	DropNew DropPolicy = iota
	// DropOld replaces the stored frame, the subscriber only sees the latest.
	DropOld
)

// Frame is one RGBA display frame pulled from a texture.
type Frame struct {
	TextureID int64
	Pix       []byte
	Width     int
	Height    int
	Sequence  uint64
	// Timestamp is the pull time in Unix nanoseconds.
	Timestamp int64
}

// Receiver gives blocking and non-blocking access to the latest frame.
type Receiver interface {
	Receive() (Frame, bool)
	TryReceive() (Frame, bool)
	Close()
}

// SubscriberStats tracks frame distribution for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}
