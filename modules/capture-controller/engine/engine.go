// Package engine defines the boundary between the capture controller and the
// platform capture engine that owns the actual hardware pipelines.
//
// Every Engine call is asynchronous: it returns as soon as the request has
// been issued and the outcome is delivered later as an Event through the
// Observer passed to Initialize. Implementations deliver events from their own
// goroutine and must never call the Observer from inside an Engine method.
package engine

import (
	"errors"
	"fmt"
)

// StreamRole selects which engine stream a media type or sink refers to.
type StreamRole int

const (
	// RolePreview is the low-latency stream feeding the display texture.
	RolePreview StreamRole = iota
	// RoleRecord is the full-quality capture stream used by record and photo.
	RoleRecord
	// RolePhoto is the still image stream.
	RolePhoto
	// RoleAudio is the audio capture stream.
	RoleAudio
)

// String returns a human-readable name for the role.
func (r StreamRole) String() string {
	switch r {
	case RolePreview:
		return "preview"
	case RoleRecord:
		return "record"
	case RolePhoto:
		return "photo"
	case RoleAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// SinkKind identifies one of the engine output endpoints.
type SinkKind int

const (
	SinkPreview SinkKind = iota
	SinkPhoto
	SinkRecord
)

// String returns a human-readable name for the sink kind.
func (k SinkKind) String() string {
	switch k {
	case SinkPreview:
		return "preview"
	case SinkPhoto:
		return "photo"
	case SinkRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Media subtypes understood by the engines in this repo.
const (
	SubtypeRGB32 = "RGB32" // B,G,R,X byte order, 4 bytes per pixel
	SubtypeNV12  = "NV12"
	SubtypeYUY2  = "YUY2"
	SubtypeMJPG  = "MJPG"
	SubtypeJPEG  = "JPEG"
	SubtypeH264  = "H264"
	SubtypeAAC   = "AAC"
)

// MediaType describes one native format a stream can produce or a sink can
// accept.
type MediaType struct {
	Subtype      string
	Width        uint32
	Height       uint32
	FrameRateNum uint32
	FrameRateDen uint32
}

// FrameRate returns the frame rate in frames per second, or 0 when unknown.
func (m MediaType) FrameRate() float64 {
	if m.FrameRateDen == 0 {
		return 0
	}
	return float64(m.FrameRateNum) / float64(m.FrameRateDen)
}

// WithSubtype returns a copy of m with the subtype replaced.
func (m MediaType) WithSubtype(subtype string) MediaType {
	m.Subtype = subtype
	return m
}

func (m MediaType) String() string {
	return fmt.Sprintf("%s %dx%d@%d/%d", m.Subtype, m.Width, m.Height, m.FrameRateNum, m.FrameRateDen)
}

// Source is a platform media source (camera or microphone) bound to an engine.
type Source interface {
	ID() string
	Close() error
}

// Sink is an engine output endpoint.
type Sink interface {
	RemoveAllStreams() error
	AddStream(role StreamRole, mt MediaType) error
	SetOutputFile(path string) error
}

// Observer receives the engine event stream.
type Observer interface {
	Handle(ev Event)
}

// Engine is a platform capture engine. See the package documentation for the
// asynchronous contract.
type Engine interface {
	// Initialize binds the engine to its sources. Completion is reported as
	// EventInitialized. audio may be nil.
	Initialize(obs Observer, video, audio Source) error

	// AvailableMediaTypes enumerates the native media types of a stream in
	// the order the hardware reports them.
	AvailableMediaTypes(role StreamRole) ([]MediaType, error)

	// Sink returns the output endpoint of the given kind.
	Sink(kind SinkKind) (Sink, error)

	StartPreview() error
	StopPreview() error
	StartRecord() error
	StopRecord() error
	TakePhoto() error

	// Release stops all pipelines and frees the engine. No event is
	// delivered after Release returns.
	Release() error
}

// Platform creates engines and opens sources.
type Platform interface {
	NewEngine() (Engine, error)
	VideoSource(deviceID string) (Source, error)
	DefaultAudioSource() (Source, error)
}

// ErrNotSupported is returned by sinks for operations they cannot perform.
var ErrNotSupported = errors.New("engine: operation not supported")
