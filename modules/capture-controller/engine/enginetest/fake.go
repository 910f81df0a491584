// Package enginetest provides a scripted engine for exercising the capture
// controller without hardware.
//
// Engine calls are recorded and never produce events on their own; tests push
// events explicitly with Emit, which calls the registered observer on the
// test goroutine.
package enginetest

import (
	"fmt"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Operation names used by Calls and Fail.
const (
	OpInitialize   = "initialize"
	OpMediaTypes   = "media_types"
	OpSink         = "sink"
	OpStartPreview = "start_preview"
	OpStopPreview  = "stop_preview"
	OpStartRecord  = "start_record"
	OpStopRecord   = "stop_record"
	OpTakePhoto    = "take_photo"
	OpRelease      = "release"
	OpAddStream    = "add_stream"
	OpSetOutput    = "set_output"
)

// Engine is a scripted engine.Engine.
type Engine struct {
	mu         sync.Mutex
	observer   engine.Observer
	released   bool
	calls      map[string]int
	failures   map[string]engine.Status
	mediaTypes map[engine.StreamRole][]engine.MediaType
	sinks      map[engine.SinkKind]*Sink
	video      engine.Source
	audio      engine.Source
}

// NewEngine creates a fake engine with a default set of media types: a small
// and a large preview type and one record type.
func NewEngine() *Engine {
	return &Engine{
		calls:    make(map[string]int),
		failures: make(map[string]engine.Status),
		mediaTypes: map[engine.StreamRole][]engine.MediaType{
			engine.RolePreview: {
				{Subtype: engine.SubtypeNV12, Width: 640, Height: 480, FrameRateNum: 30, FrameRateDen: 1},
				{Subtype: engine.SubtypeNV12, Width: 1280, Height: 720, FrameRateNum: 30, FrameRateDen: 1},
			},
			engine.RoleRecord: {
				{Subtype: engine.SubtypeNV12, Width: 1920, Height: 1080, FrameRateNum: 30, FrameRateDen: 1},
			},
		},
		sinks: make(map[engine.SinkKind]*Sink),
	}
}

// SetMediaTypes replaces the media types reported for role.
func (e *Engine) SetMediaTypes(role engine.StreamRole, types []engine.MediaType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mediaTypes[role] = types
}

// Fail makes every later call of op return a StatusError with status.
// A zero status clears the failure.
func (e *Engine) Fail(op string, status engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if status == engine.StatusOK {
		delete(e.failures, op)
		return
	}
	e.failures[op] = status
}

// Calls returns how many times op was invoked.
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// Released reports whether Release was called.
func (e *Engine) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// SinkOf returns the fake sink of kind, or nil if it was never requested.
func (e *Engine) SinkOf(kind engine.SinkKind) *Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinks[kind]
}

// Sources returns the sources passed to Initialize.
func (e *Engine) Sources() (video, audio engine.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video, e.audio
}

// Emit delivers ev to the observer registered by Initialize. Events after
// Release are still delivered so tests can check they are ignored.
func (e *Engine) Emit(ev engine.Event) {
	e.mu.Lock()
	obs := e.observer
	e.mu.Unlock()
	if obs != nil {
		obs.Handle(ev)
	}
}

// EmitStatus delivers an event of kind with status.
func (e *Engine) EmitStatus(kind engine.EventKind, status engine.Status) {
	e.Emit(engine.Event{Kind: kind, Status: status})
}

// EmitFrame delivers a solid BGRX frame of width x height stamped with
// timestampUs.
func (e *Engine) EmitFrame(width, height int, timestampUs int64) {
	e.Emit(engine.Event{
		Kind:   engine.EventSample,
		Sample: engine.Sample{Data: SolidBGRX(width, height, 0x10, 0x20, 0x30), TimestampUs: timestampUs},
	})
}

// SolidBGRX builds a width x height frame where every pixel is (r,g,b) in
// B,G,R,X byte order with a zero padding byte.
func SolidBGRX(width, height int, r, g, b byte) []byte {
	data := make([]byte, width*height*4)
	for i := 0; i < len(data); i += 4 {
		data[i] = b
		data[i+1] = g
		data[i+2] = r
	}
	return data
}

func (e *Engine) record(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	if status, ok := e.failures[op]; ok {
		return &engine.StatusError{Status: status, Op: op, Err: fmt.Errorf("scripted failure")}
	}
	return nil
}

// Initialize implements engine.Engine.
func (e *Engine) Initialize(obs engine.Observer, video, audio engine.Source) error {
	if err := e.record(OpInitialize); err != nil {
		return err
	}
	e.mu.Lock()
	e.observer = obs
	e.video = video
	e.audio = audio
	e.mu.Unlock()
	return nil
}

// AvailableMediaTypes implements engine.Engine.
func (e *Engine) AvailableMediaTypes(role engine.StreamRole) ([]engine.MediaType, error) {
	if err := e.record(OpMediaTypes); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.MediaType, len(e.mediaTypes[role]))
	copy(out, e.mediaTypes[role])
	return out, nil
}

// Sink implements engine.Engine.
func (e *Engine) Sink(kind engine.SinkKind) (engine.Sink, error) {
	if err := e.record(OpSink); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sinks[kind]
	if !ok {
		s = &Sink{kind: kind, owner: e}
		e.sinks[kind] = s
	}
	return s, nil
}

// StartPreview implements engine.Engine.
func (e *Engine) StartPreview() error { return e.record(OpStartPreview) }

// StopPreview implements engine.Engine.
func (e *Engine) StopPreview() error { return e.record(OpStopPreview) }

// StartRecord implements engine.Engine.
func (e *Engine) StartRecord() error { return e.record(OpStartRecord) }

// StopRecord implements engine.Engine.
func (e *Engine) StopRecord() error { return e.record(OpStopRecord) }

// TakePhoto implements engine.Engine.
func (e *Engine) TakePhoto() error { return e.record(OpTakePhoto) }

// Release implements engine.Engine.
func (e *Engine) Release() error {
	err := e.record(OpRelease)
	e.mu.Lock()
	e.released = true
	e.mu.Unlock()
	return err
}

// Sink is a fake engine.Sink recording its configuration.
type Sink struct {
	kind  engine.SinkKind
	owner *Engine

	mu      sync.Mutex
	streams map[engine.StreamRole]engine.MediaType
	path    string
	removes int
}

// RemoveAllStreams implements engine.Sink.
func (s *Sink) RemoveAllStreams() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = nil
	s.removes++
	return nil
}

// AddStream implements engine.Sink.
func (s *Sink) AddStream(role engine.StreamRole, mt engine.MediaType) error {
	if err := s.owner.record(OpAddStream); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams == nil {
		s.streams = make(map[engine.StreamRole]engine.MediaType)
	}
	s.streams[role] = mt
	return nil
}

// SetOutputFile implements engine.Sink.
func (s *Sink) SetOutputFile(path string) error {
	if s.kind == engine.SinkPreview {
		return engine.ErrNotSupported
	}
	if err := s.owner.record(OpSetOutput); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	return nil
}

// Stream returns the media type configured for role.
func (s *Sink) Stream(role engine.StreamRole) (engine.MediaType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.streams[role]
	return mt, ok
}

// Path returns the configured output file.
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Platform is a fake engine.Platform handing out one prepared Engine.
type Platform struct {
	Engine *Engine

	mu        sync.Mutex
	failVideo engine.Status
	failAudio engine.Status
	sources   []*Source
	engines   int
}

// NewPlatform creates a platform serving eng.
func NewPlatform(eng *Engine) *Platform {
	return &Platform{Engine: eng}
}

// FailVideo makes VideoSource fail with status.
func (p *Platform) FailVideo(status engine.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failVideo = status
}

// FailAudio makes DefaultAudioSource fail with status.
func (p *Platform) FailAudio(status engine.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAudio = status
}

// EnginesCreated returns how many times NewEngine was called.
func (p *Platform) EnginesCreated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engines
}

// OpenSources returns the sources that were opened and not closed.
func (p *Platform) OpenSources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []string
	for _, s := range p.sources {
		if !s.Closed() {
			open = append(open, s.ID())
		}
	}
	return open
}

// NewEngine implements engine.Platform.
func (p *Platform) NewEngine() (engine.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines++
	return p.Engine, nil
}

// VideoSource implements engine.Platform.
func (p *Platform) VideoSource(deviceID string) (engine.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failVideo.Failed() {
		return nil, &engine.StatusError{Status: p.failVideo, Op: "video_source", Err: fmt.Errorf("device %q unavailable", deviceID)}
	}
	s := &Source{id: deviceID}
	p.sources = append(p.sources, s)
	return s, nil
}

// DefaultAudioSource implements engine.Platform.
func (p *Platform) DefaultAudioSource() (engine.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAudio.Failed() {
		return nil, &engine.StatusError{Status: p.failAudio, Op: "audio_source", Err: fmt.Errorf("no audio device")}
	}
	s := &Source{id: "default-audio"}
	p.sources = append(p.sources, s)
	return s, nil
}

// Source is a fake engine.Source.
type Source struct {
	id string

	mu     sync.Mutex
	closed bool
}

// ID implements engine.Source.
func (s *Source) ID() string { return s.id }

// Close implements engine.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
