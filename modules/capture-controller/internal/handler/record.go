package handler

import (
	"fmt"

	"github.com/looplab/fsm"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// RecordingType distinguishes caller-stopped recordings from recordings
// bounded by a maximum duration.
type RecordingType int

const (
	RecordingNone RecordingType = iota
	RecordingContinuous
	RecordingTimed
)

func (t RecordingType) String() string {
	switch t {
	case RecordingContinuous:
		return "continuous"
	case RecordingTimed:
		return "timed"
	default:
		return "none"
	}
}

// Record owns the video (and optional audio) sink and tracks the elapsed
// duration of the current recording.
//
//	not_started → starting → running → stopping → not_started
type Record struct {
	machine *fsm.FSM
	sink    engine.Sink
	audio   bool

	recordingType    RecordingType
	maxDurationMs    int64
	startTimestampUs int64
	elapsedUs        int64
	path             string
}

// NewRecord creates a record handler. audio adds an AAC stream to every
// recording.
func NewRecord(audio bool) *Record {
	return &Record{
		audio:            audio,
		maxDurationMs:    -1,
		startTimestampUs: -1,
		machine: fsm.NewFSM(
			StateNotStarted,
			fsm.Events{
				{Name: eventStart, Src: []string{StateNotStarted}, Dst: StateStarting},
				{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
				{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopping},
				{Name: eventStopped, Src: []string{StateStopping}, Dst: StateNotStarted},
				{Name: eventAbort, Src: []string{StateStarting, StateRunning, StateStopping}, Dst: StateNotStarted},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current state.
func (r *Record) State() string { return r.machine.Current() }

func (r *Record) IsStarting() bool { return r.machine.Is(StateStarting) }
func (r *Record) IsRunning() bool { return r.machine.Is(StateRunning) }
func (r *Record) IsStopping() bool { return r.machine.Is(StateStopping) }

// CanStart reports whether a new recording may be started.
func (r *Record) CanStart() bool { return r.machine.Is(StateNotStarted) }

// CanStop reports whether the running recording may be stopped.
func (r *Record) CanStop() bool { return r.machine.Is(StateRunning) }

func (r *Record) Type() RecordingType { return r.recordingType }
func (r *Record) IsTimed() bool { return r.recordingType == RecordingTimed }
func (r *Record) Path() string { return r.path }
func (r *Record) MaxDurationMs() int64 { return r.maxDurationMs }

// Start configures the record sink for path and asks the engine to start
// recording. maxDurationMs < 0 selects a continuous recording.
func (r *Record) Start(eng engine.Engine, path string, maxDurationMs int64, video engine.MediaType) error {
	if err := fire(r.machine, eventStart); err != nil {
		return err
	}

	r.recordingType = RecordingContinuous
	if maxDurationMs >= 0 {
		r.recordingType = RecordingTimed
	}
	r.maxDurationMs = maxDurationMs
	r.path = path
	r.startTimestampUs = -1
	r.elapsedUs = 0

	if err := r.initSink(eng, video); err != nil {
		r.reset()
		return err
	}
	if err := eng.StartRecord(); err != nil {
		r.reset()
		return fmt.Errorf("handler: start record: %w", err)
	}
	return nil
}

func (r *Record) initSink(eng engine.Engine, video engine.MediaType) error {
	if r.sink == nil {
		sink, err := eng.Sink(engine.SinkRecord)
		if err != nil {
			return fmt.Errorf("handler: record sink: %w", err)
		}
		r.sink = sink
	}
	if err := r.sink.RemoveAllStreams(); err != nil {
		return fmt.Errorf("handler: reset record sink: %w", err)
	}
	if err := r.sink.AddStream(engine.RoleRecord, video.WithSubtype(engine.SubtypeH264)); err != nil {
		return fmt.Errorf("handler: add video stream: %w", err)
	}
	if r.audio {
		if err := r.sink.AddStream(engine.RoleAudio, engine.MediaType{Subtype: engine.SubtypeAAC}); err != nil {
			return fmt.Errorf("handler: add audio stream: %w", err)
		}
	}
	if err := r.sink.SetOutputFile(r.path); err != nil {
		return fmt.Errorf("handler: record output: %w", err)
	}
	return nil
}

// OnStarted marks the recording as running.
func (r *Record) OnStarted() {
	_ = fire(r.machine, eventStarted)
}

// Stop asks the engine to stop the running recording.
func (r *Record) Stop(eng engine.Engine) error {
	if err := fire(r.machine, eventStop); err != nil {
		return err
	}
	if err := eng.StopRecord(); err != nil {
		return fmt.Errorf("handler: stop record: %w", err)
	}
	return nil
}

// OnStopped clears the recording bookkeeping.
func (r *Record) OnStopped() {
	if fire(r.machine, eventStopped) == nil {
		r.clear()
	}
}

// Abort drops the current recording after an engine failure.
func (r *Record) Abort() {
	r.reset()
}

func (r *Record) reset() {
	_ = fire(r.machine, eventAbort)
	r.clear()
}

func (r *Record) clear() {
	r.recordingType = RecordingNone
	r.maxDurationMs = -1
	r.startTimestampUs = -1
	r.elapsedUs = 0
	r.path = ""
}

// UpdateRecordingTime advances the elapsed duration with a frame timestamp.
// The first timestamp seen after Start becomes the origin.
func (r *Record) UpdateRecordingTime(timestampUs int64) {
	if !r.IsStarting() && !r.IsRunning() {
		return
	}
	if r.startTimestampUs < 0 {
		r.startTimestampUs = timestampUs
	}
	r.elapsedUs = timestampUs - r.startTimestampUs
}

// RecordedDurationMs returns the elapsed duration in milliseconds.
func (r *Record) RecordedDurationMs() int64 {
	return r.elapsedUs / 1000
}

// ShouldStopTimedRecording reports whether a running timed recording has
// reached its maximum duration.
func (r *Record) ShouldStopTimedRecording() bool {
	return r.recordingType == RecordingTimed &&
		r.IsRunning() &&
		r.maxDurationMs >= 0 &&
		r.elapsedUs >= r.maxDurationMs*1000
}
