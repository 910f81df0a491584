package handler

import (
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Preview owns the preview sink.
//
//	not_started → starting → running ⇄ paused
//	starting|running|paused → stopping → not_started
type Preview struct {
	machine *fsm.FSM
	sink    engine.Sink
}

// NewPreview creates a preview handler in the not_started state.
func NewPreview() *Preview {
	return &Preview{
		machine: fsm.NewFSM(
			StateNotStarted,
			fsm.Events{
				{Name: eventStart, Src: []string{StateNotStarted}, Dst: StateStarting},
				{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
				{Name: eventPause, Src: []string{StateRunning}, Dst: StatePaused},
				{Name: eventResume, Src: []string{StatePaused}, Dst: StateRunning},
				{Name: eventStop, Src: []string{StateStarting, StateRunning, StatePaused}, Dst: StateStopping},
				{Name: eventStopped, Src: []string{StateStopping}, Dst: StateNotStarted},
				{Name: eventAbort, Src: []string{StateStarting}, Dst: StateNotStarted},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current state.
func (p *Preview) State() string { return p.machine.Current() }

func (p *Preview) IsStarting() bool { return p.machine.Is(StateStarting) }
func (p *Preview) IsRunning() bool { return p.machine.Is(StateRunning) }
func (p *Preview) IsPaused() bool { return p.machine.Is(StatePaused) }

// Start configures the preview sink with mt and asks the engine to start the
// preview. On failure the handler returns to not_started.
func (p *Preview) Start(eng engine.Engine, mt engine.MediaType) error {
	if err := fire(p.machine, eventStart); err != nil {
		return err
	}
	if err := p.initSink(eng, mt); err != nil {
		_ = fire(p.machine, eventAbort)
		return err
	}
	if err := eng.StartPreview(); err != nil {
		_ = fire(p.machine, eventAbort)
		return fmt.Errorf("handler: start preview: %w", err)
	}
	return nil
}

func (p *Preview) initSink(eng engine.Engine, mt engine.MediaType) error {
	if p.sink == nil {
		sink, err := eng.Sink(engine.SinkPreview)
		if err != nil {
			return fmt.Errorf("handler: preview sink: %w", err)
		}
		p.sink = sink
	}
	if err := p.sink.RemoveAllStreams(); err != nil {
		p.sink = nil
		return fmt.Errorf("handler: reset preview sink: %w", err)
	}
	if err := p.sink.AddStream(engine.RolePreview, mt.WithSubtype(engine.SubtypeRGB32)); err != nil {
		p.sink = nil
		return fmt.Errorf("handler: add preview stream: %w", err)
	}
	slog.Debug("capture-controller: preview sink configured", "media_type", mt.String())
	return nil
}

// OnStarted marks the preview as running. It reports whether the handler was
// waiting for its first frame.
func (p *Preview) OnStarted() bool {
	return p.IsStarting() && fire(p.machine, eventStarted) == nil
}

// Pause stops frames from being published. Only valid while running.
func (p *Preview) Pause() error { return fire(p.machine, eventPause) }

// Resume resumes a paused preview.
func (p *Preview) Resume() error { return fire(p.machine, eventResume) }

// Stop asks the engine to stop the preview.
func (p *Preview) Stop(eng engine.Engine) error {
	if err := fire(p.machine, eventStop); err != nil {
		return err
	}
	if err := eng.StopPreview(); err != nil {
		return fmt.Errorf("handler: stop preview: %w", err)
	}
	return nil
}

// OnStopped returns the handler to not_started.
func (p *Preview) OnStopped() {
	_ = fire(p.machine, eventStopped)
}
