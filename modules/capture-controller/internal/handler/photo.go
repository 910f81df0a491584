package handler

import (
	"fmt"

	"github.com/looplab/fsm"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Photo owns the still image sink. The sink is created once, on the first
// capture; later captures only change the output path.
//
//	not_started → idle ⇄ taking
type Photo struct {
	machine *fsm.FSM
	sink    engine.Sink
	path    string
}

// NewPhoto creates a photo handler in the not_started state.
func NewPhoto() *Photo {
	return &Photo{
		machine: fsm.NewFSM(
			StateNotStarted,
			fsm.Events{
				{Name: eventReady, Src: []string{StateNotStarted}, Dst: StateIdle},
				{Name: eventTake, Src: []string{StateIdle}, Dst: StateTaking},
				{Name: eventTaken, Src: []string{StateTaking}, Dst: StateIdle},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current state.
func (p *Photo) State() string { return p.machine.Current() }

// IsTaking reports whether a capture is in flight.
func (p *Photo) IsTaking() bool { return p.machine.Is(StateTaking) }

// Path returns the output path of the current or last capture.
func (p *Photo) Path() string { return p.path }

// TakePhoto writes the next still image to path. mt is the capture media
// type used when the sink is created.
func (p *Photo) TakePhoto(eng engine.Engine, path string, mt engine.MediaType) error {
	if p.IsTaking() {
		return ErrInvalidState
	}
	if p.sink == nil {
		if err := p.initSink(eng, mt); err != nil {
			return err
		}
		if err := fire(p.machine, eventReady); err != nil {
			return err
		}
	}

	if err := p.sink.SetOutputFile(path); err != nil {
		return fmt.Errorf("handler: photo output: %w", err)
	}
	p.path = path

	if err := fire(p.machine, eventTake); err != nil {
		return err
	}
	if err := eng.TakePhoto(); err != nil {
		_ = fire(p.machine, eventTaken)
		return fmt.Errorf("handler: take photo: %w", err)
	}
	return nil
}

func (p *Photo) initSink(eng engine.Engine, mt engine.MediaType) error {
	sink, err := eng.Sink(engine.SinkPhoto)
	if err != nil {
		return fmt.Errorf("handler: photo sink: %w", err)
	}
	if err := sink.RemoveAllStreams(); err != nil {
		return fmt.Errorf("handler: reset photo sink: %w", err)
	}
	if err := sink.AddStream(engine.RolePhoto, mt.WithSubtype(engine.SubtypeJPEG)); err != nil {
		return fmt.Errorf("handler: add photo stream: %w", err)
	}
	p.sink = sink
	return nil
}

// OnPhotoTaken returns the handler to idle.
func (p *Photo) OnPhotoTaken() {
	_ = fire(p.machine, eventTaken)
}
