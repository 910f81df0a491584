// Package handler implements the preview, photo and record sinks of the
// capture controller. Each handler owns one engine sink and a small state
// machine; the controller serializes all calls into a handler.
package handler

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Handler states.
const (
	StateNotStarted = "not_started"
	StateIdle       = "idle"
	StateStarting   = "starting"
	StateRunning    = "running"
	StatePaused     = "paused"
	StateTaking     = "taking"
	StateStopping   = "stopping"
)

// Handler events.
const (
	eventReady   = "ready"
	eventStart   = "start"
	eventStarted = "started"
	eventPause   = "pause"
	eventResume  = "resume"
	eventStop    = "stop"
	eventStopped = "stopped"
	eventTake    = "take"
	eventTaken   = "taken"
	eventAbort   = "abort"
)

// ErrInvalidState is returned when a handler is asked to do something its
// current state does not allow.
var ErrInvalidState = errors.New("handler: invalid state")

// fire runs event on m and maps fsm errors to ErrInvalidState.
func fire(m *fsm.FSM, event string) error {
	if err := m.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return errors.Join(ErrInvalidState, err)
	}
	return nil
}
