package engine

import (
	"errors"
	"fmt"
)

// EventKind tags the variants of Event.
type EventKind int

const (
	EventInitialized EventKind = iota
	EventError
	EventPreviewStarted
	EventPreviewStopped
	EventRecordStarted
	EventRecordStopped
	EventPhotoTaken
	// EventSample carries one preview frame in Event.Sample.
	EventSample
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventInitialized:
		return "initialized"
	case EventError:
		return "error"
	case EventPreviewStarted:
		return "preview_started"
	case EventPreviewStopped:
		return "preview_stopped"
	case EventRecordStarted:
		return "record_started"
	case EventRecordStopped:
		return "record_stopped"
	case EventPhotoTaken:
		return "photo_taken"
	case EventSample:
		return "sample"
	default:
		return "unknown"
	}
}

// Event is one message of the engine event stream.
type Event struct {
	Kind   EventKind
	Status Status
	// Message optionally describes a failure in human terms.
	Message string
	Sample  Sample
}

// Failed reports whether the event carries a failure status.
func (e Event) Failed() bool {
	return e.Status.Failed()
}

// Sample is a raw preview frame. Data is only valid for the duration of the
// Handle call.
type Sample struct {
	Data        []byte
	TimestampUs int64
}

// Status is a raw platform status code. Zero or positive values are success.
type Status int32

// Well-known platform status values.
const (
	StatusOK           Status = 0
	StatusFail         Status = -2147467259 // 0x80004005
	StatusAccessDenied Status = -2147024891 // 0x80070005
	StatusUnexpected   Status = -2147418113 // 0x8000FFFF
)

// Failed reports whether s is a failure code.
func (s Status) Failed() bool {
	return s < 0
}

func (s Status) String() string {
	return fmt.Sprintf("0x%08X", uint32(s))
}

// StatusError wraps a failed platform status returned synchronously by an
// Engine, Sink or Platform call.
type StatusError struct {
	Status Status
	Op     string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s failed (%s): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("engine: %s failed (%s)", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Errorf builds a StatusError for op.
func Errorf(status Status, op string, format string, args ...any) error {
	return &StatusError{Status: status, Op: op, Err: fmt.Errorf(format, args...)}
}

// StatusOf extracts the platform status from err. Errors that carry no
// status map to StatusFail, nil maps to StatusOK.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusFail
}
