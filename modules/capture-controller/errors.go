package capturecontroller

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Code is the coarse, caller-visible classification of a failure.
type Code string

const (
	// CodeError is any engine failure that is not an access denial.
	CodeError Code = "camera_error"
	// CodeAccessDenied means the platform refused access to the device.
	CodeAccessDenied Code = "CameraAccessDenied"

	CodeNotInitialized               Code = "not_initialized"
	CodeAlreadyInitialized           Code = "already_initialized"
	CodeInitializationAlreadyPending Code = "initialization_pending"
	CodeAlreadyCapturing             Code = "already_capturing"
	CodeAlreadyRecording             Code = "already_recording"
	CodeStartAlreadyRequested        Code = "start_already_requested"
	CodeNotRecording                 Code = "not_recording"
	CodeStopAlreadyRequested         Code = "stop_already_requested"
	CodeNotStarted                   Code = "preview_not_started"
	CodeDuplicateRequest             Code = "duplicate_request"
	CodeDisposed                     Code = "plugin_disposed"
)

// Error is the failure outcome of a camera operation.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so sentinels work with
// errors.Is regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Precondition and lifecycle errors.
var (
	ErrNotInitialized               = &Error{Code: CodeNotInitialized, Message: "Camera is not initialized"}
	ErrAlreadyInitialized           = &Error{Code: CodeAlreadyInitialized, Message: "Camera already initialized"}
	ErrInitializationAlreadyPending = &Error{Code: CodeInitializationAlreadyPending, Message: "Camera initialization already pending"}
	ErrAlreadyCapturing             = &Error{Code: CodeAlreadyCapturing, Message: "Photo capture already in progress"}
	ErrAlreadyRecording             = &Error{Code: CodeAlreadyRecording, Message: "Recording cannot be started. Previous recording must be stopped first"}
	ErrStartAlreadyRequested        = &Error{Code: CodeStartAlreadyRequested, Message: "Recording start already requested"}
	ErrNotRecording                 = &Error{Code: CodeNotRecording, Message: "No recording in progress"}
	ErrStopAlreadyRequested         = &Error{Code: CodeStopAlreadyRequested, Message: "Recording stop already requested"}
	ErrPreviewNotStarted            = &Error{Code: CodeNotStarted, Message: "Preview not started"}
	ErrPreviewNotPaused             = &Error{Code: CodeNotStarted, Message: "Preview not paused"}
	ErrDuplicateRequest             = &Error{Code: CodeDuplicateRequest, Message: "Duplicate request"}
	ErrDisposed                     = &Error{Code: CodeDisposed, Message: "Plugin disposed before request was handled"}
)

// CodeForStatus classifies a raw platform status.
func CodeForStatus(status engine.Status) Code {
	if status == engine.StatusAccessDenied {
		return CodeAccessDenied
	}
	return CodeError
}

// statusError builds the caller-visible error for a failed engine status.
func statusError(status engine.Status, message string) *Error {
	return &Error{Code: CodeForStatus(status), Message: message}
}

// engineError builds the caller-visible error for a failed engine call.
// The wrapped error is logged by the caller, never returned.
func engineError(err error, message string) *Error {
	return statusError(engine.StatusOf(err), message)
}

// eventError builds the caller-visible error for a failed engine event.
func eventError(ev engine.Event, fallback string) *Error {
	msg := ev.Message
	if msg == "" {
		msg = fallback
	}
	return statusError(ev.Status, msg)
}
