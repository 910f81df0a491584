package gstengine

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// ErrorCategory classifies GStreamer errors for logging and status mapping.
type ErrorCategory int

const (
	// ErrCategoryPermission means the device refused access.
	ErrCategoryPermission ErrorCategory = iota
	// ErrCategoryDevice covers missing, busy or disconnected devices.
	ErrCategoryDevice
	// ErrCategoryCodec covers negotiation and encoder failures.
	ErrCategoryCodec
	// ErrCategoryIO covers output file failures.
	ErrCategoryIO
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryIO:
		return "io"
	default:
		return "unknown"
	}
}

// Status maps the category to an engine status.
func (c ErrorCategory) Status() engine.Status {
	if c == ErrCategoryPermission {
		return engine.StatusAccessDenied
	}
	return engine.StatusFail
}

// ClassifyGStreamerError categorizes a bus error.
// go-gst's GError does not expose the domain, so classification is by
// keywords in the message and debug string.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classifyMessage(gerr.Error(), gerr.DebugString())
}

func classifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, ioKeywords):
		return ErrCategoryIO
	default:
		return ErrCategoryUnknown
	}
}

var (
	permissionKeywords = []string{
		"permission denied",
		"access denied",
		"not authorized",
		"operation not permitted",
		"eacces",
	}
	deviceKeywords = []string{
		"no such device",
		"no such file or directory",
		"device or resource busy",
		"busy",
		"cannot identify device",
		"could not open device",
		"disconnected",
		"v4l2",
	}
	codecKeywords = []string{
		"not negotiated",
		"negotiation",
		"caps",
		"encode",
		"decode",
		"x264",
		"jpeg",
		"missing plugin",
		"no element",
	}
	ioKeywords = []string{
		"could not open file",
		"could not write",
		"no space left",
		"filesink",
		"read-only file system",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
