package capturecontroller

import (
	"fmt"
	"math"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// ResolutionPreset caps the preview height.
type ResolutionPreset int

const (
	PresetAuto ResolutionPreset = iota
	PresetLow
	PresetMedium
	PresetHigh
	PresetVeryHigh
	PresetUltraHigh
	PresetMax
)

// String returns the wire name of the preset.
func (p ResolutionPreset) String() string {
	switch p {
	case PresetLow:
		return "low"
	case PresetMedium:
		return "medium"
	case PresetHigh:
		return "high"
	case PresetVeryHigh:
		return "veryHigh"
	case PresetUltraHigh:
		return "ultraHigh"
	case PresetMax:
		return "max"
	default:
		return "auto"
	}
}

// MaxPreviewHeight returns the preview height ceiling of the preset.
func (p ResolutionPreset) MaxPreviewHeight() uint32 {
	switch p {
	case PresetLow:
		return 240
	case PresetMedium:
		return 480
	case PresetHigh:
		return 720
	case PresetVeryHigh:
		return 1080
	case PresetUltraHigh:
		return 2160
	default:
		return math.MaxUint32
	}
}

// ParseResolutionPreset parses a wire name. The empty string selects auto.
func ParseResolutionPreset(s string) (ResolutionPreset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PresetAuto, nil
	case "low":
		return PresetLow, nil
	case "medium":
		return PresetMedium, nil
	case "high":
		return PresetHigh, nil
	case "veryhigh":
		return PresetVeryHigh, nil
	case "ultrahigh":
		return PresetUltraHigh, nil
	case "max":
		return PresetMax, nil
	default:
		return PresetAuto, fmt.Errorf("capture-controller: unknown resolution preset %q", s)
	}
}

// Size is a frame size in pixels.
type Size struct {
	Width  uint32
	Height uint32
}

// minFrameRate excludes slideshow-like native modes from selection.
const minFrameRate = 15

// FindBestMediaType picks the media type with the largest frame area whose
// height does not exceed maxHeight. Types under 15 fps are skipped. Equal
// areas are decided by the higher frame rate; full ties keep the first type
// in enumeration order.
func FindBestMediaType(types []engine.MediaType, maxHeight uint32) (engine.MediaType, bool) {
	var (
		best  engine.MediaType
		found bool
	)
	for _, mt := range types {
		if mt.FrameRate() < minFrameRate || mt.Height > maxHeight {
			continue
		}
		if !found {
			best, found = mt, true
			continue
		}
		area, bestArea := uint64(mt.Width)*uint64(mt.Height), uint64(best.Width)*uint64(best.Height)
		if area > bestArea || (area == bestArea && mt.FrameRate() > best.FrameRate()) {
			best = mt
		}
	}
	return best, found
}
