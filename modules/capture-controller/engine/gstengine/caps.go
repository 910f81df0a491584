package gstengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// parseCaps turns a serialized caps string, as returned by a v4l2src pad
// query, into concrete media types.
//
// Only video/x-raw and image/jpeg structures with fixed width and height are
// kept. Format lists expand into one media type per format; framerate lists
// and ranges collapse to their highest rate. Duplicates are dropped.
func parseCaps(caps string) []engine.MediaType {
	var (
		out  []engine.MediaType
		seen = make(map[engine.MediaType]bool)
	)
	for _, structure := range splitTopLevel(caps, ';') {
		for _, mt := range parseStructure(structure) {
			if !seen[mt] {
				seen[mt] = true
				out = append(out, mt)
			}
		}
	}
	return out
}

func parseStructure(s string) []engine.MediaType {
	fields := splitTopLevel(s, ',')
	if len(fields) == 0 {
		return nil
	}

	name := strings.TrimSpace(fields[0])
	if i := strings.IndexByte(name, '('); i >= 0 {
		// Memory features such as (memory:DMABuf) are not mappable.
		return nil
	}

	values := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(k)] = stripType(strings.TrimSpace(v))
	}

	width, err := strconv.ParseUint(values["width"], 10, 32)
	if err != nil {
		return nil
	}
	height, err := strconv.ParseUint(values["height"], 10, 32)
	if err != nil {
		return nil
	}
	num, den, ok := maxFraction(values["framerate"])
	if !ok {
		return nil
	}

	var subtypes []string
	switch name {
	case "image/jpeg":
		subtypes = []string{engine.SubtypeMJPG}
	case "video/x-raw":
		for _, format := range listItems(values["format"]) {
			subtypes = append(subtypes, subtypeForFormat(format))
		}
	default:
		return nil
	}

	out := make([]engine.MediaType, 0, len(subtypes))
	for _, st := range subtypes {
		out = append(out, engine.MediaType{
			Subtype:      st,
			Width:        uint32(width),
			Height:       uint32(height),
			FrameRateNum: num,
			FrameRateDen: den,
		})
	}
	return out
}

// stripType removes a leading "(int)" style type annotation.
func stripType(v string) string {
	if strings.HasPrefix(v, "(") {
		if i := strings.IndexByte(v, ')'); i >= 0 {
			return strings.TrimSpace(v[i+1:])
		}
	}
	return v
}

// listItems returns the items of "{ a, b }", or the single value.
func listItems(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if !strings.HasPrefix(v, "{") && !strings.HasPrefix(v, "[") {
		return []string{v}
	}
	v = strings.Trim(v, "{}[] ")
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(stripType(strings.TrimSpace(item))); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// maxFraction returns the highest fraction of a value, list or range.
func maxFraction(v string) (num, den uint32, ok bool) {
	var best float64 = -1
	for _, item := range listItems(v) {
		n, d, valid := parseFraction(item)
		if !valid || d == 0 {
			continue
		}
		if rate := float64(n) / float64(d); rate > best {
			best, num, den, ok = rate, n, d, true
		}
	}
	return num, den, ok
}

func parseFraction(s string) (num, den uint32, ok bool) {
	a, b, found := strings.Cut(s, "/")
	if !found {
		b = "1"
	}
	n, err := strconv.ParseUint(strings.TrimSpace(a), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	d, err := strconv.ParseUint(strings.TrimSpace(b), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(n), uint32(d), true
}

// splitTopLevel splits s on sep outside of brackets.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[', '(', '<':
			depth++
		case '}', ']', ')', '>':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					parts = append(parts, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		parts = append(parts, part)
	}
	return parts
}

func subtypeForFormat(format string) string {
	switch format {
	case "BGRx", "BGRA":
		return engine.SubtypeRGB32
	default:
		return format
	}
}

func formatForSubtype(subtype string) string {
	if subtype == engine.SubtypeRGB32 {
		return "BGRx"
	}
	return subtype
}

// sourceCaps returns the caps string selecting mt on the device, and
// whether the stream needs a JPEG decoder.
func sourceCaps(mt engine.MediaType) (string, bool) {
	rate := fmt.Sprintf("%d/%d", mt.FrameRateNum, mt.FrameRateDen)
	if mt.Subtype == engine.SubtypeMJPG || mt.Subtype == engine.SubtypeJPEG {
		return fmt.Sprintf("image/jpeg,width=%d,height=%d,framerate=%s", mt.Width, mt.Height, rate), true
	}
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%s",
		formatForSubtype(mt.Subtype), mt.Width, mt.Height, rate), false
}
