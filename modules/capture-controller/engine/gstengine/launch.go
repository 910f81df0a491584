package gstengine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Element names looked up after parsing the launch description.
const (
	nameSource     = "src"
	namePreview    = "preview"
	namePhotoValve = "photovalve"
	namePhoto      = "photo"
	nameRecordFile = "recordfile"
)

// launchConfig describes the branches of one capture pipeline.
type launchConfig struct {
	Source  engine.MediaType
	Preview *engine.MediaType
	Photo   *engine.MediaType
	Record  *engine.MediaType
	// RecordPath selects the muxer; the location itself is set as a
	// property after parsing.
	RecordPath  string
	RecordAudio bool
	X264Preset  string
	X264Bitrate uint32
}

var errNoBranch = errors.New("gstengine: pipeline has no branch")

// buildLaunch returns the gst-launch description for cfg.
//
// Pipeline structure:
//
//	v4l2src → caps → [jpegdec] → videoconvert → tee
//	tee → queue → videoscale → videoconvert → BGRx caps → appsink(preview)
//	tee → queue → valve → videoscale → videoconvert → caps → jpegenc → appsink(photo)
//	tee → queue → videoscale → videoconvert → I420 caps → x264enc → h264parse → mux → filesink
//	autoaudiosrc → audioconvert → audioresample → avenc_aac → aacparse → queue → mux
//
// Device and output locations are not part of the description; they are set
// as properties on the named elements.
func buildLaunch(cfg launchConfig) (string, error) {
	if cfg.Preview == nil && cfg.Photo == nil && cfg.Record == nil {
		return "", errNoBranch
	}

	caps, needsDecoder := sourceCaps(cfg.Source)

	var b strings.Builder
	fmt.Fprintf(&b, "v4l2src name=%s ! %s ! ", nameSource, caps)
	if needsDecoder {
		b.WriteString("jpegdec ! ")
	}
	b.WriteString("videoconvert ! tee name=t")

	if mt := cfg.Preview; mt != nil {
		fmt.Fprintf(&b,
			" t. ! queue leaky=downstream max-size-buffers=1 ! videoscale ! videoconvert ! "+
				"video/x-raw,format=BGRx,width=%d,height=%d ! "+
				"appsink name=%s sync=false max-buffers=1 drop=true",
			mt.Width, mt.Height, namePreview)
	}

	if mt := cfg.Photo; mt != nil {
		fmt.Fprintf(&b,
			" t. ! queue leaky=downstream max-size-buffers=1 ! valve name=%s drop=true ! "+
				"videoscale ! videoconvert ! video/x-raw,width=%d,height=%d ! jpegenc ! "+
				"appsink name=%s sync=false max-buffers=1 drop=true",
			namePhotoValve, mt.Width, mt.Height, namePhoto)
	}

	if mt := cfg.Record; mt != nil {
		preset := cfg.X264Preset
		if preset == "" {
			preset = "ultrafast"
		}
		fmt.Fprintf(&b,
			" t. ! queue ! videoscale ! videoconvert ! video/x-raw,format=I420,width=%d,height=%d ! "+
				"x264enc tune=zerolatency speed-preset=%s",
			mt.Width, mt.Height, preset)
		if cfg.X264Bitrate > 0 {
			fmt.Fprintf(&b, " bitrate=%d", cfg.X264Bitrate)
		}
		fmt.Fprintf(&b, " ! h264parse ! %s name=mux ! filesink name=%s", muxerFor(cfg.RecordPath), nameRecordFile)

		if cfg.RecordAudio {
			b.WriteString(" autoaudiosrc ! audioconvert ! audioresample ! avenc_aac ! aacparse ! queue ! mux.")
		}
	}

	return b.String(), nil
}

// muxerFor picks the container from the output file extension.
func muxerFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv":
		return "matroskamux"
	case ".mov":
		return "qtmux"
	default:
		return "mp4mux"
	}
}
