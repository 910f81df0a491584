package gstengine

import (
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// Caps as reported by a UVC webcam through v4l2src.
const webcamCaps = "image/jpeg, width=(int)1920, height=(int)1080, pixel-aspect-ratio=(fraction)1/1, framerate=(fraction){ 30/1, 15/1 }; " +
	"video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480, pixel-aspect-ratio=(fraction)1/1, framerate=(fraction){ 30/1, 15/1, 5/1 }; " +
	"video/x-raw(memory:DMABuf), format=(string)NV12, width=(int)640, height=(int)480, framerate=(fraction)30/1; " +
	"video/x-raw, format=(string){ NV12, BGRx }, width=(int)1280, height=(int)720, framerate=(fraction)[ 1/1, 10/1 ]; " +
	"video/x-raw, format=(string)YUY2, width=(int)[ 1, 4096 ], height=(int)[ 1, 2160 ], framerate=(fraction)30/1"

func TestParseCaps(t *testing.T) {
	got := parseCaps(webcamCaps)

	want := []engine.MediaType{
		{Subtype: engine.SubtypeMJPG, Width: 1920, Height: 1080, FrameRateNum: 30, FrameRateDen: 1},
		{Subtype: engine.SubtypeYUY2, Width: 640, Height: 480, FrameRateNum: 30, FrameRateDen: 1},
		{Subtype: engine.SubtypeNV12, Width: 1280, Height: 720, FrameRateNum: 10, FrameRateDen: 1},
		{Subtype: engine.SubtypeRGB32, Width: 1280, Height: 720, FrameRateNum: 10, FrameRateDen: 1},
	}

	if len(got) != len(want) {
		t.Fatalf("Expected %d media types, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Media type %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	t.Logf("✅ Parsed %d media types from webcam caps", len(got))
}

func TestParseCapsDeduplicates(t *testing.T) {
	caps := "video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480, framerate=(fraction)30/1; " +
		"video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480, framerate=(fraction){ 30/1, 15/1 }"

	got := parseCaps(caps)
	if len(got) != 1 {
		t.Fatalf("Expected 1 media type after dedupe, got %d: %v", len(got), got)
	}

	t.Logf("✅ Duplicate structures collapsed")
}

func TestParseCapsRejects(t *testing.T) {
	testCases := []struct {
		name string
		caps string
	}{
		{"empty", ""},
		{"any", "ANY"},
		{"audio", "audio/x-raw, format=(string)S16LE, rate=(int)48000, channels=(int)2"},
		{"no_framerate", "video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480"},
		{"zero_denominator", "video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480, framerate=(fraction)30/0"},
		{"memory_feature", "video/x-raw(memory:NVMM), format=(string)NV12, width=(int)640, height=(int)480, framerate=(fraction)30/1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseCaps(tc.caps); len(got) != 0 {
				t.Errorf("Expected no media types, got %v", got)
			}
		})
	}
}

func TestSplitTopLevel(t *testing.T) {
	got := splitTopLevel("a, b={ 1, 2 }, c=[ 3, 4 ], d", ',')
	want := []string{"a", "b={ 1, 2 }", "c=[ 3, 4 ]", "d"}

	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Part %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSourceCaps(t *testing.T) {
	testCases := []struct {
		name        string
		mt          engine.MediaType
		wantCaps    string
		wantDecoder bool
	}{
		{
			name:        "mjpeg",
			mt:          engine.MediaType{Subtype: engine.SubtypeMJPG, Width: 1920, Height: 1080, FrameRateNum: 30, FrameRateDen: 1},
			wantCaps:    "image/jpeg,width=1920,height=1080,framerate=30/1",
			wantDecoder: true,
		},
		{
			name:     "yuy2",
			mt:       engine.MediaType{Subtype: engine.SubtypeYUY2, Width: 640, Height: 480, FrameRateNum: 15, FrameRateDen: 1},
			wantCaps: "video/x-raw,format=YUY2,width=640,height=480,framerate=15/1",
		},
		{
			name:     "rgb32",
			mt:       engine.MediaType{Subtype: engine.SubtypeRGB32, Width: 1280, Height: 720, FrameRateNum: 10, FrameRateDen: 1},
			wantCaps: "video/x-raw,format=BGRx,width=1280,height=720,framerate=10/1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			caps, decoder := sourceCaps(tc.mt)
			if caps != tc.wantCaps {
				t.Errorf("Expected caps %q, got %q", tc.wantCaps, caps)
			}
			if decoder != tc.wantDecoder {
				t.Errorf("Expected decoder=%v, got %v", tc.wantDecoder, decoder)
			}
		})
	}
}
