package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/texture"
	textureregistry "github.com/e7canasta/orion-care-sensor/modules/texture-registry"

	"github.com/e7canasta/orion-care-sensor/internal/cameras"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCameras struct {
	picture func(id int64, done capturecontroller.ResultFunc)
}

func (f *fakeCameras) Devices() ([]string, error) { return []string{"/dev/video0"}, nil }

func (f *fakeCameras) List() []cameras.Info {
	return []cameras.Info{{ID: 1, Device: "/dev/video0"}}
}

func (f *fakeCameras) TakePicture(id int64, done capturecontroller.ResultFunc) {
	f.picture(id, done)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Listings(t *testing.T) {
	reg := textureregistry.New()
	defer reg.Close()
	s := NewServer(":0", &fakeCameras{}, reg)

	rec := do(t, s.Handler(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/cameras")
	var list struct {
		Cameras []cameras.Info `json:"cameras"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(list.Cameras) != 1 || list.Cameras[0].Device != "/dev/video0" {
		t.Errorf("Unexpected cameras %+v", list.Cameras)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/cameras/available")
	if !strings.Contains(rec.Body.String(), "/dev/video0") {
		t.Errorf("Expected device in %s", rec.Body.String())
	}

	t.Logf("✅ listings served")
}

func TestServer_TakePicture(t *testing.T) {
	tests := []struct {
		name       string
		result     capturecontroller.Result
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Success",
			result:     capturecontroller.Result{Path: "/media/pictures/PhotoCapture_1.jpeg"},
			wantStatus: http.StatusOK,
			wantBody:   "PhotoCapture_1.jpeg",
		},
		{
			name:       "NotFound",
			result:     capturecontroller.Result{Err: cameras.ErrCameraNotFound},
			wantStatus: http.StatusNotFound,
			wantBody:   "Camera not created",
		},
		{
			name:       "Busy",
			result:     capturecontroller.Result{Err: capturecontroller.ErrAlreadyCapturing},
			wantStatus: http.StatusConflict,
			wantBody:   string(capturecontroller.CodeAlreadyCapturing),
		},
		{
			name:       "AccessDenied",
			result:     capturecontroller.Result{Err: &capturecontroller.Error{Code: capturecontroller.CodeAccessDenied, Message: "denied"}},
			wantStatus: http.StatusForbidden,
			wantBody:   "CameraAccessDenied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cams := &fakeCameras{picture: func(id int64, done capturecontroller.ResultFunc) {
				go done(tt.result)
			}}
			s := NewServer(":0", cams, textureregistry.New())

			rec := do(t, s.Handler(), http.MethodPost, "/cameras/1/picture")
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected %q in body %s", tt.wantBody, rec.Body.String())
			}
		})
	}

	t.Run("Timeout", func(t *testing.T) {
		cams := &fakeCameras{picture: func(int64, capturecontroller.ResultFunc) {}}
		s := NewServer(":0", cams, textureregistry.New())
		s.PictureTimeout = 20 * time.Millisecond

		rec := do(t, s.Handler(), http.MethodPost, "/cameras/1/picture")
		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("Expected 504, got %d", rec.Code)
		}
	})

	t.Run("BadID", func(t *testing.T) {
		s := NewServer(":0", &fakeCameras{}, textureregistry.New())
		rec := do(t, s.Handler(), http.MethodPost, "/cameras/abc/picture")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Logf("✅ picture statuses mapped")
}

func TestServer_PreviewUnknownTexture(t *testing.T) {
	reg := textureregistry.New()
	defer reg.Close()
	s := NewServer(":0", &fakeCameras{}, reg)

	rec := do(t, s.Handler(), http.MethodGet, "/cameras/42/preview.mjpeg")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}

	t.Logf("✅ unknown texture rejected")
}

func TestServer_PreviewStream(t *testing.T) {
	reg := textureregistry.New()
	defer reg.Close()

	h := texture.NewHandler(reg)
	id, err := h.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.SetSize(8, 4)

	s := NewServer(":0", &fakeCameras{}, reg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// Keep publishing until the stream has delivered a frame.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.Publish(make([]byte, 8*4*texture.BytesPerPixel))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/cameras/%d/preview.mjpeg", ts.URL, id), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET preview: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("Unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		return strings.TrimRight(line, "\r\n")
	}

	if line := readLine(); line != "--frame" {
		t.Fatalf("Expected boundary, got %q", line)
	}
	if line := readLine(); line != "Content-Type: image/jpeg" {
		t.Fatalf("Expected part content type, got %q", line)
	}
	length, err := strconv.Atoi(strings.TrimPrefix(readLine(), "Content-Length: "))
	if err != nil {
		t.Fatalf("Bad content length: %v", err)
	}
	readLine()

	img, err := jpeg.Decode(io.LimitReader(r, int64(length)))
	if err != nil {
		t.Fatalf("Decode frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("Expected 8x4 frame, got %v", b)
	}

	t.Logf("✅ MJPEG frame of %d bytes", length)
}
