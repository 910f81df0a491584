// Package cameras owns the cameras of the daemon, keyed by camera id and
// device.
package cameras

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/texture"

	"github.com/e7canasta/orion-care-sensor/internal/media"
)

// CodeSystemError marks failures of the host rather than the camera.
const CodeSystemError capturecontroller.Code = "system_error"

// Manager errors.
var (
	ErrCameraNotFound = &capturecontroller.Error{Code: capturecontroller.CodeError, Message: "Camera not created"}
	ErrCameraExists   = &capturecontroller.Error{Code: capturecontroller.CodeError, Message: "Camera with given device id already exists. Existing camera must be disposed before creating it again."}
	ErrClosed         = &capturecontroller.Error{Code: capturecontroller.CodeDisposed, Message: "Camera manager closed"}
)

// DefaultDevicePattern matches V4L2 capture nodes.
const DefaultDevicePattern = "/dev/video*"

// Info describes one managed camera.
type Info struct {
	ID      int64                   `json:"camera_id" msgpack:"camera_id"`
	Device  string                  `json:"device" msgpack:"device"`
	Pending int                     `json:"pending" msgpack:"pending"`
	Stats   capturecontroller.Stats `json:"stats" msgpack:"stats"`
}

// Manager creates, tracks and disposes cameras.
type Manager struct {
	platform  engine.Platform
	registrar texture.Registrar
	store     *media.Store
	sink      capturecontroller.EventSink

	// DevicePattern is the glob used by Devices.
	DevicePattern string

	mu      sync.RWMutex
	cameras map[string]*capturecontroller.Camera // by device
	closed  bool
}

// NewManager creates an empty manager. sink may be nil.
func NewManager(platform engine.Platform, registrar texture.Registrar, store *media.Store, sink capturecontroller.EventSink) *Manager {
	return &Manager{
		platform:      platform,
		registrar:     registrar,
		store:         store,
		sink:          sink,
		DevicePattern: DefaultDevicePattern,
		cameras:       make(map[string]*capturecontroller.Camera),
	}
}

// Devices lists the capture devices present on the host.
func (m *Manager) Devices() ([]string, error) {
	devices, err := filepath.Glob(m.DevicePattern)
	if err != nil {
		return nil, fmt.Errorf("cameras: list devices: %w", err)
	}
	sort.Strings(devices)
	return devices, nil
}

// Create creates a camera for deviceID. done receives the texture id, which
// is also the camera id. A failed camera is removed again.
func (m *Manager) Create(deviceID string, preset capturecontroller.ResolutionPreset, audio bool, done capturecontroller.ResultFunc) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		done(capturecontroller.Result{Err: ErrClosed})
		return
	}
	if _, exists := m.cameras[deviceID]; exists {
		m.mu.Unlock()
		done(capturecontroller.Result{Err: ErrCameraExists})
		return
	}
	cam := capturecontroller.NewCamera(deviceID, m.platform, m.sink)
	m.cameras[deviceID] = cam
	m.mu.Unlock()

	slog.Info("cameras: creating camera", "device", deviceID, "preset", preset.String(), "audio", audio)

	cam.Create(m.registrar, audio, preset, func(r capturecontroller.Result) {
		if r.Err != nil {
			slog.Error("cameras: camera creation failed", "device", deviceID, "error", r.Err)
			m.remove(deviceID, cam)
			cam.Dispose()
		} else {
			slog.Info("cameras: camera created", "device", deviceID, "camera_id", r.TextureID)
		}
		done(r)
	})
}

func (m *Manager) remove(deviceID string, cam *capturecontroller.Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cameras[deviceID] == cam {
		delete(m.cameras, deviceID)
	}
}

// Get returns the camera with id.
func (m *Manager) Get(id int64) (*capturecontroller.Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id >= 0 {
		for _, cam := range m.cameras {
			if cam.ID() == id {
				return cam, nil
			}
		}
	}
	return nil, ErrCameraNotFound
}

// ByDevice returns the camera for deviceID.
func (m *Manager) ByDevice(deviceID string) (*capturecontroller.Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cam, ok := m.cameras[deviceID]
	if !ok {
		return nil, ErrCameraNotFound
	}
	return cam, nil
}

// List returns every managed camera ordered by device.
func (m *Manager) List() []Info {
	m.mu.RLock()
	cams := make([]*capturecontroller.Camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cams = append(cams, cam)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(cams))
	for _, cam := range cams {
		infos = append(infos, Info{
			ID:      cam.ID(),
			Device:  cam.DeviceID(),
			Pending: cam.Pending(),
			Stats:   cam.Stats(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Device < infos[j].Device })
	return infos
}

// Initialize starts the preview of camera id.
func (m *Manager) Initialize(id int64, done capturecontroller.ResultFunc) {
	cam, err := m.Get(id)
	if err != nil {
		done(capturecontroller.Result{Err: ErrCameraNotFound})
		return
	}
	cam.Initialize(done)
}

// PausePreview pauses the preview of camera id.
func (m *Manager) PausePreview(id int64, done capturecontroller.ResultFunc) {
	cam, err := m.Get(id)
	if err != nil {
		done(capturecontroller.Result{Err: ErrCameraNotFound})
		return
	}
	cam.PausePreview(done)
}

// ResumePreview resumes the preview of camera id.
func (m *Manager) ResumePreview(id int64, done capturecontroller.ResultFunc) {
	cam, err := m.Get(id)
	if err != nil {
		done(capturecontroller.Result{Err: ErrCameraNotFound})
		return
	}
	cam.ResumePreview(done)
}

// TakePicture captures a still into a new media path.
func (m *Manager) TakePicture(id int64, done capturecontroller.ResultFunc) {
	cam, err := m.Get(id)
	if err != nil {
		done(capturecontroller.Result{Err: ErrCameraNotFound})
		return
	}
	path, err := m.store.PicturePath()
	if err != nil {
		done(capturecontroller.Result{Err: &capturecontroller.Error{Code: CodeSystemError, Message: "Failed to get capture path for picture"}})
		return
	}
	cam.TakePicture(path, done)
}

// StartRecord starts recording into a new media path. A negative
// maxDurationMs records until StopRecord.
func (m *Manager) StartRecord(id int64, maxDurationMs int64, done capturecontroller.ResultFunc) {
	cam, err := m.Get(id)
	if err != nil {
		done(capturecontroller.Result{Err: ErrCameraNotFound})
		return
	}
	path, err := m.store.VideoPath()
	if err != nil {
		done(capturecontroller.Result{Err: &capturecontroller.Error{Code: CodeSystemError, Message: "Failed to get path for video capture"}})
		return
	}
	cam.StartRecord(path, maxDurationMs, done)
}

// StopRecord stops the recording of camera id.
func (m *Manager) StopRecord(id int64, done capturecontroller.ResultFunc) {
	cam, err := m.Get(id)
	if err != nil {
		done(capturecontroller.Result{Err: ErrCameraNotFound})
		return
	}
	cam.StopRecord(done)
}

// Dispose disposes camera id. Unknown ids are not an error.
func (m *Manager) Dispose(id int64) error {
	m.mu.Lock()
	var cam *capturecontroller.Camera
	for device, c := range m.cameras {
		if c.ID() == id {
			cam = c
			delete(m.cameras, device)
			break
		}
	}
	m.mu.Unlock()

	if cam == nil {
		slog.Debug("cameras: dispose of unknown camera", "camera_id", id)
		return nil
	}
	return cam.Dispose()
}

// Close disposes every camera. Later creates fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cams := m.cameras
	m.cameras = make(map[string]*capturecontroller.Camera)
	m.mu.Unlock()

	var firstErr error
	for device, cam := range cams {
		if err := cam.Dispose(); err != nil {
			slog.Error("cameras: failed to dispose camera", "device", device, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	slog.Info("cameras: manager closed", "disposed", len(cams))
	return firstErr
}
