// Package control executes camera commands received on the MQTT control
// topic and publishes one response per command.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"

	"github.com/e7canasta/orion-care-sensor/internal/cameras"
	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/internal/telemetry"
)

// Command names.
const (
	CmdAvailableCameras = "available_cameras"
	CmdCreate           = "create"
	CmdInitialize       = "initialize"
	CmdTakePicture      = "take_picture"
	CmdStartRecording   = "start_video_recording"
	CmdStopRecording    = "stop_video_recording"
	CmdPausePreview     = "pause_preview"
	CmdResumePreview    = "resume_preview"
	CmdDispose          = "dispose"
	CmdList             = "list"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes produced by the handler itself.
const (
	CodeInvalidCommand = "invalid_command"
	CodeInvalidParams  = "invalid_params"
	CodeUnknownCommand = "unknown_command"
)

// Command represents a control plane command
type Command struct {
	Command   string `json:"command" msgpack:"command"`
	RequestID string `json:"request_id,omitempty" msgpack:"request_id,omitempty"`
	CameraID  int64  `json:"camera_id,omitempty" msgpack:"camera_id,omitempty"`
	Params    Params `json:"params,omitempty" msgpack:"params,omitempty"`

	received time.Time
}

// Params are the optional command arguments.
type Params struct {
	Device           string `json:"device,omitempty" msgpack:"device,omitempty"`
	ResolutionPreset string `json:"resolution_preset,omitempty" msgpack:"resolution_preset,omitempty"`
	EnableAudio      bool   `json:"enable_audio,omitempty" msgpack:"enable_audio,omitempty"`

	// MaxVideoDurationMs is optional; absent records until stopped.
	MaxVideoDurationMs *int64 `json:"max_video_duration_ms,omitempty" msgpack:"max_video_duration_ms,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack" msgpack:"command_ack"`
	RequestID  string         `json:"request_id" msgpack:"request_id"`
	CameraID   int64          `json:"camera_id,omitempty" msgpack:"camera_id,omitempty"`
	Status     string         `json:"status" msgpack:"status"`
	Data       map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
	Error      *ResponseError `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp  string         `json:"timestamp" msgpack:"timestamp"`
}

// ResponseError carries the camera error code and message.
type ResponseError struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Cameras is the camera surface driven by commands. It is implemented by
// *cameras.Manager.
type Cameras interface {
	Devices() ([]string, error)
	Create(deviceID string, preset capturecontroller.ResolutionPreset, audio bool, done capturecontroller.ResultFunc)
	Initialize(id int64, done capturecontroller.ResultFunc)
	PausePreview(id int64, done capturecontroller.ResultFunc)
	ResumePreview(id int64, done capturecontroller.ResultFunc)
	TakePicture(id int64, done capturecontroller.ResultFunc)
	StartRecord(id int64, maxDurationMs int64, done capturecontroller.ResultFunc)
	StopRecord(id int64, done capturecontroller.ResultFunc)
	Dispose(id int64) error
	List() []cameras.Info
}

var _ Cameras = (*cameras.Manager)(nil)

// Publisher sends encoded responses. It is implemented by
// *emitter.MQTTEmitter.
type Publisher interface {
	PublishResponse(payload []byte) error
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	cams      Cameras
	publisher Publisher
	codec     emitter.Codec
	inst      *telemetry.Instruments
	commands  chan Command
}

// NewHandler creates a new control plane handler. inst may be nil.
func NewHandler(cfg *config.Config, client mqtt.Client, cams Cameras, publisher Publisher, codec emitter.Codec, inst *telemetry.Instruments) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		cams:      cams,
		publisher: publisher,
		codec:     codec,
		inst:      inst,
		commands:  make(chan Command, 10),
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control: handler started", "codec", h.codec.Name())

	// Process commands
	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes from the control topic. Commands already queued are
// discarded when the context passed to Start ends.
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.WaitTimeout(2 * time.Second)
	}

	slog.Info("control: handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := h.codec.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err, "codec", h.codec.Name())
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     StatusError,
			Error:      &ResponseError{Code: CodeInvalidCommand, Message: "invalid payload"},
		})
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	cmd.received = time.Now()

	slog.Info("control: command received", "command", cmd.Command, "request_id", cmd.RequestID, "camera_id", cmd.CameraID)

	// Send to processing channel
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command, "request_id", cmd.RequestID)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			RequestID:  cmd.RequestID,
			CameraID:   cmd.CameraID,
			Status:     StatusError,
			Error:      &ResponseError{Code: string(cameras.CodeSystemError), Message: "command queue full"},
		})
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		}
	}
}

// handleCommand starts cmd. Camera operations complete asynchronously and
// respond from their result callback.
func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	ctx, end := h.inst.StartCommand(ctx, cmd.Command, cmd.RequestID)

	// reply is called exactly once per command.
	reply := func(data map[string]any, cerr *capturecontroller.Error) {
		resp := Response{
			CommandAck: cmd.Command,
			RequestID:  cmd.RequestID,
			CameraID:   cmd.CameraID,
			Status:     StatusSuccess,
			Data:       data,
		}
		var err error
		if cerr != nil {
			resp.Status = StatusError
			resp.Error = &ResponseError{Code: string(cerr.Code), Message: cerr.Message}
			err = cerr
		}
		end(resp.Status, err)
		h.sendResponse(resp)

		slog.Debug("control: command completed",
			"command", cmd.Command,
			"request_id", cmd.RequestID,
			"status", resp.Status,
			"duration", time.Since(cmd.received),
		)
	}

	switch cmd.Command {
	case CmdAvailableCameras:
		devices, err := h.cams.Devices()
		if err != nil {
			reply(nil, &capturecontroller.Error{Code: cameras.CodeSystemError, Message: err.Error()})
			return
		}
		reply(map[string]any{"devices": devices}, nil)

	case CmdList:
		reply(map[string]any{"cameras": h.cams.List()}, nil)

	case CmdCreate:
		if cmd.Params.Device == "" {
			reply(nil, &capturecontroller.Error{Code: CodeInvalidParams, Message: "missing 'device' parameter"})
			return
		}
		preset, err := capturecontroller.ParseResolutionPreset(cmd.Params.ResolutionPreset)
		if err != nil {
			reply(nil, &capturecontroller.Error{Code: CodeInvalidParams, Message: err.Error()})
			return
		}
		h.cams.Create(cmd.Params.Device, preset, cmd.Params.EnableAudio, func(r capturecontroller.Result) {
			if r.Err != nil {
				reply(nil, r.Err)
				return
			}
			cmd.CameraID = r.TextureID
			reply(map[string]any{"camera_id": r.TextureID}, nil)
		})

	case CmdInitialize:
		h.cams.Initialize(cmd.CameraID, func(r capturecontroller.Result) {
			if r.Err != nil {
				reply(nil, r.Err)
				return
			}
			reply(map[string]any{
				"preview_width":  r.PreviewSize.Width,
				"preview_height": r.PreviewSize.Height,
			}, nil)
		})

	case CmdTakePicture:
		h.cams.TakePicture(cmd.CameraID, func(r capturecontroller.Result) {
			if r.Err != nil {
				reply(nil, r.Err)
				return
			}
			h.inst.CaptureCompleted(ctx, "photo")
			reply(map[string]any{"path": r.Path}, nil)
		})

	case CmdStartRecording:
		maxMs := int64(-1)
		if p := cmd.Params.MaxVideoDurationMs; p != nil {
			maxMs = *p
		}
		h.cams.StartRecord(cmd.CameraID, maxMs, resultOnly(reply))

	case CmdStopRecording:
		h.cams.StopRecord(cmd.CameraID, func(r capturecontroller.Result) {
			if r.Err != nil {
				reply(nil, r.Err)
				return
			}
			h.inst.CaptureCompleted(ctx, "video")
			reply(map[string]any{"path": r.Path}, nil)
		})

	case CmdPausePreview:
		h.cams.PausePreview(cmd.CameraID, resultOnly(reply))

	case CmdResumePreview:
		h.cams.ResumePreview(cmd.CameraID, resultOnly(reply))

	case CmdDispose:
		if err := h.cams.Dispose(cmd.CameraID); err != nil {
			reply(nil, &capturecontroller.Error{Code: cameras.CodeSystemError, Message: err.Error()})
			return
		}
		reply(nil, nil)

	default:
		slog.Warn("control: unknown command", "command", cmd.Command)
		reply(nil, &capturecontroller.Error{Code: CodeUnknownCommand, Message: fmt.Sprintf("unknown command %q", cmd.Command)})
	}
}

// resultOnly adapts reply for operations that return no data.
func resultOnly(reply func(map[string]any, *capturecontroller.Error)) capturecontroller.ResultFunc {
	return func(r capturecontroller.Result) {
		reply(nil, r.Err)
	}
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := h.codec.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	if err := h.publisher.PublishResponse(payload); err != nil {
		slog.Error("control: failed to publish response",
			"command_ack", resp.CommandAck,
			"request_id", resp.RequestID,
			"error", err,
		)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "request_id", resp.RequestID, "status", resp.Status)
}
