// Package emitter publishes camera notifications to the MQTT broker.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"

	"github.com/e7canasta/orion-care-sensor/internal/config"
)

// Event names, used as the last topic level.
const (
	EventVideoRecorded = "video_recorded"
	EventError         = "error"
	EventCameraClosing = "camera_closing"
)

// Event is the payload of a camera notification.
type Event struct {
	EventID            string `json:"event_id" msgpack:"event_id"`
	Event              string `json:"event" msgpack:"event"`
	InstanceID         string `json:"instance_id" msgpack:"instance_id"`
	CameraID           int64  `json:"camera_id" msgpack:"camera_id"`
	Path               string `json:"path,omitempty" msgpack:"path,omitempty"`
	MaxVideoDurationMs int64  `json:"max_video_duration_ms,omitempty" msgpack:"max_video_duration_ms,omitempty"`
	Description        string `json:"description,omitempty" msgpack:"description,omitempty"`
	Timestamp          string `json:"timestamp" msgpack:"timestamp"`
}

// MQTTEmitter publishes camera events to the MQTT broker. It implements
// capturecontroller.EventSink.
type MQTTEmitter struct {
	cfg    *config.Config
	codec  Codec
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

var _ capturecontroller.EventSink = (*MQTTEmitter)(nil)

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config, codec Codec) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		codec:     codec,
		published: make(map[string]uint64),
	}
}

// brokerURL adds the tcp scheme when the broker is a bare host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s", broker)
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := brokerURL(e.cfg.MQTT.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// VideoRecorded implements capturecontroller.EventSink.
func (e *MQTTEmitter) VideoRecorded(cameraID int64, path string, durationMs int64) {
	e.emit(cameraID, Event{Event: EventVideoRecorded, Path: path, MaxVideoDurationMs: durationMs})
}

// CaptureError implements capturecontroller.EventSink.
func (e *MQTTEmitter) CaptureError(cameraID int64, description string) {
	e.emit(cameraID, Event{Event: EventError, Description: description})
}

// CameraClosing implements capturecontroller.EventSink.
func (e *MQTTEmitter) CameraClosing(cameraID int64) {
	e.emit(cameraID, Event{Event: EventCameraClosing})
}

// emit is called from camera goroutines; failures are logged.
func (e *MQTTEmitter) emit(cameraID int64, ev Event) {
	if err := e.PublishEvent(cameraID, ev); err != nil {
		slog.Warn("emitter: failed to publish camera event",
			"event", ev.Event,
			"camera_id", cameraID,
			"error", err,
		)
	}
}

// PublishEvent publishes ev on <events>/<camera_id>/<event>.
func (e *MQTTEmitter) PublishEvent(cameraID int64, ev Event) error {
	ev.EventID = uuid.NewString()
	ev.InstanceID = e.cfg.InstanceID
	ev.CameraID = cameraID
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := e.codec.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/%d/%s", e.cfg.MQTT.Topics.Events, cameraID, ev.Event)
	return e.publish(topic, e.cfg.MQTT.QoS["events"], payload)
}

// PublishResponse publishes a control response.
func (e *MQTTEmitter) PublishResponse(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Responses, e.cfg.MQTT.QoS["responses"], payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: message published",
		"topic", topic,
		"qos", qos,
		"codec", e.codec.Name(),
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
