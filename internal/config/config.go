package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete capture daemon configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	MediaDir         string           `yaml:"media_dir"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Cameras          []CameraConfig   `yaml:"cameras"`
	Engine           EngineConfig     `yaml:"engine"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	HTTP             HTTPConfig       `yaml:"http"`
	Telemetry        TelemetryConfig  `yaml:"telemetry"`
	Schedules        []ScheduleConfig `yaml:"schedules"`
}

// CameraConfig describes one capture device
type CameraConfig struct {
	Device      string `yaml:"device"`       // e.g. /dev/video0
	Preset      string `yaml:"preset"`       // low, medium, high, veryHigh, ultraHigh, max, auto
	Audio       bool   `yaml:"audio"`        // record audio with video
	AutoCreate  bool   `yaml:"auto_create"`  // create the camera at startup
	AutoPreview bool   `yaml:"auto_preview"` // initialize (start preview) once created
}

// EngineConfig tunes the GStreamer capture engine
type EngineConfig struct {
	MaxQueuedSamples int    `yaml:"max_queued_samples"`
	X264Preset       string `yaml:"x264_preset"`
	X264BitrateKbps  uint32 `yaml:"x264_bitrate_kbps"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  MQTTTopics      `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos"`
	Codec   string          `yaml:"codec"` // json, msgpack
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"`
	Events    string `yaml:"events"`
}

// HTTPConfig contains the HTTP API settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TelemetryConfig contains OpenTelemetry exporter settings
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// ScheduleConfig triggers a camera action on a cron spec
type ScheduleConfig struct {
	Name   string `yaml:"name"`
	Spec   string `yaml:"spec"`   // standard 5-field cron spec or @every
	Device string `yaml:"device"` // camera device
	Action string `yaml:"action"` // take_picture
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Camera returns the camera config for device.
func (c *Config) Camera(device string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.Device == device {
			return cam, true
		}
	}
	return CameraConfig{}, false
}
