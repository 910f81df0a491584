package config

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// ActionTakePicture is the only scheduled action.
const ActionTakePicture = "take_picture"

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.MediaDir == "" {
		cfg.MediaDir = "/var/lib/captured/media"
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Validate cameras
	seen := make(map[string]bool, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		if cam.Device == "" {
			return fmt.Errorf("cameras[%d]: device is required", i)
		}
		if seen[cam.Device] {
			return fmt.Errorf("cameras[%d]: duplicate device %q", i, cam.Device)
		}
		seen[cam.Device] = true
		if _, err := capturecontroller.ParseResolutionPreset(cam.Preset); err != nil {
			return fmt.Errorf("cameras[%d]: %w", i, err)
		}
		if cam.AutoPreview && !cam.AutoCreate {
			return fmt.Errorf("cameras[%d]: auto_preview requires auto_create", i)
		}
	}

	// Engine defaults
	if cfg.Engine.MaxQueuedSamples <= 0 {
		cfg.Engine.MaxQueuedSamples = 2
	}
	if cfg.Engine.X264Preset == "" {
		cfg.Engine.X264Preset = "ultrafast"
	}

	// Validate MQTT
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}

		// Set default topics if not provided
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("care/capture/%s/control", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Responses == "" {
			cfg.MQTT.Topics.Responses = fmt.Sprintf("care/capture/%s/responses", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("care/capture/%s/events", cfg.InstanceID)
		}

		// Set default QoS if not provided
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control":   1,
				"responses": 1,
				"events":    1,
			}
		}

		switch cfg.MQTT.Codec {
		case "":
			cfg.MQTT.Codec = "json"
		case "json", "msgpack":
		default:
			return fmt.Errorf("mqtt.codec must be json or msgpack, got %q", cfg.MQTT.Codec)
		}
	}

	// HTTP defaults
	if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	// Telemetry defaults
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint == "" {
			cfg.Telemetry.Endpoint = "localhost:4317"
		}
		if cfg.Telemetry.ServiceName == "" {
			cfg.Telemetry.ServiceName = "captured"
		}
	}

	// Validate schedules
	if err := ValidateSchedules(cfg); err != nil {
		return fmt.Errorf("schedule validation failed: %w", err)
	}

	return nil
}

// ValidateSchedules checks cron specs, actions and devices
func ValidateSchedules(cfg *Config) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	for i, s := range cfg.Schedules {
		if _, err := parser.Parse(s.Spec); err != nil {
			return fmt.Errorf("schedules[%d]: invalid spec %q: %w", i, s.Spec, err)
		}
		if s.Action != ActionTakePicture {
			return fmt.Errorf("schedules[%d]: unknown action %q", i, s.Action)
		}
		if _, ok := cfg.Camera(s.Device); !ok {
			return fmt.Errorf("schedules[%d]: device %q is not a configured camera", i, s.Device)
		}
		if cfg.Schedules[i].Name == "" {
			cfg.Schedules[i].Name = fmt.Sprintf("%s-%s-%d", s.Action, s.Device, i)
		}
	}
	return nil
}
