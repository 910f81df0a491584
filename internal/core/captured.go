// Package core wires the capture daemon together.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
	textureregistry "github.com/e7canasta/orion-care-sensor/modules/texture-registry"

	"github.com/e7canasta/orion-care-sensor/internal/cameras"
	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/control"
	"github.com/e7canasta/orion-care-sensor/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/internal/httpapi"
	"github.com/e7canasta/orion-care-sensor/internal/media"
	"github.com/e7canasta/orion-care-sensor/internal/scheduler"
	"github.com/e7canasta/orion-care-sensor/internal/telemetry"
)

// Captured is the main service orchestrator
type Captured struct {
	cfg *config.Config

	// Core components
	registry       *textureregistry.Registry
	manager        *cameras.Manager
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	httpServer     *httpapi.Server
	scheduler      *scheduler.Scheduler
	inst           *telemetry.Instruments

	telemetryShutdown func(context.Context) error

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	isRunning bool
}

// NewCaptured creates the service on platform.
func NewCaptured(cfg *config.Config, platform engine.Platform) (*Captured, error) {
	c := &Captured{
		cfg:      cfg,
		registry: textureregistry.New(),
	}

	var sink capturecontroller.EventSink
	if cfg.MQTT.Enabled {
		codec, err := emitter.NewCodec(cfg.MQTT.Codec)
		if err != nil {
			return nil, err
		}
		c.emitter = emitter.NewMQTTEmitter(cfg, codec)
		sink = c.emitter
	}

	c.manager = cameras.NewManager(platform, c.registry, media.NewStore(cfg.MediaDir), sink)

	slog.Info("core: service created",
		"instance_id", cfg.InstanceID,
		"media_dir", cfg.MediaDir,
		"cameras", len(cfg.Cameras),
		"mqtt", cfg.MQTT.Enabled,
		"http", cfg.HTTP.Enabled,
	)
	return c, nil
}

// Manager returns the camera manager.
func (c *Captured) Manager() *cameras.Manager { return c.manager }

// Run starts every component and blocks until ctx is cancelled.
func (c *Captured) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	c.isRunning = true
	c.started = time.Now()
	c.mu.Unlock()

	// 1. Telemetry first so the instruments bind to the real providers
	if c.cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, c.cfg.Telemetry, c.cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		c.telemetryShutdown = shutdown
		slog.Info("core: telemetry enabled", "endpoint", c.cfg.Telemetry.Endpoint)
	}

	inst, err := telemetry.NewInstruments()
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	c.inst = inst
	if err := inst.RegisterCameraStats(otel.GetMeterProvider(), c.cameraStats); err != nil {
		return fmt.Errorf("failed to register camera stats: %w", err)
	}

	// 2. MQTT events and control plane
	if c.emitter != nil {
		if err := c.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		codec, err := emitter.NewCodec(c.cfg.MQTT.Codec)
		if err != nil {
			return err
		}
		c.controlHandler = control.NewHandler(c.cfg, c.emitter.Client, c.manager, c.emitter, codec, inst)
		if err := c.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control handler: %w", err)
		}
	}

	// 3. HTTP API
	if c.cfg.HTTP.Enabled {
		c.httpServer = httpapi.NewServer(c.cfg.HTTP.Addr, c.manager, c.registry)
		c.httpServer.Start()
	}

	// 4. Configured cameras
	c.autoCreateCameras()

	// 5. Schedules
	if len(c.cfg.Schedules) > 0 {
		c.scheduler = scheduler.New(c.manager, inst, time.Local)
		if err := c.scheduler.Add(c.cfg.Schedules); err != nil {
			return err
		}
		c.scheduler.Start()
	}

	slog.Info("core: service running")

	<-ctx.Done()
	slog.Info("core: context cancelled, stopping service")
	return nil
}

// autoCreateCameras creates the cameras marked auto_create and starts the
// preview of those marked auto_preview.
func (c *Captured) autoCreateCameras() {
	for _, camCfg := range c.cfg.Cameras {
		if !camCfg.AutoCreate {
			continue
		}
		preset, err := capturecontroller.ParseResolutionPreset(camCfg.Preset)
		if err != nil {
			slog.Error("core: invalid preset", "device", camCfg.Device, "error", err)
			continue
		}

		c.manager.Create(camCfg.Device, preset, camCfg.Audio, func(r capturecontroller.Result) {
			if r.Err != nil {
				slog.Error("core: failed to create configured camera", "device", camCfg.Device, "error", r.Err)
				return
			}
			if !camCfg.AutoPreview {
				return
			}
			c.manager.Initialize(r.TextureID, func(r capturecontroller.Result) {
				if r.Err != nil {
					slog.Error("core: failed to start preview", "device", camCfg.Device, "error", r.Err)
					return
				}
				slog.Info("core: preview started",
					"device", camCfg.Device,
					"width", r.PreviewSize.Width,
					"height", r.PreviewSize.Height,
				)
			})
		})
	}
}

func (c *Captured) cameraStats() map[string]capturecontroller.Stats {
	infos := c.manager.List()
	out := make(map[string]capturecontroller.Stats, len(infos))
	for _, info := range infos {
		out[info.Device] = info.Stats
	}
	return out
}

// Shutdown performs graceful shutdown of all components
func (c *Captured) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	slog.Info("core: shutting down service")

	// Shutdown sequence (order is important!):
	// 1. Stop producing new requests
	if c.scheduler != nil {
		c.scheduler.Stop(ctx)
	}
	if c.controlHandler != nil {
		if err := c.controlHandler.Stop(); err != nil {
			slog.Error("core: failed to stop control handler", "error", err)
		}
	}
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			slog.Error("core: failed to stop http server", "error", err)
		}
	}

	// 2. Dispose cameras; pending requests fail and camera_closing events
	// still go out
	if err := c.manager.Close(); err != nil {
		slog.Error("core: failed to close cameras", "error", err)
	}
	if err := c.registry.Close(); err != nil {
		slog.Error("core: failed to close texture registry", "error", err)
	}

	// 3. Disconnect MQTT
	if c.emitter != nil {
		if err := c.emitter.Disconnect(); err != nil {
			slog.Error("core: failed to disconnect mqtt", "error", err)
		}
	}

	// 4. Flush telemetry
	if c.telemetryShutdown != nil {
		if err := c.telemetryShutdown(ctx); err != nil {
			slog.Error("core: failed to shutdown telemetry", "error", err)
		}
	}

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.isRunning = false
	c.mu.Unlock()

	slog.Info("core: service shutdown complete", "uptime", uptime)
	return nil
}

// GetStatus returns the current status of the service
func (c *Captured) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := map[string]interface{}{
		"instance_id": c.cfg.InstanceID,
		"uptime_s":    time.Since(c.started).Seconds(),
		"running":     c.isRunning,
		"cameras":     c.manager.List(),
	}
	if c.emitter != nil {
		status["mqtt"] = c.emitter.Stats()
	}
	if c.scheduler != nil {
		status["schedules"] = c.scheduler.Stats()
	}
	return status
}

// ShutdownTimeout returns the configured graceful shutdown timeout
// Returns default of 5 seconds if not configured
func (c *Captured) ShutdownTimeout() time.Duration {
	timeout := time.Duration(c.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second // Default
	}
	return timeout
}
