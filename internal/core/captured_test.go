package core

import (
	"context"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine/enginetest"

	"github.com/e7canasta/orion-care-sensor/internal/config"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCaptured_AutoCreateAndShutdown(t *testing.T) {
	cfg := &config.Config{
		InstanceID: "ward-3",
		MediaDir:   t.TempDir(),
		Cameras: []config.CameraConfig{
			{Device: "/dev/video0", Preset: "high", AutoCreate: true, AutoPreview: true},
		},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	eng := enginetest.NewEngine()
	c, err := NewCaptured(cfg, enginetest.NewPlatform(eng))
	if err != nil {
		t.Fatalf("NewCaptured: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- c.Run(ctx) }()

	waitFor(t, "engine initialize", func() bool { return eng.Calls(enginetest.OpInitialize) == 1 })
	eng.EmitStatus(engine.EventInitialized, engine.StatusOK)

	// auto_preview starts the preview once the camera exists.
	waitFor(t, "preview start", func() bool { return eng.Calls(enginetest.OpStartPreview) == 1 })

	infos := c.Manager().List()
	if len(infos) != 1 || infos[0].Device != "/dev/video0" || infos[0].ID < 0 {
		t.Fatalf("Unexpected cameras %+v", infos)
	}

	status := c.GetStatus()
	if status["running"] != true {
		t.Errorf("Expected running status, got %v", status["running"])
	}

	cancel()
	if err := <-errChan; err != nil {
		t.Fatalf("Run: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout())
	defer shutdownCancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !eng.Released() {
		t.Error("Expected engine released on shutdown")
	}
	if len(c.Manager().List()) != 0 {
		t.Error("Expected no cameras after shutdown")
	}

	t.Logf("✅ configured camera created, previewed and disposed")
}

func TestCaptured_RunTwice(t *testing.T) {
	cfg := &config.Config{InstanceID: "ward-3", MediaDir: t.TempDir()}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	c, err := NewCaptured(cfg, enginetest.NewPlatform(enginetest.NewEngine()))
	if err != nil {
		t.Fatalf("NewCaptured: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, "running", func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.isRunning
	})
	if err := c.Run(ctx); err == nil {
		t.Error("Expected error on second Run")
	}

	if c.ShutdownTimeout() != 5*time.Second {
		t.Errorf("Expected default timeout 5s, got %s", c.ShutdownTimeout())
	}

	t.Logf("✅ second Run rejected")
}
