// Package scheduler runs configured camera actions on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"

	"github.com/e7canasta/orion-care-sensor/internal/cameras"
	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/telemetry"
)

// CronLogger adapts slog to the cron.Logger interface
type CronLogger struct {
	Logger *slog.Logger
}

func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Cameras is implemented by *cameras.Manager.
type Cameras interface {
	ByDevice(deviceID string) (*capturecontroller.Camera, error)
	TakePicture(id int64, done capturecontroller.ResultFunc)
}

var _ Cameras = (*cameras.Manager)(nil)

// JobStats counts the runs of one schedule.
type JobStats struct {
	Runs      uint64 `json:"runs"`
	Failures  uint64 `json:"failures"`
	LastPath  string `json:"last_path,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	cams Cameras
	inst *telemetry.Instruments

	// ActionTimeout bounds one scheduled capture.
	ActionTimeout time.Duration

	mu    sync.Mutex
	stats map[string]*JobStats
}

// New creates a scheduler in loc. inst may be nil.
func New(cams Cameras, inst *telemetry.Instruments, loc *time.Location) *Scheduler {
	logger := &CronLogger{Logger: slog.Default().With("component", "scheduler")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cams:          cams,
		inst:          inst,
		ActionTimeout: 30 * time.Second,
		stats:         make(map[string]*JobStats),
	}
}

// Add registers every schedule. The specs are expected to be validated.
func (s *Scheduler) Add(schedules []config.ScheduleConfig) error {
	for _, sc := range schedules {
		if _, err := s.cron.AddFunc(sc.Spec, func() { s.run(sc) }); err != nil {
			return fmt.Errorf("scheduler: add %q: %w", sc.Name, err)
		}
		s.mu.Lock()
		s.stats[sc.Name] = &JobStats{}
		s.mu.Unlock()
		slog.Info("scheduler: schedule added", "name", sc.Name, "spec", sc.Spec, "device", sc.Device, "action", sc.Action)
	}
	return nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler: started", "jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("scheduler: stop timed out with jobs running")
	}
}

// Stats returns a copy of the per-schedule counters.
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

// run executes one scheduled action and waits for its result, so that
// SkipIfStillRunning skips overlapping runs.
func (s *Scheduler) run(sc config.ScheduleConfig) {
	if sc.Action != config.ActionTakePicture {
		s.finish(sc, "", fmt.Errorf("unknown action %q", sc.Action))
		return
	}

	cam, err := s.cams.ByDevice(sc.Device)
	if err != nil {
		s.finish(sc, "", err)
		return
	}

	results := make(chan capturecontroller.Result, 1)
	s.cams.TakePicture(cam.ID(), func(r capturecontroller.Result) {
		results <- r
	})

	select {
	case r := <-results:
		if r.Err != nil {
			s.finish(sc, "", r.Err)
			return
		}
		s.inst.CaptureCompleted(context.Background(), "photo")
		s.finish(sc, r.Path, nil)
	case <-time.After(s.ActionTimeout):
		s.finish(sc, "", fmt.Errorf("timed out after %s", s.ActionTimeout))
	}
}

func (s *Scheduler) finish(sc config.ScheduleConfig, path string, err error) {
	s.mu.Lock()
	st, ok := s.stats[sc.Name]
	if !ok {
		st = &JobStats{}
		s.stats[sc.Name] = st
	}
	st.Runs++
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastPath = path
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("scheduler: scheduled action failed", "name", sc.Name, "device", sc.Device, "error", err)
		return
	}
	slog.Info("scheduler: scheduled picture taken", "name", sc.Name, "device", sc.Device, "path", path)
}
