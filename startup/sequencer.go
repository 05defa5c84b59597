// Package startup implements the launch sequencer: a priority-ordered
// critical-path wave raced against a shared timeout, cold/warm start
// detection, and a sequential deferred wave gated on UI idleness. Launches
// are recorded to a rolling persisted log.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/remedia-app/appcore/persist"
)

// Config carries the sequencer's timeouts, targets, and slot toggles.
type Config struct {
	// CriticalPathTimeout is the shared deadline every critical-path
	// loader races against.
	CriticalPathTimeout time.Duration `mapstructure:"critical_path_timeout" validate:"gt=0"`

	// ColdStartTarget and WarmStartTarget are the interactive-time targets,
	// compared purely for logging and LaunchPerformance.
	ColdStartTarget time.Duration `mapstructure:"cold_start_target" validate:"gt=0"`
	WarmStartTarget time.Duration `mapstructure:"warm_start_target" validate:"gt=0"`

	// WarmStartWindow is how soon after the last recorded exit a launch
	// still counts as warm.
	WarmStartWindow time.Duration `mapstructure:"warm_start_window" validate:"gt=0"`

	// FatalPriorityMax is the priority boundary: failures at or below it
	// abort the launch.
	FatalPriorityMax int `mapstructure:"fatal_priority_max" validate:"gte=1"`

	// EnableBackgroundInit gates the deferred wave entirely.
	EnableBackgroundInit bool `mapstructure:"enable_background_init"`

	// DisabledResources lists resource IDs dropped from the critical path.
	DisabledResources []string `mapstructure:"disabled_resources"`

	// PriorityOverrides reassigns priorities by resource ID.
	PriorityOverrides map[string]int `mapstructure:"priority_overrides"`

	// StuckTaskTimeout is the watchdog threshold for one deferred task.
	StuckTaskTimeout time.Duration `mapstructure:"stuck_task_timeout" validate:"gt=0"`

	LaunchLogCap int `mapstructure:"launch_log_cap" validate:"gt=0"`
}

// DefaultConfig returns the stock launch settings.
func DefaultConfig() Config {
	return Config{
		CriticalPathTimeout:  10 * time.Second,
		ColdStartTarget:      3 * time.Second,
		WarmStartTarget:      time.Second,
		WarmStartWindow:      5 * time.Minute,
		FatalPriorityMax:     3,
		EnableBackgroundInit: true,
		StuckTaskTimeout:     30 * time.Second,
		LaunchLogCap:         50,
	}
}

// IdleNotifier gates the deferred wave on UI idleness. A nil notifier starts
// the wave immediately.
type IdleNotifier interface {
	AwaitIdle(ctx context.Context) error
}

// Sequencer drives one app launch: Initialize runs the critical path and
// returns at interactive; the deferred wave continues in the background until
// the launch record is written. One launch per Sequencer.
type Sequencer struct {
	cfg    Config
	logger *slog.Logger
	store  persist.Store
	idle   IdleNotifier

	state atomic.Int32

	mu        sync.Mutex
	resources []Resource
	deferred  []DeferredTask
	results   []ResourceResult
	taskErrs  []BackgroundTaskError
	records   []LaunchRecord

	sessionID     string
	coldStart     bool
	startedAt     time.Time
	interactiveAt time.Time

	lifecycleCtx context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	now          func() time.Time
}

// NewSequencer constructs a sequencer. logger may be nil for slog.Default;
// store may be nil for an in-memory store; idle may be nil to skip the idle
// gate.
func NewSequencer(cfg Config, logger *slog.Logger, st persist.Store, idle IdleNotifier) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = persist.NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		cfg:          cfg,
		logger:       logger.With("component", "startup"),
		store:        st,
		idle:         idle,
		lifecycleCtx: ctx,
		cancel:       cancel,
		now:          time.Now,
	}
	s.loadLaunchLog()
	return s
}

// State reports the current lifecycle position.
func (s *Sequencer) State() State { return State(s.state.Load()) }

// RegisterResource adds one critical-path resource. Well-known IDs may omit
// the priority to take their canonical slot. Registration closes once the
// launch starts.
func (s *Sequencer) RegisterResource(res Resource) error {
	if res.ID == "" {
		return errors.New("resource id required")
	}
	if res.Load == nil {
		return fmt.Errorf("resource %q: loader required", res.ID)
	}
	if res.Priority == 0 {
		p, ok := defaultPriorities[res.ID]
		if !ok {
			return fmt.Errorf("resource %q: priority required", res.ID)
		}
		res.Priority = p
	}
	if res.Priority < 1 {
		return fmt.Errorf("resource %q: priority must be at least 1", res.ID)
	}
	if s.State() != StateNotStarted {
		return fmt.Errorf("resource %q: registration closed, launch already started", res.ID)
	}
	s.mu.Lock()
	s.resources = append(s.resources, res)
	s.mu.Unlock()
	return nil
}

// RegisterDeferred adds one background task to the deferred wave.
func (s *Sequencer) RegisterDeferred(task DeferredTask) error {
	if task.ID == "" {
		return errors.New("task id required")
	}
	if task.Run == nil {
		return fmt.Errorf("task %q: run func required", task.ID)
	}
	if task.Priority < 1 {
		return fmt.Errorf("task %q: priority must be at least 1", task.ID)
	}
	if s.State() != StateNotStarted {
		return fmt.Errorf("task %q: registration closed, launch already started", task.ID)
	}
	s.mu.Lock()
	s.deferred = append(s.deferred, task)
	s.mu.Unlock()
	return nil
}

// Initialize runs the critical-path wave and returns once the app is
// interactive or a fatal resource failed. Calling it again while a launch is
// underway or finished is a no-op. The deferred wave, when enabled, continues
// in the background after return.
func (s *Sequencer) Initialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateLoadingCriticalPath)) {
		s.logger.Debug("initialize skipped, launch already underway", "state", s.State().String())
		return nil
	}

	s.mu.Lock()
	s.startedAt = s.now()
	s.sessionID = uuid.NewString()
	s.mu.Unlock()
	s.coldStart = s.detectColdStart()

	resources := s.criticalPath()
	s.logger.Info("launch started",
		"session_id", s.sessionID,
		"cold_start", s.coldStart,
		"resources", len(resources),
		"critical_path_timeout", s.cfg.CriticalPathTimeout)

	results := s.runCriticalWave(ctx, resources)
	s.mu.Lock()
	s.results = results
	s.mu.Unlock()

	var fatal *FatalResourceError
	failed := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		failed++
		if res.Priority <= s.cfg.FatalPriorityMax {
			if fatal == nil {
				fatal = &FatalResourceError{ResourceID: res.ID, Priority: res.Priority, Err: res.Err}
			}
			continue
		}
		degraded := &DegradedResourceError{ResourceID: res.ID, Priority: res.Priority, Err: res.Err}
		s.logger.Warn("non-critical resource failed", "resource", res.ID,
			"priority", res.Priority, "error", degraded.Err)
	}
	if fatal != nil {
		s.state.Store(int32(StateFailed))
		s.logger.Error("launch failed on the critical path",
			"resource", fatal.ResourceID, "priority", fatal.Priority, "error", fatal.Err)
		return fatal
	}

	s.interactiveAt = s.now()
	s.state.Store(int32(StateInteractive))
	s.logInteractive()

	if !s.cfg.EnableBackgroundInit {
		s.finishLaunch(time.Time{}, 0, 0)
		return nil
	}

	s.wg.Add(1)
	go s.runDeferredWave()
	return nil
}

// criticalPath applies the config toggles and overrides to the registered
// resources and returns them sorted by ascending priority, stable by
// registration order.
func (s *Sequencer) criticalPath() []Resource {
	disabled := make(map[string]bool, len(s.cfg.DisabledResources))
	for _, id := range s.cfg.DisabledResources {
		disabled[id] = true
	}

	s.mu.Lock()
	resources := make([]Resource, 0, len(s.resources))
	for _, res := range s.resources {
		if disabled[res.ID] {
			s.logger.Debug("resource disabled by config", "resource", res.ID)
			continue
		}
		if p, ok := s.cfg.PriorityOverrides[res.ID]; ok && p >= 1 {
			res.Priority = p
		}
		resources = append(resources, res)
	}
	s.mu.Unlock()

	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].Priority < resources[j].Priority
	})
	return resources
}

// runCriticalWave attempts every resource concurrently in ascending priority
// order, each raced against the shared timeout, and joins them all.
func (s *Sequencer) runCriticalWave(ctx context.Context, resources []Resource) []ResourceResult {
	results := make([]ResourceResult, len(resources))
	var wg sync.WaitGroup
	for i, res := range resources {
		attemptedAt := s.now()
		wg.Add(1)
		go func(i int, res Resource, attemptedAt time.Time) {
			defer wg.Done()
			results[i] = s.attemptLoad(ctx, res, attemptedAt)
		}(i, res, attemptedAt)
	}
	wg.Wait()
	return results
}

// attemptLoad runs one loader against the critical-path deadline. A loader
// that loses the race is cancelled through its context and marked failed; if
// it settles later anyway the outcome is logged at debug and discarded.
func (s *Sequencer) attemptLoad(ctx context.Context, res Resource, attemptedAt time.Time) ResourceResult {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.CriticalPathTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("loader panic: %v", r)
			}
		}()
		done <- res.Load(lctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-lctx.Done():
		err = lctx.Err()
		go func(id string) {
			late := <-done
			s.logger.Debug("orphaned loader settled after timeout",
				"resource", id, "error", late)
		}(res.ID)
	}

	elapsed := s.now().Sub(attemptedAt)
	if err != nil {
		s.logger.Warn("resource load failed", "resource", res.ID,
			"priority", res.Priority, "elapsed", elapsed, "error", err)
	} else {
		s.logger.Debug("resource loaded", "resource", res.ID,
			"priority", res.Priority, "elapsed", elapsed)
	}
	return ResourceResult{
		ID:          res.ID,
		Priority:    res.Priority,
		AttemptedAt: attemptedAt,
		Duration:    elapsed,
		Err:         err,
	}
}

func (s *Sequencer) logInteractive() {
	elapsed := s.interactiveAt.Sub(s.startedAt)
	target := s.cfg.ColdStartTarget
	kind := "cold"
	if !s.coldStart {
		target = s.cfg.WarmStartTarget
		kind = "warm"
	}
	s.logger.Info("interactive",
		"session_id", s.sessionID,
		"start_kind", kind,
		"elapsed_ms", durationMs(elapsed),
		"target_ms", durationMs(target),
		"within_target", elapsed <= target)
}

// runDeferredWave waits for the UI to go idle, then runs every deferred task
// strictly sequentially in ascending priority order. Task failures are
// captured individually; the queue never halts early unless the session is
// closed.
func (s *Sequencer) runDeferredWave() {
	defer s.wg.Done()

	if s.idle != nil {
		if err := s.idle.AwaitIdle(s.lifecycleCtx); err != nil {
			s.logger.Warn("deferred wave abandoned before idle", "error", err)
			return
		}
	}
	if !s.state.CompareAndSwap(int32(StateInteractive), int32(StateRunningDeferred)) {
		return
	}

	s.mu.Lock()
	tasks := append([]DeferredTask(nil), s.deferred...)
	s.mu.Unlock()
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Priority < tasks[j].Priority })

	waveStart := s.now()
	s.logger.Info("deferred wave started", "tasks", len(tasks))

	failures := 0
	for _, task := range tasks {
		select {
		case <-s.lifecycleCtx.Done():
			s.logger.Warn("deferred wave abandoned", "remaining_task", task.ID)
			return
		default:
		}

		start := s.now()
		if err := s.runDeferredTask(task); err != nil {
			failures++
			s.mu.Lock()
			s.taskErrs = append(s.taskErrs, BackgroundTaskError{TaskID: task.ID, Err: err})
			s.mu.Unlock()
			s.logger.Warn("deferred task failed", "task", task.ID,
				"elapsed", s.now().Sub(start), "error", err)
			continue
		}
		s.logger.Debug("deferred task done", "task", task.ID,
			"elapsed", s.now().Sub(start))
	}

	s.finishLaunch(waveStart, len(tasks), failures)
}

// runDeferredTask runs one task with a stuck-task watchdog. A panicking task
// is converted to a task failure.
func (s *Sequencer) runDeferredTask(task DeferredTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	watchdog := time.AfterFunc(s.cfg.StuckTaskTimeout, func() {
		s.logger.Warn("deferred task still running",
			"task", task.ID, "after", s.cfg.StuckTaskTimeout)
	})
	defer watchdog.Stop()
	return task.Run(s.lifecycleCtx)
}

// finishLaunch moves to FullyLoaded, appends the launch record, and persists
// the rolling log.
func (s *Sequencer) finishLaunch(waveStart time.Time, taskCount, taskFailures int) {
	s.state.Store(int32(StateFullyLoaded))
	now := s.now()

	deferredMs := 0.0
	if !waveStart.IsZero() {
		deferredMs = durationMs(now.Sub(waveStart))
	}

	s.mu.Lock()
	failed := 0
	for _, res := range s.results {
		if res.Err != nil {
			failed++
		}
	}
	record := LaunchRecord{
		SessionID:      s.sessionID,
		ColdStart:      s.coldStart,
		StartedAt:      s.startedAt,
		InteractiveMs:  durationMs(s.interactiveAt.Sub(s.startedAt)),
		FullyLoadedMs:  durationMs(now.Sub(s.startedAt)),
		DeferredMs:     deferredMs,
		ResourceCount:  len(s.results),
		FailedCount:    failed,
		DeferredCount:  taskCount,
		DeferredFailed: taskFailures,
	}
	s.records = append(s.records, record)
	if over := len(s.records) - s.cfg.LaunchLogCap; over > 0 {
		s.records = s.records[over:]
	}
	records := append([]LaunchRecord(nil), s.records...)
	s.mu.Unlock()

	if err := persist.SaveJSON(s.store, persist.KeyLaunchLog, records); err != nil {
		s.logger.Error("persisting launch log failed", "error", err)
	}
	s.logger.Info("launch complete",
		"session_id", record.SessionID,
		"fully_loaded_ms", record.FullyLoadedMs,
		"deferred_tasks", taskCount,
		"deferred_failures", taskFailures)
}

// detectColdStart compares now against the persisted last-exit instant. A
// missing or unreadable record counts as cold.
func (s *Sequencer) detectColdStart() bool {
	raw, found, err := s.store.Get(persist.KeyLastExit)
	if err != nil {
		s.logger.Warn("last exit unavailable, assuming cold start", "error", err)
		return true
	}
	if !found {
		return true
	}
	lastExit, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("last exit unreadable, assuming cold start", "error", err)
		return true
	}
	return s.now().Sub(lastExit) >= s.cfg.WarmStartWindow
}

// RecordExit persists the exit instant used by the next launch's cold/warm
// detection. Hosts call it when the app backgrounds or shuts down.
func (s *Sequencer) RecordExit() {
	if err := s.store.Set(persist.KeyLastExit, s.now().Format(time.RFC3339Nano)); err != nil {
		s.logger.Error("recording exit failed", "error", err)
	}
}

// Close abandons any in-flight deferred work and waits for it to stop.
func (s *Sequencer) Close() {
	s.cancel()
	s.wg.Wait()
}

// Results returns a copy of the critical-path attempt records, in attempt
// order.
func (s *Sequencer) Results() []ResourceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ResourceResult(nil), s.results...)
}

// DeferredFailures returns a copy of the captured background task failures.
func (s *Sequencer) DeferredFailures() []BackgroundTaskError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BackgroundTaskError(nil), s.taskErrs...)
}

// Records returns a copy of the rolling launch log, oldest first.
func (s *Sequencer) Records() []LaunchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LaunchRecord(nil), s.records...)
}

// LaunchPerformance summarizes the launch log against the configured targets.
func (s *Sequencer) LaunchPerformance() LaunchPerformance {
	s.mu.Lock()
	records := append([]LaunchRecord(nil), s.records...)
	s.mu.Unlock()
	return summarizeLaunches(records,
		durationMs(s.cfg.ColdStartTarget), durationMs(s.cfg.WarmStartTarget))
}

// SessionID returns the launch session identifier, empty before Initialize.
func (s *Sequencer) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Sequencer) loadLaunchLog() {
	var records []LaunchRecord
	found, err := persist.LoadJSON(s.store, persist.KeyLaunchLog, &records)
	if err != nil {
		s.logger.Warn("discarding persisted launch log", "error", err)
		return
	}
	if !found {
		return
	}
	if over := len(records) - s.cfg.LaunchLogCap; over > 0 {
		records = records[over:]
	}
	s.records = records
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
