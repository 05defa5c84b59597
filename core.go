// Package appcore assembles the app's runtime resource services behind one
// facade: a startup sequencer that stages launch work by priority, a
// performance recorder that tracks marks, frames, and interactions, and a
// resource governor that watches memory, detects leaks, and runs the
// byte-budgeted cache. Hosts build a single Core, register their loaders,
// and call Initialize once per process.
package appcore

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/remedia-app/appcore/governor"
	"github.com/remedia-app/appcore/idle"
	"github.com/remedia-app/appcore/perf"
	"github.com/remedia-app/appcore/persist"
	"github.com/remedia-app/appcore/probe"
	"github.com/remedia-app/appcore/startup"
)

// TaskStartMonitoring is the deferred task Core registers on its own behalf.
// It brings up the governor's monitoring loops once the launch goes idle, so
// sampling never competes with the critical path.
const TaskStartMonitoring = "start_monitoring"

// Core owns one instance of each runtime service plus the glue between them:
// the recorder reads memory aggregates from the governor, the sequencer
// gates its deferred wave on the idle monitor, and both rolling logs and the
// launch log share the same breaker-wrapped store.
//
// With Startup.EnableBackgroundInit disabled the deferred wave never runs,
// so the host must call StartMonitoring itself once launch settles.
type Core struct {
	cfg    Config
	logger *slog.Logger

	store *persist.BreakerStore
	gov   *governor.Governor
	rec   *perf.Recorder
	idle  *idle.Monitor
	seq   *startup.Sequencer

	ctx     context.Context
	cancel  context.CancelFunc
	stop    sync.Once
	stopped chan struct{}
}

// New assembles a Core from cfg. st is the host's persistence store (nil
// keeps everything in process memory); memProbe reads platform memory (nil
// autodetects).
func New(cfg Config, logger *slog.Logger, st persist.Store, memProbe probe.MemoryProbe) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = persist.NewMemoryStore()
	}
	if memProbe == nil {
		memProbe = probe.Detect()
	}

	breaker := persist.NewBreakerStore(st, logger)
	gov, err := governor.New(cfg.Governor, logger, memProbe, breaker, nil)
	if err != nil {
		return nil, err
	}
	rec := perf.NewRecorder(cfg.Perf, logger, gov, gov)
	idleMon := idle.NewMonitor(0)
	seq := startup.NewSequencer(cfg.Startup, logger, breaker, idleMon)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		cfg:     cfg,
		logger:  logger,
		store:   breaker,
		gov:     gov,
		rec:     rec,
		idle:    idleMon,
		seq:     seq,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	if err := seq.RegisterDeferred(startup.DeferredTask{
		ID:       TaskStartMonitoring,
		Priority: 1,
		Run: func(context.Context) error {
			c.StartMonitoring()
			return nil
		},
	}); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

// RegisterResource adds a critical-path loader. Must happen before
// Initialize.
func (c *Core) RegisterResource(res startup.Resource) error {
	return c.seq.RegisterResource(res)
}

// RegisterDeferred adds a background task for the post-launch idle wave.
func (c *Core) RegisterDeferred(task startup.DeferredTask) error {
	return c.seq.RegisterDeferred(task)
}

// Initialize runs the critical path and, in the background, the deferred
// wave. It returns once the app is interactive; the launch measurement lands
// in the recorder's trace log. Panics surface as errors.
func (c *Core) Initialize(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("initialize panicked", "reason", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	c.rec.Mark("launch_start")
	err = c.seq.Initialize(ctx)
	c.rec.Measure("critical_path", "launch_start")
	return err
}

// StartMonitoring brings up the governor's sampling loops. Idempotent; the
// loops live until Shutdown.
func (c *Core) StartMonitoring() {
	c.gov.Start(c.ctx)
}

// Shutdown stops background work, flushes every rolling log, and stamps the
// exit time used for the next launch's cold/warm call. The teardown runs at
// most once; this and every later call block until it finishes or ctx
// expires, in which case the teardown keeps going without a waiter.
func (c *Core) Shutdown(ctx context.Context) error {
	c.stop.Do(func() {
		go func() {
			defer close(c.stopped)
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("shutdown panicked", "reason", r, "stack", string(debug.Stack()))
				}
			}()
			c.seq.Close()
			if c.gov.Running() {
				c.gov.Stop()
			} else {
				c.gov.Flush()
			}
			c.seq.RecordExit()
			c.cancel()
		}()
	})
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Touch reports user interaction, pushing the idle gate out.
func (c *Core) Touch() { c.idle.Touch() }

// SignalIdle forces the idle gate open. Hosts with a platform idle callback
// call this instead of relying on the quiet period.
func (c *Core) SignalIdle() { c.idle.Signal() }

// State reports the launch state machine's current phase.
func (c *Core) State() startup.State { return c.seq.State() }

// SessionID returns the identifier minted for this launch.
func (c *Core) SessionID() string { return c.seq.SessionID() }

// Results lists the critical-path load outcomes for this launch.
func (c *Core) Results() []startup.ResourceResult { return c.seq.Results() }

// LaunchPerformance summarizes the persisted launch log against the cold and
// warm targets.
func (c *Core) LaunchPerformance() startup.LaunchPerformance {
	return c.seq.LaunchPerformance()
}

// Mark stores a named instant for later Measure calls.
func (c *Core) Mark(name string) { c.rec.Mark(name) }

// Measure records the time from startMark to now under name.
func (c *Core) Measure(name, startMark string) (time.Duration, bool) {
	return c.rec.Measure(name, startMark)
}

// MeasureBetween records the time between two existing marks under name.
func (c *Core) MeasureBetween(name, startMark, endMark string) (time.Duration, bool) {
	return c.rec.MeasureBetween(name, startMark, endMark)
}

// TrackScreenRender records one screen render duration.
func (c *Core) TrackScreenRender(screen string, renderMs float64) {
	c.rec.TrackScreenRender(screen, renderMs)
}

// TrackScrollPerformance records scroll smoothness for a screen.
func (c *Core) TrackScrollPerformance(screen string, fps float64, droppedFrames int) {
	c.rec.TrackScrollPerformance(screen, fps, droppedFrames)
}

// TrackNavigation records a screen-to-screen transition.
func (c *Core) TrackNavigation(from, to string, durationMs float64) {
	c.rec.TrackNavigation(from, to, durationMs)
}

// TrackInteraction records one named user interaction.
func (c *Core) TrackInteraction(name string, durationMs float64) {
	c.rec.TrackInteraction(name, durationMs)
}

// CurrentPerformance summarizes recent samples into one health snapshot.
func (c *Core) CurrentPerformance() perf.Snapshot { return c.rec.CurrentPerformance() }

// PerformanceReport aggregates the recording window into a shareable report
// stamped with this launch's session ID.
func (c *Core) PerformanceReport(window time.Duration) perf.Report {
	rep := c.rec.GenerateReport(window)
	rep.SessionID = c.seq.SessionID()
	return rep
}

// TrackComponentMemory attributes memory to a named component for
// per-component leak detection.
func (c *Core) TrackComponentMemory(name string, mb float64) {
	c.gov.TrackComponentMemory(name, mb)
}

// MemoryPressure classifies current usage without taking action.
func (c *Core) MemoryPressure() governor.PressureLevel { return c.gov.Pressure() }

// MemorySummary reports the governor's current view of memory and cache.
func (c *Core) MemorySummary() governor.MemorySummary { return c.gov.MemorySummary() }

// SetCache stores value under key with an optional TTL (zero means none).
func (c *Core) SetCache(key string, value any, ttl time.Duration) error {
	return c.gov.SetCache(key, value, ttl)
}

// GetCache fetches a live cache entry.
func (c *Core) GetCache(key string) (any, bool) { return c.gov.GetCache(key) }

// RemoveCache drops a cache entry.
func (c *Core) RemoveCache(key string) bool { return c.gov.RemoveCache(key) }

// ClearCache empties the cache and reports how many entries were dropped.
func (c *Core) ClearCache() int { return c.gov.ClearCache() }

// CacheStats reports cache hit, miss, and eviction counters.
func (c *Core) CacheStats() governor.CacheStats { return c.gov.CacheStats() }

// FromPool takes an object from the named pool, building one with factory
// when the free list is empty.
func (c *Core) FromPool(name string, factory func() any) any {
	return c.gov.FromPool(name, factory)
}

// ToPool returns an object to the named pool. False means the pool is full
// and the object should be left to the collector.
func (c *Core) ToPool(name string, obj any) bool { return c.gov.ToPool(name, obj) }
