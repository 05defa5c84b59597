// Package governor implements the active half of the resource-governance
// triad: periodic memory snapshotting, growth-based leak detection, a
// byte-budgeted LRU cache, pressure classification with corrective actions,
// and bounded object pools.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/remedia-app/appcore/persist"
	"github.com/remedia-app/appcore/probe"
)

// Config carries the governor's budgets, cadences, and thresholds.
type Config struct {
	// MaxMemoryMB is the heap budget pressure is measured against.
	MaxMemoryMB      float64 `mapstructure:"max_memory_mb" validate:"gt=0"`
	CacheBudgetBytes int64   `mapstructure:"cache_budget_bytes" validate:"gt=0"`

	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval" validate:"gt=0"`
	LeakCheckInterval time.Duration `mapstructure:"leak_check_interval" validate:"gt=0"`
	PressureInterval  time.Duration `mapstructure:"pressure_interval" validate:"gt=0"`

	SampleCap  int `mapstructure:"sample_cap" validate:"gt=0"`
	FindingCap int `mapstructure:"finding_cap" validate:"gt=0"`

	// LeakWindow is how many trailing samples a growth check spans. No
	// finding is emitted until that many samples exist.
	LeakWindow        int     `mapstructure:"leak_window" validate:"gte=2"`
	OverallGrowthMB   float64 `mapstructure:"overall_growth_mb" validate:"gt=0"`
	ComponentGrowthMB float64 `mapstructure:"component_growth_mb" validate:"gt=0"`

	BudgetWarnPct      float64 `mapstructure:"budget_warn_pct" validate:"gt=0,lte=100"`
	HighShrinkFraction float64 `mapstructure:"high_shrink_fraction" validate:"gt=0,lt=1"`

	CollectionsPerMinute int64 `mapstructure:"collections_per_minute" validate:"gt=0"`
	CollectionBurst      int64 `mapstructure:"collection_burst" validate:"gt=0"`

	// PersistedFindings bounds the findings written across sessions; the
	// in-memory log keeps FindingCap.
	PersistedFindings int `mapstructure:"persisted_findings" validate:"gt=0"`
	PoolCapacity      int `mapstructure:"pool_capacity" validate:"gt=0"`
}

// DefaultConfig returns the stock budgets and cadences.
func DefaultConfig() Config {
	return Config{
		MaxMemoryMB:          512,
		CacheBudgetBytes:     50 * 1024 * 1024,
		SnapshotInterval:     30 * time.Second,
		LeakCheckInterval:    60 * time.Second,
		PressureInterval:     15 * time.Second,
		SampleCap:            100,
		FindingCap:           50,
		LeakWindow:           10,
		OverallGrowthMB:      10,
		ComponentGrowthMB:    5,
		BudgetWarnPct:        80,
		HighShrinkFraction:   0.30,
		CollectionsPerMinute: 4,
		CollectionBurst:      2,
		PersistedFindings:    20,
		PoolCapacity:         100,
	}
}

// MemorySample is one periodic snapshot of heap usage.
type MemorySample struct {
	Timestamp      time.Time          `json:"timestamp"`
	HeapUsedMB     float64            `json:"heap_used_mb"`
	HeapTotalMB    float64            `json:"heap_total_mb"`
	PctOfBudget    float64            `json:"pct_of_budget"`
	PerComponentMB map[string]float64 `json:"per_component_mb,omitempty"`
}

// MemorySummary is the read-only aggregate exposed to the rest of the app.
type MemorySummary struct {
	Latest       *MemorySample `json:"latest,omitempty"`
	Pressure     string        `json:"pressure"`
	Trend        string        `json:"trend"`
	SampleCount  int           `json:"sample_count"`
	FindingCount int           `json:"finding_count"`
	Components   []string      `json:"components,omitempty"`
	Cache        CacheStats    `json:"cache"`
}

// Governor owns the cache, the sample and finding logs, and the three
// monitoring loops. It is the only component that acts on what it observes;
// everything else reads aggregates.
type Governor struct {
	cfg    Config
	logger *slog.Logger
	probe  probe.MemoryProbe
	store  persist.Store

	cache     *Cache
	pools     *PoolSet
	collector Collector
	gcLimiter *limiter.TokenBucket

	mu         sync.RWMutex
	samples    []MemorySample
	findings   []LeakFinding
	components map[string][]float64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// New constructs a governor. Nil logger, probe, store, or collector fall
// back to slog.Default, the detected platform probe, an in-memory store, and
// the Go runtime collector.
func New(cfg Config, logger *slog.Logger, memProbe probe.MemoryProbe, st persist.Store, collector Collector) (*Governor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if memProbe == nil {
		memProbe = probe.Detect()
	}
	if st == nil {
		st = persist.NewMemoryStore()
	}
	if collector == nil {
		collector = RuntimeCollector{}
	}

	gcLimiter, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     cfg.CollectionsPerMinute,
			Duration: time.Minute,
			Burst:    cfg.CollectionBurst,
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("collection rate limiter: %w", err)
	}

	return &Governor{
		cfg:        cfg,
		logger:     logger.With("component", "governor"),
		probe:      memProbe,
		store:      st,
		cache:      NewCache(cfg.CacheBudgetBytes),
		pools:      NewPoolSet(cfg.PoolCapacity),
		collector:  collector,
		gcLimiter:  gcLimiter,
		components: make(map[string][]float64),
		now:        time.Now,
	}, nil
}

// Start launches the snapshot, leak-check, and pressure loops. Calling Start
// while already running is a no-op. The loops stop when ctx is done or Stop
// is called.
func (g *Governor) Start(ctx context.Context) {
	if !g.running.CompareAndSwap(false, true) {
		return
	}
	g.loadPersisted()

	loopCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.wg.Add(3)
	go g.snapshotLoop(loopCtx)
	go g.leakLoop(loopCtx)
	go g.pressureLoop(loopCtx)

	g.logger.Info("monitoring started",
		"probe", g.probe.Name(),
		"snapshot_interval", g.cfg.SnapshotInterval,
		"leak_check_interval", g.cfg.LeakCheckInterval,
		"pressure_interval", g.cfg.PressureInterval)
}

// Stop halts the loops and flushes persisted state.
func (g *Governor) Stop() {
	if !g.running.CompareAndSwap(true, false) {
		return
	}
	g.cancel()
	g.wg.Wait()
	g.Flush()
	g.logger.Info("monitoring stopped")
}

// Flush writes the rolling logs and cache statistics to the store now.
// Hosts call it when the app is about to background.
func (g *Governor) Flush() {
	g.persistSamples()
	g.persistFindings()
	g.persistCacheStats()
}

// Running reports whether the monitoring loops are active.
func (g *Governor) Running() bool { return g.running.Load() }

func (g *Governor) snapshotLoop(ctx context.Context) {
	defer g.wg.Done()
	// Take one sample up front so queries have data before the first tick.
	g.safely("snapshot", g.Snapshot)

	ticker := time.NewTicker(g.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.safely("snapshot", g.Snapshot)
			g.persistSamples()
		}
	}
}

func (g *Governor) leakLoop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.LeakCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.safely("leak check", func() error {
				if found := g.CheckLeaks(); len(found) > 0 {
					g.persistFindings()
				}
				return nil
			})
		}
	}
}

func (g *Governor) pressureLoop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PressureInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.safely("pressure check", func() error {
				g.CheckPressure()
				return nil
			})
			g.persistCacheStats()
		}
	}
}

// safely runs one monitoring operation, converting every failure mode,
// panics included, into a log line. Nothing may escape the loops.
func (g *Governor) safely(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("monitoring panic recovered",
				"op", op, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		g.logger.Error("monitoring fault", "op", op, "error", err)
	}
}

// Snapshot reads the probe and appends one memory sample. Hosts may call it
// directly on lifecycle events; the snapshot loop calls it on its cadence.
func (g *Governor) Snapshot() error {
	reading, err := g.probe.Read()
	if err != nil {
		return fmt.Errorf("memory probe: %w", err)
	}
	pct := reading.HeapUsedMB / g.cfg.MaxMemoryMB * 100

	g.mu.Lock()
	var perComp map[string]float64
	if len(g.components) > 0 {
		perComp = make(map[string]float64, len(g.components))
		for name, vals := range g.components {
			if len(vals) > 0 {
				perComp[name] = vals[len(vals)-1]
			}
		}
	}
	sample := MemorySample{
		Timestamp:      g.now(),
		HeapUsedMB:     reading.HeapUsedMB,
		HeapTotalMB:    reading.HeapTotalMB,
		PctOfBudget:    pct,
		PerComponentMB: perComp,
	}
	g.samples = append(g.samples, sample)
	if len(g.samples) > g.cfg.SampleCap {
		g.samples = g.samples[1:]
	}
	g.mu.Unlock()

	if pct >= g.cfg.BudgetWarnPct {
		g.logger.Warn("heap usage near budget",
			"heap_used_mb", reading.HeapUsedMB,
			"budget_mb", g.cfg.MaxMemoryMB,
			"pct_of_budget", pct)
	}
	return nil
}

// CheckLeaks runs the growth checks, records any findings, and returns the
// new ones. Overall growth is judged against OverallGrowthMB over the last
// LeakWindow samples; each registered component is judged against
// ComponentGrowthMB over its own history.
func (g *Governor) CheckLeaks() []LeakFinding {
	g.mu.Lock()
	now := g.now()
	heap := make([]float64, len(g.samples))
	for i, s := range g.samples {
		heap[i] = s.HeapUsedMB
	}

	var found []LeakFinding
	if growth, ok := growthOverWindow(heap, g.cfg.LeakWindow); ok && growth > g.cfg.OverallGrowthMB {
		sev := severityForGrowth(growth)
		found = append(found, LeakFinding{
			DetectedAt:          now,
			Component:           OverallComponent,
			GrowthMB:            growth,
			Severity:            sev,
			ContributingSamples: g.cfg.LeakWindow,
			Recommendations:     leakRecommendations(OverallComponent, sev),
		})
	}

	names := make([]string, 0, len(g.components))
	for name := range g.components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		growth, ok := growthOverWindow(g.components[name], g.cfg.LeakWindow)
		if !ok || growth <= g.cfg.ComponentGrowthMB {
			continue
		}
		sev := severityForGrowth(growth)
		found = append(found, LeakFinding{
			DetectedAt:          now,
			Component:           name,
			GrowthMB:            growth,
			Severity:            sev,
			ContributingSamples: g.cfg.LeakWindow,
			Recommendations:     leakRecommendations(name, sev),
		})
	}

	g.findings = append(g.findings, found...)
	if over := len(g.findings) - g.cfg.FindingCap; over > 0 {
		g.findings = g.findings[over:]
	}
	g.mu.Unlock()

	for _, f := range found {
		g.logger.Warn("memory leak suspected",
			"leak_component", f.Component,
			"growth_mb", f.GrowthMB,
			"severity", string(f.Severity))
	}
	return found
}

// CheckPressure classifies current usage against the budget and applies the
// corrective action for the level: nothing below moderate, an advisory log
// at moderate, a cache shrink plus collection request at high, a full cache
// clear plus collection request at critical.
func (g *Governor) CheckPressure() PressureLevel {
	pct, ok := g.currentPct()
	if !ok {
		return PressureNormal
	}
	level := ClassifyPressure(pct)

	switch level {
	case PressureModerate:
		g.logger.Info("memory pressure moderate", "pct_of_budget", pct)
	case PressureHigh:
		evicted := g.cache.ShrinkByFraction(g.cfg.HighShrinkFraction)
		g.logger.Warn("memory pressure high",
			"pct_of_budget", pct, "cache_entries_evicted", evicted)
		g.requestCollection("high pressure")
	case PressureCritical:
		cleared := g.cache.Clear()
		g.logger.Error("memory pressure critical",
			"pct_of_budget", pct, "cache_entries_cleared", cleared)
		g.requestCollection("critical pressure")
	}
	return level
}

// Pressure reports the current classification without side effects.
func (g *Governor) Pressure() PressureLevel {
	pct, ok := g.currentPct()
	if !ok {
		return PressureNormal
	}
	return ClassifyPressure(pct)
}

// currentPct reads the probe, falling back to the latest sample when the
// probe is unavailable.
func (g *Governor) currentPct() (float64, bool) {
	reading, err := g.probe.Read()
	if err == nil {
		return reading.HeapUsedMB / g.cfg.MaxMemoryMB * 100, true
	}
	g.logger.Error("monitoring fault", "op", "probe read", "error", err)

	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.samples) == 0 {
		return 0, false
	}
	return g.samples[len(g.samples)-1].PctOfBudget, true
}

func (g *Governor) requestCollection(reason string) {
	if g.gcLimiter != nil && !g.gcLimiter.Allow("collection") {
		g.logger.Debug("collection request rate limited", "reason", reason)
		return
	}
	g.logger.Info("collection requested", "reason", reason)
	g.collector.Collect()
}

// TrackComponentMemory registers a component's self-reported memory use in
// MB. Each component keeps its last LeakWindow values for the per-component
// growth check.
func (g *Governor) TrackComponentMemory(name string, mb float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	vals := append(g.components[name], mb)
	if len(vals) > g.cfg.LeakWindow {
		vals = vals[1:]
	}
	g.components[name] = vals
}

// Samples returns a copy of the rolling sample log, oldest first.
func (g *Governor) Samples() []MemorySample {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]MemorySample(nil), g.samples...)
}

// Findings returns a copy of the rolling finding log, oldest first.
func (g *Governor) Findings() []LeakFinding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]LeakFinding(nil), g.findings...)
}

// MemorySummary aggregates the latest sample, pressure, heap trend, counts,
// and cache statistics.
func (g *Governor) MemorySummary() MemorySummary {
	g.mu.RLock()
	summary := MemorySummary{
		SampleCount:  len(g.samples),
		FindingCount: len(g.findings),
	}
	if len(g.samples) > 0 {
		latest := g.samples[len(g.samples)-1]
		summary.Latest = &latest
		summary.Pressure = ClassifyPressure(latest.PctOfBudget).String()
	}
	heap := make([]float64, len(g.samples))
	for i, s := range g.samples {
		heap[i] = s.HeapUsedMB
	}
	for name := range g.components {
		summary.Components = append(summary.Components, name)
	}
	g.mu.RUnlock()

	summary.Trend = trendLabel(heap, g.cfg.LeakWindow)

	sort.Strings(summary.Components)
	if summary.Latest == nil {
		summary.Pressure = g.Pressure().String()
	}
	summary.Cache = g.cache.Stats()
	return summary
}

// Cache operations, delegated so the cache map stays governor-owned.

// SetCache stores value under key with an optional TTL (zero for none).
func (g *Governor) SetCache(key string, value any, ttl time.Duration) error {
	err := g.cache.Set(key, value, ttl)
	if err != nil {
		g.logger.Warn("cache insert rejected", "key", key, "error", err)
	}
	return err
}

// GetCache returns the cached value under key.
func (g *Governor) GetCache(key string) (any, bool) { return g.cache.Get(key) }

// RemoveCache deletes the entry under key.
func (g *Governor) RemoveCache(key string) bool { return g.cache.Remove(key) }

// ClearCache drops every cache entry, returning how many were removed.
func (g *Governor) ClearCache() int { return g.cache.Clear() }

// CacheStats snapshots the cache counters.
func (g *Governor) CacheStats() CacheStats { return g.cache.Stats() }

// FromPool returns a pooled object, or a fresh one from factory.
func (g *Governor) FromPool(name string, factory func() any) any {
	return g.pools.Get(name, factory)
}

// ToPool returns an object to its named pool.
func (g *Governor) ToPool(name string, obj any) bool {
	return g.pools.Put(name, obj)
}

// Read-only views consumed by the performance recorder.

// LatestMemory returns the newest sample's heap figure and budget
// percentage.
func (g *Governor) LatestMemory() (usedMB, pctOfBudget float64, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.samples) == 0 {
		return 0, 0, false
	}
	latest := g.samples[len(g.samples)-1]
	return latest.HeapUsedMB, latest.PctOfBudget, true
}

// MemorySeries returns heap-used values inside the window, oldest first,
// along with the sampling interval.
func (g *Governor) MemorySeries(window time.Duration) ([]float64, time.Duration) {
	cutoff := g.now().Add(-window)
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []float64
	for _, s := range g.samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s.HeapUsedMB)
		}
	}
	return out, g.cfg.SnapshotInterval
}

// LeakCount reports how many findings were detected inside the window.
func (g *Governor) LeakCount(window time.Duration) int {
	cutoff := g.now().Add(-window)
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, f := range g.findings {
		if f.DetectedAt.After(cutoff) {
			n++
		}
	}
	return n
}

// Persistence. Faults here are logged and swallowed; a broken store must
// never destabilize monitoring.

func (g *Governor) loadPersisted() {
	var samples []MemorySample
	if found, err := persist.LoadJSON(g.store, persist.KeyMemorySamples, &samples); err != nil {
		g.logger.Warn("discarding persisted memory samples", "error", err)
	} else if found {
		g.mu.Lock()
		if over := len(samples) - g.cfg.SampleCap; over > 0 {
			samples = samples[over:]
		}
		g.samples = samples
		g.mu.Unlock()
	}

	var findings []LeakFinding
	if found, err := persist.LoadJSON(g.store, persist.KeyLeakFindings, &findings); err != nil {
		g.logger.Warn("discarding persisted leak findings", "error", err)
	} else if found {
		g.mu.Lock()
		if over := len(findings) - g.cfg.FindingCap; over > 0 {
			findings = findings[over:]
		}
		g.findings = findings
		g.mu.Unlock()
	}

	var stats CacheStats
	if found, err := persist.LoadJSON(g.store, persist.KeyCacheStats, &stats); err != nil {
		g.logger.Warn("discarding persisted cache stats", "error", err)
	} else if found {
		g.cache.restoreCounters(stats)
	}
}

func (g *Governor) persistSamples() {
	g.mu.RLock()
	samples := append([]MemorySample(nil), g.samples...)
	g.mu.RUnlock()
	if err := persist.SaveJSON(g.store, persist.KeyMemorySamples, samples); err != nil {
		g.logger.Error("monitoring fault", "op", "persist samples", "error", err)
	}
}

func (g *Governor) persistFindings() {
	g.mu.RLock()
	findings := g.findings
	if over := len(findings) - g.cfg.PersistedFindings; over > 0 {
		findings = findings[over:]
	}
	findings = append([]LeakFinding(nil), findings...)
	g.mu.RUnlock()
	if err := persist.SaveJSON(g.store, persist.KeyLeakFindings, findings); err != nil {
		g.logger.Error("monitoring fault", "op", "persist findings", "error", err)
	}
}

func (g *Governor) persistCacheStats() {
	if err := persist.SaveJSON(g.store, persist.KeyCacheStats, g.cache.Stats()); err != nil {
		g.logger.Error("monitoring fault", "op", "persist cache stats", "error", err)
	}
}
