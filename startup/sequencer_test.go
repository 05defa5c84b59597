package startup_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedia-app/appcore/persist"
	"github.com/remedia-app/appcore/startup"
)

func instantLoader() startup.LoadFunc {
	return func(context.Context) error { return nil }
}

func sleepLoader(d time.Duration) startup.LoadFunc {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func failLoader(err error) startup.LoadFunc {
	return func(context.Context) error { return err }
}

type immediateIdle struct{}

func (immediateIdle) AwaitIdle(context.Context) error { return nil }

type gatedIdle struct{ ch chan struct{} }

func (g *gatedIdle) AwaitIdle(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testConfig() startup.Config {
	cfg := startup.DefaultConfig()
	cfg.CriticalPathTimeout = 200 * time.Millisecond
	cfg.EnableBackgroundInit = false
	return cfg
}

func awaitFullyLoaded(t *testing.T, seq *startup.Sequencer) {
	t.Helper()
	require.Eventually(t, func() bool {
		return seq.State() == startup.StateFullyLoaded
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSlowCriticalResourceRejectsInitialize(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: sleepLoader(50 * time.Millisecond)}))
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "cache", Priority: 2, Load: sleepLoader(100 * time.Millisecond)}))
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "schedule", Priority: 3, Load: sleepLoader(5 * time.Second)}))

	begin := time.Now()
	err := seq.Initialize(context.Background())

	var fatal *startup.FatalResourceError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "schedule", fatal.ResourceID)
	assert.Equal(t, 3, fatal.Priority)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, startup.StateFailed, seq.State())
	assert.Less(t, time.Since(begin), 2*time.Second,
		"the shared timeout bounds the wait, not the loader")
	assert.Empty(t, seq.Records(), "a failed launch records nothing")
}

func TestResourcesAttemptedInPriorityOrder(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()
	for _, p := range []int{5, 3, 1, 2, 4} {
		require.NoError(t, seq.RegisterResource(startup.Resource{
			ID: fmt.Sprintf("res_%d", p), Priority: p, Load: instantLoader()}))
	}

	require.NoError(t, seq.Initialize(context.Background()))

	results := seq.Results()
	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, i+1, res.Priority)
		if i > 0 {
			assert.False(t, res.AttemptedAt.Before(results[i-1].AttemptedAt),
				"attempts must be non-decreasing in priority order")
		}
		assert.NoError(t, res.Err)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()
	var calls atomic.Int32
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1,
		Load: func(context.Context) error { calls.Add(1); return nil },
	}))

	require.NoError(t, seq.Initialize(context.Background()))
	require.NoError(t, seq.Initialize(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, seq.Records(), 1)
}

func TestNonCriticalFailureDegradesOnly(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "history", Priority: 4, Load: failLoader(errors.New("offline"))}))

	require.NoError(t, seq.Initialize(context.Background()))

	assert.Equal(t, startup.StateFullyLoaded, seq.State())
	results := seq.Results()
	require.Len(t, results, 2)
	assert.Error(t, results[1].Err)

	records := seq.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].ResourceCount)
	assert.Equal(t, 1, records[0].FailedCount)
}

func TestFatalBoundaryIsConfigurable(t *testing.T) {
	cfg := testConfig()
	cfg.FatalPriorityMax = 1
	seq := startup.NewSequencer(cfg, nil, nil, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "cache", Priority: 2, Load: failLoader(errors.New("corrupt"))}))

	assert.NoError(t, seq.Initialize(context.Background()),
		"priority 2 is non-fatal when the boundary is 1")
}

func TestOrphanedLoaderIsDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.CriticalPathTimeout = 50 * time.Millisecond
	seq := startup.NewSequencer(cfg, nil, nil, nil)
	defer seq.Close()

	// Ignores its context entirely and settles long after the race.
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "slow_asset", Priority: 4,
		Load: func(context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}))

	require.NoError(t, seq.Initialize(context.Background()))

	results := seq.Results()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)

	// The late settle is observed, logged, and discarded.
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, startup.StateFullyLoaded, seq.State())
	assert.Equal(t, 1, seq.Records()[0].FailedCount)
}

func TestPanickingLoaderIsAFailureNotACrash(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1,
		Load: func(context.Context) error { panic("bad pointer") },
	}))

	err := seq.Initialize(context.Background())

	var fatal *startup.FatalResourceError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Err.Error(), "panic")
}

func TestDeferredWaveRunsSequentiallyInPriorityOrder(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBackgroundInit = true
	seq := startup.NewSequencer(cfg, nil, nil, immediateIdle{})
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))

	var mu sync.Mutex
	var order []string
	var active, maxActive int32
	task := func(id string, fail bool) startup.LoadFunc {
		return func(context.Context) error {
			if n := atomic.AddInt32(&active, 1); n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			if fail {
				return errors.New("sync failed")
			}
			return nil
		}
	}
	require.NoError(t, seq.RegisterDeferred(startup.DeferredTask{ID: "warm_cache", Priority: 2, Run: task("warm_cache", true)}))
	require.NoError(t, seq.RegisterDeferred(startup.DeferredTask{ID: "start_monitoring", Priority: 1, Run: task("start_monitoring", false)}))
	require.NoError(t, seq.RegisterDeferred(startup.DeferredTask{ID: "prefetch", Priority: 3, Run: task("prefetch", false)}))

	require.NoError(t, seq.Initialize(context.Background()))
	awaitFullyLoaded(t, seq)

	mu.Lock()
	assert.Equal(t, []string{"start_monitoring", "warm_cache", "prefetch"}, order)
	mu.Unlock()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "tasks must never overlap")

	failures := seq.DeferredFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "warm_cache", failures[0].TaskID)

	records := seq.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].DeferredCount)
	assert.Equal(t, 1, records[0].DeferredFailed)
}

func TestDeferredWaveWaitsForIdleSignal(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBackgroundInit = true
	gate := &gatedIdle{ch: make(chan struct{})}
	seq := startup.NewSequencer(cfg, nil, nil, gate)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.RegisterDeferred(startup.DeferredTask{
		ID: "warm_cache", Priority: 1, Run: instantLoader()}))

	require.NoError(t, seq.Initialize(context.Background()))

	// Interactive, but the deferred wave holds until the UI settles.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, startup.StateInteractive, seq.State())

	close(gate.ch)
	awaitFullyLoaded(t, seq)
}

func TestBackgroundInitDisabledLoadsFully(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))

	require.NoError(t, seq.Initialize(context.Background()))

	assert.Equal(t, startup.StateFullyLoaded, seq.State())
	records := seq.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].DeferredCount)
	assert.Zero(t, records[0].DeferredMs)
}

func TestCloseAbandonsPendingDeferredWave(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBackgroundInit = true
	gate := &gatedIdle{ch: make(chan struct{})}
	seq := startup.NewSequencer(cfg, nil, nil, gate)
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.RegisterDeferred(startup.DeferredTask{
		ID: "warm_cache", Priority: 1, Run: instantLoader()}))
	require.NoError(t, seq.Initialize(context.Background()))

	seq.Close() // idle never fires; Close must not hang

	assert.Equal(t, startup.StateInteractive, seq.State())
	assert.Empty(t, seq.Records())
}

func TestColdAndWarmStartDetection(t *testing.T) {
	store := persist.NewMemoryStore()

	first := startup.NewSequencer(testConfig(), nil, store, nil)
	defer first.Close()
	require.NoError(t, first.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, first.Initialize(context.Background()))
	require.Len(t, first.Records(), 1)
	assert.True(t, first.Records()[0].ColdStart, "no recorded exit means cold")

	first.RecordExit()

	second := startup.NewSequencer(testConfig(), nil, store, nil)
	defer second.Close()
	require.NoError(t, second.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, second.Initialize(context.Background()))
	records := second.Records()
	assert.False(t, records[len(records)-1].ColdStart, "fresh exit means warm")

	// An exit older than the warm window reads as cold again.
	old := time.Now().Add(-10 * time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, store.Set(persist.KeyLastExit, old))
	third := startup.NewSequencer(testConfig(), nil, store, nil)
	defer third.Close()
	require.NoError(t, third.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, third.Initialize(context.Background()))
	records = third.Records()
	assert.True(t, records[len(records)-1].ColdStart)
}

func TestLaunchLogRoundTripsByteForByte(t *testing.T) {
	store := persist.NewMemoryStore()
	seq := startup.NewSequencer(testConfig(), nil, store, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.Initialize(context.Background()))
	require.Len(t, seq.Records(), 1)

	want, err := persist.Encode(seq.Records())
	require.NoError(t, err)

	reloaded := startup.NewSequencer(testConfig(), nil, store, nil)
	defer reloaded.Close()
	got, err := persist.Encode(reloaded.Records())
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestLaunchLogKeepsLastFifty(t *testing.T) {
	store := persist.NewMemoryStore()
	seeds := make([]startup.LaunchRecord, 55)
	for i := range seeds {
		seeds[i] = startup.LaunchRecord{
			SessionID: fmt.Sprintf("seed-%d", i),
			ColdStart: true, StartedAt: time.Now(), InteractiveMs: 100,
		}
	}
	require.NoError(t, persist.SaveJSON(store, persist.KeyLaunchLog, seeds))

	seq := startup.NewSequencer(testConfig(), nil, store, nil)
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.Initialize(context.Background()))

	records := seq.Records()
	require.Len(t, records, 50)
	assert.Equal(t, "seed-6", records[0].SessionID)
	assert.NotEmpty(t, records[49].SessionID)
	assert.NotContains(t, records[49].SessionID, "seed")
}

func TestLaunchPerformanceAverages(t *testing.T) {
	store := persist.NewMemoryStore()
	seeds := []startup.LaunchRecord{
		{SessionID: "c1", ColdStart: true, InteractiveMs: 2000},
		{SessionID: "c2", ColdStart: true, InteractiveMs: 4000},
		{SessionID: "w1", ColdStart: false, InteractiveMs: 1500},
	}
	require.NoError(t, persist.SaveJSON(store, persist.KeyLaunchLog, seeds))

	seq := startup.NewSequencer(testConfig(), nil, store, nil)
	defer seq.Close()
	perf := seq.LaunchPerformance()

	assert.Equal(t, 2, perf.ColdCount)
	assert.Equal(t, 1, perf.WarmCount)
	assert.InDelta(t, 3000, perf.AvgColdInteractiveMs, 0.001)
	assert.InDelta(t, 1500, perf.AvgWarmInteractiveMs, 0.001)
	assert.True(t, perf.MeetsColdTarget, "3000ms average sits exactly on the cold target")
	assert.False(t, perf.MeetsWarmTarget)

	empty := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer empty.Close()
	perf = empty.LaunchPerformance()
	assert.True(t, perf.MeetsColdTarget)
	assert.True(t, perf.MeetsWarmTarget)
	assert.Zero(t, perf.ColdCount)
}

func TestConfigTogglesAndOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.DisabledResources = []string{startup.ResourceRecentHistory}
	cfg.PriorityOverrides = map[string]int{startup.ResourcePendingItems: 2}
	seq := startup.NewSequencer(cfg, nil, nil, nil)
	defer seq.Close()

	// Well-known IDs pick up canonical priorities when left at zero.
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: startup.ResourceDataStore, Load: instantLoader()}))
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: startup.ResourcePendingItems, Load: instantLoader()}))
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: startup.ResourceRecentHistory, Load: instantLoader()}))

	require.NoError(t, seq.Initialize(context.Background()))

	results := seq.Results()
	require.Len(t, results, 2, "disabled resources never run")
	assert.Equal(t, startup.ResourceDataStore, results[0].ID)
	assert.Equal(t, 1, results[0].Priority)
	assert.Equal(t, startup.ResourcePendingItems, results[1].ID)
	assert.Equal(t, 2, results[1].Priority, "override replaces the canonical slot")
}

func TestRegistrationValidation(t *testing.T) {
	seq := startup.NewSequencer(testConfig(), nil, nil, nil)
	defer seq.Close()

	assert.Error(t, seq.RegisterResource(startup.Resource{Priority: 1, Load: instantLoader()}))
	assert.Error(t, seq.RegisterResource(startup.Resource{ID: "db", Priority: 1}))
	assert.Error(t, seq.RegisterResource(startup.Resource{ID: "custom", Load: instantLoader()}),
		"unknown IDs need an explicit priority")
	assert.Error(t, seq.RegisterDeferred(startup.DeferredTask{ID: "t", Run: instantLoader()}))

	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.Initialize(context.Background()))
	assert.Error(t, seq.RegisterResource(startup.Resource{
		ID: "late", Priority: 1, Load: instantLoader()}))
	assert.Error(t, seq.RegisterDeferred(startup.DeferredTask{
		ID: "late", Priority: 1, Run: instantLoader()}))
}

func TestStuckTaskWatchdogDoesNotKillTheTask(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBackgroundInit = true
	cfg.StuckTaskTimeout = 10 * time.Millisecond
	seq := startup.NewSequencer(cfg, nil, nil, immediateIdle{})
	defer seq.Close()
	require.NoError(t, seq.RegisterResource(startup.Resource{
		ID: "db", Priority: 1, Load: instantLoader()}))
	require.NoError(t, seq.RegisterDeferred(startup.DeferredTask{
		ID: "slow_sync", Priority: 1, Run: sleepLoader(40 * time.Millisecond)}))

	require.NoError(t, seq.Initialize(context.Background()))
	awaitFullyLoaded(t, seq)

	assert.Empty(t, seq.DeferredFailures(), "the watchdog warns, it never cancels")
}
