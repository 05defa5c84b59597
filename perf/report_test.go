package perf_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedia-app/appcore/perf"
)

func TestReportAggregatesUIStats(t *testing.T) {
	r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
	r.TrackScreenRender("home", 10)
	r.TrackScreenRender("detail", 20) // over the 16.67ms budget
	r.TrackScrollPerformance("home", 58, 2)
	r.TrackScrollPerformance("home", 45, 12)

	report := r.GenerateReport(time.Hour)

	assert.Equal(t, 4, report.UI.SampleCount)
	assert.InDelta(t, 51.5, report.UI.AvgFPS, 0.001)
	assert.Equal(t, 45.0, report.UI.MinFPS)
	assert.InDelta(t, 15, report.UI.AvgRenderMs, 0.001)
	assert.InDelta(t, 50, report.UI.SlowRenderPct, 0.001)

	require.NoError(t, uuid.Validate(report.ID))
	assert.False(t, report.GeneratedAt.IsZero())
	assert.Equal(t, time.Hour, report.Window)
}

func TestReportRanksSlowestNavigations(t *testing.T) {
	r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
	durations := []float64{120, 900, 300, 80, 450, 600, 150}
	for i, ms := range durations {
		r.TrackNavigation(fmt.Sprintf("screen_%d", i), "next", ms)
	}

	report := r.GenerateReport(time.Hour)

	require.Len(t, report.SlowestNavigations, 5)
	assert.Equal(t, 900.0, report.SlowestNavigations[0].DurationMs)
	assert.Equal(t, "screen_1", report.SlowestNavigations[0].From)
	assert.Equal(t, 600.0, report.SlowestNavigations[1].DurationMs)
	assert.Equal(t, 150.0, report.SlowestNavigations[4].DurationMs)
	assert.Equal(t, 900.0, report.NavigationP95Ms)
}

func TestReportResponsePercentile(t *testing.T) {
	r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
	for i := 1; i <= 20; i++ {
		r.TrackInteraction("tap", float64(i))
	}

	report := r.GenerateReport(time.Hour)

	// Rank index int(20*0.95) = 19 on the sorted slice.
	assert.Equal(t, 20.0, report.ResponseP95Ms)
}

func TestReportWindowExcludesOlderRecords(t *testing.T) {
	r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
	r.TrackScreenRender("home", 10)
	r.TrackInteraction("tap", 50)
	time.Sleep(60 * time.Millisecond)

	report := r.GenerateReport(40 * time.Millisecond)

	assert.Equal(t, 0, report.UI.SampleCount)
	assert.Zero(t, report.ResponseP95Ms)
	assert.Empty(t, report.SlowestNavigations)
}

func TestReportMemorySection(t *testing.T) {
	mem := &fakeMemory{
		usedMB:   220,
		pct:      43,
		ok:       true,
		series:   linearSeries(100, 5, 10),
		interval: 30 * time.Second,
	}
	leaks := &fakeLeaks{n: 2}
	r := perf.NewRecorder(perf.DefaultConfig(), nil, mem, leaks)

	report := r.GenerateReport(time.Hour)

	assert.Equal(t, 220.0, report.Memory.CurrentUsedMB)
	assert.Equal(t, 43.0, report.Memory.PctOfBudget)
	assert.Equal(t, perf.TrendGrowing, report.Memory.Trend)
	assert.True(t, report.Memory.LeakSuspected)
}

func TestReportRecommendationsMatchBreaches(t *testing.T) {
	t.Run("all clear yields the single all-clear line", func(t *testing.T) {
		r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
		r.TrackScreenRender("home", 10)
		r.TrackScrollPerformance("home", 60, 0)
		r.TrackInteraction("tap", 40)
		r.TrackNavigation("home", "detail", 200)

		report := r.GenerateReport(time.Hour)

		require.Len(t, report.Recommendations, 1)
		assert.Equal(t, "All tracked metrics are within their targets.", report.Recommendations[0])
	})

	t.Run("each rule fires only on its own breach", func(t *testing.T) {
		r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
		r.TrackScreenRender("home", 30) // only the render budget is breached
		r.TrackScrollPerformance("home", 60, 0)

		report := r.GenerateReport(time.Hour)

		require.Len(t, report.Recommendations, 1)
		assert.Contains(t, report.Recommendations[0], "render time")
	})

	t.Run("slow navigation names the transition", func(t *testing.T) {
		r := perf.NewRecorder(perf.DefaultConfig(), nil, nil, nil)
		r.TrackNavigation("home", "archive", 800)

		report := r.GenerateReport(time.Hour)

		require.Len(t, report.Recommendations, 1)
		assert.Contains(t, report.Recommendations[0], "home to archive")
	})

	t.Run("growing heap and leak findings each add a line", func(t *testing.T) {
		mem := &fakeMemory{
			usedMB:   220,
			pct:      43,
			ok:       true,
			series:   linearSeries(100, 5, 10),
			interval: 30 * time.Second,
		}
		leaks := &fakeLeaks{n: 1}
		r := perf.NewRecorder(perf.DefaultConfig(), nil, mem, leaks)

		report := r.GenerateReport(time.Hour)

		require.Len(t, report.Recommendations, 2)
		assert.Contains(t, report.Recommendations[0], "trending up")
		assert.Contains(t, report.Recommendations[1], "Leak findings")
	})
}
