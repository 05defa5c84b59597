package perf

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// maxSlowTransitions bounds the slowest-navigation list in a report.
const maxSlowTransitions = 5

// UIStats aggregates the UI samples inside a report window.
type UIStats struct {
	SampleCount   int     `json:"sample_count"`
	AvgFPS        float64 `json:"avg_fps"`
	MinFPS        float64 `json:"min_fps"`
	AvgRenderMs   float64 `json:"avg_render_ms"`
	SlowRenderPct float64 `json:"slow_render_pct"`
}

// MemoryStats summarizes heap usage and trend inside a report window.
type MemoryStats struct {
	CurrentUsedMB float64        `json:"current_used_mb"`
	PctOfBudget   float64        `json:"pct_of_budget"`
	TrendMBPerMin float64        `json:"trend_mb_per_min"`
	Trend         TrendDirection `json:"trend"`
	LeakSuspected bool           `json:"leak_suspected"`
}

// Transition is one screen navigation in the slowest list.
type Transition struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	DurationMs float64 `json:"duration_ms"`
}

// Report is a windowed aggregate of everything the recorder observed.
// SessionID is stamped by the caller that knows the launch session.
type Report struct {
	ID                 string        `json:"id"`
	SessionID          string        `json:"session_id,omitempty"`
	GeneratedAt        time.Time     `json:"generated_at"`
	Window             time.Duration `json:"window"`
	UI                 UIStats       `json:"ui"`
	Memory             MemoryStats   `json:"memory"`
	SlowestNavigations []Transition  `json:"slowest_navigations,omitempty"`
	ResponseP95Ms      float64       `json:"response_p95_ms"`
	NavigationP95Ms    float64       `json:"navigation_p95_ms"`
	Recommendations    []string      `json:"recommendations"`
}

// GenerateReport aggregates the samples recorded inside the window into UI
// statistics, a memory trend summary, the slowest navigations, p95 response
// and navigation times, and rule-based recommendations. Each recommendation
// appears only when its specific threshold was breached.
func (r *Recorder) GenerateReport(window time.Duration) Report {
	now := r.now()
	cutoff := now.Add(-window)

	r.mu.Lock()
	var renders, fpsValues, responses, navTimes []float64
	var navs []Transition
	sampleCount := 0
	for _, s := range r.uiSamples {
		if !s.Timestamp.After(cutoff) {
			continue
		}
		sampleCount++
		switch s.Kind {
		case SampleRender:
			renders = append(renders, s.RenderMs)
		case SampleScroll:
			fpsValues = append(fpsValues, s.FPS)
		}
	}
	for _, t := range r.traces {
		if !t.Timestamp.After(cutoff) {
			continue
		}
		switch t.Kind {
		case TraceNavigation:
			navs = append(navs, Transition{From: t.From, To: t.To, DurationMs: t.DurationMs})
			navTimes = append(navTimes, t.DurationMs)
		case TraceInteraction:
			responses = append(responses, t.DurationMs)
		}
	}
	r.mu.Unlock()

	report := Report{
		ID:          uuid.NewString(),
		GeneratedAt: now,
		Window:      window,
	}

	report.UI = UIStats{
		SampleCount: sampleCount,
		AvgFPS:      mean(fpsValues),
		MinFPS:      min64(fpsValues),
		AvgRenderMs: mean(renders),
	}
	if len(renders) > 0 {
		slow := 0
		for _, ms := range renders {
			if ms > r.cfg.FrameBudgetMs {
				slow++
			}
		}
		report.UI.SlowRenderPct = float64(slow) / float64(len(renders)) * 100
	}

	sort.SliceStable(navs, func(i, j int) bool { return navs[i].DurationMs > navs[j].DurationMs })
	if len(navs) > maxSlowTransitions {
		navs = navs[:maxSlowTransitions]
	}
	report.SlowestNavigations = navs
	report.ResponseP95Ms = percentile(responses, 0.95)
	report.NavigationP95Ms = percentile(navTimes, 0.95)

	report.Memory.Trend = TrendStable
	if r.mem != nil {
		if used, pct, ok := r.mem.LatestMemory(); ok {
			report.Memory.CurrentUsedMB = used
			report.Memory.PctOfBudget = pct
		}
		series, interval := r.mem.MemorySeries(window)
		if perMin, dir, ok := EstimateTrend(series, interval); ok {
			report.Memory.TrendMBPerMin = perMin
			report.Memory.Trend = dir
		}
	}
	if r.leaks != nil {
		report.Memory.LeakSuspected = r.leaks.LeakCount(window) > 0
	}

	report.Recommendations = r.recommend(report, len(fpsValues), len(renders), len(responses))
	return report
}

// recommend maps breached thresholds to human-readable advice. The rules are
// fixed and ordered; an empty breach set yields the single all-clear line.
func (r *Recorder) recommend(rep Report, fpsCount, renderCount, responseCount int) []string {
	var recs []string
	if fpsCount > 0 && rep.UI.AvgFPS < r.cfg.TargetFPS {
		recs = append(recs, fmt.Sprintf(
			"Average frame rate %.1f FPS is below the %.0f FPS target; reduce main-thread work while scrolling.",
			rep.UI.AvgFPS, r.cfg.TargetFPS))
	}
	if renderCount > 0 && rep.UI.AvgRenderMs > r.cfg.FrameBudgetMs {
		recs = append(recs, fmt.Sprintf(
			"Average render time %.1fms exceeds the %.2fms frame budget; flatten heavy screens or defer offscreen content.",
			rep.UI.AvgRenderMs, r.cfg.FrameBudgetMs))
	}
	if responseCount > 0 && rep.ResponseP95Ms > r.cfg.InteractionBudgetMs {
		recs = append(recs, fmt.Sprintf(
			"95th percentile interaction latency %.0fms exceeds the %.0fms budget; move blocking work off the interaction path.",
			rep.ResponseP95Ms, r.cfg.InteractionBudgetMs))
	}
	if len(rep.SlowestNavigations) > 0 && rep.SlowestNavigations[0].DurationMs > r.cfg.NavigationBudgetMs {
		slowest := rep.SlowestNavigations[0]
		recs = append(recs, fmt.Sprintf(
			"Navigation %s to %s took %.0fms, above the %.0fms target; load screen data after the transition completes.",
			slowest.From, slowest.To, slowest.DurationMs, r.cfg.NavigationBudgetMs))
	}
	if rep.Memory.Trend == TrendGrowing {
		recs = append(recs, fmt.Sprintf(
			"Heap usage is trending up at %.2f MB/min; review recent allocations and cache growth.",
			rep.Memory.TrendMBPerMin))
	}
	if rep.Memory.LeakSuspected {
		recs = append(recs,
			"Leak findings were recorded in this window; check component memory histories for unbounded growth.")
	}
	if len(recs) == 0 {
		recs = append(recs, "All tracked metrics are within their targets.")
	}
	return recs
}

// percentile returns the p-th percentile by rank, clamped to the largest
// value.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func min64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := math.Inf(1)
	for _, v := range values {
		if v < m {
			m = v
		}
	}
	return m
}
