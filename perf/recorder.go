// Package perf implements the observational half of the triad: named
// mark/measure tracing, bounded UI-health sampling, rolling performance
// snapshots, and windowed report generation. It never takes corrective
// action; breached targets surface as warnings and report lines only.
package perf

import (
	"log/slog"
	"sync"
	"time"
)

// Config carries the recorder's targets, window sizes, and log caps.
type Config struct {
	// TargetFPS and the *BudgetMs figures are the observational targets a
	// sample is judged against when it is recorded.
	TargetFPS           float64 `mapstructure:"target_fps" validate:"gt=0"`
	FrameBudgetMs       float64 `mapstructure:"frame_budget_ms" validate:"gt=0"`
	InteractionBudgetMs float64 `mapstructure:"interaction_budget_ms" validate:"gt=0"`
	NavigationBudgetMs  float64 `mapstructure:"navigation_budget_ms" validate:"gt=0"`

	// RecentWindow is how many trailing samples of each signal feed the
	// rolling snapshot.
	RecentWindow int `mapstructure:"recent_window" validate:"gt=0"`

	// The performant gate: a snapshot is performant while every observed
	// signal clears its bar.
	MinPerformantFPS    float64 `mapstructure:"min_performant_fps" validate:"gt=0"`
	MaxResponseMs       float64 `mapstructure:"max_response_ms" validate:"gt=0"`
	PerformantBudgetPct float64 `mapstructure:"performant_budget_pct" validate:"gt=0,lte=100"`

	UISampleCap int `mapstructure:"ui_sample_cap" validate:"gt=0"`
	TraceCap    int `mapstructure:"trace_cap" validate:"gt=0"`
}

// DefaultConfig returns the stock targets.
func DefaultConfig() Config {
	return Config{
		TargetFPS:           60,
		FrameBudgetMs:       16.67,
		InteractionBudgetMs: 100,
		NavigationBudgetMs:  300,
		RecentWindow:        20,
		MinPerformantFPS:    55,
		MaxResponseMs:       100,
		PerformantBudgetPct: 75,
		UISampleCap:         1000,
		TraceCap:            500,
	}
}

// SampleKind distinguishes the two UI-health signals.
type SampleKind string

const (
	SampleRender SampleKind = "render"
	SampleScroll SampleKind = "scroll"
)

// UISample is one bounded UI-health observation.
type UISample struct {
	Timestamp     time.Time  `json:"timestamp"`
	Screen        string     `json:"screen"`
	Kind          SampleKind `json:"kind"`
	FPS           float64    `json:"fps,omitempty"`
	RenderMs      float64    `json:"render_ms,omitempty"`
	DroppedFrames int        `json:"dropped_frames,omitempty"`
}

// TraceKind labels an entry on the trace timeline.
type TraceKind string

const (
	TraceMark        TraceKind = "mark"
	TraceMeasure     TraceKind = "measure"
	TraceRender      TraceKind = "render"
	TraceInteraction TraceKind = "interaction"
	TraceNavigation  TraceKind = "navigation"
)

// TraceEntry is one timed span.
type TraceEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       TraceKind `json:"kind"`
	Name       string    `json:"name"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	DurationMs float64   `json:"duration_ms"`
}

// Snapshot is the rolling view returned by CurrentPerformance.
type Snapshot struct {
	AvgFPS        float64 `json:"avg_fps"`
	AvgRenderMs   float64 `json:"avg_render_ms"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	PctOfBudget   float64 `json:"pct_of_budget"`
	IsPerformant  bool    `json:"is_performant"`
}

// MemoryReader is the read-only memory surface the recorder consumes.
// The governor satisfies it; the recorder never mutates governor state.
type MemoryReader interface {
	LatestMemory() (usedMB, pctOfBudget float64, ok bool)
	MemorySeries(window time.Duration) ([]float64, time.Duration)
}

// LeakReader reports how many leak findings fell inside a window.
type LeakReader interface {
	LeakCount(window time.Duration) int
}

// Recorder collects marks, measures, and UI samples. All methods are safe for
// concurrent use. A nil memory or leak reader simply leaves those report
// sections empty.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	mem    MemoryReader
	leaks  LeakReader

	mu        sync.Mutex
	marks     map[string]time.Time
	uiSamples []UISample
	traces    []TraceEntry

	now func() time.Time
}

// NewRecorder constructs a recorder. logger may be nil for slog.Default.
func NewRecorder(cfg Config, logger *slog.Logger, mem MemoryReader, leaks LeakReader) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "perf"),
		mem:    mem,
		leaks:  leaks,
		marks:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// Mark records a named instant, overwriting any previous mark with the same
// name. Marks also land on the trace timeline as zero-duration entries.
func (r *Recorder) Mark(name string) {
	now := r.now()
	r.mu.Lock()
	r.marks[name] = now
	r.appendTraceLocked(TraceEntry{
		Timestamp: now,
		Kind:      TraceMark,
		Name:      name,
	})
	r.mu.Unlock()
}

// Measure records the elapsed time from startMark to now under name. An
// unknown mark logs a warning and reports false, never an error.
func (r *Recorder) Measure(name, startMark string) (time.Duration, bool) {
	return r.measure(name, startMark, "")
}

// MeasureBetween records the elapsed time between two marks under name.
func (r *Recorder) MeasureBetween(name, startMark, endMark string) (time.Duration, bool) {
	return r.measure(name, startMark, endMark)
}

func (r *Recorder) measure(name, startMark, endMark string) (time.Duration, bool) {
	now := r.now()
	r.mu.Lock()
	start, ok := r.marks[startMark]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("measure skipped, unknown start mark",
			"measure", name, "start_mark", startMark)
		return 0, false
	}
	end := now
	if endMark != "" {
		end, ok = r.marks[endMark]
		if !ok {
			r.mu.Unlock()
			r.logger.Warn("measure skipped, unknown end mark",
				"measure", name, "end_mark", endMark)
			return 0, false
		}
	}
	elapsed := end.Sub(start)
	r.appendTraceLocked(TraceEntry{
		Timestamp:  now,
		Kind:       TraceMeasure,
		Name:       name,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
	})
	r.mu.Unlock()
	return elapsed, true
}

// TrackScreenRender records one screen render, warning when it blows the
// frame budget. The render appears both in the UI sample log and on the
// trace timeline.
func (r *Recorder) TrackScreenRender(screen string, renderMs float64) {
	now := r.now()
	r.mu.Lock()
	r.appendUILocked(UISample{
		Timestamp: now,
		Screen:    screen,
		Kind:      SampleRender,
		RenderMs:  renderMs,
	})
	r.appendTraceLocked(TraceEntry{
		Timestamp:  now,
		Kind:       TraceRender,
		Name:       screen,
		DurationMs: renderMs,
	})
	r.mu.Unlock()

	if renderMs > r.cfg.FrameBudgetMs {
		r.logger.Warn("slow screen render",
			"screen", screen, "render_ms", renderMs, "budget_ms", r.cfg.FrameBudgetMs)
	}
}

// TrackScrollPerformance records one scroll sample, warning below the frame
// rate target.
func (r *Recorder) TrackScrollPerformance(screen string, fps float64, droppedFrames int) {
	r.mu.Lock()
	r.appendUILocked(UISample{
		Timestamp:     r.now(),
		Screen:        screen,
		Kind:          SampleScroll,
		FPS:           fps,
		DroppedFrames: droppedFrames,
	})
	r.mu.Unlock()

	if fps < r.cfg.TargetFPS {
		r.logger.Warn("low scroll frame rate",
			"screen", screen, "fps", fps, "dropped_frames", droppedFrames,
			"target_fps", r.cfg.TargetFPS)
	}
}

// TrackNavigation records one screen transition.
func (r *Recorder) TrackNavigation(from, to string, durationMs float64) {
	r.mu.Lock()
	r.appendTraceLocked(TraceEntry{
		Timestamp:  r.now(),
		Kind:       TraceNavigation,
		Name:       from + ">" + to,
		From:       from,
		To:         to,
		DurationMs: durationMs,
	})
	r.mu.Unlock()

	if durationMs > r.cfg.NavigationBudgetMs {
		r.logger.Warn("slow navigation",
			"from", from, "to", to, "duration_ms", durationMs,
			"budget_ms", r.cfg.NavigationBudgetMs)
	}
}

// TrackInteraction records one user interaction span.
func (r *Recorder) TrackInteraction(name string, durationMs float64) {
	r.mu.Lock()
	r.appendTraceLocked(TraceEntry{
		Timestamp:  r.now(),
		Kind:       TraceInteraction,
		Name:       name,
		DurationMs: durationMs,
	})
	r.mu.Unlock()

	if durationMs > r.cfg.InteractionBudgetMs {
		r.logger.Warn("slow interaction",
			"interaction", name, "duration_ms", durationMs,
			"budget_ms", r.cfg.InteractionBudgetMs)
	}
}

func (r *Recorder) appendUILocked(s UISample) {
	r.uiSamples = append(r.uiSamples, s)
	if len(r.uiSamples) > r.cfg.UISampleCap {
		r.uiSamples = r.uiSamples[1:]
	}
}

func (r *Recorder) appendTraceLocked(t TraceEntry) {
	r.traces = append(r.traces, t)
	if len(r.traces) > r.cfg.TraceCap {
		r.traces = r.traces[1:]
	}
}

// CurrentPerformance averages the most recent samples of each signal and
// applies the performant gate. Signals with no samples yet do not gate.
func (r *Recorder) CurrentPerformance() Snapshot {
	r.mu.Lock()
	var fps, render, response []float64
	for _, s := range r.uiSamples {
		switch s.Kind {
		case SampleScroll:
			fps = append(fps, s.FPS)
		case SampleRender:
			render = append(render, s.RenderMs)
		}
	}
	for _, t := range r.traces {
		if t.Kind == TraceInteraction {
			response = append(response, t.DurationMs)
		}
	}
	r.mu.Unlock()

	snap := Snapshot{
		AvgFPS:        avgLast(fps, r.cfg.RecentWindow),
		AvgRenderMs:   avgLast(render, r.cfg.RecentWindow),
		AvgResponseMs: avgLast(response, r.cfg.RecentWindow),
	}

	memOK := true
	if r.mem != nil {
		if used, pct, ok := r.mem.LatestMemory(); ok {
			snap.MemoryUsedMB = used
			snap.PctOfBudget = pct
			memOK = pct < r.cfg.PerformantBudgetPct
		}
	}
	fpsOK := len(fps) == 0 || snap.AvgFPS >= r.cfg.MinPerformantFPS
	responseOK := len(response) == 0 || snap.AvgResponseMs <= r.cfg.MaxResponseMs
	snap.IsPerformant = fpsOK && responseOK && memOK
	return snap
}

// UISamples returns a copy of the UI sample log, oldest first.
func (r *Recorder) UISamples() []UISample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UISample(nil), r.uiSamples...)
}

// Traces returns a copy of the trace log, oldest first.
func (r *Recorder) Traces() []TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEntry(nil), r.traces...)
}

func avgLast(values []float64, window int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) > window {
		values = values[len(values)-window:]
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
