package perf

import (
	"io"
	"math"
	"time"

	"github.com/cdipaolo/goml/base"
	"github.com/cdipaolo/goml/linear"
)

// TrendDirection classifies the slope of a memory series.
type TrendDirection string

const (
	TrendGrowing   TrendDirection = "growing"
	TrendStable    TrendDirection = "stable"
	TrendShrinking TrendDirection = "shrinking"
)

const (
	// minTrendPoints is the fewest samples a fit will run on.
	minTrendPoints = 5
	// maxTrendPoints caps how many points feed the gradient pass. Longer
	// series are downsampled evenly; beyond this size the pass stops
	// converging at the fixed learning rate.
	maxTrendPoints = 10
	// stableBandMBPerMin is the slope magnitude below which a series is
	// reported as stable.
	stableBandMBPerMin = 0.1

	trendLearnRate  = 0.1
	trendIterations = 1000
)

// EstimateTrend fits a least-squares line through a heap-usage series sampled
// at a fixed interval and returns the slope in MB per minute. The series is
// normalized before fitting so the gradient pass is stable regardless of the
// absolute heap figures. ok is false when the series is too short to judge.
func EstimateTrend(values []float64, interval time.Duration) (mbPerMin float64, dir TrendDirection, ok bool) {
	if len(values) < minTrendPoints || interval <= 0 {
		return 0, TrendStable, false
	}
	n := len(values)
	points := downsample(values, maxTrendPoints)
	m := len(points)

	mean := 0.0
	for _, v := range points {
		mean += v
	}
	mean /= float64(m)
	scale := 0.0
	for _, v := range points {
		if d := math.Abs(v - mean); d > scale {
			scale = d
		}
	}
	if scale == 0 {
		// Perfectly flat series, nothing to fit.
		return 0, TrendStable, true
	}

	xs := make([][]float64, m)
	ys := make([]float64, m)
	for i, v := range points {
		xs[i] = []float64{float64(i) / float64(m-1)}
		ys[i] = (v - mean) / scale
	}

	// Slope over the whole window in MB. The endpoint difference stands in
	// when the fit cannot run; the fitted line replaces it otherwise.
	windowGrowthMB := values[n-1] - values[0]

	model := linear.NewLeastSquares(base.BatchGA, trendLearnRate, 0, trendIterations, xs, ys)
	model.Output = io.Discard
	if err := model.Learn(); err == nil {
		lo, errLo := model.Predict([]float64{0})
		hi, errHi := model.Predict([]float64{1})
		if errLo == nil && errHi == nil && len(lo) > 0 && len(hi) > 0 {
			windowGrowthMB = (hi[0] - lo[0]) * scale
		}
	}

	windowMinutes := interval.Minutes() * float64(n-1)
	mbPerMin = windowGrowthMB / windowMinutes
	switch {
	case mbPerMin > stableBandMBPerMin:
		return mbPerMin, TrendGrowing, true
	case mbPerMin < -stableBandMBPerMin:
		return mbPerMin, TrendShrinking, true
	default:
		return mbPerMin, TrendStable, true
	}
}

// downsample picks up to max evenly spaced values, always keeping both
// endpoints so the fitted line spans the full window.
func downsample(values []float64, max int) []float64 {
	n := len(values)
	if n <= max {
		return values
	}
	out := make([]float64, max)
	for k := 0; k < max; k++ {
		idx := k * (n - 1) / (max - 1)
		out[k] = values[idx]
	}
	return out
}
