package perf_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedia-app/appcore/perf"
)

func linearSeries(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestEstimateTrendGrowing(t *testing.T) {
	// 45MB over nine 30s intervals is 10 MB/min.
	values := linearSeries(100, 5, 10)

	perMin, dir, ok := perf.EstimateTrend(values, 30*time.Second)

	require.True(t, ok)
	assert.Equal(t, perf.TrendGrowing, dir)
	assert.InDelta(t, 10, perMin, 1)
}

func TestEstimateTrendShrinking(t *testing.T) {
	values := linearSeries(200, -4, 10)

	perMin, dir, ok := perf.EstimateTrend(values, 30*time.Second)

	require.True(t, ok)
	assert.Equal(t, perf.TrendShrinking, dir)
	assert.Negative(t, perMin)
}

func TestEstimateTrendFlatSeriesIsStable(t *testing.T) {
	values := linearSeries(128, 0, 10)

	perMin, dir, ok := perf.EstimateTrend(values, 30*time.Second)

	require.True(t, ok)
	assert.Equal(t, perf.TrendStable, dir)
	assert.Zero(t, perMin)
}

func TestEstimateTrendNoiseWithinBandIsStable(t *testing.T) {
	// Jitter around a flat line, under 0.1 MB/min end to end.
	values := []float64{100, 100.4, 99.7, 100.2, 99.9, 100.1, 99.8, 100.3, 100, 100.1}

	_, dir, ok := perf.EstimateTrend(values, 30*time.Second)

	require.True(t, ok)
	assert.Equal(t, perf.TrendStable, dir)
}

func TestEstimateTrendNeedsFivePoints(t *testing.T) {
	_, _, ok := perf.EstimateTrend(linearSeries(100, 5, 4), 30*time.Second)
	assert.False(t, ok)

	_, _, ok = perf.EstimateTrend(linearSeries(100, 5, 5), 30*time.Second)
	assert.True(t, ok)
}

func TestEstimateTrendLongSeriesStaysFinite(t *testing.T) {
	// A hundred samples covers the full rolling log.
	values := linearSeries(50, 1, 100)

	perMin, dir, ok := perf.EstimateTrend(values, 30*time.Second)

	require.True(t, ok)
	assert.Equal(t, perf.TrendGrowing, dir)
	// 99MB over 49.5 minutes.
	assert.InDelta(t, 2, perMin, 0.5)
}
