package governor

import (
	"fmt"
	"time"
)

// OverallComponent names the whole-heap growth check in leak findings.
const OverallComponent = "overall"

// Severity grades a leak finding by how much memory grew.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityForGrowth maps growth in MB to a severity. Bands are
// left-exclusive, right-inclusive: growth of exactly 10 is still low,
// anything past 30 is critical.
func severityForGrowth(growthMB float64) Severity {
	switch {
	case growthMB <= 10:
		return SeverityLow
	case growthMB <= 20:
		return SeverityMedium
	case growthMB <= 30:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// LeakFinding records one detected growth pattern, overall or for a named
// component.
type LeakFinding struct {
	DetectedAt          time.Time `json:"detected_at"`
	Component           string    `json:"component"`
	GrowthMB            float64   `json:"growth_mb"`
	Severity            Severity  `json:"severity"`
	ContributingSamples int       `json:"contributing_samples"`
	Recommendations     []string  `json:"recommendations"`
}

// growthOverWindow computes newest minus oldest over the last window values.
// It returns false until at least window values exist.
func growthOverWindow(values []float64, window int) (float64, bool) {
	if len(values) < window {
		return 0, false
	}
	recent := values[len(values)-window:]
	return recent[len(recent)-1] - recent[0], true
}

// trendLabel classifies heap direction over up to window trailing values.
// Unlike leak detection it does not wait for a full window; two samples are
// enough to call a direction. Movement inside one MB either way is stable.
func trendLabel(values []float64, window int) string {
	if len(values) < 2 {
		return "stable"
	}
	if len(values) > window {
		values = values[len(values)-window:]
	}
	growth := values[len(values)-1] - values[0]
	switch {
	case growth > 1:
		return "growing"
	case growth < -1:
		return "shrinking"
	default:
		return "stable"
	}
}

// leakRecommendations builds the deterministic advice attached to a finding.
func leakRecommendations(component string, severity Severity) []string {
	recs := []string{"Inspect recent allocations for unbounded growth"}
	if component == OverallComponent {
		recs = append(recs, "Verify listeners and subscriptions are released on teardown")
	} else {
		recs = append(recs, fmt.Sprintf("Audit %s for retained references", component))
	}
	if severity == SeverityHigh || severity == SeverityCritical {
		recs = append(recs, "Clear caches and request a collection cycle")
	}
	return recs
}
