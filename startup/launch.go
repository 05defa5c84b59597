package startup

import "time"

// LaunchRecord captures one completed launch for the rolling log.
type LaunchRecord struct {
	SessionID      string    `json:"session_id"`
	ColdStart      bool      `json:"cold_start"`
	StartedAt      time.Time `json:"started_at"`
	InteractiveMs  float64   `json:"interactive_ms"`
	FullyLoadedMs  float64   `json:"fully_loaded_ms"`
	DeferredMs     float64   `json:"deferred_ms"`
	ResourceCount  int       `json:"resource_count"`
	FailedCount    int       `json:"failed_count"`
	DeferredCount  int       `json:"deferred_count"`
	DeferredFailed int       `json:"deferred_failed"`
}

// LaunchPerformance is the read-only rolling view over the launch log:
// cold/warm interactive averages and whether each configured target is
// currently met. A start kind with no recorded launches trivially meets its
// target.
type LaunchPerformance struct {
	ColdCount            int     `json:"cold_count"`
	WarmCount            int     `json:"warm_count"`
	AvgColdInteractiveMs float64 `json:"avg_cold_interactive_ms"`
	AvgWarmInteractiveMs float64 `json:"avg_warm_interactive_ms"`
	ColdTargetMs         float64 `json:"cold_target_ms"`
	WarmTargetMs         float64 `json:"warm_target_ms"`
	MeetsColdTarget      bool    `json:"meets_cold_target"`
	MeetsWarmTarget      bool    `json:"meets_warm_target"`
}

func summarizeLaunches(records []LaunchRecord, coldTargetMs, warmTargetMs float64) LaunchPerformance {
	perf := LaunchPerformance{
		ColdTargetMs:    coldTargetMs,
		WarmTargetMs:    warmTargetMs,
		MeetsColdTarget: true,
		MeetsWarmTarget: true,
	}
	var coldSum, warmSum float64
	for _, rec := range records {
		if rec.ColdStart {
			perf.ColdCount++
			coldSum += rec.InteractiveMs
		} else {
			perf.WarmCount++
			warmSum += rec.InteractiveMs
		}
	}
	if perf.ColdCount > 0 {
		perf.AvgColdInteractiveMs = coldSum / float64(perf.ColdCount)
		perf.MeetsColdTarget = perf.AvgColdInteractiveMs <= coldTargetMs
	}
	if perf.WarmCount > 0 {
		perf.AvgWarmInteractiveMs = warmSum / float64(perf.WarmCount)
		perf.MeetsWarmTarget = perf.AvgWarmInteractiveMs <= warmTargetMs
	}
	return perf
}
