// Package probe provides the memory capability interface the governor
// samples through, with one implementation per platform and deterministic
// doubles for tests and probe-less environments.
package probe

// Reading is a point-in-time view of process memory, in megabytes.
type Reading struct {
	HeapUsedMB  float64 `json:"heap_used_mb"`
	HeapTotalMB float64 `json:"heap_total_mb"`
	RSSMB       float64 `json:"rss_mb"`
}

// MemoryProbe reports current process memory usage. Implementations must be
// safe for concurrent use.
type MemoryProbe interface {
	Read() (Reading, error)
	Name() string
}

// Detect returns the most capable probe available on this platform, falling
// back to the portable runtime probe.
func Detect() MemoryProbe {
	if p := platformProbe(); p != nil {
		return p
	}
	return NewRuntimeProbe()
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
