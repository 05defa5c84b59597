// Package persist defines the key-value persistence surface the core uses to
// carry rolling logs, cache statistics, and launch state across sessions.
// Values are opaque string blobs; the host decides where they actually live.
package persist

import "errors"

// Keys under which the core persists its state.
const (
	KeyLaunchLog     = "appcore.launch_log"
	KeyLastExit      = "appcore.last_exit"
	KeyMemorySamples = "appcore.memory_samples"
	KeyLeakFindings  = "appcore.leak_findings"
	KeyCacheStats    = "appcore.cache_stats"
)

// ErrStoreUnavailable marks operations shed by the circuit breaker while the
// underlying store is failing.
var ErrStoreUnavailable = errors.New("persistence store unavailable")

// Store is the host-facing persistence surface. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the blob stored under key, and whether it existed.
	Get(key string) (string, bool, error)
	// Set stores a blob under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes the blob under key. Removing a missing key is not an error.
	Remove(key string) error
}
