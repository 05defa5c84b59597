package startup

import (
	"context"
	"time"
)

// Well-known critical-path resource IDs. Registering one of these without an
// explicit priority picks up its canonical slot; every slot can be switched
// off through Config.DisabledResources.
const (
	ResourceDataStore     = "data_store"
	ResourceCacheReload   = "cache_reload"
	ResourceTodaySchedule = "today_schedule"
	ResourcePendingItems  = "pending_items"
	ResourceRecentHistory = "recent_history"
)

var defaultPriorities = map[string]int{
	ResourceDataStore:     1,
	ResourceCacheReload:   2,
	ResourceTodaySchedule: 3,
	ResourcePendingItems:  4,
	ResourceRecentHistory: 5,
}

// ResourceKind labels what a loader brings up. Informational only.
type ResourceKind string

const (
	KindService ResourceKind = "service"
	KindData    ResourceKind = "data"
	KindAsset   ResourceKind = "asset"
)

// LoadFunc is one opaque loader supplied by the host application. The
// sequencer treats it as a black box; ctx carries the shared critical-path
// deadline or the session lifetime.
type LoadFunc func(ctx context.Context) error

// Resource describes one critical-path load. Priority 1 is the most urgent;
// priorities at or below Config.FatalPriorityMax must succeed for the app to
// boot.
type Resource struct {
	ID       string
	Kind     ResourceKind
	Priority int
	Load     LoadFunc
}

// DeferredTask describes one background task run after the UI goes idle.
// Tasks run strictly sequentially in ascending priority order.
type DeferredTask struct {
	ID       string
	Priority int
	Run      LoadFunc
}

// ResourceResult records one attempted critical-path load.
type ResourceResult struct {
	ID          string        `json:"id"`
	Priority    int           `json:"priority"`
	AttemptedAt time.Time     `json:"attempted_at"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}
