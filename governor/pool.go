package governor

import "sync"

// defaultPoolCap bounds each named free-list.
const defaultPoolCap = 100

// PoolSet keeps a bounded free-list of reusable objects per name, cutting
// allocation churn on hot paths. sync.Pool is deliberately not used here:
// these pools need a hard per-name cap and an inspectable size, and must not
// drain on collection cycles the governor itself triggers.
type PoolSet struct {
	mu    sync.Mutex
	cap   int
	pools map[string][]any
}

// NewPoolSet creates a pool set with the given per-pool capacity
// (defaultPoolCap if zero or negative).
func NewPoolSet(capPerPool int) *PoolSet {
	if capPerPool <= 0 {
		capPerPool = defaultPoolCap
	}
	return &PoolSet{cap: capPerPool, pools: make(map[string][]any)}
}

// Get returns a pooled object for name, or a fresh one from factory when the
// pool is empty.
func (p *PoolSet) Get(name string, factory func() any) any {
	p.mu.Lock()
	free := p.pools[name]
	if n := len(free); n > 0 {
		obj := free[n-1]
		free[n-1] = nil
		p.pools[name] = free[:n-1]
		p.mu.Unlock()
		return obj
	}
	p.mu.Unlock()
	return factory()
}

// Put returns an object to the named pool. Objects beyond the cap are
// dropped for the collector, reported by the false return.
func (p *PoolSet) Put(name string, obj any) bool {
	if obj == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	free := p.pools[name]
	if len(free) >= p.cap {
		return false
	}
	p.pools[name] = append(free, obj)
	return true
}

// Size reports how many objects are currently pooled under name.
func (p *PoolSet) Size(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools[name])
}
