package governor

import "runtime"

// PressureLevel classifies how close heap usage is to the memory budget.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureModerate
	PressureHigh
	PressureCritical
)

var pressureNames = map[PressureLevel]string{
	PressureNormal:   "normal",
	PressureModerate: "moderate",
	PressureHigh:     "high",
	PressureCritical: "critical",
}

func (l PressureLevel) String() string {
	if name, ok := pressureNames[l]; ok {
		return name
	}
	return "unknown"
}

// ClassifyPressure maps a percentage of the memory budget to a pressure
// level. Pure function: below 60 is normal, below 75 moderate, below 90
// high, anything above that critical.
func ClassifyPressure(pctOfBudget float64) PressureLevel {
	switch {
	case pctOfBudget < 60:
		return PressureNormal
	case pctOfBudget < 75:
		return PressureModerate
	case pctOfBudget < 90:
		return PressureHigh
	default:
		return PressureCritical
	}
}

// Collector receives the governor's collection requests. The default asks
// the Go runtime for a collection cycle; hosts can substitute a platform
// hook, tests a counter.
type Collector interface {
	Collect()
}

// RuntimeCollector triggers a garbage collection on the Go runtime.
type RuntimeCollector struct{}

func (RuntimeCollector) Collect() { runtime.GC() }
