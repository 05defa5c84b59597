package probe

import "runtime"

// RuntimeProbe reads the Go runtime's own heap accounting. Portable to every
// platform the runtime supports, including probe-less sandboxes.
type RuntimeProbe struct{}

func NewRuntimeProbe() *RuntimeProbe { return &RuntimeProbe{} }

func (p *RuntimeProbe) Name() string { return "runtime" }

func (p *RuntimeProbe) Read() (Reading, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Reading{
		HeapUsedMB:  bytesToMB(ms.HeapAlloc),
		HeapTotalMB: bytesToMB(ms.HeapSys),
		RSSMB:       bytesToMB(ms.Sys),
	}, nil
}
