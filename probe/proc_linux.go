//go:build linux

package probe

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ProcProbe augments the runtime heap figures with the resident set size
// from /proc/self/statm. RSS is what the platform's low-memory killer
// actually judges the process by.
type ProcProbe struct {
	pageSize uint64
}

func NewProcProbe() *ProcProbe {
	return &ProcProbe{pageSize: uint64(os.Getpagesize())}
}

func (p *ProcProbe) Name() string { return "proc" }

func (p *ProcProbe) Read() (Reading, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r := Reading{
		HeapUsedMB:  bytesToMB(ms.HeapAlloc),
		HeapTotalMB: bytesToMB(ms.HeapSys),
		RSSMB:       bytesToMB(ms.Sys),
	}
	pages, err := residentPages()
	if err != nil {
		// The runtime figure above is still a usable RSS approximation.
		return r, nil
	}
	r.RSSMB = bytesToMB(pages * p.pageSize)
	return r, nil
}

func residentPages() (uint64, error) {
	raw, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("read statm: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm: %q", raw)
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse statm resident field: %w", err)
	}
	return pages, nil
}

func platformProbe() MemoryProbe { return NewProcProbe() }
