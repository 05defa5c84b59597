package probe

// FixedProbe returns the same estimate on every read. It is the fallback for
// environments with no native memory accounting at all.
type FixedProbe struct {
	reading Reading
}

func NewFixedProbe(heapUsedMB, heapTotalMB float64) *FixedProbe {
	return &FixedProbe{reading: Reading{
		HeapUsedMB:  heapUsedMB,
		HeapTotalMB: heapTotalMB,
		RSSMB:       heapTotalMB,
	}}
}

func (p *FixedProbe) Name() string { return "fixed" }

func (p *FixedProbe) Read() (Reading, error) { return p.reading, nil }
