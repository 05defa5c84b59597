package probe

import "sync"

// FakeProbe plays back a scripted sequence of readings, repeating the last
// one once the script is exhausted. Test double.
type FakeProbe struct {
	mu    sync.Mutex
	queue []Reading
	last  Reading
	err   error
}

func NewFakeProbe(readings ...Reading) *FakeProbe {
	return &FakeProbe{queue: append([]Reading(nil), readings...)}
}

func (p *FakeProbe) Name() string { return "fake" }

// Push appends readings to the script.
func (p *FakeProbe) Push(readings ...Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, readings...)
}

// Fail makes the next Read return err once.
func (p *FakeProbe) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *FakeProbe) Read() (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		err := p.err
		p.err = nil
		return Reading{}, err
	}
	if len(p.queue) > 0 {
		p.last = p.queue[0]
		p.queue = p.queue[1:]
	}
	return p.last, nil
}
