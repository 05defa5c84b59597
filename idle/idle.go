// Package idle provides the signal that gates deferred startup work: run it
// only after the current burst of user interaction settles.
package idle

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultQuietPeriod is how long the interaction stream must stay silent
// before the app counts as idle.
const DefaultQuietPeriod = 500 * time.Millisecond

// Notifier gates work on the app going idle.
type Notifier interface {
	// AwaitIdle blocks until the app is idle or ctx is done.
	AwaitIdle(ctx context.Context) error
}

// Monitor detects idleness by watching the time since the last reported
// interaction. The host calls Touch from its interaction path; anything
// waiting in AwaitIdle proceeds once the quiet period elapses.
type Monitor struct {
	quiet     time.Duration
	poll      time.Duration
	lastTouch atomic.Int64 // unix nanos
	forced    chan struct{}
}

// NewMonitor creates a monitor with the given quiet period (DefaultQuietPeriod
// if zero or negative).
func NewMonitor(quiet time.Duration) *Monitor {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	poll := quiet / 4
	if poll < 5*time.Millisecond {
		poll = 5 * time.Millisecond
	}
	m := &Monitor{
		quiet:  quiet,
		poll:   poll,
		forced: make(chan struct{}, 1),
	}
	m.lastTouch.Store(time.Now().UnixNano())
	return m
}

// Touch records interaction activity, pushing idleness out.
func (m *Monitor) Touch() {
	m.lastTouch.Store(time.Now().UnixNano())
}

// Signal forces the next AwaitIdle to return immediately. Hosts with their
// own idle callback use this instead of Touch; tests use it to skip waiting.
func (m *Monitor) Signal() {
	select {
	case m.forced <- struct{}{}:
	default:
	}
}

func (m *Monitor) AwaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.forced:
			return nil
		case <-ticker.C:
			last := time.Unix(0, m.lastTouch.Load())
			if time.Since(last) >= m.quiet {
				return nil
			}
		}
	}
}
