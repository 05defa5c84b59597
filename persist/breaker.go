package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerStore wraps a Store with a circuit breaker so a failing host store
// is shed instead of hammered on every monitoring tick. While the breaker is
// open, operations fail fast with ErrStoreUnavailable.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner. The breaker opens after three consecutive
// failures and probes again after 15 seconds.
func NewBreakerStore(inner Store, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "persist")
	return &BreakerStore{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "persist",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("persistence breaker state change",
					"from", from.String(), "to", to.String())
			},
		}),
	}
}

type getResult struct {
	value string
	ok    bool
}

func (b *BreakerStore) Get(key string) (string, bool, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		v, ok, err := b.inner.Get(key)
		if err != nil {
			return nil, err
		}
		return getResult{v, ok}, nil
	})
	if err != nil {
		return "", false, b.wrap(err)
	}
	r := res.(getResult)
	return r.value, r.ok, nil
}

func (b *BreakerStore) Set(key, value string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Set(key, value)
	})
	return b.wrap(err)
}

func (b *BreakerStore) Remove(key string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Remove(key)
	})
	return b.wrap(err)
}

// State exposes the breaker state for diagnostics.
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

func (b *BreakerStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
