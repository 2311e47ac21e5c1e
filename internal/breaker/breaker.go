// Package breaker wraps sony/gobreaker with the fixed settings the external
// provider clients use, and exposes a uniform status for health reporting.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Status is the externally visible state of one breaker.
type Status struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures uint32 `json:"failures"`
}

// Breaker guards calls to a single external provider.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker that opens after threshold consecutive failures and
// probes again with a single half-open request after timeout.
func New(name string, threshold uint32, timeout time.Duration) *Breaker {
	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// Status reports the breaker's current state and failure count.
func (b *Breaker) Status() Status {
	return Status{
		Name:     b.cb.Name(),
		State:    b.cb.State().String(),
		Failures: b.cb.Counts().ConsecutiveFailures,
	}
}
