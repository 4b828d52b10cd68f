// Package breaker wraps github.com/sony/gobreaker around each adapter RPC,
// replacing the teacher framework's interface-only core.CircuitBreaker
// (itsneelabh-gomind/core/circuit_breaker.go) with a concrete
// implementation of that same three-state (closed/open/half-open) contract.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker protects a single adapter operation (e.g. "generator.image-edit")
// from cascading failure by opening after a run of consecutive failures
// and only letting a trial request through once it has cooled down.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a Breaker named name that opens after consecutiveFailures in
// a row and stays open for cooldown before allowing a half-open trial.
func New(name string, consecutiveFailures uint32, cooldown time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// ErrOpen is returned when the breaker is open and the call was rejected
// without being attempted.
var ErrOpen = gobreaker.ErrOpenState

// Do runs fn through the breaker. A context that is already cancelled
// short-circuits before touching the breaker's internal state.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return nil, ErrOpen
	}
	return result, err
}

// State returns the breaker's current state name: "closed", "open", or
// "half-open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
