package llm

import (
	"context"
	"sync"
	"time"

	"underwriter/pkg/llm/llmerrors"
)

// CircuitState is the position of a Breaker.
type CircuitState int

// Breaker states.
const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls rejected until the cooldown elapses
	CircuitHalfOpen                     // one trial call allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker stops calling a provider after FailureThreshold consecutive
// failures and lets a single trial call through once Cooldown has passed.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Breaker struct {
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker. A threshold below 1 disables it.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if success {
		b.state = CircuitClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.failureThreshold {
		b.state = CircuitOpen
		b.openedAt = b.now()
	}
}

// State returns the current position.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CircuitBreaker rejects calls with a service-unavailable error while b is open.
// Rejected calls never reach next.
func CircuitBreaker(b *Breaker) Middleware {
	return func(next LLMClient) LLMClient {
		if b == nil || b.failureThreshold < 1 {
			return next
		}
		return WrapClient(next, func(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
			if !b.Allow() {
				return CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeServiceUnavailable,
					"circuit breaker is "+b.State().String()+" for "+next.GetModelName())
			}
			resp, err := next.Complete(ctx, in)
			b.Record(err == nil)
			return resp, err
		})
	}
}
