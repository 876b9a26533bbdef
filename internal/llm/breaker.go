package llm

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nickpending/prismis-sub000/internal/model"
	"github.com/nickpending/prismis-sub000/internal/observability"
)

const (
	// breakerThreshold quota failures open the breaker; breakerRecovery is
	// how long calls are rejected locally before one probe is allowed.
	breakerThreshold = 3
	breakerRecovery  = time.Hour
)

// breakerTimeout is variable so the recovery window can shrink in tests.
var breakerTimeout = breakerRecovery

var (
	breakerMu sync.Mutex
	breaker   *gobreaker.CircuitBreaker[any]
)

// Breaker returns the process-wide quota circuit breaker, creating it on
// first use.
func Breaker() *gobreaker.CircuitBreaker[any] {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	if breaker == nil {
		breaker = newBreaker()
	}
	return breaker
}

// ResetBreaker discards breaker state. Test hook.
func ResetBreaker() {
	breakerMu.Lock()
	breaker = nil
	breakerMu.Unlock()
}

func newBreaker() *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "llm-quota",
		MaxRequests: 1, // one probe in half-open
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		// Only quota-class failures count against the breaker; transient and
		// validation failures pass through as successes so they never trip it.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsQuota(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.Emit("llm.breaker", map[string]any{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})
}

// guarded runs fn behind the breaker. A rejected call surfaces as a quota
// error without any provider I/O.
func guarded[T any](fn func() (T, error)) (T, error) {
	var zero T
	v, err := Breaker().Execute(func() (any, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, model.Wrap(model.KindQuota, err, "llm circuit breaker open")
		}
		return zero, err
	}
	out, ok := v.(T)
	if !ok && v != nil {
		return zero, model.E(model.KindStorage, "llm breaker returned unexpected type")
	}
	return out, nil
}
