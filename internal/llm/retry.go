package llm

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nickpending/prismis-sub000/internal/model"
	"github.com/nickpending/prismis-sub000/internal/observability"
)

// quotaPatterns mark quota/billing failures. These feed the circuit
// breaker and are never retried.
var quotaPatterns = []string{
	"quota",
	"insufficient_quota",
	"rate limit",
	"429",
	"too many requests",
	"billing",
}

// transientPatterns mark failures worth retrying with backoff.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"500",
	"502",
	"503",
	"504",
	"overloaded",
}

// IsQuota reports whether err pattern-matches a quota-class failure.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if model.IsKind(err, model.KindQuota) {
		return true
	}
	return matchesAny(err.Error(), quotaPatterns)
}

// IsTransient reports whether err is worth retrying. Quota failures are
// never transient even when the message also carries a retriable word.
func IsTransient(err error) bool {
	if err == nil || IsQuota(err) {
		return false
	}
	if model.IsKind(err, model.KindTransient) {
		return true
	}
	return matchesAny(err.Error(), transientPatterns)
}

func matchesAny(msg string, patterns []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Classify wraps a raw provider error with its kind.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsQuota(err):
		return model.Wrap(model.KindQuota, err, "llm quota exhausted")
	case IsTransient(err):
		return model.Wrap(model.KindTransient, err, "llm transient failure")
	default:
		return err
	}
}

const retryMaxAttempts = 3

// retryInitialInterval is variable so tests run without real sleeps.
var retryInitialInterval = time.Second

// withRetry runs fn, retrying transient failures with exponential backoff.
// Non-transient errors re-raise immediately; exhaustion emits an llm.retry
// event before surfacing the last error.
func withRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval

	attempts := 0
	result, err := backoff.RetryWithData(func() (T, error) {
		attempts++
		v, callErr := fn()
		if callErr == nil {
			return v, nil
		}
		callErr = Classify(callErr)
		if !IsTransient(callErr) {
			return v, backoff.Permanent(callErr)
		}
		return v, callErr
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retryMaxAttempts-1), ctx))

	if err != nil && IsTransient(err) {
		observability.Emit("llm.retry", map[string]any{
			"operation": op,
			"action":    "exhausted",
			"attempts":  attempts,
			"error":     err.Error(),
		})
	}
	return result, err
}
