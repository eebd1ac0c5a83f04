package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"coach-backend/internal/shared/metrics"
	"coach-backend/internal/shared/telemetry"
)

// DefaultDelays are the waits between attempts: first retry after 2s,
// second after 5s.
var DefaultDelays = []time.Duration{2 * time.Second, 5 * time.Second}

// Policy bounds the retry loop around provider calls.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// DefaultPolicy returns three attempts with the default backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delays: DefaultDelays}
}

// RetryingClient retries transient provider failures. Permanent errors
// pass through on the first attempt; transient exhaustion surfaces as
// ErrOverloaded rather than the last raw error.
type RetryingClient struct {
	inner  Client
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps inner with the retry policy.
func NewRetryingClient(inner Client, policy Policy) *RetryingClient {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &RetryingClient{inner: inner, policy: policy, sleep: sleepCtx}
}

func (c *RetryingClient) Analyze(ctx context.Context, req Request) (Answer, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		metrics.IncProviderAttempt()
		answer, err := c.inner.Analyze(ctx, req)
		if err == nil {
			return answer, nil
		}
		if !IsTransient(err) {
			return Answer{}, err
		}
		lastErr = err
		telemetry.Warn("analysis.transient_failure", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		// A dead caller context is a job timeout or cancellation, not
		// provider overload. Surface it as such.
		if ctx.Err() != nil {
			return Answer{}, fmt.Errorf("analysis aborted: %w", ctx.Err())
		}
		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.delay(attempt)); err != nil {
			return Answer{}, fmt.Errorf("analysis aborted: %w", err)
		}
	}
	metrics.IncProviderOverloaded()
	telemetry.Error("analysis.overloaded", map[string]any{
		"attempts": c.policy.MaxAttempts,
		"error":    lastErr.Error(),
	})
	return Answer{}, ErrOverloaded
}

func (c *RetryingClient) delay(attempt int) time.Duration {
	if len(c.policy.Delays) == 0 {
		return 2 * time.Second
	}
	idx := attempt - 1
	if idx >= len(c.policy.Delays) {
		idx = len(c.policy.Delays) - 1
	}
	return c.policy.Delays[idx]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient classifies provider failures worth retrying: rate limits,
// service unavailability, explicit overload markers, and network or
// deadline timeouts. Everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode == 429 || pe.StatusCode == 503 {
			return true
		}
		if strings.Contains(pe.Status, "UNAVAILABLE") {
			return true
		}
		if strings.Contains(strings.ToLower(pe.Body), "overload") {
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// http.Client timeouts wrap a private error type.
	if strings.Contains(err.Error(), "Client.Timeout") {
		return true
	}
	return false
}

var _ Client = (*RetryingClient)(nil)
