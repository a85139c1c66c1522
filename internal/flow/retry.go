package flow

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stephenadei/tutorbot/internal/metrics"
)

// ErrTransient marks an external failure worth retrying.
var ErrTransient = errors.New("transient external failure")

// Retry defaults for calls at the external boundary.
const (
	DefaultCallTimeout    = 5 * time.Second
	DefaultMaxRetries     = 2
	defaultRetryInterval  = 200 * time.Millisecond
	defaultRetryMaxWindow = 3 * time.Second
)

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is a timeout, a server-side failure or
// explicitly marked with ErrTransient. Everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Retrier runs external calls with a per-attempt timeout and a small
// exponential backoff budget for transient failures.
type Retrier struct {
	Timeout    time.Duration
	MaxRetries uint64
	Interval   time.Duration
}

// DefaultRetrier returns the retry policy used at the attribute store boundary.
func DefaultRetrier() Retrier {
	return Retrier{Timeout: DefaultCallTimeout, MaxRetries: DefaultMaxRetries, Interval: defaultRetryInterval}
}

// Do calls fn until it succeeds, fails permanently, or the budget is spent.
// Each attempt gets its own timeout derived from ctx.
func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	eb := backoff.NewExponentialBackOff()
	if r.Interval > 0 {
		eb.InitialInterval = r.Interval
	}
	eb.MaxElapsedTime = defaultRetryMaxWindow
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, r.MaxRetries), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.ExternalCallRetriesTotal.WithLabelValues(op).Inc()
		slog.Warn("Retrier.Do: transient failure, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, policy, notify)
}

// Once runs fn a single time under the per-call timeout.
func (r Retrier) Once(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
