// Package netretry executes fallible network operations with bounded
// exponential backoff. Backoff only applies while the network is
// reachable; when the connectivity monitor reports the network as down,
// the executor waits for reachability to return instead of sleeping a
// fixed delay, then retries immediately.
//
// Errors are split three ways: transient I/O faults are retried, domain
// failures (the remote rejecting a request semantically) terminate
// immediately, and cancellation is always re-raised untouched.
package netretry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/driftline/connectivity"
)

// Policy bounds one Execute call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay clamps the grown backoff.
	MaxDelay time.Duration

	// Factor multiplies the delay after each connected retry.
	Factor float64
}

// DefaultPolicy returns the policy used across the engine unless a caller
// overrides it: 3 attempts, 100ms initial delay, 5s cap, factor 2.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
	}
}

// Clock abstracts suspension so tests can drive backoff with a fake clock.
type Clock interface {
	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err()
	// in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor runs operations under retry policies against one connectivity
// monitor.
type Executor struct {
	monitor connectivity.Monitor
	clock   Clock
	logger  *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the executor's clock. Used by tests.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// NewExecutor creates an Executor bound to the given monitor.
func NewExecutor(monitor connectivity.Monitor, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		monitor: monitor,
		clock:   systemClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op under the policy.
//
// A nil error from op returns immediately. A domain failure (any error
// that is not a transient fault) terminates without retrying. A transient
// fault is retried up to p.MaxAttempts total attempts; between attempts
// the executor sleeps the current backoff while connected, or waits for
// the connectivity monitor to report reachable while disconnected. After
// exhaustion the last transient fault is returned wrapped with the
// attempt count.
//
// A connectivity observer goroutine tracks reachability for the duration
// of the call and is always stopped before Execute returns.
func Execute[T any](ctx context.Context, e *Executor, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("netretry: MaxAttempts must be >= 1, got %d", p.MaxAttempts)
	}

	var connected atomic.Bool
	connected.Store(e.monitor.Connected())

	sub := e.monitor.Subscribe()
	observerDone := make(chan struct{})
	go func() {
		defer close(observerDone)
		for state := range sub.C {
			connected.Store(state)
		}
	}()
	defer func() {
		sub.Cancel()
		<-observerDone
	}()

	currentDelay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if isCancellation(ctx, err) {
			return zero, err
		}
		if !IsTransient(err) {
			return zero, err
		}

		lastErr = err
		e.logger.Debug("transient network fault",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Error(err),
		)

		if attempt == p.MaxAttempts {
			break
		}

		if connected.Load() {
			if err := e.clock.Sleep(ctx, currentDelay); err != nil {
				return zero, err
			}
			currentDelay = time.Duration(float64(currentDelay) * p.Factor)
			if currentDelay > p.MaxDelay {
				currentDelay = p.MaxDelay
			}
		} else {
			if err := e.awaitConnected(ctx); err != nil {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("netretry: %d attempts exhausted: %w", p.MaxAttempts, lastErr)
}

// awaitConnected blocks until the monitor reports reachable or ctx is
// cancelled. No fixed delay is involved.
func (e *Executor) awaitConnected(ctx context.Context) error {
	sub := e.monitor.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-sub.C:
			if !ok {
				return nil
			}
			if state {
				return nil
			}
		}
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// transientFault is implemented by errors that represent retryable I/O
// faults. The remote package's transport errors implement it.
type transientFault interface {
	TransientFault() bool
}

// IsTransient reports whether err is a retryable I/O fault rather than a
// domain failure. Transport-level net errors count as transient even when
// they do not implement the marker interface.
func IsTransient(err error) bool {
	var fault transientFault
	if errors.As(err, &fault) {
		return fault.TransientFault()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Transient wraps err so IsTransient reports it as retryable. Useful for
// fakes and for adapters over transports that do not classify their own
// errors.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string        { return e.err.Error() }
func (e *transientError) Unwrap() error        { return e.err }
func (e *transientError) TransientFault() bool { return true }
