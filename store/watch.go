package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// watchDebounce batches invalidation bursts before a query re-runs. A
// commit touching several tables fires one recomputation, not one per
// table.
const watchDebounce = 120 * time.Millisecond

// WatchResult is one emission of a watched query.
type WatchResult[T any] struct {
	Value T
	Err   error
}

// Watch runs query immediately, then re-runs it whenever one of the
// watched tables changes, debounced by watchDebounce. Results arrive on
// the returned channel, which closes when ctx is done. A consumer that
// falls behind misses intermediate results, never the newest one.
func Watch[T any](ctx context.Context, db *DB, logger *zap.Logger, tables []string, query func(context.Context) (T, error)) <-chan WatchResult[T] {
	out := make(chan WatchResult[T], 1)
	inv := db.SubscribeInvalidations(tables...)

	go func() {
		defer close(out)
		defer inv.Cancel()

		run := func() {
			value, err := query(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("watched query failed", zap.Error(err))
			}
			result := WatchResult[T]{Value: value, Err: err}
			select {
			case out <- result:
			default:
				// Drop the stale buffered result and replace it.
				select {
				case <-out:
				default:
				}
				select {
				case out <- result:
				case <-ctx.Done():
				}
			}
		}

		run()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-inv.C:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					fire = timer.C
				} else {
					if !timer.Stop() {
						<-fire
					}
					timer.Reset(watchDebounce)
				}
			case <-fire:
				timer = nil
				fire = nil
				run()
			}
		}
	}()

	return out
}
