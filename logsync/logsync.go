// Package logsync polls the remote incremental change log and folds its
// entries into the local store, advancing a monotonic cursor.
package logsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/driftline/model"
	"github.com/driftline/driftline/netretry"
	"github.com/driftline/driftline/remote"
	"github.com/driftline/driftline/store"
)

// defaultInterval is the polling cadence when none is configured.
const defaultInterval = 3 * time.Second

// Synchronizer polls the change log on a fixed interval. The cursor
// only ever moves forward; a failed or stale fetch leaves it untouched,
// and a fetched batch is committed in one transaction before the cursor
// advances.
type Synchronizer struct {
	source   remote.LogSource
	saver    *store.Saver
	executor *netretry.Executor
	policy   netretry.Policy
	session  model.Session
	interval time.Duration
	onConvo  func(model.ConversationID)
	logger   *zap.Logger

	mu     sync.Mutex
	latest model.Cursor
	booted bool
}

// Config configures a Synchronizer.
type Config struct {
	// Interval between polls. Default: 3s.
	Interval time.Duration

	// Retry governs each log fetch. Zero value means netretry defaults.
	Retry netretry.Policy

	// InitialCursor resumes a previous session's cursor. Empty means
	// bootstrap from the server's current position.
	InitialCursor model.Cursor

	// OnConvoChanged, if set, is called after a committed batch for each
	// conversation the batch touched. Paginators hook this to mark their
	// tiles stale.
	OnConvoChanged func(model.ConversationID)
}

// New creates a synchronizer for session over source.
func New(source remote.LogSource, saver *store.Saver, executor *netretry.Executor, session model.Session, config Config, logger *zap.Logger) *Synchronizer {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.Retry == (netretry.Policy{}) {
		config.Retry = netretry.DefaultPolicy()
	}
	return &Synchronizer{
		source:   source,
		saver:    saver,
		executor: executor,
		policy:   config.Retry,
		session:  session,
		interval: config.Interval,
		onConvo:  config.OnConvoChanged,
		logger:   logger,
		latest:   config.InitialCursor,
		booted:   !config.InitialCursor.IsInitial(),
	}
}

// LatestCursor returns the current cursor position.
func (s *Synchronizer) LatestCursor() model.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Run polls until ctx is cancelled. Ticks never overlap: a poll that
// outlasts the interval delays the next one rather than racing it.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("log synchronizer started",
		zap.Duration("interval", s.interval),
		zap.String("cursor", string(s.LatestCursor())))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("log synchronizer stopped",
				zap.String("cursor", string(s.LatestCursor())))
			return ctx.Err()
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Warn("log poll failed, cursor unchanged", zap.Error(err))
			}
		}
	}
}

// Poll performs one fetch-fold-commit round. Exported so callers can
// force a poll outside the ticker, e.g. right after connectivity
// returns.
func (s *Synchronizer) Poll(ctx context.Context) error {
	s.mu.Lock()
	cursor := s.latest
	booted := s.booted
	s.mu.Unlock()

	page, err := netretry.Execute(ctx, s.executor, s.policy, func(ctx context.Context) (remote.LogPage, error) {
		return s.source.GetLog(ctx, cursor)
	})
	if err != nil {
		return err
	}

	if !booted {
		// First contact: adopt the server's position without replaying
		// history. Paginated loads cover current state.
		s.mu.Lock()
		s.latest = page.Cursor
		s.booted = true
		s.mu.Unlock()
		s.logger.Info("log cursor bootstrapped", zap.String("cursor", string(page.Cursor)))
		return nil
	}

	step := advance(cursor, page.Entries)
	if !step.Progressed {
		return nil
	}

	err = s.saver.InTransaction(ctx, s.session, func(b *store.Batch) error {
		for _, deleted := range step.Deleted {
			b.AddDeletedMessage(deleted.ConvoID, *deleted.View)
		}
		for _, upserted := range step.Upserted {
			b.AddMessage(upserted.ConvoID, *upserted.View)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Re-check under the lock: another Poll may have advanced further.
	if step.Cursor > s.latest {
		s.latest = step.Cursor
	}
	s.mu.Unlock()

	if s.onConvo != nil {
		for _, id := range step.Touched {
			s.onConvo(id)
		}
	}

	s.logger.Debug("log advanced",
		zap.String("cursor", string(step.Cursor)),
		zap.Int("deleted", len(step.Deleted)),
		zap.Int("upserted", len(step.Upserted)))
	return nil
}
