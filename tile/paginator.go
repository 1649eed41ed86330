package tile

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftline/driftline/model"
	"github.com/driftline/driftline/netretry"
)

// Config wires a Paginator to its two sources and the identity of its
// items. R is the remote item shape, T the locally read shape.
type Config[R, T any] struct {
	// Fetch loads one remote page. The cursor is the one returned by the
	// previous page in the lineage, or the initial cursor for page zero.
	Fetch func(ctx context.Context, query model.PageQuery, cursor model.Cursor) (model.CursorList[R], error)

	// Commit persists a fetched page into the local store before the tile
	// is read back.
	Commit func(ctx context.Context, query model.PageQuery, items []R) error

	// Local reads the tile's items from the local store.
	Local func(ctx context.Context, query model.PageQuery) ([]T, error)

	// Identity keys items for de-duplication across tiles.
	Identity func(T) string

	// Compare orders unconfirmed items spliced into the last tile. It
	// reports whether a sorts before b.
	Compare func(a, b T) bool

	// Retry governs remote fetches. Zero value means netretry defaults.
	Retry netretry.Policy

	// PageSize is the per-page item limit.
	PageSize int
}

// Paginator maintains a tiled sequence over a query lineage. One
// lineage is anchored by the timestamp of its first query; Refresh
// starts a new lineage and discards the old tiles. All methods are safe
// for concurrent use.
type Paginator[R, T any] struct {
	config   Config[R, T]
	executor *netretry.Executor
	logger   *zap.Logger

	mu       sync.Mutex
	seq      Sequence[model.PageQuery, T]
	anchor   time.Time
	cursors  map[int]model.Cursor
	terminal int
	stale    map[model.PageQuery]bool
	pending  []T
}

// NewPaginator creates a paginator. The lineage starts on the first
// LoadAround or Refresh.
func NewPaginator[R, T any](config Config[R, T], executor *netretry.Executor, logger *zap.Logger) *Paginator[R, T] {
	if config.Retry == (netretry.Policy{}) {
		config.Retry = netretry.DefaultPolicy()
	}
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	return &Paginator[R, T]{
		config:   config,
		executor: executor,
		logger:   logger,
		cursors:  make(map[int]model.Cursor),
		terminal: -1,
		stale:    make(map[model.PageQuery]bool),
	}
}

// FirstQuery returns page zero of a lineage anchored at anchor.
func (p *Paginator[R, T]) FirstQuery(anchor time.Time) model.PageQuery {
	return model.PageQuery{Page: 0, CursorAnchor: anchor, Limit: p.config.PageSize}
}

// NextQuery returns the query following the last loaded tile, or false
// when the lineage is exhausted or nothing is loaded yet.
func (p *Paginator[R, T]) NextQuery() (model.PageQuery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seq.Len() == 0 {
		return model.PageQuery{}, false
	}
	boundaries := p.seq.Boundaries()
	last := boundaries[len(boundaries)-1]
	if p.terminal >= 0 && last.Page >= p.terminal {
		return model.PageQuery{}, false
	}
	return last.Next(), true
}

// LoadAround makes query's tile current. An untiled query is fetched
// remotely, committed to the store, and read back; a tiled query is
// re-read locally only, unless marked stale. Calls past the lineage's
// terminal page are no-ops.
func (p *Paginator[R, T]) LoadAround(ctx context.Context, query model.PageQuery) error {
	p.mu.Lock()
	if p.anchor.IsZero() {
		p.anchor = query.CursorAnchor
	}
	if !query.CursorAnchor.Equal(p.anchor) {
		p.mu.Unlock()
		return nil
	}
	if p.terminal >= 0 && query.Page > p.terminal {
		p.mu.Unlock()
		return nil
	}
	localOnly := p.seq.Has(query) && !p.stale[query]
	cursor := p.cursors[query.Page]
	anchor := p.anchor
	p.mu.Unlock()

	if localOnly {
		items, err := p.config.Local(ctx, query)
		if err != nil {
			return err
		}
		p.applyTile(anchor, query, items, nil, false)
		return nil
	}

	page, err := netretry.Execute(ctx, p.executor, p.config.Retry, func(ctx context.Context) (model.CursorList[R], error) {
		return p.config.Fetch(ctx, query, cursor)
	})
	if err != nil {
		return err
	}
	if err := p.config.Commit(ctx, query, page.Items); err != nil {
		return err
	}
	items, err := p.config.Local(ctx, query)
	if err != nil {
		return err
	}

	p.applyTile(anchor, query, items, page.NextCursor, true)
	return nil
}

// applyTile installs a tile if the lineage has not moved on since the
// load began. Tile state changes only here, after every fallible step,
// so a cancelled load never leaves a partial tile.
func (p *Paginator[R, T]) applyTile(anchor time.Time, query model.PageQuery, items []T, next *model.Cursor, fetched bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !anchor.Equal(p.anchor) {
		p.logger.Debug("discarding tile from superseded lineage", zap.Int("page", query.Page))
		return
	}
	p.seq.Apply(query, items)
	delete(p.stale, query)
	if fetched {
		if next == nil {
			p.terminal = query.Page
		} else {
			p.cursors[query.Page+1] = *next
		}
	}
}

// Refresh starts a new lineage at anchor, discards every tile, and loads
// page zero.
func (p *Paginator[R, T]) Refresh(ctx context.Context, anchor time.Time) error {
	p.mu.Lock()
	p.anchor = anchor
	p.seq.Reset()
	p.cursors = make(map[int]model.Cursor)
	p.terminal = -1
	p.stale = make(map[model.PageQuery]bool)
	p.mu.Unlock()

	return p.LoadAround(ctx, p.FirstQuery(anchor))
}

// MarkStale forces the next LoadAround for query to refetch remotely.
func (p *Paginator[R, T]) MarkStale(query model.PageQuery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stale[query] = true
}

// SetPending replaces the set of locally originated, unconfirmed items.
// They are spliced into the last tile on read and drop out as soon as a
// confirmed item with the same identity appears in any tile.
func (p *Paginator[R, T]) SetPending(items []T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = items
}

// Items returns the merged sequence: every tile in order, deduplicated
// by identity with the first occurrence winning, and pending items
// sorted into the last tile.
func (p *Paginator[R, T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	tiles := p.seq.Tiles()
	if len(p.pending) > 0 {
		confirmed := make(map[string]struct{})
		for _, t := range tiles {
			for _, item := range t.Items {
				confirmed[p.config.Identity(item)] = struct{}{}
			}
		}
		var splice []T
		for _, item := range p.pending {
			if _, ok := confirmed[p.config.Identity(item)]; !ok {
				splice = append(splice, item)
			}
		}
		if len(splice) > 0 {
			if len(tiles) == 0 {
				tiles = []Tile[model.PageQuery, T]{{}}
			}
			last := &tiles[len(tiles)-1]
			merged := make([]T, 0, len(last.Items)+len(splice))
			merged = append(merged, last.Items...)
			merged = append(merged, splice...)
			sort.SliceStable(merged, func(i, j int) bool {
				return p.config.Compare(merged[i], merged[j])
			})
			last.Items = merged
		}
	}

	seen := make(map[string]struct{})
	var out []T
	for _, t := range tiles {
		for _, item := range t.Items {
			key := p.config.Identity(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// Recompute re-reads every loaded tile from the local source and swaps
// the results in atomically. Tiles are read concurrently; if any read
// fails or the lineage changes mid-read, the sequence is left untouched.
func (p *Paginator[R, T]) Recompute(ctx context.Context) error {
	p.mu.Lock()
	anchor := p.anchor
	boundaries := p.seq.Boundaries()
	p.mu.Unlock()

	if len(boundaries) == 0 {
		return nil
	}

	results := make([][]T, len(boundaries))
	g, ctx := errgroup.WithContext(ctx)
	for i, query := range boundaries {
		i, query := i, query
		g.Go(func() error {
			items, err := p.config.Local(ctx, query)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !anchor.Equal(p.anchor) {
		return nil
	}
	for i, query := range boundaries {
		if p.seq.Has(query) {
			p.seq.Apply(query, results[i])
		}
	}
	return nil
}

// Watch recomputes tiles whenever signal fires and emits the merged
// sequence after each recompute, starting with the current state. The
// returned channel closes when ctx is done or signal closes.
func (p *Paginator[R, T]) Watch(ctx context.Context, signal <-chan struct{}) <-chan []T {
	out := make(chan []T, 1)
	go func() {
		defer close(out)

		emit := func() {
			items := p.Items()
			select {
			case out <- items:
			case <-ctx.Done():
			}
		}
		emit()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				if err := p.Recompute(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					p.logger.Warn("tile recompute failed", zap.Error(err))
					continue
				}
				emit()
			}
		}
	}()
	return out
}
