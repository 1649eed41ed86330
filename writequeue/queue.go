package writequeue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// defaultCapacity bounds the total pending set. Past it, Enqueue drops.
const defaultCapacity = 256

// Dispatcher performs one write against the remote service and reflects
// the confirmed state locally. A nil error settles the write as
// succeeded; any error settles it as failed. The dispatcher is expected
// to have already retried transient faults internally.
type Dispatcher interface {
	Dispatch(ctx context.Context, w Writable) error
}

// EventKind distinguishes queue change notifications.
type EventKind int

const (
	// Accepted means the write entered the pending set.
	Accepted EventKind = iota
	// Settled means dispatch finished and the write left the pending
	// set. Err is nil on success; a terminal failure carries the
	// dispatch error so callers can surface it.
	Settled
	// Rejected means the write never entered the pending set because the
	// queue was full.
	Rejected
)

// Event reports one queue change.
type Event struct {
	Writable Writable
	Kind     EventKind
	Err      error
}

// Queue is the pending-write set. Writes for the same subject dispatch
// strictly in enqueue order; writes for different subjects dispatch
// concurrently.
type Queue struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	capacity   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	pending  map[string]Writable   // by queue ID
	subjects map[string][]Writable // per-subject FIFO, head is in flight

	eventMu sync.Mutex
	eventCh []chan Event
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity overrides the pending-set bound.
func WithCapacity(n int) Option {
	return func(q *Queue) { q.capacity = n }
}

// New creates a queue dispatching through d.
func New(d Dispatcher, logger *zap.Logger, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		dispatcher: d,
		logger:     logger,
		capacity:   defaultCapacity,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]Writable),
		subjects:   make(map[string][]Writable),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts w for asynchronous dispatch. A write whose QueueID is
// already pending returns Duplicate without re-enqueueing. A closed or
// full queue returns Dropped.
func (q *Queue) Enqueue(w Writable) Status {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return Dropped
	}
	id := w.QueueID()
	if _, exists := q.pending[id]; exists {
		q.mu.Unlock()
		return Duplicate
	}
	if len(q.pending) >= q.capacity {
		q.mu.Unlock()
		q.logger.Warn("write queue at capacity, dropping", zap.String("subject", w.Subject()))
		q.emit(Event{Writable: w, Kind: Rejected})
		return Dropped
	}

	q.pending[id] = w
	subject := w.Subject()
	q.subjects[subject] = append(q.subjects[subject], w)
	startWorker := len(q.subjects[subject]) == 1
	if startWorker {
		q.wg.Add(1)
	}
	// Emit under the lock: the subject worker takes it before popping the
	// write, so its Settled can never outrun this Accepted.
	q.emit(Event{Writable: w, Kind: Accepted})
	q.mu.Unlock()

	if startWorker {
		go q.runSubject(subject)
	}
	return Enqueued
}

// runSubject drains one subject's FIFO. The goroutine exits when the
// subject has no more queued writes.
func (q *Queue) runSubject(subject string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		fifo := q.subjects[subject]
		if len(fifo) == 0 {
			delete(q.subjects, subject)
			q.mu.Unlock()
			return
		}
		w := fifo[0]
		q.mu.Unlock()

		err := q.dispatcher.Dispatch(q.ctx, w)
		if err != nil {
			q.logger.Warn("write dispatch failed",
				zap.String("subject", subject),
				zap.Error(err))
		}

		q.mu.Lock()
		delete(q.pending, w.QueueID())
		q.subjects[subject] = q.subjects[subject][1:]
		if len(q.subjects[subject]) == 0 {
			delete(q.subjects, subject)
		}
		remaining := len(q.subjects[subject]) > 0
		q.mu.Unlock()

		q.emit(Event{Writable: w, Kind: Settled, Err: err})

		if !remaining {
			return
		}
	}
}

// Pending returns a snapshot of the writes not yet settled.
func (q *Queue) Pending() []Writable {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Writable, 0, len(q.pending))
	for _, w := range q.pending {
		out = append(out, w)
	}
	return out
}

// Events returns a channel of queue changes: accepts, drops, and
// settlements. The channel is buffered; a consumer that stops reading
// loses events rather than stalling dispatch. It closes on Close.
func (q *Queue) Events() <-chan Event {
	ch := make(chan Event, 64)
	q.eventMu.Lock()
	q.eventCh = append(q.eventCh, ch)
	q.eventMu.Unlock()
	return ch
}

func (q *Queue) emit(ev Event) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()
	for _, ch := range q.eventCh {
		select {
		case ch <- ev:
		default:
			q.logger.Debug("dropping queue event for slow consumer")
		}
	}
}

// Close stops accepting writes, cancels in-flight dispatches, and waits
// for subject workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.eventMu.Lock()
	for _, ch := range q.eventCh {
		close(ch)
	}
	q.eventCh = nil
	q.eventMu.Unlock()
}
