package logsync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/driftline/connectivity"
	"github.com/driftline/driftline/model"
	"github.com/driftline/driftline/netretry"
	"github.com/driftline/driftline/remote"
	"github.com/driftline/driftline/store"
)

var testSession = model.Session{ProfileID: "did:me", Handle: "me.example"}

// fakeLogSource replays a scripted sequence of responses and records the
// cursor of every request.
type fakeLogSource struct {
	mu      sync.Mutex
	pages   []func() (remote.LogPage, error)
	cursors []model.Cursor
}

func (f *fakeLogSource) GetLog(ctx context.Context, cursor model.Cursor) (remote.LogPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if len(f.pages) == 0 {
		return remote.LogPage{Cursor: cursor}, nil
	}
	next := f.pages[0]
	f.pages = f.pages[1:]
	return next()
}

func (f *fakeLogSource) push(page remote.LogPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, func() (remote.LogPage, error) { return page, nil })
}

func (f *fakeLogSource) pushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, func() (remote.LogPage, error) { return remote.LogPage{}, err })
}

func (f *fakeLogSource) requested() []model.Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Cursor(nil), f.cursors...)
}

func newTestStore(t *testing.T) (*store.DB, *store.Saver) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "logsync.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	return db, store.NewSaver(db, zap.NewNop())
}

func seedConvos(t *testing.T, saver *store.Saver, ids ...model.ConversationID) {
	t.Helper()
	member := model.ProfileView{ID: "did:sender", Handle: "sender.example", IndexedAt: time.Now()}
	err := saver.InTransaction(context.Background(), testSession, func(b *store.Batch) error {
		for i, id := range ids {
			b.AddConversation(model.ConvoView{
				ID:      id,
				Rev:     "rev-" + string(rune('0'+i)),
				Members: []model.ProfileView{member},
			})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed convos: %v", err)
	}
}

func newTestSynchronizer(source remote.LogSource, saver *store.Saver, config Config) *Synchronizer {
	executor := netretry.NewExecutor(connectivity.NewSwitch(true), zap.NewNop())
	return New(source, saver, executor, testSession, config, zap.NewNop())
}

func TestPollBootstrapAdoptsCursorWithoutProcessing(t *testing.T) {
	db, saver := newTestStore(t)
	source := &fakeLogSource{}
	source.push(remote.LogPage{
		Entries: []model.LogEntry{
			model.LogCreateMessage{ConvoID: "c1", Rev: "rev-9",
				Payload: model.LogMessagePayload{Message: liveMessage("m-ignored", "rev-9", "history")}},
		},
		Cursor: "rev-10",
	})

	s := newTestSynchronizer(source, saver, Config{})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("bootstrap poll: %v", err)
	}

	if got := s.LatestCursor(); got != "rev-10" {
		t.Errorf("cursor = %q, want server cursor rev-10", got)
	}
	count, err := db.CountRows(context.Background(), store.TableMessages)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 0 {
		t.Errorf("bootstrap committed %d messages, want 0", count)
	}
}

func TestPollResumesFromInitialCursor(t *testing.T) {
	_, saver := newTestStore(t)
	source := &fakeLogSource{}
	source.push(remote.LogPage{Cursor: "rev-20"})

	s := newTestSynchronizer(source, saver, Config{InitialCursor: "rev-20"})
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	requested := source.requested()
	if len(requested) != 1 || requested[0] != "rev-20" {
		t.Errorf("requested cursors = %v, want [rev-20]", requested)
	}
	if got := s.LatestCursor(); got != "rev-20" {
		t.Errorf("cursor = %q, want rev-20", got)
	}
}

func TestPollCommitsMessageForUnseenConversation(t *testing.T) {
	db, saver := newTestStore(t)
	ctx := context.Background()

	// No conversations are seeded: the log is the first place this
	// conversation is ever mentioned, as happens when one starts
	// mid-session.
	source := &fakeLogSource{}
	source.push(remote.LogPage{
		Entries: []model.LogEntry{
			model.LogCreateMessage{ConvoID: "c-unseen", Rev: "rev-11",
				Payload: model.LogMessagePayload{Message: liveMessage("m1", "rev-11", "first contact")}},
		},
		Cursor: "rev-11",
	})

	s := newTestSynchronizer(source, saver, Config{InitialCursor: "rev-10"})
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := s.LatestCursor(); got != "rev-11" {
		t.Errorf("cursor = %q, want rev-11", got)
	}
	if _, err := db.GetMessage(ctx, "m1"); err != nil {
		t.Fatalf("GetMessage m1: %v", err)
	}
	convo, err := db.GetConversation(ctx, "c-unseen")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if convo.Rev != "" {
		t.Errorf("placeholder rev = %q, want empty until paginated", convo.Rev)
	}

	// The next poll proceeds from the advanced cursor; the synchronizer
	// is not stuck refetching the same batch.
	source.push(remote.LogPage{
		Entries: []model.LogEntry{
			model.LogCreateMessage{ConvoID: "c-unseen", Rev: "rev-12",
				Payload: model.LogMessagePayload{Message: liveMessage("m2", "rev-12", "second")}},
		},
		Cursor: "rev-12",
	})
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if got := s.LatestCursor(); got != "rev-12" {
		t.Errorf("cursor = %q, want rev-12", got)
	}
	want := []model.Cursor{"rev-10", "rev-11"}
	got := source.requested()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("requested cursors = %v, want %v", got, want)
	}
}

func TestSynchronizerEndToEnd(t *testing.T) {
	db, saver := newTestStore(t)
	ctx := context.Background()
	seedConvos(t, saver, "c1", "c2")

	source := &fakeLogSource{}
	s := newTestSynchronizer(source, saver, Config{})

	var touched []model.ConversationID
	s.onConvo = func(id model.ConversationID) { touched = append(touched, id) }

	// Bootstrap.
	source.push(remote.LogPage{Cursor: "rev-10"})
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// Messages land in two conversations, one gaining a reaction.
	withReaction := liveMessage("m1", "rev-13", "hello c1")
	withReaction.Reactions = []model.ReactionView{{
		Value:     "👍",
		Sender:    model.ProfileView{ID: "did:other", Handle: "other.example", IndexedAt: time.Now()},
		CreatedAt: time.Now(),
	}}
	source.push(remote.LogPage{
		Entries: []model.LogEntry{
			model.LogCreateMessage{ConvoID: "c1", Rev: "rev-11",
				Payload: model.LogMessagePayload{Message: liveMessage("m1", "rev-11", "hello c1")}},
			model.LogCreateMessage{ConvoID: "c2", Rev: "rev-12",
				Payload: model.LogMessagePayload{Message: liveMessage("m2", "rev-12", "hello c2")}},
			model.LogAddReaction{ConvoID: "c1", Rev: "rev-13",
				Payload: model.LogMessagePayload{Message: withReaction}},
		},
		Cursor: "rev-13",
	})
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("poll with entries: %v", err)
	}
	if got := s.LatestCursor(); got != "rev-13" {
		t.Fatalf("cursor = %q, want rev-13", got)
	}
	if len(touched) != 2 {
		t.Errorf("touched convos = %v, want both", touched)
	}

	m1, err := db.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage m1: %v", err)
	}
	if len(m1.Reactions) != 1 || m1.Reactions[0].Value != "👍" {
		t.Errorf("m1 reactions = %+v, want the later entry's reaction", m1.Reactions)
	}
	if _, err := db.GetMessage(ctx, "m2"); err != nil {
		t.Fatalf("GetMessage m2: %v", err)
	}

	// A fetch fault leaves the cursor where it was.
	source.pushErr(errors.New("service unavailable"))
	if err := s.Poll(ctx); err == nil {
		t.Fatal("expected poll failure")
	}
	if got := s.LatestCursor(); got != "rev-13" {
		t.Errorf("cursor moved on failure: %q", got)
	}

	// A replayed batch is a no-op even when its payload differs.
	source.push(remote.LogPage{
		Entries: []model.LogEntry{
			model.LogCreateMessage{ConvoID: "c1", Rev: "rev-11",
				Payload: model.LogMessagePayload{Message: liveMessage("m1", "rev-11", "REWRITTEN")}},
		},
		Cursor: "rev-13",
	})
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("replay poll: %v", err)
	}
	m1, err = db.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage m1 after replay: %v", err)
	}
	if m1.Text != "hello c1" {
		t.Errorf("replay mutated m1 text to %q", m1.Text)
	}

	// A deletion tombstones the row and advances the cursor.
	source.push(remote.LogPage{
		Entries: []model.LogEntry{
			model.LogDeleteMessage{ConvoID: "c1", Rev: "rev-14",
				Payload: model.LogMessagePayload{Deleted: &model.DeletedMessageView{
					ID: "m1", Rev: "rev-14",
					Sender: model.ProfileView{ID: "did:sender", Handle: "sender.example", IndexedAt: time.Now()},
					SentAt: time.Now(),
				}}},
		},
		Cursor: "rev-14",
	})
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("deletion poll: %v", err)
	}
	if got := s.LatestCursor(); got != "rev-14" {
		t.Errorf("cursor = %q, want rev-14", got)
	}
	m1, err = db.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage m1 after delete: %v", err)
	}
	if !m1.Deleted || m1.Text != "" {
		t.Errorf("m1 not tombstoned: deleted=%v text=%q", m1.Deleted, m1.Text)
	}

	want := []model.Cursor{"", "rev-10", "rev-13", "rev-13", "rev-13"}
	got := source.requested()
	if len(got) != len(want) {
		t.Fatalf("requested cursors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request[%d] cursor = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	_, saver := newTestStore(t)
	source := &fakeLogSource{}
	source.push(remote.LogPage{Cursor: "rev-1"})

	s := newTestSynchronizer(source, saver, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
