package writequeue

import (
	"context"
	"errors"
	"path/filepath"
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

// fakeClient stubs the remote service with per-method hooks.
type fakeClient struct {
	sendMessage    func(ctx context.Context, convoID model.ConversationID, input remote.MessageInput) (*model.MessageView, error)
	addReaction    func(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error)
	removeReaction func(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error)
	createRecord   func(ctx context.Context, req remote.CreateRecordRequest) (*remote.RecordRef, error)
	deleteRecord   func(ctx context.Context, req remote.DeleteRecordRequest) error
}

func (c *fakeClient) ListConversations(ctx context.Context, req remote.PageRequest) (model.CursorList[model.ConvoView], error) {
	return model.CursorList[model.ConvoView]{}, nil
}

func (c *fakeClient) GetMessages(ctx context.Context, convoID model.ConversationID, req remote.PageRequest) (model.CursorList[model.MessagePageItem], error) {
	return model.CursorList[model.MessagePageItem]{}, nil
}

func (c *fakeClient) GetLog(ctx context.Context, cursor model.Cursor) (remote.LogPage, error) {
	return remote.LogPage{Cursor: cursor}, nil
}

func (c *fakeClient) SendMessage(ctx context.Context, convoID model.ConversationID, input remote.MessageInput) (*model.MessageView, error) {
	return c.sendMessage(ctx, convoID, input)
}

func (c *fakeClient) AddReaction(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error) {
	return c.addReaction(ctx, convoID, messageID, value)
}

func (c *fakeClient) RemoveReaction(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error) {
	return c.removeReaction(ctx, convoID, messageID, value)
}

func (c *fakeClient) CreateRecord(ctx context.Context, req remote.CreateRecordRequest) (*remote.RecordRef, error) {
	return c.createRecord(ctx, req)
}

func (c *fakeClient) DeleteRecord(ctx context.Context, req remote.DeleteRecordRequest) error {
	return c.deleteRecord(ctx, req)
}

func newDispatchFixture(t *testing.T, client remote.Client) (*store.DB, *RemoteDispatcher) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	saver := store.NewSaver(db, zap.NewNop())
	me := model.ProfileView{ID: testSession.ProfileID, Handle: testSession.Handle, IndexedAt: time.Now()}
	err = saver.InTransaction(context.Background(), testSession, func(b *store.Batch) error {
		b.AddConversation(model.ConvoView{ID: "c1", Rev: "rev-1", Members: []model.ProfileView{me}})
		return nil
	})
	if err != nil {
		t.Fatalf("seed convo: %v", err)
	}

	executor := netretry.NewExecutor(connectivity.NewSwitch(true), zap.NewNop())
	return db, NewRemoteDispatcher(client, saver, executor, testSession, zap.NewNop())
}

func TestDispatchSendMessageConfirmsOptimisticRow(t *testing.T) {
	ctx := context.Background()

	var observedPending bool
	var db *store.DB
	client := &fakeClient{
		sendMessage: func(ctx context.Context, convoID model.ConversationID, input remote.MessageInput) (*model.MessageView, error) {
			// The optimistic row must be visible while the request is in
			// flight.
			pending, err := db.PendingMessages(ctx, convoID)
			if err == nil && len(pending) == 1 && pending[0].Text == input.Text {
				observedPending = true
			}
			return &model.MessageView{
				ID:     "m-confirmed",
				Rev:    "rev-2",
				Sender: model.ProfileView{ID: testSession.ProfileID, Handle: testSession.Handle, IndexedAt: time.Now()},
				Text:   input.Text,
				SentAt: time.Now(),
			}, nil
		},
	}
	var dispatcher *RemoteDispatcher
	db, dispatcher = newDispatchFixture(t, client)

	w := NewSendMessage("c1", "hello")
	if err := dispatcher.Dispatch(ctx, w); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !observedPending {
		t.Error("optimistic row was not visible during dispatch")
	}

	pending, err := db.PendingMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("PendingMessages: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending rows = %d, want 0 after confirm", len(pending))
	}

	confirmed, err := db.GetMessage(ctx, "m-confirmed")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if confirmed.Text != "hello" || confirmed.Pending {
		t.Errorf("confirmed row = %+v", confirmed)
	}
	if _, err := db.GetMessage(ctx, w.TempID); err != store.ErrNotFound {
		t.Errorf("temp row lookup = %v, want ErrNotFound", err)
	}
}

func TestDispatchSendMessageFailureDiscardsOptimisticRow(t *testing.T) {
	ctx := context.Background()

	rejected := errors.New("text too long")
	client := &fakeClient{
		sendMessage: func(ctx context.Context, convoID model.ConversationID, input remote.MessageInput) (*model.MessageView, error) {
			return nil, rejected
		},
	}
	db, dispatcher := newDispatchFixture(t, client)

	w := NewSendMessage("c1", "way too long")
	err := dispatcher.Dispatch(ctx, w)
	if !errors.Is(err, rejected) {
		t.Fatalf("err = %v, want %v", err, rejected)
	}

	pending, err := db.PendingMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("PendingMessages: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending rows = %d, want 0 after failed send", len(pending))
	}
}

func TestDispatchReactionSavesConfirmedView(t *testing.T) {
	ctx := context.Background()

	client := &fakeClient{
		addReaction: func(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error) {
			return &model.MessageView{
				ID:     messageID,
				Rev:    "rev-3",
				Sender: model.ProfileView{ID: "did:other", Handle: "other.example", IndexedAt: time.Now()},
				Text:   "nice post",
				Reactions: []model.ReactionView{{
					Value:     value,
					Sender:    model.ProfileView{ID: testSession.ProfileID, Handle: testSession.Handle, IndexedAt: time.Now()},
					CreatedAt: time.Now(),
				}},
				SentAt: time.Now(),
			}, nil
		},
	}
	db, dispatcher := newDispatchFixture(t, client)

	err := dispatcher.Dispatch(ctx, UpdateReaction{ConvoID: "c1", MessageID: "m1", Value: "👍"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	msg, err := db.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(msg.Reactions) != 1 || msg.Reactions[0].Value != "👍" {
		t.Errorf("reactions = %+v", msg.Reactions)
	}
}

func TestDispatchCreateRecord(t *testing.T) {
	ctx := context.Background()

	var gotReq remote.CreateRecordRequest
	client := &fakeClient{
		createRecord: func(ctx context.Context, req remote.CreateRecordRequest) (*remote.RecordRef, error) {
			gotReq = req
			return &remote.RecordRef{URI: "at://like/1", Key: "k1"}, nil
		},
	}
	_, dispatcher := newDispatchFixture(t, client)

	err := dispatcher.Dispatch(ctx, CreateRecord{Collection: "app.feed.like", SubjectID: "p1", SubjectURI: "at://p1"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if gotReq.Collection != "app.feed.like" || gotReq.SubjectID != "p1" {
		t.Errorf("request = %+v", gotReq)
	}
}
