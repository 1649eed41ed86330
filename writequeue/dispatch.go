package writequeue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/driftline/model"
	"github.com/driftline/driftline/netretry"
	"github.com/driftline/driftline/remote"
	"github.com/driftline/driftline/store"
)

// RemoteDispatcher performs queued writes against the remote service,
// retrying transient faults, and mirrors confirmed results into the
// local store. Sends insert an optimistic pending row first so the
// message is visible before the service confirms it.
type RemoteDispatcher struct {
	client   remote.Client
	saver    *store.Saver
	executor *netretry.Executor
	policy   netretry.Policy
	session  model.Session
	logger   *zap.Logger
	now      func() time.Time
}

// NewRemoteDispatcher creates a dispatcher for session's writes.
func NewRemoteDispatcher(client remote.Client, saver *store.Saver, executor *netretry.Executor, session model.Session, logger *zap.Logger) *RemoteDispatcher {
	return &RemoteDispatcher{
		client:   client,
		saver:    saver,
		executor: executor,
		policy:   netretry.DefaultPolicy(),
		session:  session,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch implements Dispatcher.
func (d *RemoteDispatcher) Dispatch(ctx context.Context, w Writable) error {
	switch write := w.(type) {
	case SendMessage:
		return d.sendMessage(ctx, write)
	case UpdateReaction:
		return d.updateReaction(ctx, write)
	case CreateRecord:
		return d.createRecord(ctx, write)
	case DeleteRecord:
		return d.deleteRecord(ctx, write)
	default:
		return fmt.Errorf("writequeue: unhandled writable %T", w)
	}
}

func (d *RemoteDispatcher) sendMessage(ctx context.Context, w SendMessage) error {
	optimistic := model.Message{
		ID:             w.TempID,
		ConversationID: w.ConvoID,
		SenderID:       d.session.ProfileID,
		Text:           w.Text,
		Pending:        true,
		SentAt:         d.now(),
	}
	err := d.saver.InTransaction(ctx, d.session, func(b *store.Batch) error {
		b.AddMessageRow(optimistic)
		return nil
	})
	if err != nil {
		return err
	}

	view, err := netretry.Execute(ctx, d.executor, d.policy, func(ctx context.Context) (*model.MessageView, error) {
		return d.client.SendMessage(ctx, w.ConvoID, remote.MessageInput{Text: w.Text})
	})
	if err != nil {
		d.discardPending(w.TempID)
		return err
	}

	return d.saver.InTransaction(ctx, d.session, func(b *store.Batch) error {
		b.DeleteMessage(w.TempID)
		b.AddMessage(w.ConvoID, *view)
		return nil
	})
}

// discardPending removes an optimistic row after its send failed. Runs
// on a fresh context so a cancelled dispatch still cleans up.
func (d *RemoteDispatcher) discardPending(id model.MessageID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.saver.InTransaction(ctx, d.session, func(b *store.Batch) error {
		b.DeleteMessage(id)
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to discard pending message", zap.String("id", string(id)), zap.Error(err))
	}
}

func (d *RemoteDispatcher) updateReaction(ctx context.Context, w UpdateReaction) error {
	view, err := netretry.Execute(ctx, d.executor, d.policy, func(ctx context.Context) (*model.MessageView, error) {
		if w.Remove {
			return d.client.RemoveReaction(ctx, w.ConvoID, w.MessageID, w.Value)
		}
		return d.client.AddReaction(ctx, w.ConvoID, w.MessageID, w.Value)
	})
	if err != nil {
		return err
	}

	return d.saver.InTransaction(ctx, d.session, func(b *store.Batch) error {
		b.AddMessage(w.ConvoID, *view)
		return nil
	})
}

func (d *RemoteDispatcher) createRecord(ctx context.Context, w CreateRecord) error {
	ref, err := netretry.Execute(ctx, d.executor, d.policy, func(ctx context.Context) (*remote.RecordRef, error) {
		return d.client.CreateRecord(ctx, remote.CreateRecordRequest{
			Collection: w.Collection,
			SubjectID:  w.SubjectID,
			SubjectURI: w.SubjectURI,
		})
	})
	if err != nil {
		return err
	}
	d.logger.Debug("record created",
		zap.String("collection", w.Collection),
		zap.String("uri", ref.URI))
	return nil
}

func (d *RemoteDispatcher) deleteRecord(ctx context.Context, w DeleteRecord) error {
	_, err := netretry.Execute(ctx, d.executor, d.policy, func(ctx context.Context) (struct{}, error) {
		err := d.client.DeleteRecord(ctx, remote.DeleteRecordRequest{
			Collection: w.Collection,
			Key:        w.Key,
		})
		return struct{}{}, err
	})
	return err
}
