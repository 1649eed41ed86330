package tile

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftline/driftline/model"
	"github.com/driftline/driftline/netretry"
	"github.com/driftline/driftline/remote"
	"github.com/driftline/driftline/store"
)

// NewConversationPaginator pages the viewer's conversation list. Fetched
// pages are committed through the saver before the tile reads the rows
// back, so the list the caller sees is always the stored one.
func NewConversationPaginator(client remote.ConversationLister, db *store.DB, saver *store.Saver, executor *netretry.Executor, session model.Session, pageSize int, logger *zap.Logger) *Paginator[model.ConvoView, model.Conversation] {
	return NewPaginator(Config[model.ConvoView, model.Conversation]{
		Fetch: func(ctx context.Context, query model.PageQuery, cursor model.Cursor) (model.CursorList[model.ConvoView], error) {
			return client.ListConversations(ctx, remote.PageRequest{Cursor: cursor, Limit: query.Limit})
		},
		Commit: func(ctx context.Context, query model.PageQuery, items []model.ConvoView) error {
			return saver.InTransaction(ctx, session, func(b *store.Batch) error {
				for _, convo := range items {
					b.AddConversation(convo)
				}
				return nil
			})
		},
		Local: func(ctx context.Context, query model.PageQuery) ([]model.Conversation, error) {
			convos, err := db.Conversations(ctx)
			if err != nil {
				return nil, err
			}
			return slicePage(convos, query), nil
		},
		Identity: func(c model.Conversation) string { return string(c.ID) },
		Compare:  func(a, b model.Conversation) bool { return a.Rev > b.Rev },
		PageSize: pageSize,
	}, executor, logger)
}

// NewMessagePaginator pages one conversation's messages, newest first.
// Pending sends from the write queue can be spliced in via SetPending.
func NewMessagePaginator(client remote.MessagePager, db *store.DB, saver *store.Saver, executor *netretry.Executor, session model.Session, convoID model.ConversationID, pageSize int, logger *zap.Logger) *Paginator[model.MessagePageItem, model.Message] {
	return NewPaginator(Config[model.MessagePageItem, model.Message]{
		Fetch: func(ctx context.Context, query model.PageQuery, cursor model.Cursor) (model.CursorList[model.MessagePageItem], error) {
			return client.GetMessages(ctx, convoID, remote.PageRequest{Cursor: cursor, Limit: query.Limit})
		},
		Commit: func(ctx context.Context, query model.PageQuery, items []model.MessagePageItem) error {
			return saver.InTransaction(ctx, session, func(b *store.Batch) error {
				for _, item := range items {
					switch view := item.(type) {
					case *model.MessageView:
						b.AddMessage(convoID, *view)
					case *model.DeletedMessageView:
						b.AddDeletedMessage(convoID, *view)
					}
				}
				return nil
			})
		},
		// Local windows are bounded by the lineage anchor so rows arriving
		// mid-lineage cannot shift page offsets; page zero additionally
		// carries the rows newer than the anchor.
		Local: func(ctx context.Context, query model.PageQuery) ([]model.Message, error) {
			window, err := db.MessagesBefore(ctx, convoID, query.CursorAnchor, query.Limit, query.Offset())
			if err != nil {
				return nil, err
			}
			if query.Page != 0 {
				return window, nil
			}
			head, err := db.MessagesAfter(ctx, convoID, query.CursorAnchor)
			if err != nil {
				return nil, err
			}
			return append(head, window...), nil
		},
		Identity: func(m model.Message) string { return string(m.ID) },
		Compare:  func(a, b model.Message) bool { return a.SentAt.After(b.SentAt) },
		PageSize: pageSize,
	}, executor, logger)
}

func slicePage[T any](all []T, query model.PageQuery) []T {
	start := query.Offset()
	if start >= len(all) {
		return nil
	}
	end := start + query.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
