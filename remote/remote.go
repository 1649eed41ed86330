// Package remote is the opaque RPC boundary to the authoritative service:
// cursor-paginated reads, an incremental change log, and record-based
// writes. The wire format is private to this package; everything above it
// works with model views.
package remote

import (
	"context"

	"github.com/driftline/driftline/model"
)

// PageRequest addresses one page of a paginated read.
type PageRequest struct {
	Cursor model.Cursor
	Limit  int
}

// LogPage is one response from the incremental change log. Cursor is
// always present in responses, even when Entries is empty.
type LogPage struct {
	Entries []model.LogEntry
	Cursor  model.Cursor
}

// MessageInput is the body of a message to send.
type MessageInput struct {
	Text string
}

// RecordRef identifies a record the server created, with its
// server-assigned identity.
type RecordRef struct {
	URI string
	Key string
}

// CreateRecordRequest creates one record in a collection (a like, repost,
// or follow).
type CreateRecordRequest struct {
	Collection string
	SubjectID  string
	SubjectURI string
}

// DeleteRecordRequest deletes one previously created record.
type DeleteRecordRequest struct {
	Collection string
	Key        string
}

// Client is the full remote surface the sync engine consumes. Fakes
// implement subsets of it in tests.
type Client interface {
	ConversationLister
	MessagePager
	LogSource
	MessageWriter
	RecordWriter
}

// ConversationLister pages through the viewer's conversations.
type ConversationLister interface {
	ListConversations(ctx context.Context, req PageRequest) (model.CursorList[model.ConvoView], error)
}

// MessagePager pages through one conversation's messages.
type MessagePager interface {
	GetMessages(ctx context.Context, convoID model.ConversationID, req PageRequest) (model.CursorList[model.MessagePageItem], error)
}

// LogSource reads the incremental change log since a cursor.
type LogSource interface {
	GetLog(ctx context.Context, cursor model.Cursor) (LogPage, error)
}

// MessageWriter sends messages and updates reactions.
type MessageWriter interface {
	SendMessage(ctx context.Context, convoID model.ConversationID, input MessageInput) (*model.MessageView, error)
	AddReaction(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error)
	RemoveReaction(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error)
}

// RecordWriter creates and deletes records (likes, reposts, follows).
type RecordWriter interface {
	CreateRecord(ctx context.Context, req CreateRecordRequest) (*RecordRef, error)
	DeleteRecord(ctx context.Context, req DeleteRecordRequest) error
}
