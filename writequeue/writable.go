// Package writequeue accepts optimistic remote writes, deduplicates
// them, and dispatches them asynchronously with per-subject ordering.
package writequeue

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/driftline/driftline/model"
)

// Status is the outcome of an Enqueue call.
type Status int

const (
	// Enqueued means the write was accepted and will be dispatched.
	Enqueued Status = iota
	// Duplicate means an identical write is already pending; nothing was
	// added.
	Duplicate
	// Dropped means the queue refused the write, either because it is
	// closed or at capacity.
	Dropped
)

func (s Status) String() string {
	switch s {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Writable is one pending remote write. The set of implementations is
// closed; the dispatcher switches over them exhaustively.
//
// QueueID identifies the write's semantic content: two writables with
// equal QueueIDs would produce the same remote effect, so only one may
// be pending at a time. Subject is the domain object the write touches;
// writes sharing a subject dispatch in enqueue order.
type Writable interface {
	QueueID() string
	Subject() string
	isWritable()
}

// SendMessage sends a chat message. TempID keys the optimistic local row
// shown until the service confirms the message; it is assigned at
// construction and deliberately excluded from QueueID so a resend of the
// same text while one is pending deduplicates.
type SendMessage struct {
	ConvoID model.ConversationID
	Text    string
	TempID  model.MessageID
}

// NewSendMessage creates a send with a fresh temporary message ID.
func NewSendMessage(convoID model.ConversationID, text string) SendMessage {
	return SendMessage{
		ConvoID: convoID,
		Text:    text,
		TempID:  model.MessageID("pending-" + uuid.NewString()),
	}
}

func (w SendMessage) QueueID() string {
	return hashParts("sendMessage", string(w.ConvoID), w.Text)
}

func (w SendMessage) Subject() string { return "convo/" + string(w.ConvoID) }
func (w SendMessage) isWritable()     {}

// UpdateReaction adds or removes an emoji reaction on a message.
type UpdateReaction struct {
	ConvoID   model.ConversationID
	MessageID model.MessageID
	Value     string
	Remove    bool
}

func (w UpdateReaction) QueueID() string {
	op := "addReaction"
	if w.Remove {
		op = "removeReaction"
	}
	return hashParts(op, string(w.ConvoID), string(w.MessageID), w.Value)
}

func (w UpdateReaction) Subject() string { return "message/" + string(w.MessageID) }
func (w UpdateReaction) isWritable()     {}

// CreateRecord creates an interaction record, such as a like, repost, or
// follow, against a subject entity.
type CreateRecord struct {
	Collection string
	SubjectID  string
	SubjectURI string
}

func (w CreateRecord) QueueID() string {
	return hashParts("createRecord", w.Collection, w.SubjectID, w.SubjectURI)
}

func (w CreateRecord) Subject() string { return "record/" + w.Collection + "/" + w.SubjectID }
func (w CreateRecord) isWritable()     {}

// DeleteRecord deletes a previously created interaction record.
type DeleteRecord struct {
	Collection string
	SubjectID  string
	Key        string
}

func (w DeleteRecord) QueueID() string {
	return hashParts("deleteRecord", w.Collection, w.Key)
}

func (w DeleteRecord) Subject() string { return "record/" + w.Collection + "/" + w.SubjectID }
func (w DeleteRecord) isWritable()     {}

// hashParts derives a stable queue identity from the write's semantic
// fields. Parts are length-prefixed so adjacent fields cannot collide.
func hashParts(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		var length [8]byte
		n := len(part)
		for i := 0; i < 8; i++ {
			length[i] = byte(n >> (8 * i))
		}
		h.Write(length[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
