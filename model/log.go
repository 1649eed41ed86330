package model

// LogEntry is the closed union of incremental change log kinds. Every
// entry carries the revision marker of the log stream; Rev is a total
// order within one stream and the synchronizer's cursor never moves
// backward past it.
//
// Message-bearing kinds (create, delete, reactions) carry either a live
// message view or a deleted-message tombstone. Conversation-state kinds
// advance the cursor without carrying an entity payload.
type LogEntry interface {
	// LogRev returns the revision marker of this entry.
	LogRev() string
	isLogEntry()
}

// LogMessagePayload is the message union carried by message-bearing log
// kinds. Exactly one of Message or Deleted is non-nil; both nil means the
// payload kind was unknown to this client and is skipped.
type LogMessagePayload struct {
	Message *MessageView
	Deleted *DeletedMessageView
}

// LogCreateMessage records a message created in a conversation.
type LogCreateMessage struct {
	ConvoID ConversationID
	Rev     string
	Payload LogMessagePayload
}

// LogDeleteMessage records a message deleted from a conversation.
type LogDeleteMessage struct {
	ConvoID ConversationID
	Rev     string
	Payload LogMessagePayload
}

// LogAddReaction records a reaction added to a message.
type LogAddReaction struct {
	ConvoID ConversationID
	Rev     string
	Payload LogMessagePayload
}

// LogRemoveReaction records a reaction removed from a message.
type LogRemoveReaction struct {
	ConvoID ConversationID
	Rev     string
	Payload LogMessagePayload
}

// LogBeginConvo records a conversation coming into existence.
type LogBeginConvo struct {
	ConvoID ConversationID
	Rev     string
}

// LogAcceptConvo records the viewer accepting a conversation request.
type LogAcceptConvo struct {
	ConvoID ConversationID
	Rev     string
}

// LogLeaveConvo records the viewer leaving a conversation.
type LogLeaveConvo struct {
	ConvoID ConversationID
	Rev     string
}

// LogMuteConvo records the viewer muting a conversation.
type LogMuteConvo struct {
	ConvoID ConversationID
	Rev     string
}

// LogUnmuteConvo records the viewer unmuting a conversation.
type LogUnmuteConvo struct {
	ConvoID ConversationID
	Rev     string
}

// LogReadMessage records the viewer's read marker advancing.
type LogReadMessage struct {
	ConvoID   ConversationID
	Rev       string
	MessageID MessageID
}

// LogUnknown is a log kind this client does not understand. It never
// advances the cursor.
type LogUnknown struct {
	Kind string
}

func (e LogCreateMessage) LogRev() string  { return e.Rev }
func (e LogDeleteMessage) LogRev() string  { return e.Rev }
func (e LogAddReaction) LogRev() string    { return e.Rev }
func (e LogRemoveReaction) LogRev() string { return e.Rev }
func (e LogBeginConvo) LogRev() string     { return e.Rev }
func (e LogAcceptConvo) LogRev() string    { return e.Rev }
func (e LogLeaveConvo) LogRev() string     { return e.Rev }
func (e LogMuteConvo) LogRev() string      { return e.Rev }
func (e LogUnmuteConvo) LogRev() string    { return e.Rev }
func (e LogReadMessage) LogRev() string    { return e.Rev }
func (e LogUnknown) LogRev() string        { return "" }

func (LogCreateMessage) isLogEntry()  {}
func (LogDeleteMessage) isLogEntry()  {}
func (LogAddReaction) isLogEntry()    {}
func (LogRemoveReaction) isLogEntry() {}
func (LogBeginConvo) isLogEntry()     {}
func (LogAcceptConvo) isLogEntry()    {}
func (LogLeaveConvo) isLogEntry()     {}
func (LogMuteConvo) isLogEntry()      {}
func (LogUnmuteConvo) isLogEntry()    {}
func (LogReadMessage) isLogEntry()    {}
func (LogUnknown) isLogEntry()        {}
