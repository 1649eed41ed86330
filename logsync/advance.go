package logsync

import (
	"github.com/driftline/driftline/model"
)

// MessageUpsert is one live message carried by a log batch.
type MessageUpsert struct {
	ConvoID model.ConversationID
	View    *model.MessageView
}

// MessageTombstone is one deletion carried by a log batch.
type MessageTombstone struct {
	ConvoID model.ConversationID
	View    *model.DeletedMessageView
}

// Step is the outcome of folding one log batch against the current
// cursor. Progressed is false when the batch moves nothing forward, in
// which case the other fields are meaningless and no commit happens.
type Step struct {
	Cursor     model.Cursor
	Progressed bool
	Deleted    []MessageTombstone
	Upserted   []MessageUpsert
	Touched    []model.ConversationID
}

// advance computes the cursor transition for a fetched batch. It is a
// pure function of its inputs: no I/O, no clock.
//
// The candidate cursor is the fold of every entry's revision over the
// current cursor. Entries of unknown kind carry no revision and cannot
// move it. A candidate at or behind the current cursor means the batch
// is empty, replayed, or out of order, and the whole step is a no-op.
func advance(latest model.Cursor, entries []model.LogEntry) Step {
	step := Step{Cursor: latest}
	touched := make(map[model.ConversationID]struct{})

	for _, entry := range entries {
		rev := entry.LogRev()
		if rev == "" {
			continue
		}
		step.Cursor = step.Cursor.Max(model.Cursor(rev))

		switch e := entry.(type) {
		case model.LogCreateMessage:
			collectPayload(&step, e.ConvoID, e.Payload)
			touched[e.ConvoID] = struct{}{}
		case model.LogDeleteMessage:
			collectPayload(&step, e.ConvoID, e.Payload)
			touched[e.ConvoID] = struct{}{}
		case model.LogAddReaction:
			collectPayload(&step, e.ConvoID, e.Payload)
			touched[e.ConvoID] = struct{}{}
		case model.LogRemoveReaction:
			collectPayload(&step, e.ConvoID, e.Payload)
			touched[e.ConvoID] = struct{}{}
		case model.LogBeginConvo:
			touched[e.ConvoID] = struct{}{}
		case model.LogAcceptConvo:
			touched[e.ConvoID] = struct{}{}
		case model.LogLeaveConvo:
			touched[e.ConvoID] = struct{}{}
		case model.LogMuteConvo:
			touched[e.ConvoID] = struct{}{}
		case model.LogUnmuteConvo:
			touched[e.ConvoID] = struct{}{}
		case model.LogReadMessage:
			touched[e.ConvoID] = struct{}{}
		}
	}

	if step.Cursor <= latest {
		return Step{Cursor: latest}
	}

	step.Progressed = true
	for id := range touched {
		step.Touched = append(step.Touched, id)
	}
	return step
}

// collectPayload buckets a message-bearing entry's payload. A payload
// with neither arm set was unknown on the wire and is skipped; its
// revision still counted toward the cursor.
func collectPayload(step *Step, convoID model.ConversationID, payload model.LogMessagePayload) {
	if payload.Deleted != nil {
		step.Deleted = append(step.Deleted, MessageTombstone{ConvoID: convoID, View: payload.Deleted})
	}
	if payload.Message != nil {
		step.Upserted = append(step.Upserted, MessageUpsert{ConvoID: convoID, View: payload.Message})
	}
}
