package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/driftline/model"
)

// ErrNotFound is returned by single-row getters when no row matches.
var ErrNotFound = errors.New("store: not found")

// Messages returns one page of a conversation's messages, newest first.
// Pending rows sort with confirmed rows by sent_at, so an optimistic
// message appears where the confirmed one will land.
func (db *DB) Messages(ctx context.Context, convoID model.ConversationID, limit, offset int) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, text, rev, deleted, pending,
			reactions, embedded_post_id, embedded_feed_id, embedded_list_id,
			embedded_starter_pack_id, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		string(convoID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MessagesBefore returns one page of a conversation's messages sent at
// or before anchor, newest first. Rows arriving after the anchor never
// enter the window, so offset paging against one anchor stays stable. A
// zero anchor means no bound.
func (db *DB) MessagesBefore(ctx context.Context, convoID model.ConversationID, anchor time.Time, limit, offset int) ([]model.Message, error) {
	if anchor.IsZero() {
		return db.Messages(ctx, convoID, limit, offset)
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, text, rev, deleted, pending,
			reactions, embedded_post_id, embedded_feed_id, embedded_list_id,
			embedded_starter_pack_id, sent_at
		FROM messages
		WHERE conversation_id = ? AND sent_at <= ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		string(convoID), formatTime(anchor), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MessagesAfter returns every message of a conversation sent after
// anchor, newest first. Pairs with MessagesBefore: the rows too new for
// any anchored window. A zero anchor returns nothing.
func (db *DB) MessagesAfter(ctx context.Context, convoID model.ConversationID, anchor time.Time) ([]model.Message, error) {
	if anchor.IsZero() {
		return nil, nil
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, text, rev, deleted, pending,
			reactions, embedded_post_id, embedded_feed_id, embedded_list_id,
			embedded_starter_pack_id, sent_at
		FROM messages
		WHERE conversation_id = ? AND sent_at > ?
		ORDER BY sent_at DESC, id DESC`,
		string(convoID), formatTime(anchor))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessage returns one message row by key.
func (db *DB) GetMessage(ctx context.Context, id model.MessageID) (model.Message, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, text, rev, deleted, pending,
			reactions, embedded_post_id, embedded_feed_id, embedded_list_id,
			embedded_starter_pack_id, sent_at
		FROM messages WHERE id = ?`, string(id))
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return msg, err
}

// PendingMessages returns the conversation's unconfirmed rows, oldest
// first.
func (db *DB) PendingMessages(ctx context.Context, convoID model.ConversationID) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, text, rev, deleted, pending,
			reactions, embedded_post_id, embedded_feed_id, embedded_list_id,
			embedded_starter_pack_id, sent_at
		FROM messages
		WHERE conversation_id = ? AND pending = 1
		ORDER BY sent_at ASC`,
		string(convoID))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Conversations returns all conversation rows ordered by rev descending.
func (db *DB) Conversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, rev, muted, status, unread_count, last_message_id
		FROM conversations
		ORDER BY rev DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var convos []model.Conversation
	for rows.Next() {
		var (
			convo  model.Conversation
			id     string
			muted  int
			status sql.NullString
			lastID sql.NullString
		)
		if err := rows.Scan(&id, &convo.Rev, &muted, &status, &convo.UnreadCount, &lastID); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convo.ID = model.ConversationID(id)
		convo.Muted = muted != 0
		convo.Status = status.String
		convo.LastMessageID = model.MessageID(lastID.String)
		convos = append(convos, convo)
	}
	return convos, rows.Err()
}

// GetConversation returns one conversation row by key.
func (db *DB) GetConversation(ctx context.Context, id model.ConversationID) (model.Conversation, error) {
	var (
		convo  model.Conversation
		muted  int
		status sql.NullString
		lastID sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT rev, muted, status, unread_count, last_message_id
		FROM conversations WHERE id = ?`, string(id)).
		Scan(&convo.Rev, &muted, &status, &convo.UnreadCount, &lastID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	convo.ID = id
	convo.Muted = muted != 0
	convo.Status = status.String
	convo.LastMessageID = model.MessageID(lastID.String)
	return convo, nil
}

// GetProfile returns one profile row by key.
func (db *DB) GetProfile(ctx context.Context, id model.ProfileID) (model.Profile, error) {
	var (
		profile     model.Profile
		displayName sql.NullString
		avatarURL   sql.NullString
		indexedAt   string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT handle, display_name, avatar_url, indexed_at
		FROM profiles WHERE id = ?`, string(id)).
		Scan(&profile.Handle, &displayName, &avatarURL, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	profile.ID = id
	profile.DisplayName = displayName.String
	profile.AvatarURL = avatarURL.String
	profile.IndexedAt = parseTime(indexedAt)
	return profile, nil
}

// GetPost returns one post row by key.
func (db *DB) GetPost(ctx context.Context, id model.PostID) (model.Post, error) {
	var (
		post      model.Post
		rowID     string
		quoteID   sql.NullString
		createdAt string
		indexedAt string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, uri, author_id, text, quote_id,
			like_count, repost_count, reply_count, created_at, indexed_at
		FROM posts WHERE id = ?`, string(id)).
		Scan(&rowID, &post.URI, (*string)(&post.AuthorID), &post.Text, &quoteID,
			&post.LikeCount, &post.RepostCount, &post.ReplyCount, &createdAt, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Post{}, ErrNotFound
	}
	if err != nil {
		return model.Post{}, fmt.Errorf("failed to get post: %w", err)
	}
	post.ID = model.PostID(rowID)
	post.QuoteID = model.PostID(quoteID.String)
	post.CreatedAt = parseTime(createdAt)
	post.IndexedAt = parseTime(indexedAt)
	return post, nil
}

// CountRows returns the row count of a table. Intended for tests and
// diagnostics.
func (db *DB) CountRows(ctx context.Context, table string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		msg       model.Message
		id        string
		convoID   string
		senderID  string
		deleted   int
		pending   int
		reactions sql.NullString
		embedPost sql.NullString
		embedFeed sql.NullString
		embedList sql.NullString
		embedPack sql.NullString
		sentAt    string
	)
	err := row.Scan(&id, &convoID, &senderID, &msg.Text, &msg.Rev, &deleted, &pending,
		&reactions, &embedPost, &embedFeed, &embedList, &embedPack, &sentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, err
		}
		return model.Message{}, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.ID = model.MessageID(id)
	msg.ConversationID = model.ConversationID(convoID)
	msg.SenderID = model.ProfileID(senderID)
	msg.Deleted = deleted != 0
	msg.Pending = pending != 0
	msg.EmbeddedPostID = model.PostID(embedPost.String)
	msg.EmbeddedFeedID = model.FeedGeneratorID(embedFeed.String)
	msg.EmbeddedListID = model.ListID(embedList.String)
	msg.EmbeddedStarterPackID = model.StarterPackID(embedPack.String)
	msg.SentAt = parseTime(sentAt)

	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &msg.Reactions); err != nil {
			return model.Message{}, fmt.Errorf("failed to decode reactions for message %s: %w", id, err)
		}
	}
	return msg, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

