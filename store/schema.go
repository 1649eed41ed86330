package store

import (
	"context"
	"fmt"
)

// Table names, shared with invalidation subscriptions.
const (
	TableProfiles       = "profiles"
	TablePosts          = "posts"
	TableFeedGenerators = "feed_generators"
	TableLists          = "lists"
	TableStarterPacks   = "starter_packs"
	TableConversations  = "conversations"
	TableMessages       = "messages"
)

// InitSchema creates the entity tables and indexes if they do not exist.
// Idempotent; safe to call on every open.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		display_name TEXT,
		avatar_url TEXT,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		author_id TEXT NOT NULL REFERENCES profiles(id),
		text TEXT NOT NULL,
		quote_id TEXT,
		like_count INTEGER NOT NULL DEFAULT 0,
		repost_count INTEGER NOT NULL DEFAULT 0,
		reply_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feed_generators (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		creator_id TEXT NOT NULL REFERENCES profiles(id),
		display_name TEXT NOT NULL,
		description TEXT,
		like_count INTEGER NOT NULL DEFAULT 0,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		creator_id TEXT NOT NULL REFERENCES profiles(id),
		name TEXT NOT NULL,
		purpose TEXT,
		description TEXT,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS starter_packs (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		creator_id TEXT NOT NULL REFERENCES profiles(id),
		name TEXT NOT NULL,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		rev TEXT NOT NULL,
		muted INTEGER NOT NULL DEFAULT 0,
		status TEXT,
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_message_id TEXT
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL REFERENCES profiles(id),
		text TEXT NOT NULL,
		rev TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0,
		is_own INTEGER NOT NULL DEFAULT 0,
		reactions TEXT,  -- JSON array
		embedded_post_id TEXT,
		embedded_feed_id TEXT,
		embedded_list_id TEXT,
		embedded_starter_pack_id TEXT,
		sent_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
	CREATE INDEX IF NOT EXISTS idx_posts_quote ON posts(quote_id) WHERE quote_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_convo_sent ON messages(conversation_id, sent_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_rev ON conversations(rev);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
