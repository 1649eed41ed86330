package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/driftline/model"
)

// Saver applies batches of heterogeneous normalized entities atomically.
//
// One InTransaction call is one SQLite transaction: every Add made inside
// the block becomes visible together, or not at all. Within a batch, rows
// are written in Add order and a later Add for the same primary key
// overwrites the earlier one. Concurrent InTransaction calls serialize
// through the store's single writer.
type Saver struct {
	db     *DB
	logger *zap.Logger
}

// NewSaver creates a Saver over db.
func NewSaver(db *DB, logger *zap.Logger) *Saver {
	return &Saver{db: db, logger: logger}
}

// InTransaction runs block against a fresh batch and commits the batch
// atomically. If block returns an error, nothing is written and the error
// propagates. Session identifies the viewer for rows that denormalize
// viewer-relative state.
func (s *Saver) InTransaction(ctx context.Context, session model.Session, block func(b *Batch) error) error {
	batch := &Batch{session: session}
	if err := block(batch); err != nil {
		return err
	}
	if batch.empty() {
		return nil
	}

	tx, unlock, err := s.db.begin(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := batch.commit(ctx, tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to commit entity batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entity batch: %w", err)
	}

	touched := batch.touchedTables()
	s.db.notifyInvalidations(touched)

	s.logger.Debug("entity batch committed",
		zap.Int("profiles", len(batch.profiles)),
		zap.Int("posts", len(batch.posts)),
		zap.Int("messages", len(batch.messages)),
		zap.Int("conversations", len(batch.conversations)),
	)
	return nil
}

// Batch accumulates normalized entity rows for one transaction. Add
// methods decompose remote views into rows and resolve referenced views
// transitively, so a batch is always self-consistent: every row referenced
// by key is either already stored or part of the same batch.
type Batch struct {
	session model.Session

	profiles       []model.Profile
	posts          []model.Post
	feedGenerators []model.FeedGenerator
	lists          []model.List
	starterPacks   []model.StarterPack
	conversations  []model.Conversation
	messages       []model.Message

	deletedMessages   []model.MessageID
	conversationStubs []model.ConversationID

	profileIdx       map[model.ProfileID]int
	postIdx          map[model.PostID]int
	feedGeneratorIdx map[model.FeedGeneratorID]int
	listIdx          map[model.ListID]int
	starterPackIdx   map[model.StarterPackID]int
	conversationIdx  map[model.ConversationID]int
	messageIdx       map[model.MessageID]int
	stubIdx          map[model.ConversationID]struct{}

	stubbedNew bool
}

// addConversationStub records that a message in this batch references
// convoID. The commit inserts a placeholder conversation row if none
// exists, so a message can land before its conversation has been
// paginated. An existing row, or a full row in the same batch, is never
// overwritten.
func (b *Batch) addConversationStub(convoID model.ConversationID) {
	if b.stubIdx == nil {
		b.stubIdx = make(map[model.ConversationID]struct{})
	}
	if _, ok := b.stubIdx[convoID]; ok {
		return
	}
	b.stubIdx[convoID] = struct{}{}
	b.conversationStubs = append(b.conversationStubs, convoID)
}

// AddProfile adds one profile row.
func (b *Batch) AddProfile(view model.ProfileView) {
	row := model.Profile{
		ID:          view.ID,
		Handle:      view.Handle,
		DisplayName: view.DisplayName,
		AvatarURL:   view.AvatarURL,
		IndexedAt:   view.IndexedAt,
	}
	upsertRow(&b.profiles, &b.profileIdx, row.ID, row)
}

// AddPost adds a post row, its author's profile row, and, when the post
// quotes another post, the quoted post's rows.
func (b *Batch) AddPost(view model.PostView) {
	b.AddProfile(view.Author)

	var quoteID model.PostID
	if view.Quoted != nil {
		b.AddPost(*view.Quoted)
		quoteID = view.Quoted.ID
	}

	row := model.Post{
		ID:          view.ID,
		URI:         view.URI,
		AuthorID:    view.Author.ID,
		Text:        view.Text,
		QuoteID:     quoteID,
		LikeCount:   view.LikeCount,
		RepostCount: view.RepostCount,
		ReplyCount:  view.ReplyCount,
		CreatedAt:   view.CreatedAt,
		IndexedAt:   view.IndexedAt,
	}
	upsertRow(&b.posts, &b.postIdx, row.ID, row)
}

// AddFeedGenerator adds a feed generator row and its creator's profile.
func (b *Batch) AddFeedGenerator(view model.FeedGeneratorView) {
	b.AddProfile(view.Creator)
	row := model.FeedGenerator{
		ID:          view.ID,
		URI:         view.URI,
		CreatorID:   view.Creator.ID,
		DisplayName: view.DisplayName,
		Description: view.Description,
		LikeCount:   view.LikeCount,
		IndexedAt:   view.IndexedAt,
	}
	upsertRow(&b.feedGenerators, &b.feedGeneratorIdx, row.ID, row)
}

// AddList adds a list row and its creator's profile.
func (b *Batch) AddList(view model.ListView) {
	b.AddProfile(view.Creator)
	row := model.List{
		ID:          view.ID,
		URI:         view.URI,
		CreatorID:   view.Creator.ID,
		Name:        view.Name,
		Purpose:     view.Purpose,
		Description: view.Description,
		IndexedAt:   view.IndexedAt,
	}
	upsertRow(&b.lists, &b.listIdx, row.ID, row)
}

// AddStarterPack adds a starter pack row and its creator's profile.
func (b *Batch) AddStarterPack(view model.StarterPackView) {
	b.AddProfile(view.Creator)
	row := model.StarterPack{
		ID:        view.ID,
		URI:       view.URI,
		CreatorID: view.Creator.ID,
		Name:      view.Name,
		IndexedAt: view.IndexedAt,
	}
	upsertRow(&b.starterPacks, &b.starterPackIdx, row.ID, row)
}

// AddConversation adds a conversation row, every member's profile row,
// and the conversation's last message when present.
func (b *Batch) AddConversation(view model.ConvoView) {
	for _, member := range view.Members {
		b.AddProfile(member)
	}

	row := model.Conversation{
		ID:          view.ID,
		Rev:         view.Rev,
		Muted:       view.Muted,
		Status:      view.Status,
		UnreadCount: view.UnreadCount,
	}
	if view.LastMessage != nil {
		row.LastMessageID = view.LastMessage.ID
	}
	upsertRow(&b.conversations, &b.conversationIdx, row.ID, row)

	if view.LastMessage != nil {
		b.AddMessage(view.ID, *view.LastMessage)
	}
}

// AddMessage adds a message row, the sender's profile row, reaction
// senders' profile rows, and any embedded record's rows.
func (b *Batch) AddMessage(convoID model.ConversationID, view model.MessageView) {
	b.AddProfile(view.Sender)
	b.addConversationStub(convoID)

	row := model.Message{
		ID:             view.ID,
		ConversationID: convoID,
		SenderID:       view.Sender.ID,
		Text:           view.Text,
		Rev:            view.Rev,
		SentAt:         view.SentAt,
	}
	for _, reaction := range view.Reactions {
		b.AddProfile(reaction.Sender)
		row.Reactions = append(row.Reactions, model.Reaction{
			Value:     reaction.Value,
			SenderID:  reaction.Sender.ID,
			CreatedAt: reaction.CreatedAt,
		})
	}
	if view.Embed != nil {
		if view.Embed.Post != nil {
			b.AddPost(*view.Embed.Post)
			row.EmbeddedPostID = view.Embed.Post.ID
		}
		if view.Embed.Feed != nil {
			b.AddFeedGenerator(*view.Embed.Feed)
			row.EmbeddedFeedID = view.Embed.Feed.ID
		}
		if view.Embed.List != nil {
			b.AddList(*view.Embed.List)
			row.EmbeddedListID = view.Embed.List.ID
		}
		if view.Embed.StarterPack != nil {
			b.AddStarterPack(*view.Embed.StarterPack)
			row.EmbeddedStarterPackID = view.Embed.StarterPack.ID
		}
	}
	upsertRow(&b.messages, &b.messageIdx, row.ID, row)
}

// AddMessageRow adds a prebuilt message row without decomposing a remote
// view. Used for locally originated rows, such as a pending message shown
// before the service confirms it.
func (b *Batch) AddMessageRow(row model.Message) {
	b.addConversationStub(row.ConversationID)
	upsertRow(&b.messages, &b.messageIdx, row.ID, row)
}

// DeleteMessage removes a message row by key. Deletions run before the
// batch's upserts, so replacing a pending row with its confirmed form in
// one batch works regardless of Add order.
func (b *Batch) DeleteMessage(id model.MessageID) {
	b.deletedMessages = append(b.deletedMessages, id)
}

// AddDeletedMessage adds a tombstone row for a deleted message. The text
// is cleared; the row keeps its place in conversation ordering.
func (b *Batch) AddDeletedMessage(convoID model.ConversationID, view model.DeletedMessageView) {
	b.AddProfile(view.Sender)
	b.addConversationStub(convoID)
	row := model.Message{
		ID:             view.ID,
		ConversationID: convoID,
		SenderID:       view.Sender.ID,
		Rev:            view.Rev,
		Deleted:        true,
		SentAt:         view.SentAt,
	}
	upsertRow(&b.messages, &b.messageIdx, row.ID, row)
}

// upsertRow appends row or, when key is already in the batch, overwrites
// the earlier row in place. In-place overwrite keeps the first insertion
// position so transitively-added rows stay ahead of rows that reference
// them.
func upsertRow[K comparable, R any](rows *[]R, idx *map[K]int, key K, row R) {
	if *idx == nil {
		*idx = make(map[K]int)
	}
	if i, ok := (*idx)[key]; ok {
		(*rows)[i] = row
		return
	}
	*rows = append(*rows, row)
	(*idx)[key] = len(*rows) - 1
}

func (b *Batch) empty() bool {
	return len(b.deletedMessages) == 0 &&
		len(b.profiles) == 0 &&
		len(b.posts) == 0 &&
		len(b.feedGenerators) == 0 &&
		len(b.lists) == 0 &&
		len(b.starterPacks) == 0 &&
		len(b.conversations) == 0 &&
		len(b.messages) == 0
}

func (b *Batch) touchedTables() map[string]struct{} {
	touched := make(map[string]struct{})
	if len(b.profiles) > 0 {
		touched[TableProfiles] = struct{}{}
	}
	if len(b.posts) > 0 {
		touched[TablePosts] = struct{}{}
	}
	if len(b.feedGenerators) > 0 {
		touched[TableFeedGenerators] = struct{}{}
	}
	if len(b.lists) > 0 {
		touched[TableLists] = struct{}{}
	}
	if len(b.starterPacks) > 0 {
		touched[TableStarterPacks] = struct{}{}
	}
	if len(b.conversations) > 0 || b.stubbedNew {
		touched[TableConversations] = struct{}{}
	}
	if len(b.messages) > 0 || len(b.deletedMessages) > 0 {
		touched[TableMessages] = struct{}{}
	}
	return touched
}

// commit writes the batch inside tx. Kinds are written in reference
// order so foreign keys resolve: profiles first, then records, then
// conversations, then messages.
func (b *Batch) commit(ctx context.Context, tx *sql.Tx) error {
	for _, id := range b.deletedMessages {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, string(id)); err != nil {
			return fmt.Errorf("failed to delete message %s: %w", id, err)
		}
	}
	for _, row := range b.profiles {
		if err := upsertProfile(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range b.posts {
		if err := upsertPost(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range b.feedGenerators {
		if err := upsertFeedGenerator(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range b.lists {
		if err := upsertList(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range b.starterPacks {
		if err := upsertStarterPack(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, id := range b.conversationStubs {
		if _, full := b.conversationIdx[id]; full {
			continue
		}
		inserted, err := stubConversation(ctx, tx, id)
		if err != nil {
			return err
		}
		if inserted {
			b.stubbedNew = true
		}
	}
	for _, row := range b.conversations {
		if err := upsertConversation(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range b.messages {
		if err := upsertMessage(ctx, tx, b.session, row); err != nil {
			return err
		}
	}
	return nil
}

func upsertProfile(ctx context.Context, tx *sql.Tx, row model.Profile) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (id, handle, display_name, avatar_url, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			handle = excluded.handle,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			indexed_at = excluded.indexed_at`,
		string(row.ID), row.Handle, row.DisplayName, row.AvatarURL, formatTime(row.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", row.ID, err)
	}
	return nil
}

func upsertPost(ctx context.Context, tx *sql.Tx, row model.Post) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO posts (id, uri, author_id, text, quote_id,
			like_count, repost_count, reply_count, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uri = excluded.uri,
			author_id = excluded.author_id,
			text = excluded.text,
			quote_id = excluded.quote_id,
			like_count = excluded.like_count,
			repost_count = excluded.repost_count,
			reply_count = excluded.reply_count,
			created_at = excluded.created_at,
			indexed_at = excluded.indexed_at`,
		string(row.ID), row.URI, string(row.AuthorID), row.Text, nullable(string(row.QuoteID)),
		row.LikeCount, row.RepostCount, row.ReplyCount,
		formatTime(row.CreatedAt), formatTime(row.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert post %s: %w", row.ID, err)
	}
	return nil
}

func upsertFeedGenerator(ctx context.Context, tx *sql.Tx, row model.FeedGenerator) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO feed_generators (id, uri, creator_id, display_name, description, like_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uri = excluded.uri,
			creator_id = excluded.creator_id,
			display_name = excluded.display_name,
			description = excluded.description,
			like_count = excluded.like_count,
			indexed_at = excluded.indexed_at`,
		string(row.ID), row.URI, string(row.CreatorID), row.DisplayName,
		row.Description, row.LikeCount, formatTime(row.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert feed generator %s: %w", row.ID, err)
	}
	return nil
}

func upsertList(ctx context.Context, tx *sql.Tx, row model.List) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lists (id, uri, creator_id, name, purpose, description, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uri = excluded.uri,
			creator_id = excluded.creator_id,
			name = excluded.name,
			purpose = excluded.purpose,
			description = excluded.description,
			indexed_at = excluded.indexed_at`,
		string(row.ID), row.URI, string(row.CreatorID), row.Name,
		row.Purpose, row.Description, formatTime(row.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert list %s: %w", row.ID, err)
	}
	return nil
}

func upsertStarterPack(ctx context.Context, tx *sql.Tx, row model.StarterPack) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO starter_packs (id, uri, creator_id, name, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uri = excluded.uri,
			creator_id = excluded.creator_id,
			name = excluded.name,
			indexed_at = excluded.indexed_at`,
		string(row.ID), row.URI, string(row.CreatorID), row.Name, formatTime(row.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert starter pack %s: %w", row.ID, err)
	}
	return nil
}

// stubConversation inserts a placeholder row keyed by id with an empty
// rev. It never touches an existing row; a later full upsert replaces
// the placeholder. Reports whether a row was actually inserted.
func stubConversation(ctx context.Context, tx *sql.Tx, id model.ConversationID) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, rev)
		VALUES (?, '')
		ON CONFLICT(id) DO NOTHING`,
		string(id))
	if err != nil {
		return false, fmt.Errorf("failed to stub conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to stub conversation %s: %w", id, err)
	}
	return n > 0, nil
}

func upsertConversation(ctx context.Context, tx *sql.Tx, row model.Conversation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, rev, muted, status, unread_count, last_message_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			muted = excluded.muted,
			status = excluded.status,
			unread_count = excluded.unread_count,
			last_message_id = excluded.last_message_id`,
		string(row.ID), row.Rev, boolToInt(row.Muted), row.Status,
		row.UnreadCount, nullable(string(row.LastMessageID)))
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", row.ID, err)
	}
	return nil
}

func upsertMessage(ctx context.Context, tx *sql.Tx, session model.Session, row model.Message) error {
	reactions, err := encodeReactions(row.Reactions)
	if err != nil {
		return fmt.Errorf("failed to encode reactions for message %s: %w", row.ID, err)
	}

	isOwn := row.SenderID == session.ProfileID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, rev, deleted, pending, is_own,
			reactions, embedded_post_id, embedded_feed_id, embedded_list_id,
			embedded_starter_pack_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			sender_id = excluded.sender_id,
			text = excluded.text,
			rev = excluded.rev,
			deleted = excluded.deleted,
			pending = excluded.pending,
			is_own = excluded.is_own,
			reactions = excluded.reactions,
			embedded_post_id = excluded.embedded_post_id,
			embedded_feed_id = excluded.embedded_feed_id,
			embedded_list_id = excluded.embedded_list_id,
			embedded_starter_pack_id = excluded.embedded_starter_pack_id,
			sent_at = excluded.sent_at`,
		string(row.ID), string(row.ConversationID), string(row.SenderID), row.Text, row.Rev,
		boolToInt(row.Deleted), boolToInt(row.Pending), boolToInt(isOwn), reactions,
		nullable(string(row.EmbeddedPostID)), nullable(string(row.EmbeddedFeedID)),
		nullable(string(row.EmbeddedListID)), nullable(string(row.EmbeddedStarterPackID)),
		formatTime(row.SentAt))
	if err != nil {
		return fmt.Errorf("failed to upsert message %s: %w", row.ID, err)
	}
	return nil
}

func encodeReactions(reactions []model.Reaction) (any, error) {
	if len(reactions) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// timeLayout is fixed width so stored timestamps order lexically the
// same way they order chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
