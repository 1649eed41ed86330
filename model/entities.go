package model

import "time"

// Typed identifiers for the entity kinds cached locally. Keeping them as
// distinct string types prevents cross-kind key mixups in batch maps.
type (
	ProfileID       string
	PostID          string
	MessageID       string
	ConversationID  string
	FeedGeneratorID string
	ListID          string
	StarterPackID   string
)

// Session carries the signed-in identity. It is threaded explicitly into
// every component that needs it; there is no process-wide session state.
type Session struct {
	ProfileID ProfileID
	Handle    string
}

// Profile is a locally cached actor row.
type Profile struct {
	ID          ProfileID
	Handle      string
	DisplayName string
	AvatarURL   string
	IndexedAt   time.Time
}

// Post is a locally cached post row. QuoteID references another post row
// by key when this post quotes one; the quoted row is normalized into the
// same batch that inserts the quoting row.
type Post struct {
	ID          PostID
	URI         string
	AuthorID    ProfileID
	Text        string
	QuoteID     PostID
	LikeCount   int64
	RepostCount int64
	ReplyCount  int64
	CreatedAt   time.Time
	IndexedAt   time.Time
}

// Message is a locally cached chat message row.
//
// Deleted rows are tombstones: the text is cleared and Deleted is set, so
// the row keeps its place in conversation ordering. Embedded* columns
// reference records the message embeds, resolved against their own tables.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       ProfileID
	Text           string
	Rev            string
	Deleted        bool
	Pending        bool
	Reactions      []Reaction

	EmbeddedPostID        PostID
	EmbeddedFeedID        FeedGeneratorID
	EmbeddedListID        ListID
	EmbeddedStarterPackID StarterPackID

	SentAt time.Time
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	Value     string
	SenderID  ProfileID
	CreatedAt time.Time
}

// Conversation is a locally cached conversation row.
type Conversation struct {
	ID            ConversationID
	Rev           string
	Muted         bool
	Status        string
	UnreadCount   int64
	LastMessageID MessageID
}

// FeedGenerator is a locally cached feed generator row.
type FeedGenerator struct {
	ID          FeedGeneratorID
	URI         string
	CreatorID   ProfileID
	DisplayName string
	Description string
	LikeCount   int64
	IndexedAt   time.Time
}

// List is a locally cached list row.
type List struct {
	ID          ListID
	URI         string
	CreatorID   ProfileID
	Name        string
	Purpose     string
	Description string
	IndexedAt   time.Time
}

// StarterPack is a locally cached starter pack row.
type StarterPack struct {
	ID        StarterPackID
	URI       string
	CreatorID ProfileID
	Name      string
	IndexedAt time.Time
}
