package model

import "time"

// Remote view payloads. Each view is one object as the remote service
// describes it, possibly nesting further views (a post view carries its
// author's profile view, a message view may embed a record view). The
// store's saver decomposes views into entity rows transitively.

// ProfileView is the remote description of an actor.
type ProfileView struct {
	ID          ProfileID
	Handle      string
	DisplayName string
	AvatarURL   string
	IndexedAt   time.Time
}

// PostView is the remote description of a post. Quoted is non-nil when the
// post quotes another post; the nested view never recurses further than
// one level on the wire.
type PostView struct {
	ID          PostID
	URI         string
	Author      ProfileView
	Text        string
	Quoted      *PostView
	LikeCount   int64
	RepostCount int64
	ReplyCount  int64
	CreatedAt   time.Time
	IndexedAt   time.Time
}

// FeedGeneratorView is the remote description of a feed generator.
type FeedGeneratorView struct {
	ID          FeedGeneratorID
	URI         string
	Creator     ProfileView
	DisplayName string
	Description string
	LikeCount   int64
	IndexedAt   time.Time
}

// ListView is the remote description of a list.
type ListView struct {
	ID          ListID
	URI         string
	Creator     ProfileView
	Name        string
	Purpose     string
	Description string
	IndexedAt   time.Time
}

// StarterPackView is the remote description of a starter pack.
type StarterPackView struct {
	ID        StarterPackID
	URI       string
	Creator   ProfileView
	Name      string
	IndexedAt time.Time
}

// MessageEmbed is the optional record a message view embeds. At most one
// field is non-nil.
type MessageEmbed struct {
	Post        *PostView
	Feed        *FeedGeneratorView
	List        *ListView
	StarterPack *StarterPackView
}

// MessageView is the remote description of a chat message.
type MessageView struct {
	ID        MessageID
	Rev       string
	Sender    ProfileView
	Text      string
	Embed     *MessageEmbed
	Reactions []ReactionView
	SentAt    time.Time
}

// ReactionView is one reaction on a message view.
type ReactionView struct {
	Value     string
	Sender    ProfileView
	CreatedAt time.Time
}

// DeletedMessageView is the remote tombstone for a deleted message.
type DeletedMessageView struct {
	ID     MessageID
	Rev    string
	Sender ProfileView
	SentAt time.Time
}

// ConvoView is the remote description of a conversation.
type ConvoView struct {
	ID          ConversationID
	Rev         string
	Members     []ProfileView
	LastMessage *MessageView
	Muted       bool
	Status      string
	UnreadCount int64
}

// MessagePageItem is the union of items a message page may contain:
// either a live message view or a deleted-message tombstone.
type MessagePageItem interface {
	messagePageItem()
}

func (*MessageView) messagePageItem()        {}
func (*DeletedMessageView) messagePageItem() {}
