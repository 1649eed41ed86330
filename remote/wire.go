package remote

import (
	"time"

	"github.com/driftline/driftline/model"
)

// Wire payload shapes. Unions are encoded with an explicit "kind"
// discriminator; unknown kinds decode into the union's unknown arm rather
// than failing, so older clients survive newer servers.

type wireProfile struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	IndexedAt   time.Time `json:"indexedAt"`
}

type wirePost struct {
	ID          string       `json:"id"`
	URI         string       `json:"uri"`
	Author      wireProfile  `json:"author"`
	Text        string       `json:"text"`
	Quoted      *wirePost    `json:"quoted,omitempty"`
	LikeCount   int64        `json:"likeCount"`
	RepostCount int64        `json:"repostCount"`
	ReplyCount  int64        `json:"replyCount"`
	CreatedAt   time.Time    `json:"createdAt"`
	IndexedAt   time.Time    `json:"indexedAt"`
}

type wireFeedGenerator struct {
	ID          string      `json:"id"`
	URI         string      `json:"uri"`
	Creator     wireProfile `json:"creator"`
	DisplayName string      `json:"displayName"`
	Description string      `json:"description,omitempty"`
	LikeCount   int64       `json:"likeCount"`
	IndexedAt   time.Time   `json:"indexedAt"`
}

type wireList struct {
	ID          string      `json:"id"`
	URI         string      `json:"uri"`
	Creator     wireProfile `json:"creator"`
	Name        string      `json:"name"`
	Purpose     string      `json:"purpose,omitempty"`
	Description string      `json:"description,omitempty"`
	IndexedAt   time.Time   `json:"indexedAt"`
}

type wireStarterPack struct {
	ID        string      `json:"id"`
	URI       string      `json:"uri"`
	Creator   wireProfile `json:"creator"`
	Name      string      `json:"name"`
	IndexedAt time.Time   `json:"indexedAt"`
}

type wireEmbed struct {
	Post        *wirePost          `json:"post,omitempty"`
	Feed        *wireFeedGenerator `json:"feed,omitempty"`
	List        *wireList          `json:"list,omitempty"`
	StarterPack *wireStarterPack   `json:"starterPack,omitempty"`
}

type wireReaction struct {
	Value     string      `json:"value"`
	Sender    wireProfile `json:"sender"`
	CreatedAt time.Time   `json:"createdAt"`
}

type wireMessage struct {
	ID        string         `json:"id"`
	Rev       string         `json:"rev"`
	Sender    wireProfile    `json:"sender"`
	Text      string         `json:"text"`
	Embed     *wireEmbed     `json:"embed,omitempty"`
	Reactions []wireReaction `json:"reactions,omitempty"`
	SentAt    time.Time      `json:"sentAt"`
}

type wireDeletedMessage struct {
	ID     string      `json:"id"`
	Rev    string      `json:"rev"`
	Sender wireProfile `json:"sender"`
	SentAt time.Time   `json:"sentAt"`
}

// wireMessageItem is the message-or-tombstone union of a message page.
type wireMessageItem struct {
	Kind    string              `json:"kind"`
	Message *wireMessage        `json:"message,omitempty"`
	Deleted *wireDeletedMessage `json:"deletedMessage,omitempty"`
}

type wireConvo struct {
	ID          string        `json:"id"`
	Rev         string        `json:"rev"`
	Members     []wireProfile `json:"members"`
	LastMessage *wireMessage  `json:"lastMessage,omitempty"`
	Muted       bool          `json:"muted"`
	Status      string        `json:"status"`
	UnreadCount int64         `json:"unreadCount"`
}

// wireLogEntry is the change log union. Message-bearing kinds carry the
// message union inline.
type wireLogEntry struct {
	Kind      string              `json:"kind"`
	ConvoID   string              `json:"convoId"`
	Rev       string              `json:"rev"`
	MessageID string              `json:"messageId,omitempty"`
	Message   *wireMessage        `json:"message,omitempty"`
	Deleted   *wireDeletedMessage `json:"deletedMessage,omitempty"`
}

func (w wireProfile) toModel() model.ProfileView {
	return model.ProfileView{
		ID:          model.ProfileID(w.ID),
		Handle:      w.Handle,
		DisplayName: w.DisplayName,
		AvatarURL:   w.AvatarURL,
		IndexedAt:   w.IndexedAt,
	}
}

func (w wirePost) toModel() model.PostView {
	view := model.PostView{
		ID:          model.PostID(w.ID),
		URI:         w.URI,
		Author:      w.Author.toModel(),
		Text:        w.Text,
		LikeCount:   w.LikeCount,
		RepostCount: w.RepostCount,
		ReplyCount:  w.ReplyCount,
		CreatedAt:   w.CreatedAt,
		IndexedAt:   w.IndexedAt,
	}
	if w.Quoted != nil {
		quoted := w.Quoted.toModel()
		view.Quoted = &quoted
	}
	return view
}

func (w wireFeedGenerator) toModel() model.FeedGeneratorView {
	return model.FeedGeneratorView{
		ID:          model.FeedGeneratorID(w.ID),
		URI:         w.URI,
		Creator:     w.Creator.toModel(),
		DisplayName: w.DisplayName,
		Description: w.Description,
		LikeCount:   w.LikeCount,
		IndexedAt:   w.IndexedAt,
	}
}

func (w wireList) toModel() model.ListView {
	return model.ListView{
		ID:          model.ListID(w.ID),
		URI:         w.URI,
		Creator:     w.Creator.toModel(),
		Name:        w.Name,
		Purpose:     w.Purpose,
		Description: w.Description,
		IndexedAt:   w.IndexedAt,
	}
}

func (w wireStarterPack) toModel() model.StarterPackView {
	return model.StarterPackView{
		ID:        model.StarterPackID(w.ID),
		URI:       w.URI,
		Creator:   w.Creator.toModel(),
		Name:      w.Name,
		IndexedAt: w.IndexedAt,
	}
}

func (w wireMessage) toModel() model.MessageView {
	view := model.MessageView{
		ID:     model.MessageID(w.ID),
		Rev:    w.Rev,
		Sender: w.Sender.toModel(),
		Text:   w.Text,
		SentAt: w.SentAt,
	}
	if w.Embed != nil {
		embed := &model.MessageEmbed{}
		if w.Embed.Post != nil {
			post := w.Embed.Post.toModel()
			embed.Post = &post
		}
		if w.Embed.Feed != nil {
			feed := w.Embed.Feed.toModel()
			embed.Feed = &feed
		}
		if w.Embed.List != nil {
			list := w.Embed.List.toModel()
			embed.List = &list
		}
		if w.Embed.StarterPack != nil {
			pack := w.Embed.StarterPack.toModel()
			embed.StarterPack = &pack
		}
		view.Embed = embed
	}
	for _, r := range w.Reactions {
		view.Reactions = append(view.Reactions, model.ReactionView{
			Value:     r.Value,
			Sender:    r.Sender.toModel(),
			CreatedAt: r.CreatedAt,
		})
	}
	return view
}

func (w wireDeletedMessage) toModel() model.DeletedMessageView {
	return model.DeletedMessageView{
		ID:     model.MessageID(w.ID),
		Rev:    w.Rev,
		Sender: w.Sender.toModel(),
		SentAt: w.SentAt,
	}
}

func (w wireConvo) toModel() model.ConvoView {
	view := model.ConvoView{
		ID:          model.ConversationID(w.ID),
		Rev:         w.Rev,
		Muted:       w.Muted,
		Status:      w.Status,
		UnreadCount: w.UnreadCount,
	}
	for _, m := range w.Members {
		view.Members = append(view.Members, m.toModel())
	}
	if w.LastMessage != nil {
		last := w.LastMessage.toModel()
		view.LastMessage = &last
	}
	return view
}

func (w wireMessageItem) toModel() model.MessagePageItem {
	switch w.Kind {
	case "message":
		if w.Message != nil {
			view := w.Message.toModel()
			return &view
		}
	case "deletedMessage":
		if w.Deleted != nil {
			view := w.Deleted.toModel()
			return &view
		}
	}
	return nil
}

func (w wireLogEntry) toModel() model.LogEntry {
	payload := model.LogMessagePayload{}
	if w.Message != nil {
		view := w.Message.toModel()
		payload.Message = &view
	}
	if w.Deleted != nil {
		view := w.Deleted.toModel()
		payload.Deleted = &view
	}
	convoID := model.ConversationID(w.ConvoID)

	switch w.Kind {
	case "createMessage":
		return model.LogCreateMessage{ConvoID: convoID, Rev: w.Rev, Payload: payload}
	case "deleteMessage":
		return model.LogDeleteMessage{ConvoID: convoID, Rev: w.Rev, Payload: payload}
	case "addReaction":
		return model.LogAddReaction{ConvoID: convoID, Rev: w.Rev, Payload: payload}
	case "removeReaction":
		return model.LogRemoveReaction{ConvoID: convoID, Rev: w.Rev, Payload: payload}
	case "beginConvo":
		return model.LogBeginConvo{ConvoID: convoID, Rev: w.Rev}
	case "acceptConvo":
		return model.LogAcceptConvo{ConvoID: convoID, Rev: w.Rev}
	case "leaveConvo":
		return model.LogLeaveConvo{ConvoID: convoID, Rev: w.Rev}
	case "muteConvo":
		return model.LogMuteConvo{ConvoID: convoID, Rev: w.Rev}
	case "unmuteConvo":
		return model.LogUnmuteConvo{ConvoID: convoID, Rev: w.Rev}
	case "readMessage":
		return model.LogReadMessage{ConvoID: convoID, Rev: w.Rev, MessageID: model.MessageID(w.MessageID)}
	default:
		return model.LogUnknown{Kind: w.Kind}
	}
}
