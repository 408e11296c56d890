// Package model holds the chat records shared by the cache, the remote client and the sync controller.
package model

import (
	"sort"
	"strings"
	"time"
)

// UnknownUsername is shown when a sender profile could not be resolved.
const UnknownUsername = "Unknown"

// Source tells which boundary a record was normalized from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
	SourceDemo   Source = "demo"
	SourceLive   Source = "live"
)

// AttachmentKind defines the kind of file attached to a message.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Valid reports whether k is a known attachment kind.
func (k AttachmentKind) Valid() bool {
	return k == AttachmentImage || k == AttachmentDocument
}

// Attachment describes a file carried by a message.
type Attachment struct {
	Name string         `json:"name"`
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

// Sender is the denormalized display info of a message author.
type Sender struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message represents a chat message.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	Sender         Sender      `json:"sender"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Source         Source      `json:"-"`
}

// Normalize fills display defaults and drops malformed optional fields.
func (m Message) Normalize(src Source) Message {
	m.Source = src
	if strings.TrimSpace(m.Sender.Username) == "" {
		m.Sender.Username = UnknownUsername
	}
	if m.Attachment != nil {
		if !m.Attachment.Kind.Valid() || m.Attachment.URL == "" {
			m.Attachment = nil
		} else {
			att := *m.Attachment
			m.Attachment = &att
		}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

// MessageSummary is the denormalized last message of a conversation.
type MessageSummary struct {
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	SenderUsername string    `json:"sender_username"`
}

// Profile is a user as seen by other participants.
type Profile struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Status    string     `json:"status,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Label tags conversations.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Conversation represents a direct or group conversation.
type Conversation struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	IsGroup      bool            `json:"is_group"`
	AvatarURL    string          `json:"avatar_url,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastMessage  *MessageSummary `json:"last_message,omitempty"`
	OtherUser    *Profile        `json:"other_user,omitempty"`
	Participants []Profile       `json:"participants,omitempty"`
	Labels       []Label         `json:"labels,omitempty"`
	Source       Source          `json:"-"`
}

// Normalize keeps exactly one of OtherUser/Participants depending on IsGroup.
func (c Conversation) Normalize(src Source) Conversation {
	c.Source = src
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.IsGroup {
		c.OtherUser = nil
		c.Participants = append([]Profile(nil), c.Participants...)
	} else {
		c.Name = ""
		c.Participants = nil
		if c.OtherUser != nil {
			other := *c.OtherUser
			c.OtherUser = &other
		}
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		if last.SenderUsername == "" {
			last.SenderUsername = UnknownUsername
		}
		c.LastMessage = &last
	}
	c.Labels = append([]Label(nil), c.Labels...)
	return c
}

// DisplayName returns the name shown in the sidebar and chat header.
func (c Conversation) DisplayName() string {
	if c.IsGroup {
		if c.Name != "" {
			return c.Name
		}
		return "Group Chat"
	}
	if c.OtherUser != nil && c.OtherUser.Username != "" {
		return c.OtherUser.Username
	}
	return "Chat"
}

// ParticipantCount is 2 for direct conversations.
func (c Conversation) ParticipantCount() int {
	if c.IsGroup {
		return len(c.Participants)
	}
	return 2
}

// SortMessages orders messages ascending by creation time, keeping insertion order on ties.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortConversations orders conversations by last update, most recent first.
func SortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// FilterConversations keeps conversations whose display name contains query, ignoring case.
func FilterConversations(convs []Conversation, query string) []Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return convs
	}
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.DisplayName()), q) {
			out = append(out, c)
		}
	}
	return out
}

// IndexOf returns the position of the message with id, or -1.
func IndexOf(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// AppendUnique appends msg unless a message with the same id is already present.
func AppendUnique(msgs []Message, msg Message) ([]Message, bool) {
	if IndexOf(msgs, msg.ID) >= 0 {
		return msgs, false
	}
	return append(msgs, msg), true
}

// CloneMessages returns a copy that does not share the backing array.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
