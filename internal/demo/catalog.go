// Package demo provides sample conversations that exist only in memory.
// Selecting one never touches the remote store or the cache.
package demo

import (
	"time"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// Conversation identifiers of the catalog.
const (
	AliceConversationID = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	BobConversationID   = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	TeamConversationID  = "cccccccc-cccc-cccc-cccc-cccccccccccc"
)

const avatarQuery = "?w=150&h=150&fit=crop&crop=face"

// Users are the sample profiles.
var Users = []model.Profile{
	{ID: "11111111-1111-1111-1111-111111111111", Username: "Alice Johnson", AvatarURL: "https://images.unsplash.com/photo-1494790108755-2616b612b786" + avatarQuery, Status: "online"},
	{ID: "22222222-2222-2222-2222-222222222222", Username: "Bob Smith", AvatarURL: "https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d" + avatarQuery, Status: "offline"},
	{ID: "33333333-3333-3333-3333-333333333333", Username: "Carol Wilson", AvatarURL: "https://images.unsplash.com/photo-1438761681033-6461ffad8d80" + avatarQuery, Status: "online"},
	{ID: "44444444-4444-4444-4444-444444444444", Username: "David Brown", AvatarURL: "https://images.unsplash.com/photo-1472099645785-5658abf4ff4e" + avatarQuery, Status: "offline"},
	{ID: "55555555-5555-5555-5555-555555555555", Username: "Emma Davis", AvatarURL: "https://images.unsplash.com/photo-1544005313-94ddf0286df2" + avatarQuery, Status: "online"},
}

type sampleMessage struct {
	id      string
	sender  int
	ago     time.Duration
	content string
}

var samples = map[string][]sampleMessage{
	AliceConversationID: {
		{"msg-1", 0, 2 * time.Hour, "Hey! How are you doing? 😊"},
		{"msg-2", 0, 105 * time.Minute, "I wanted to share something exciting with you!"},
		{"msg-3", 0, 30 * time.Minute, "Just finished a great book 📚"},
	},
	BobConversationID: {
		{"msg-4", 1, 3 * time.Hour, "Good morning! ☀️"},
		{"msg-5", 1, 150 * time.Minute, "Are we still on for the meeting today?"},
	},
	TeamConversationID: {
		{"msg-6", 2, 5 * time.Hour, "Welcome everyone to our team chat! 🎉"},
		{"msg-7", 0, 270 * time.Minute, "Thanks Carol! Excited to be here 🚀"},
		{"msg-8", 4, 4 * time.Hour, "Looking forward to working together! 💪"},
		{"msg-9", 2, time.Hour, "Let's schedule our first team meeting"},
	},
}

// Catalog serves the sample data with timestamps relative to its clock.
type Catalog struct {
	now func() time.Time
}

// New creates a catalog. A nil clock uses time.Now.
func New(now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{now: now}
}

func profile(i int) *model.Profile {
	p := Users[i]
	return &p
}

func (c *Catalog) message(conversationID string, s sampleMessage, now time.Time) model.Message {
	u := Users[s.sender]
	return model.Message{
		ID:             utils.DemoIDPrefix + s.id,
		ConversationID: conversationID,
		SenderID:       u.ID,
		Content:        s.content,
		CreatedAt:      now.Add(-s.ago),
		Sender:         model.Sender{Username: u.Username, AvatarURL: u.AvatarURL},
	}.Normalize(model.SourceDemo)
}

func (c *Catalog) conversation(id string, now time.Time) (model.Conversation, bool) {
	var conv model.Conversation
	switch id {
	case AliceConversationID:
		conv = model.Conversation{ID: id, OtherUser: profile(0)}
	case BobConversationID:
		conv = model.Conversation{ID: id, OtherUser: profile(1)}
	case TeamConversationID:
		conv = model.Conversation{
			ID:           id,
			Name:         "Team Chat",
			IsGroup:      true,
			AvatarURL:    "https://images.unsplash.com/photo-1522071820081-009f0129c71c?w=150&h=150&fit=crop",
			Participants: []model.Profile{Users[0], Users[2], Users[4]},
		}
	default:
		return model.Conversation{}, false
	}

	msgs := samples[id]
	last := msgs[len(msgs)-1]
	conv.UpdatedAt = now.Add(-last.ago)
	conv.LastMessage = &model.MessageSummary{
		Content:        last.content,
		CreatedAt:      conv.UpdatedAt,
		SenderUsername: Users[last.sender].Username,
	}
	return conv.Normalize(model.SourceDemo), true
}

// Conversations returns the sample conversations, most recent first.
func (c *Catalog) Conversations() []model.Conversation {
	now := c.now()
	out := make([]model.Conversation, 0, len(samples))
	for _, id := range []string{AliceConversationID, BobConversationID, TeamConversationID} {
		conv, _ := c.conversation(id, now)
		out = append(out, conv)
	}
	model.SortConversations(out)
	return out
}

// Conversation looks up a sample conversation.
func (c *Catalog) Conversation(id string) (model.Conversation, bool) {
	return c.conversation(id, c.now())
}

// Messages returns a sample conversation's history ascending by creation time.
func (c *Catalog) Messages(id string) []model.Message {
	now := c.now()
	out := make([]model.Message, 0, len(samples[id]))
	for _, s := range samples[id] {
		out = append(out, c.message(id, s, now))
	}
	model.SortMessages(out)
	return out
}
