package model

import (
	"testing"
	"time"
)

func TestConversationNormalizeByKind(t *testing.T) {
	other := &Profile{ID: "u2", Username: "bob"}
	direct := Conversation{
		ID:           "c1",
		Name:         "ignored",
		OtherUser:    other,
		Participants: []Profile{{ID: "u1"}},
	}.Normalize(SourceRemote)

	if direct.Name != "" || direct.Participants != nil {
		t.Fatalf("direct conversation kept group fields: %+v", direct)
	}
	if direct.OtherUser == nil || direct.OtherUser == other {
		t.Fatalf("expected copied other user, got %+v", direct.OtherUser)
	}
	if direct.DisplayName() != "bob" {
		t.Errorf("DisplayName = %q, want bob", direct.DisplayName())
	}

	group := Conversation{
		ID:           "c2",
		IsGroup:      true,
		OtherUser:    other,
		Participants: []Profile{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}},
	}.Normalize(SourceCache)

	if group.OtherUser != nil {
		t.Fatalf("group conversation kept other user")
	}
	if group.DisplayName() != "Group Chat" {
		t.Errorf("DisplayName = %q, want Group Chat", group.DisplayName())
	}
	if group.ParticipantCount() != 3 {
		t.Errorf("ParticipantCount = %d, want 3", group.ParticipantCount())
	}
	if group.Source != SourceCache {
		t.Errorf("Source = %q, want cache", group.Source)
	}
}

func TestMessageNormalize(t *testing.T) {
	msg := Message{
		ID:         "m1",
		Attachment: &Attachment{Name: "a.bin", Kind: "video", URL: "https://x/a.bin"},
	}.Normalize(SourceLive)

	if msg.Sender.Username != UnknownUsername {
		t.Errorf("Sender.Username = %q, want %q", msg.Sender.Username, UnknownUsername)
	}
	if msg.Attachment != nil {
		t.Errorf("expected invalid attachment to be dropped, got %+v", msg.Attachment)
	}

	ok := Message{
		ID:         "m2",
		Sender:     Sender{Username: "alice"},
		Attachment: &Attachment{Name: "p.png", Kind: AttachmentImage, URL: "https://x/p.png"},
	}.Normalize(SourceRemote)
	if ok.Attachment == nil || ok.Attachment.Kind != AttachmentImage {
		t.Fatalf("expected image attachment to survive, got %+v", ok.Attachment)
	}
}

func TestSortMessagesStableOnTies(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", CreatedAt: base.Add(2 * time.Second)},
		{ID: "a1", CreatedAt: base},
		{ID: "a2", CreatedAt: base},
		{ID: "b", CreatedAt: base.Add(time.Second)},
	}
	SortMessages(msgs)

	want := []string{"a1", "a2", "b", "c"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, msgs[i].ID, id)
		}
	}
}

func TestFilterConversations(t *testing.T) {
	convs := []Conversation{
		{ID: "1", OtherUser: &Profile{Username: "Alice Johnson"}},
		{ID: "2", IsGroup: true, Name: "Team Chat"},
		{ID: "3", OtherUser: &Profile{Username: "Bob Smith"}},
	}

	tests := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{"1", "2", "3"}},
		{query: "ali", want: []string{"1"}},
		{query: "TEAM", want: []string{"2"}},
		{query: "s", want: []string{"1", "3"}},
		{query: "zzz", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := FilterConversations(convs, tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d conversations, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("position %d: got %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestAppendUnique(t *testing.T) {
	msgs := []Message{{ID: "m1"}}
	msgs, added := AppendUnique(msgs, Message{ID: "m1"})
	if added || len(msgs) != 1 {
		t.Fatalf("duplicate was appended")
	}
	msgs, added = AppendUnique(msgs, Message{ID: "m2"})
	if !added || len(msgs) != 2 {
		t.Fatalf("new message was not appended")
	}
}
