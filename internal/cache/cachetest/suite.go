// Package cachetest holds the behavioural suite every cache driver must pass.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

// Factory returns a fresh, initialized store. The factory owns cleanup.
type Factory func(t *testing.T) cache.Store

// Base is the fixed creation time Msg offsets from.
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Msg builds a message in conversation conv created offset after a fixed Base time.
func Msg(id, conv string, offset time.Duration) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "u-" + id,
		Content:        "content " + id,
		CreatedAt:      Base.Add(offset),
		Sender:         model.Sender{Username: "user " + id},
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InitIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(context.Background()))
		require.NoError(t, s.Init(context.Background()))
	})

	t.Run("MessagesSortedAscendingWithInsertionTieBreak", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertMessages(ctx, []model.Message{
			Msg("m3", "c1", 3*time.Second),
			Msg("m1", "c1", time.Second),
			Msg("tie-a", "c1", 2*time.Second),
			Msg("tie-b", "c1", 2*time.Second),
			Msg("other", "c2", 0),
		}))
		require.NoError(t, s.UpsertMessage(ctx, Msg("m0", "c1", 0)))

		got, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []string{"m0", "m1", "tie-a", "tie-b", "m3"}, ids(got))
		for i := 1; i < len(got); i++ {
			require.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt), "messages out of order at %d", i)
		}

		empty, err := s.MessagesByConversation(ctx, "missing")
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("UpsertMessagesIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		batch := []model.Message{
			Msg("a", "c1", 0),
			Msg("b", "c1", time.Second),
			Msg("c", "c1", time.Second),
		}

		require.NoError(t, s.UpsertMessages(ctx, batch))
		first, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)

		require.NoError(t, s.UpsertMessages(ctx, batch))
		second, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)

		require.Equal(t, ids(first), ids(second))
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, stats.Messages)
	})

	t.Run("UpsertMessageOverwritesByID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		original := Msg("m1", "c1", 0)
		require.NoError(t, s.UpsertMessage(ctx, original))

		edited := original
		edited.Content = "edited"
		edited.Attachment = &model.Attachment{Name: "doc.pdf", Kind: model.AttachmentDocument, URL: "https://files/doc.pdf"}
		require.NoError(t, s.UpsertMessage(ctx, edited))

		got, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "edited", got[0].Content)
		require.Equal(t, "user m1", got[0].Sender.Username)
		require.NotNil(t, got[0].Attachment)
		require.Equal(t, model.AttachmentDocument, got[0].Attachment.Kind)
		require.True(t, got[0].CreatedAt.Equal(original.CreatedAt))
		require.Equal(t, model.SourceCache, got[0].Source)
	})

	t.Run("ConversationsUpsertAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		direct := model.Conversation{
			ID:        "c1",
			UpdatedAt: Base,
			OtherUser: &model.Profile{ID: "u2", Username: "bob", Status: "online"},
			LastMessage: &model.MessageSummary{
				Content:        "hi",
				CreatedAt:      Base,
				SenderUsername: "bob",
			},
		}
		group := model.Conversation{
			ID:           "c2",
			Name:         "Team",
			IsGroup:      true,
			UpdatedAt:    Base.Add(time.Minute),
			Participants: []model.Profile{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}},
			Labels:       []model.Label{{ID: "l1", Name: "work", Color: "#3B82F6"}},
		}
		require.NoError(t, s.UpsertConversation(ctx, direct))
		require.NoError(t, s.UpsertConversation(ctx, group))

		group.Name = "Team renamed"
		require.NoError(t, s.UpsertConversation(ctx, group))

		convs, err := s.Conversations(ctx)
		require.NoError(t, err)
		require.Len(t, convs, 2)
		model.SortConversations(convs)

		require.Equal(t, "c2", convs[0].ID)
		require.Equal(t, "Team renamed", convs[0].Name)
		require.Len(t, convs[0].Participants, 2)
		require.Len(t, convs[0].Labels, 1)
		require.Equal(t, "c1", convs[1].ID)
		require.NotNil(t, convs[1].OtherUser)
		require.Equal(t, "bob", convs[1].OtherUser.Username)
		require.NotNil(t, convs[1].LastMessage)
		require.Equal(t, "hi", convs[1].LastMessage.Content)
	})

	t.Run("ReplaceEvictsStaleEntries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertMessages(ctx, []model.Message{
			Msg("stale-1", "c1", 0),
			Msg("keep", "c1", time.Second),
			Msg("untouched", "c2", 0),
		}))

		remote := []model.Message{
			Msg("keep", "c1", time.Second),
			Msg("new-1", "c1", 2*time.Second),
			Msg("new-2", "c1", 3*time.Second),
		}
		require.NoError(t, s.ReplaceConversationMessages(ctx, "c1", remote))

		got, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []string{"keep", "new-1", "new-2"}, ids(got))

		other, err := s.MessagesByConversation(ctx, "c2")
		require.NoError(t, err)
		require.Equal(t, []string{"untouched"}, ids(other))

		require.NoError(t, s.ReplaceConversationMessages(ctx, "c1", nil))
		got, err = s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("ClearAllEmptiesBothCollections", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertConversation(ctx, model.Conversation{ID: "c1", UpdatedAt: Base}))
		require.NoError(t, s.UpsertMessage(ctx, Msg("m1", "c1", 0)))
		require.NoError(t, s.ClearAll(ctx))

		convs, err := s.Conversations(ctx)
		require.NoError(t, err)
		require.Empty(t, convs)
		msgs, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Empty(t, msgs)

		require.NoError(t, s.UpsertMessage(ctx, Msg("m2", "c1", 0)))
		msgs, err = s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []string{"m2"}, ids(msgs))
	})

	t.Run("PruneByAge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertConversation(ctx, model.Conversation{ID: "old-empty", UpdatedAt: Base.Add(-48 * time.Hour)}))
		require.NoError(t, s.UpsertConversation(ctx, model.Conversation{ID: "c1", UpdatedAt: Base.Add(-48 * time.Hour)}))
		require.NoError(t, s.UpsertMessages(ctx, []model.Message{
			Msg("old", "c1", -36*time.Hour),
			Msg("fresh", "c1", 0),
		}))

		res, err := s.Prune(ctx, cache.PrunePolicy{Before: Base.Add(-24 * time.Hour)})
		require.NoError(t, err)
		require.Equal(t, 1, res.Messages)
		require.Equal(t, 1, res.Conversations)

		msgs, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []string{"fresh"}, ids(msgs))

		convs, err := s.Conversations(ctx)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		require.Equal(t, "c1", convs[0].ID)
	})

	t.Run("PruneByCapacity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertMessages(ctx, []model.Message{
			Msg("a", "c1", 0),
			Msg("b", "c1", time.Second),
			Msg("c", "c1", 2*time.Second),
			Msg("d", "c1", 3*time.Second),
			Msg("x", "c2", 0),
		}))

		res, err := s.Prune(ctx, cache.PrunePolicy{MaxMessagesPerConversation: 2})
		require.NoError(t, err)
		require.Equal(t, 2, res.Messages)

		msgs, err := s.MessagesByConversation(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []string{"c", "d"}, ids(msgs))

		other, err := s.MessagesByConversation(ctx, "c2")
		require.NoError(t, err)
		require.Equal(t, []string{"x"}, ids(other))
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertConversation(ctx, model.Conversation{ID: "c1", UpdatedAt: Base}))
		require.NoError(t, s.UpsertMessages(ctx, []model.Message{Msg("a", "c1", 0), Msg("b", "c1", 0)}))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Conversations)
		require.Equal(t, 2, stats.Messages)
		require.GreaterOrEqual(t, stats.SizeBytes, int64(0))
	})
}
