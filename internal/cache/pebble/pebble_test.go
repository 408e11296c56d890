package pebble

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/cache/cachetest"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "pebble"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStoreConformance(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Store {
		return newTestStore(t)
	})
}

func TestInsertionOrderSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pebble")
	ctx := context.Background()

	first := New(dir)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.UpsertMessage(ctx, cachetest.Msg("a", "c1", time.Second)))
	require.NoError(t, first.Close())

	second := New(dir)
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() { _ = second.Close() })

	require.NoError(t, second.UpsertMessage(ctx, cachetest.Msg("b", "c1", time.Second)))
	msgs, err := second.MessagesByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, "b", msgs[1].ID)
}

func TestMessageMovedBetweenConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMessage(ctx, cachetest.Msg("m1", "c1", 0)))
	moved := cachetest.Msg("m1", "c2", 0)
	require.NoError(t, s.UpsertMessage(ctx, moved))

	old, err := s.MessagesByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, old)

	got, err := s.MessagesByConversation(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestPreEpochTimestampsOrderFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	early := cachetest.Msg("early", "c1", 0)
	early.CreatedAt = time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMessages(ctx, []model.Message{cachetest.Msg("late", "c1", 0), early}))

	got, err := s.MessagesByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "early", got[0].ID)
}

func TestInitFailsWhenPathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o600))

	s := New(path)
	require.ErrorIs(t, s.Init(context.Background()), cache.ErrStorageUnavailable)
}
