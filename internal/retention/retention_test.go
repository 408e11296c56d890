package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/cache/cachetest"
	"github.com/vovakirdan/wirechat-client/internal/cache/memory"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

type blockingPruner struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	calls   int
}

func (b *blockingPruner) Prune(_ context.Context, _ cache.PrunePolicy) (cache.PruneResult, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	close(b.entered)
	<-b.release
	return cache.PruneResult{Messages: 1}, nil
}

func TestNewRejectsInvalidCron(t *testing.T) {
	if _, err := New(memory.New(), Policy{}, "not a cron", nil); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
}

func TestNewDefaultsCron(t *testing.T) {
	m, err := New(memory.New(), Policy{}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ref := time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC)
	next, err := m.NextRun(ref)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	want := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next)
	}
}

func TestPolicyResolvesCutoff(t *testing.T) {
	now := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		policy Policy
		before time.Time
		max    int
	}{
		{"age and capacity", Policy{MaxAge: 30 * 24 * time.Hour, MaxMessagesPerConversation: 500}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 500},
		{"capacity only", Policy{MaxMessagesPerConversation: 10}, time.Time{}, 10},
		{"disabled", Policy{}, time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pp := tt.policy.PrunePolicy(now)
			if !pp.Before.Equal(tt.before) {
				t.Fatalf("expected cutoff %v, got %v", tt.before, pp.Before)
			}
			if pp.MaxMessagesPerConversation != tt.max {
				t.Fatalf("expected max %d, got %d", tt.max, pp.MaxMessagesPerConversation)
			}
		})
	}
}

func TestRunOnceEvictsFromCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if err := store.UpsertMessages(ctx, []model.Message{
		cachetest.Msg("old", "c1", -48*time.Hour),
		cachetest.Msg("a", "c1", 0),
		cachetest.Msg("b", "c1", time.Second),
		cachetest.Msg("c", "c1", 2*time.Second),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	m, err := New(store, Policy{MaxAge: 24 * time.Hour, MaxMessagesPerConversation: 2}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m.now = func() time.Time { return cachetest.Base.Add(time.Hour) }

	res, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Messages != 2 {
		t.Fatalf("expected 2 evicted messages, got %d", res.Messages)
	}

	left, err := store.MessagesByConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(left) != 2 || left[0].ID != "b" || left[1].ID != "c" {
		t.Fatalf("unexpected remaining messages: %+v", left)
	}
}

func TestRunOnceWrapsUnavailableCache(t *testing.T) {
	h := cache.NewHandle(nil, cache.DriverMemory, nil, nil)
	m, err := New(h, Policy{MaxMessagesPerConversation: 1}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.RunOnce(context.Background()); !errors.Is(err, cache.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestRunOnceSkipsOverlappingRuns(t *testing.T) {
	p := &blockingPruner{entered: make(chan struct{}), release: make(chan struct{})}
	m, err := New(p, Policy{MaxMessagesPerConversation: 1}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.RunOnce(context.Background())
		done <- err
	}()
	<-p.entered

	if _, err := m.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(p.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 prune call, got %d", p.calls)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	m, err := New(memory.New(), Policy{}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
