package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/metrics"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

// Handle is the single shared access point to a cache driver.
// Initialization runs once on first use; every caller observes the same outcome.
type Handle struct {
	store   Store
	driver  string
	log     *zerolog.Logger
	metrics *metrics.Metrics

	once    sync.Once
	initErr error
}

// NewHandle wraps store. store may be nil when the driver could not even be constructed;
// the handle then reports ErrStorageUnavailable on every call.
func NewHandle(store Store, driver string, logger *zerolog.Logger, m *metrics.Metrics) *Handle {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Handle{
		store:   store,
		driver:  driver,
		log:     logger,
		metrics: m,
	}
}

// Driver returns the configured driver name.
func (h *Handle) Driver() string {
	return h.driver
}

// InitTimeout bounds the one-time driver initialization.
const InitTimeout = 15 * time.Second

// Ready initializes the store on first call and returns the shared result.
// Initialization does not inherit the caller's cancellation: the outcome is
// memoized for every later caller, so it must not depend on who came first.
func (h *Handle) Ready(ctx context.Context) error {
	h.once.Do(func() {
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), InitTimeout)
		defer cancel()

		if h.store == nil {
			h.initErr = Unavailable(errors.New("no cache driver"))
		} else if err := h.store.Init(initCtx); err != nil {
			if errors.Is(err, ErrStorageUnavailable) {
				h.initErr = err
			} else {
				h.initErr = Unavailable(err)
			}
		}
		if h.initErr != nil {
			h.log.Warn().Err(h.initErr).Str("driver", h.driver).Msg("local cache unavailable, continuing remote-only")
		} else {
			h.log.Debug().Str("driver", h.driver).Msg("local cache initialized")
		}
	})
	return h.initErr
}

// Available reports whether initialization succeeded.
func (h *Handle) Available(ctx context.Context) bool {
	return h.Ready(ctx) == nil
}

func (h *Handle) record(op string, err error) error {
	h.metrics.CacheOp(op, err, ErrStorageUnavailable)
	return err
}

// UpsertConversation stores conv.
func (h *Handle) UpsertConversation(ctx context.Context, conv model.Conversation) error {
	if err := h.Ready(ctx); err != nil {
		return h.record("upsert_conversation", err)
	}
	return h.record("upsert_conversation", h.store.UpsertConversation(ctx, conv))
}

// Conversations returns every cached conversation.
func (h *Handle) Conversations(ctx context.Context) ([]model.Conversation, error) {
	if err := h.Ready(ctx); err != nil {
		return nil, h.record("conversations", err)
	}
	convs, err := h.store.Conversations(ctx)
	return convs, h.record("conversations", err)
}

// UpsertMessage stores msg.
func (h *Handle) UpsertMessage(ctx context.Context, msg model.Message) error {
	if err := h.Ready(ctx); err != nil {
		return h.record("upsert_message", err)
	}
	return h.record("upsert_message", h.store.UpsertMessage(ctx, msg))
}

// UpsertMessages stores msgs.
func (h *Handle) UpsertMessages(ctx context.Context, msgs []model.Message) error {
	if err := h.Ready(ctx); err != nil {
		return h.record("upsert_messages", err)
	}
	return h.record("upsert_messages", h.store.UpsertMessages(ctx, msgs))
}

// MessagesByConversation returns cached messages ascending by creation time.
func (h *Handle) MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if err := h.Ready(ctx); err != nil {
		return nil, h.record("messages_by_conversation", err)
	}
	msgs, err := h.store.MessagesByConversation(ctx, conversationID)
	return msgs, h.record("messages_by_conversation", err)
}

// ReplaceConversationMessages overwrites the cached messages of a conversation.
func (h *Handle) ReplaceConversationMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	if err := h.Ready(ctx); err != nil {
		return h.record("replace_messages", err)
	}
	return h.record("replace_messages", h.store.ReplaceConversationMessages(ctx, conversationID, msgs))
}

// Prune runs one eviction pass.
func (h *Handle) Prune(ctx context.Context, policy PrunePolicy) (PruneResult, error) {
	if err := h.Ready(ctx); err != nil {
		return PruneResult{}, h.record("prune", err)
	}
	res, err := h.store.Prune(ctx, policy)
	if err == nil {
		h.metrics.Pruned(res.Messages, res.Conversations)
	}
	return res, h.record("prune", err)
}

// Stats reports cache contents.
func (h *Handle) Stats(ctx context.Context) (Stats, error) {
	if err := h.Ready(ctx); err != nil {
		return Stats{}, h.record("stats", err)
	}
	st, err := h.store.Stats(ctx)
	return st, h.record("stats", err)
}

// ClearAll empties the cache. It is best-effort: faults are logged, never returned.
func (h *Handle) ClearAll(ctx context.Context) {
	if err := h.Ready(ctx); err != nil {
		h.record("clear_all", err)
		return
	}
	if err := h.record("clear_all", h.store.ClearAll(ctx)); err != nil {
		h.log.Warn().Err(err).Str("driver", h.driver).Msg("failed to clear local cache")
		return
	}
	h.log.Info().Str("driver", h.driver).Msg("local cache cleared")
}

// Close releases the driver.
func (h *Handle) Close() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}
