package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

const cacheWriteTimeout = 5 * time.Second

type writeKind int

const (
	writeReplace writeKind = iota
	writeUpsertMessage
	writeUpsertConversation
	writeClearAll
	writeBarrier
)

type writeOp struct {
	kind           writeKind
	conversationID string
	messages       []model.Message
	message        model.Message
	conversation   model.Conversation
	done           chan struct{}
}

// cacheWriter applies cache writes one at a time in enqueue order, so a live
// upsert never lands before the authoritative replace issued ahead of it.
// The queue is unbounded; enqueue never blocks the caller.
type cacheWriter struct {
	cache *cache.Handle
	log   *zerolog.Logger

	mu      sync.Mutex
	queue   []writeOp
	stopped bool
	wake    chan struct{}
	stop    chan struct{}
	exited  chan struct{}
}

func newCacheWriter(h *cache.Handle, logger *zerolog.Logger) *cacheWriter {
	return &cacheWriter{
		cache:  h,
		log:    logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (w *cacheWriter) enqueue(op writeOp) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		if op.done != nil {
			close(op.done)
		}
		return false
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// flush waits until every write enqueued before the call has been applied.
func (w *cacheWriter) flush(ctx context.Context) error {
	done := make(chan struct{})
	w.enqueue(writeOp{kind: writeBarrier, done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *cacheWriter) run() {
	defer close(w.exited)
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, op := range batch {
			w.apply(op)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-w.wake:
		case <-w.stop:
			w.mu.Lock()
			w.stopped = true
			rest := w.queue
			w.queue = nil
			w.mu.Unlock()
			for _, op := range rest {
				w.apply(op)
			}
			return
		}
	}
}

func (w *cacheWriter) close() {
	close(w.stop)
	<-w.exited
}

func (w *cacheWriter) apply(op writeOp) {
	if op.done != nil {
		defer close(op.done)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()

	var err error
	switch op.kind {
	case writeReplace:
		err = w.cache.ReplaceConversationMessages(ctx, op.conversationID, op.messages)
	case writeUpsertMessage:
		err = w.cache.UpsertMessage(ctx, op.message)
	case writeUpsertConversation:
		err = w.cache.UpsertConversation(ctx, op.conversation)
	case writeClearAll:
		w.cache.ClearAll(ctx)
	case writeBarrier:
	}
	if err == nil {
		return
	}

	ev := w.log.Warn()
	if errors.Is(err, cache.ErrStorageUnavailable) {
		ev = w.log.Debug()
	}
	ev.Err(err).Str("conversation_id", op.conversationID).Msg("cache write skipped")
}
