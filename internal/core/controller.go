package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/metrics"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

// DemoSource provides conversations that exist only in this session.
type DemoSource interface {
	Conversations() []model.Conversation
	Conversation(id string) (model.Conversation, bool)
	Messages(id string) []model.Message
}

// Options configures a Controller.
type Options struct {
	Cache    *cache.Handle
	Remote   remote.Store
	Identity remote.Identity
	// Demo is optional; nil disables demo conversations.
	Demo DemoSource
	// PersistLive mirrors change-feed messages into the cache after reconciliation.
	PersistLive bool
	Logger      *zerolog.Logger
	Metrics     *metrics.Metrics
	Clock       func() time.Time
}

// selection is the loop-owned state of the active conversation.
type selection struct {
	generation     uint64
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc
	sub            remote.Subscription
	demo           bool

	remoteSettled bool
	reconciled    bool
	buffered      []model.Message
}

// Controller is the conversation sync controller. All view state is owned by the
// Run loop; public methods talk to it over channels.
type Controller struct {
	cache       *cache.Handle
	remote      remote.Store
	identity    remote.Identity
	demo        DemoSource
	persistLive bool
	log         *zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	commands chan command
	events   chan event
	writer   *cacheWriter
	done     chan struct{}

	// loop-owned
	generation uint64
	sel        *selection
	view       View

	mu       sync.RWMutex
	snapshot View
	watchers map[chan View]struct{}
}

// New creates a controller. Call Run to start it.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := opts.Cache
	if h == nil {
		h = cache.NewHandle(nil, "", logger, opts.Metrics)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	idle := View{State: StateIdle, Messages: []model.Message{}}
	return &Controller{
		cache:       h,
		remote:      opts.Remote,
		identity:    opts.Identity,
		demo:        opts.Demo,
		persistLive: opts.PersistLive,
		log:         logger,
		metrics:     opts.Metrics,
		now:         now,
		commands:    make(chan command),
		events:      make(chan event, 64),
		writer:      newCacheWriter(h, logger),
		done:        make(chan struct{}),
		view:        idle,
		snapshot:    idle,
		watchers:    make(map[chan View]struct{}),
	}
}

// Run processes commands and I/O results until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	go c.writer.run()
	defer close(c.done)
	defer c.writer.close()
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("sync controller stopping")
			return
		case cmd := <-c.commands:
			c.handleCommand(cmd)
		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

// ==== public API ====

func (c *Controller) exec(ctx context.Context, cmd command) (commandResult, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case c.commands <- cmd:
	case <-c.done:
		return commandResult{}, ErrClosed
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-c.done:
		return commandResult{}, ErrClosed
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// Select opens conversationID and returns the selection generation.
func (c *Controller) Select(ctx context.Context, conversationID string) (uint64, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, fmt.Errorf("select: %w", ErrNoConversation)
	}
	res, err := c.exec(ctx, command{kind: CommandSelect, conversationID: conversationID})
	return res.generation, err
}

// Deselect closes the view and releases the change-feed subscription before returning.
func (c *Controller) Deselect(ctx context.Context) error {
	_, err := c.exec(ctx, command{kind: CommandDeselect})
	return err
}

// Send submits the draft to the selected conversation and waits for the outcome.
// The message itself reaches the view through the change feed.
func (c *Controller) Send(ctx context.Context, d Draft) (*model.Message, error) {
	d.Content = strings.TrimSpace(d.Content)
	if d.Empty() {
		return nil, ErrEmptyMessage
	}
	res, err := c.exec(ctx, command{kind: CommandSend, draft: d})
	return res.message, err
}

// RefreshMetadata refetches the selected conversation's metadata in the background.
func (c *Controller) RefreshMetadata(ctx context.Context) error {
	_, err := c.exec(ctx, command{kind: CommandRefreshMetadata})
	return err
}

// RefreshConversation refetches metadata if conversationID is the one on screen.
// It is a no-op for any other conversation.
func (c *Controller) RefreshConversation(ctx context.Context, conversationID string) error {
	_, err := c.exec(ctx, command{kind: CommandRefreshMetadata, conversationID: conversationID})
	if errors.Is(err, ErrNoConversation) {
		return nil
	}
	return err
}

// View returns the latest snapshot.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.clone()
}

// Watch streams snapshots. Slow watchers only see the latest one. Call the returned func to stop.
func (c *Controller) Watch() (<-chan View, func()) {
	ch := make(chan View, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	ch <- c.snapshot.clone()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, ch)
			c.mu.Unlock()
		})
	}
}

// FlushCache waits for queued cache writes to be applied.
func (c *Controller) FlushCache(ctx context.Context) error {
	return c.writer.flush(ctx)
}

// ClearCache empties the local cache after pending writes. Cache faults are logged, never returned.
func (c *Controller) ClearCache(ctx context.Context) error {
	done := make(chan struct{})
	c.writer.enqueue(writeOp{kind: writeClearAll, done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ==== loop ====

func (c *Controller) publish() {
	c.metrics.ViewMessages(len(c.view.Messages))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = c.view.clone()
	for ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- c.snapshot.clone()
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case CommandSelect:
		gen := c.selectConversation(cmd.conversationID)
		cmd.reply <- commandResult{generation: gen}
	case CommandDeselect:
		c.teardown()
		c.view = View{Generation: c.generation, State: StateIdle, Messages: []model.Message{}}
		c.publish()
		cmd.reply <- commandResult{generation: c.generation}
	case CommandSend:
		c.send(cmd)
	case CommandRefreshMetadata:
		if c.sel == nil {
			cmd.reply <- commandResult{err: ErrNoConversation}
			return
		}
		if cmd.conversationID != "" && cmd.conversationID != c.sel.conversationID {
			cmd.reply <- commandResult{generation: c.sel.generation}
			return
		}
		if !c.sel.demo {
			c.fetchMetadata(c.sel)
		}
		cmd.reply <- commandResult{generation: c.sel.generation}
	default:
		cmd.reply <- commandResult{err: fmt.Errorf("unknown command %d", cmd.kind)}
	}
}

// teardown releases the active selection. In-flight fetches are not cancelled
// at the network level; their results are dropped by generation.
func (c *Controller) teardown() {
	if c.sel == nil {
		return
	}
	c.sel.cancel()
	if c.sel.sub != nil {
		if err := c.sel.sub.Close(); err != nil {
			c.log.Warn().Err(err).Str("conversation_id", c.sel.conversationID).Msg("failed to close change feed")
		}
	}
	c.sel = nil
}

func (c *Controller) selectConversation(conversationID string) uint64 {
	c.teardown()
	c.generation++

	ctx, cancel := context.WithCancel(context.Background())
	sel := &selection{
		generation:     c.generation,
		conversationID: conversationID,
		ctx:            ctx,
		cancel:         cancel,
	}
	c.sel = sel

	log := c.log.With().Str("conversation_id", conversationID).Uint64("generation", sel.generation).Logger()

	if c.demo != nil {
		if conv, ok := c.demo.Conversation(conversationID); ok {
			sel.demo = true
			sel.remoteSettled = true
			sel.reconciled = true
			conv = conv.Normalize(model.SourceDemo)
			c.view = View{
				Generation:     sel.generation,
				ConversationID: conversationID,
				State:          StateLive,
				Conversation:   &conv,
				Messages:       c.demo.Messages(conversationID),
				Demo:           true,
			}
			c.publish()
			log.Debug().Msg("demo conversation selected")
			return sel.generation
		}
	}

	c.view = View{
		Generation:     sel.generation,
		ConversationID: conversationID,
		State:          StateCacheLoading,
		Messages:       []model.Message{},
		Loading:        true,
	}
	c.publish()

	// The cache read is issued first; completion order is not assumed.
	c.loadCache(sel)
	c.fetchMessages(sel)
	c.fetchMetadata(sel)
	c.subscribe(sel)

	log.Debug().Msg("conversation selected")
	return sel.generation
}

// post delivers an I/O result unless the selection was torn down meanwhile.
func (c *Controller) post(sel *selection, ev event) {
	select {
	case c.events <- ev:
	case <-sel.ctx.Done():
		c.metrics.StaleResult(ev.kind.String())
	case <-c.done:
	}
}

func (c *Controller) loadCache(sel *selection) {
	go func() {
		msgs, err := c.cache.MessagesByConversation(sel.ctx, sel.conversationID)
		c.post(sel, event{kind: eventCacheLoaded, generation: sel.generation, conversationID: sel.conversationID, messages: msgs, err: err})
	}()
}

func (c *Controller) fetchMessages(sel *selection) {
	if c.remote == nil {
		go c.post(sel, event{kind: eventRemoteMessages, generation: sel.generation, conversationID: sel.conversationID, err: remote.ErrQueryFailed})
		return
	}
	go func() {
		msgs, err := c.remote.Messages(sel.ctx, sel.conversationID)
		c.post(sel, event{kind: eventRemoteMessages, generation: sel.generation, conversationID: sel.conversationID, messages: msgs, err: err})
	}()
}

func (c *Controller) fetchMetadata(sel *selection) {
	if c.remote == nil {
		return
	}
	go func() {
		conv, err := c.remote.Conversation(sel.ctx, sel.conversationID)
		c.post(sel, event{kind: eventRemoteMetadata, generation: sel.generation, conversationID: sel.conversationID, conversation: conv, err: err})
	}()
}

func (c *Controller) subscribe(sel *selection) {
	if c.remote == nil {
		return
	}
	go func() {
		handler := func(m model.Message) {
			c.post(sel, event{kind: eventLive, generation: sel.generation, conversationID: sel.conversationID, message: m})
		}
		sub, err := c.remote.Subscribe(sel.ctx, sel.conversationID, handler)
		ev := event{kind: eventSubscribed, generation: sel.generation, conversationID: sel.conversationID, sub: sub, err: err}
		select {
		case c.events <- ev:
		case <-c.done:
			if sub != nil {
				_ = sub.Close()
			}
		}
	}()
}

func (c *Controller) current(ev event) bool {
	return c.sel != nil && ev.generation == c.sel.generation
}

func (c *Controller) handleEvent(ev event) {
	if ev.kind == eventSendDone {
		c.finishSend(ev)
		return
	}
	if !c.current(ev) {
		if ev.kind == eventSubscribed && ev.sub != nil {
			// Superseded before the subscription was installed.
			if err := ev.sub.Close(); err != nil {
				c.log.Warn().Err(err).Msg("failed to close superseded change feed")
			}
		}
		c.metrics.StaleResult(ev.kind.String())
		c.log.Debug().
			Str("kind", ev.kind.String()).
			Str("conversation_id", ev.conversationID).
			Uint64("generation", ev.generation).
			Msg("discarding stale result")
		return
	}

	switch ev.kind {
	case eventCacheLoaded:
		c.applyCache(ev)
	case eventRemoteMessages:
		c.applyRemote(ev)
	case eventRemoteMetadata:
		c.applyMetadata(ev)
	case eventSubscribed:
		c.applySubscription(ev)
	case eventLive:
		c.applyLive(ev)
	case eventFeed:
		c.applyFeed(ev)
	}
}

func (c *Controller) applyCache(ev event) {
	sel := c.sel
	if sel.reconciled {
		c.metrics.StaleResult("late_cache")
		c.log.Debug().Str("conversation_id", sel.conversationID).Msg("discarding cache result after reconciliation")
		return
	}
	if ev.err != nil && !errors.Is(ev.err, cache.ErrStorageUnavailable) {
		c.log.Warn().Err(ev.err).Str("conversation_id", sel.conversationID).Msg("cache read failed")
	}

	if ev.err != nil || len(ev.messages) == 0 {
		if !sel.remoteSettled {
			c.view.State = StateRemoteReconciling
			c.publish()
		}
		return
	}

	msgs := model.CloneMessages(ev.messages)
	model.SortMessages(msgs)
	// After a failed remote load the view may already hold live messages.
	for _, m := range c.view.Messages {
		msgs, _ = model.AppendUnique(msgs, m)
	}
	c.view.Messages = msgs
	c.view.Partial = true
	if !sel.remoteSettled {
		c.view.State = StateCacheLoaded
	}
	c.publish()
}

func (c *Controller) applyRemote(ev event) {
	sel := c.sel
	sel.remoteSettled = true
	c.view.Loading = false
	c.view.State = StateLive

	if ev.err != nil {
		c.log.Warn().Err(ev.err).Str("conversation_id", sel.conversationID).Msg("failed to load messages")
		c.view.Error = coreError(ErrCodeLoadFailed, "could not load messages")
		c.view.Partial = true
		for _, m := range sel.buffered {
			c.view.Messages, _ = model.AppendUnique(c.view.Messages, m)
		}
		sel.buffered = nil
		c.publish()
		return
	}

	sel.reconciled = true
	authoritative := model.CloneMessages(ev.messages)
	if authoritative == nil {
		authoritative = []model.Message{}
	}
	c.writer.enqueue(writeOp{kind: writeReplace, conversationID: sel.conversationID, messages: model.CloneMessages(authoritative)})

	msgs := authoritative
	for _, m := range sel.buffered {
		var added bool
		msgs, added = model.AppendUnique(msgs, m)
		if added {
			c.metrics.LiveEvent("merged")
			if c.persistLive {
				c.writer.enqueue(writeOp{kind: writeUpsertMessage, conversationID: sel.conversationID, message: m})
			}
		} else {
			c.metrics.LiveEvent("duplicate")
		}
	}
	sel.buffered = nil

	c.view.Messages = msgs
	c.view.Partial = false
	if c.view.Error != nil && c.view.Error.Code == ErrCodeLoadFailed {
		c.view.Error = nil
	}
	c.publish()

	c.log.Debug().
		Str("conversation_id", sel.conversationID).
		Int("count", len(msgs)).
		Msg("conversation reconciled")
}

func (c *Controller) applyMetadata(ev event) {
	if ev.err != nil {
		c.log.Warn().Err(ev.err).Str("conversation_id", ev.conversationID).Msg("failed to load conversation metadata")
		return
	}
	conv := ev.conversation.Normalize(model.SourceRemote)
	c.view.Conversation = &conv
	c.writer.enqueue(writeOp{kind: writeUpsertConversation, conversationID: conv.ID, conversation: conv})
	c.publish()
}

func (c *Controller) applySubscription(ev event) {
	if ev.err != nil {
		c.log.Warn().Err(ev.err).Str("conversation_id", ev.conversationID).Msg("change feed unavailable")
		return
	}
	sel := c.sel
	sel.sub = ev.sub

	// Ends when teardown closes the subscription.
	if w, ok := ev.sub.(remote.FeedWatcher); ok {
		go func() {
			for fe := range w.FeedEvents() {
				c.post(sel, event{kind: eventFeed, generation: sel.generation, conversationID: sel.conversationID, feed: fe})
			}
		}()
	}
}

// applyFeed surfaces a lost change feed and, once it is back, refetches the
// conversation so inserts missed in between are reconciled. Live events that
// arrive during the refetch are buffered as on first load.
func (c *Controller) applyFeed(ev event) {
	sel := c.sel
	log := c.log.With().Str("conversation_id", sel.conversationID).Logger()

	if !ev.feed.Connected {
		log.Warn().Err(ev.feed.Err).Msg("change feed lost")
		c.metrics.LiveEvent("feed_lost")
		c.view.Error = coreError(ErrCodeFeedLost, "live updates interrupted, reconnecting")
		c.publish()
		return
	}

	log.Info().Msg("change feed restored, refetching messages")
	c.metrics.LiveEvent("feed_restored")
	if c.view.Error != nil && c.view.Error.Code == ErrCodeFeedLost {
		c.view.Error = nil
		c.publish()
	}
	if !sel.remoteSettled {
		// The initial load is still in flight and will reconcile.
		return
	}
	sel.remoteSettled = false
	c.fetchMessages(sel)
}

func (c *Controller) applyLive(ev event) {
	sel := c.sel
	msg := ev.message.Normalize(model.SourceLive)
	if msg.ConversationID != sel.conversationID {
		c.metrics.LiveEvent("foreign")
		return
	}

	if !sel.remoteSettled {
		if model.IndexOf(sel.buffered, msg.ID) >= 0 {
			c.metrics.LiveEvent("duplicate")
			return
		}
		sel.buffered = append(sel.buffered, msg)
		c.metrics.LiveEvent("buffered")
		return
	}

	var added bool
	c.view.Messages, added = model.AppendUnique(c.view.Messages, msg)
	if !added {
		c.metrics.LiveEvent("duplicate")
		return
	}
	c.metrics.LiveEvent("appended")
	if c.persistLive && sel.reconciled {
		c.writer.enqueue(writeOp{kind: writeUpsertMessage, conversationID: sel.conversationID, message: msg})
	}
	c.publish()
}
