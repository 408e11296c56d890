package wirechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

// feed is a change feed joined to a single conversation. A dropped connection
// is re-dialed with backoff until Close.
type feed struct {
	client         *Client
	conversationID string
	handler        remote.Handler
	events         chan remote.FeedEvent

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ remote.FeedWatcher = (*feed)(nil)

func (c *Client) wsURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/ws"
	return u.String()
}

// Subscribe opens a change feed for inserts into conversationID.
// The handler runs on the feed's read goroutine. The first connection is
// established before Subscribe returns; later losses are reported through FeedEvents.
func (c *Client) Subscribe(ctx context.Context, conversationID string, h remote.Handler) (_ remote.Subscription, err error) {
	defer func() { c.metrics.RemoteOp("subscribe", err) }()

	if c.token() == "" {
		return nil, remote.ErrNotAuthenticated
	}

	conn, err := c.joinFeed(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// The feed outlives the caller's ctx; it ends only on Close.
	runCtx, cancel := context.WithCancel(context.Background())
	f := &feed{
		client:         c,
		conversationID: conversationID,
		handler:        h,
		events:         make(chan remote.FeedEvent, 8),
		conn:           conn,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go f.run(runCtx, conn)

	c.log.Debug().Str("conversation_id", conversationID).Msg("change feed subscribed")
	return f, nil
}

// joinFeed dials the socket and joins conversationID.
func (c *Client) joinFeed(ctx context.Context, conversationID string) (*websocket.Conn, error) {
	tok := c.token()
	if tok == "" {
		return nil, remote.ErrNotAuthenticated
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, c.timeout)
	defer cancelDial()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, _, err := websocket.Dial(dialCtx, c.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: dial: %w", remote.ErrQueryFailed, err)
	}

	hello := proto.Inbound{Type: proto.InboundTypeHello, Data: proto.HelloData{Token: tok, Protocol: proto.ProtocolVersion}}
	if err := wsjson.Write(dialCtx, conn, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("%w: subscribe: hello: %w", remote.ErrQueryFailed, err)
	}
	join := proto.Inbound{Type: proto.InboundTypeJoin, Data: proto.JoinData{Room: conversationID}}
	if err := wsjson.Write(dialCtx, conn, join); err != nil {
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("%w: subscribe: join: %w", remote.ErrQueryFailed, err)
	}
	return conn, nil
}

func (c *Client) backoffForAttempt(attempt int) time.Duration {
	if attempt < len(c.backoff) {
		return c.backoff[attempt]
	}
	return c.backoff[len(c.backoff)-1]
}

// FeedEvents reports connection loss and recovery. Events are dropped when
// nobody keeps up.
func (f *feed) FeedEvents() <-chan remote.FeedEvent {
	return f.events
}

func (f *feed) notify(ev remote.FeedEvent) {
	select {
	case f.events <- ev:
	default:
	}
}

func (f *feed) run(ctx context.Context, conn *websocket.Conn) {
	defer close(f.done)
	defer close(f.events)
	log := f.client.log.With().Str("conversation_id", f.conversationID).Logger()

	for {
		err := f.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		conn.Close(websocket.StatusGoingAway, "reconnecting")
		log.Warn().Err(err).Msg("change feed lost, reconnecting")
		f.client.metrics.RemoteOp("feed_lost", err)
		f.notify(remote.FeedEvent{Err: err})

		conn = f.reconnect(ctx)
		if conn == nil {
			return
		}
		log.Info().Msg("change feed restored")
		f.notify(remote.FeedEvent{Connected: true})
	}
}

// reconnect retries joinFeed until it succeeds or ctx ends. It returns nil on ctx end.
func (f *feed) reconnect(ctx context.Context) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		timer := time.NewTimer(f.client.backoffForAttempt(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}

		conn, err := f.client.joinFeed(ctx, f.conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.client.log.Debug().Err(err).Str("conversation_id", f.conversationID).Int("attempt", attempt+1).Msg("change feed reconnect failed")
			continue
		}

		f.mu.Lock()
		if ctx.Err() != nil {
			f.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "unsubscribe")
			return nil
		}
		f.conn = conn
		f.mu.Unlock()
		return conn
	}
}

// readLoop delivers live messages until the connection ends and returns the cause.
func (f *feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	log := f.client.log.With().Str("conversation_id", f.conversationID).Logger()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errors.New("change feed closed by server")
			}
			return err
		}

		switch out.Type {
		case proto.OutboundTypeError:
			if out.Error != nil {
				log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("change feed error")
			}
		case proto.OutboundTypeEvent:
			if out.Event != proto.EventMessage {
				continue
			}
			var dto proto.MessageDTO
			if err := json.Unmarshal(out.Data, &dto); err != nil {
				log.Warn().Err(err).Msg("failed to decode live message")
				continue
			}
			if dto.ConversationID != "" && dto.ConversationID != f.conversationID {
				continue
			}
			if dto.ConversationID == "" {
				dto.ConversationID = f.conversationID
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.handler(messageFromDTO(dto, model.SourceLive))
		}
	}
}

// Close leaves the conversation, stops reconnecting and waits for the read goroutine to exit.
func (f *feed) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.cancel()
		conn := f.conn
		f.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		<-f.done
		f.client.log.Debug().Str("conversation_id", f.conversationID).Msg("change feed closed")
	})
	return nil
}
