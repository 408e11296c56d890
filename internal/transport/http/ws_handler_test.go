package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/cache/memory"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/metrics"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote/remotetest"
	"github.com/vovakirdan/wirechat-client/internal/service/labels"
	"github.com/vovakirdan/wirechat-client/internal/service/members"
)

type testEnv struct {
	ts         *httptest.Server
	fake       *remotetest.Fake
	controller *core.Controller
	cache      *cache.Handle
}

func startTestServer(t *testing.T, limiter *rate.Limiter) *testEnv {
	t.Helper()

	fake := remotetest.New()
	fake.SetSession(&auth.Session{UserID: "u1", Username: "alice"})
	fake.AddConversation(model.Conversation{
		ID:           "c1",
		Name:         "general",
		IsGroup:      true,
		UpdatedAt:    time.Now(),
		Participants: []model.Profile{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}},
	})

	h := cache.NewHandle(memory.New(), cache.DriverMemory, nil, nil)
	ctrl := core.New(core.Options{Cache: h, Remote: fake, Identity: fake, PersistLive: true})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(stopped)
	}()

	server := NewServer(Deps{
		Controller: ctrl,
		Labels:     labels.New(fake, ctrl, nil),
		Members:    members.New(fake, ctrl, nil),
		Cache:      h,
		Metrics:    metrics.New(),
		Limiter:    limiter,
	}, config.ServerConfig{Addr: ":0", ReadHeaderTimeout: time.Second}, testLogger())

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-stopped
	})

	return &testEnv{ts: ts, fake: fake, controller: ctrl, cache: h}
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func dialView(t *testing.T, env *testEnv) (*websocket.Conn, context.Context) {
	t.Helper()
	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn, ctx
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, desc string, cond func(wsOutbound) bool) wsOutbound {
	t.Helper()
	for {
		var out wsOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for %s: %v", desc, err)
		}
		if cond(out) {
			return out
		}
	}
}

func TestWebSocketStreamsViewAfterSelect(t *testing.T) {
	env := startTestServer(t, nil)
	env.fake.SetMessages("c1", []model.Message{{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u2",
		Content:        "hi there",
		CreatedAt:      time.Now(),
	}})
	conn, ctx := dialView(t, env)

	first := readUntil(t, ctx, conn, "initial view", func(o wsOutbound) bool { return o.Type == wsTypeView })
	if first.View.State != core.StateIdle {
		t.Fatalf("initial state = %q, want idle", first.View.State)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{
		"type": wsTypeSelect,
		"data": map[string]string{"conversation_id": "c1"},
	}); err != nil {
		t.Fatalf("write select: %v", err)
	}

	live := readUntil(t, ctx, conn, "live view", func(o wsOutbound) bool {
		return o.Type == wsTypeView && o.View.State == core.StateLive
	})
	if live.View.ConversationID != "c1" {
		t.Fatalf("conversation = %q, want c1", live.View.ConversationID)
	}
	if len(live.View.Messages) != 1 || live.View.Messages[0].Content != "hi there" {
		t.Fatalf("messages = %+v, want the remote history", live.View.Messages)
	}
}

func TestWebSocketRejectsUnknownFrame(t *testing.T) {
	env := startTestServer(t, nil)
	conn, ctx := dialView(t, env)

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := readUntil(t, ctx, conn, "error frame", func(o wsOutbound) bool { return o.Type == "error" })
	if out.Error == nil || out.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("error = %+v, want bad_request", out.Error)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": wsTypeSelect}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out = readUntil(t, ctx, conn, "error frame", func(o wsOutbound) bool { return o.Type == "error" })
	if out.Error == nil || !strings.Contains(out.Error.Msg, "conversation_id") {
		t.Fatalf("error = %+v, want missing conversation_id", out.Error)
	}
}
