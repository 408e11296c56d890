package wirechat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

// testBackend emulates the subset of the wirechat server API the client uses.
type testBackend struct {
	t      *testing.T
	token  string
	live   chan proto.MessageDTO
	joined chan string
	kick   chan struct{}

	mu         sync.Mutex
	sent       []proto.SendMessageRequest
	registered []proto.RegisterRequest
	authHdr    []string
}

func newTestBackend(t *testing.T) (*testBackend, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte("s"), TTL: time.Hour}, "u-1", "alice", false)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	b := &testBackend{
		t:      t,
		token:  token,
		live:   make(chan proto.MessageDTO, 4),
		joined: make(chan string, 4),
		kick:   make(chan struct{}, 1),
	}

	r := gin.New()
	r.POST("/api/login", b.login)
	r.POST("/api/register", b.register)
	api := r.Group("/api", b.requireAuth)
	api.GET("/conversations", b.conversations)
	api.GET("/conversations/:id/messages", b.messages)
	api.POST("/conversations/:id/messages", b.send)
	api.POST("/uploads", b.upload)
	api.POST("/rpc/:fn", b.rpc)
	api.POST("/logout", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/ws", gin.WrapF(b.ws))

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return b, ts
}

func (b *testBackend) requireAuth(c *gin.Context) {
	hdr := c.GetHeader("Authorization")
	b.mu.Lock()
	b.authHdr = append(b.authHdr, hdr)
	b.mu.Unlock()
	if hdr != "Bearer "+b.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "missing token"})
		return
	}
	c.Next()
}

func (b *testBackend) login(c *gin.Context) {
	var req proto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Password != "secret" {
		c.JSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, proto.AuthResponse{Token: b.token})
}

func (b *testBackend) register(c *gin.Context) {
	var req proto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Username == "alice" {
		c.JSON(http.StatusConflict, proto.ErrorResponse{Error: "user already exists"})
		return
	}
	token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte("s"), TTL: time.Hour}, "u-3", req.Username, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
		return
	}
	b.mu.Lock()
	b.registered = append(b.registered, req)
	b.mu.Unlock()
	c.JSON(http.StatusCreated, proto.AuthResponse{Token: token})
}

func (b *testBackend) conversations(c *gin.Context) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.JSON(http.StatusOK, []proto.ConversationDTO{
		{ID: "c1", UpdatedAt: now, OtherUser: &proto.ProfileDTO{ID: "u-2", Username: "bob"}, Name: "ignored"},
		{ID: "c2", IsGroup: true, Name: "Team", UpdatedAt: now, Participants: []proto.ProfileDTO{{ID: "u-1", Username: "alice"}}},
	})
}

func (b *testBackend) messages(c *gin.Context) {
	if c.Param("id") == "broken" {
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "database is down"})
		return
	}
	if c.Param("id") == "missing" {
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "conversation not found"})
		return
	}
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.JSON(http.StatusOK, []proto.MessageDTO{
		{ID: "m2", ConversationID: c.Param("id"), Content: "second", CreatedAt: t0.Add(time.Minute)},
		{ID: "m1", ConversationID: c.Param("id"), Content: "first", CreatedAt: t0, Sender: &proto.ProfileDTO{Username: "bob"},
			FileURL: "https://files/a.png", FileName: "a.png", FileType: "image/png"},
	})
}

func (b *testBackend) send(c *gin.Context) {
	var req proto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Content == "fail" {
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "insert failed"})
		return
	}
	b.mu.Lock()
	b.sent = append(b.sent, req)
	b.mu.Unlock()
	c.JSON(http.StatusCreated, proto.MessageDTO{
		ID: "new", ConversationID: c.Param("id"), SenderID: req.SenderID, Content: req.Content, CreatedAt: time.Now(),
	})
}

func (b *testBackend) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "file is required"})
		return
	}
	c.JSON(http.StatusOK, proto.UploadResponse{URL: "https://files/" + fh.Filename, Name: fh.Filename, Type: fh.Header.Get("Content-Type")})
}

func (b *testBackend) rpc(c *gin.Context) {
	if c.Param("fn") != proto.RPCListLabels {
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "unknown function"})
		return
	}
	c.JSON(http.StatusOK, []proto.LabelDTO{{ID: "l1", Name: "work", Color: "#3B82F6"}})
}

func (b *testBackend) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var hello proto.Outbound
	if err := wsjson.Read(ctx, conn, &hello); err != nil || hello.Type != proto.InboundTypeHello {
		return
	}
	var join struct {
		Type string         `json:"type"`
		Data proto.JoinData `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &join); err != nil || join.Type != proto.InboundTypeJoin {
		return
	}
	b.joined <- join.Data.Room

	go func() {
		// Drain so the close handshake is observed.
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case dto := <-b.live:
			data, _ := jsonRaw(dto)
			out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventMessage, Data: data}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return
			}
		case <-b.kick:
			return
		case <-ctx.Done():
			return
		}
	}
}

func newSignedInClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	tokens := auth.NewTokenFile(filepath.Join(t.TempDir(), "token"))
	c, err := New(Config{BaseURL: ts.URL, RequestTimeout: 5 * time.Second}, tokens, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.SignIn(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://example.com"}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}

func TestSignIn_PersistsTokenAndRestoresSession(t *testing.T) {
	_, ts := newTestBackend(t)
	tokens := auth.NewTokenFile(filepath.Join(t.TempDir(), "token"))

	c, err := New(Config{BaseURL: ts.URL}, tokens, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Session(context.Background()); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before sign in, got %v", err)
	}
	if _, err := c.SignIn(context.Background(), "alice", "wrong"); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for bad password, got %v", err)
	}

	s, err := c.SignIn(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.UserID != "u-1" || s.Username != "alice" {
		t.Fatalf("unexpected session %+v", s)
	}

	restored, err := New(Config{BaseURL: ts.URL}, tokens, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := restored.Session(context.Background())
	if err != nil {
		t.Fatalf("restore session: %v", err)
	}
	if got.UserID != "u-1" {
		t.Fatalf("expected restored user u-1, got %q", got.UserID)
	}

	if err := restored.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := tokens.Load(); !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("expected token removed, got %v", err)
	}
}

func TestSignUp_PersistsToken(t *testing.T) {
	b, ts := newTestBackend(t)
	tokens := auth.NewTokenFile(filepath.Join(t.TempDir(), "token"))

	c, err := New(Config{BaseURL: ts.URL}, tokens, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.SignUp(context.Background(), "alice", "", "secret"); !errors.Is(err, remote.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for taken username, got %v", err)
	}
	if _, err := tokens.Load(); !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("failed sign up must not store a token, got %v", err)
	}

	s, err := c.SignUp(context.Background(), "carol", "carol@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if s.UserID != "u-3" || s.Username != "carol" {
		t.Fatalf("unexpected session %+v", s)
	}

	b.mu.Lock()
	reqs := append([]proto.RegisterRequest(nil), b.registered...)
	b.mu.Unlock()
	if len(reqs) != 1 || reqs[0].Email != "carol@example.com" || reqs[0].Password != "hunter2" {
		t.Fatalf("unexpected register requests %+v", reqs)
	}

	restored, err := New(Config{BaseURL: ts.URL}, tokens, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := restored.Session(context.Background())
	if err != nil {
		t.Fatalf("restore session: %v", err)
	}
	if got.Username != "carol" {
		t.Fatalf("expected restored user carol, got %q", got.Username)
	}
}

func TestConversations_NormalizesByKind(t *testing.T) {
	_, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)

	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].Name != "" || convs[0].DisplayName() != "bob" {
		t.Fatalf("direct conversation not normalized: %+v", convs[0])
	}
	if convs[1].DisplayName() != "Team" || len(convs[1].Participants) != 1 {
		t.Fatalf("group conversation not normalized: %+v", convs[1])
	}
	if convs[0].Source != model.SourceRemote {
		t.Fatalf("expected remote source, got %q", convs[0].Source)
	}
}

func TestMessages_SortedWithAttachmentAndUnknownSender(t *testing.T) {
	_, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)

	msgs, err := c.Messages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if msgs[0].Attachment == nil || msgs[0].Attachment.Kind != model.AttachmentImage {
		t.Fatalf("expected image attachment, got %+v", msgs[0].Attachment)
	}
	if msgs[1].Sender.Username != model.UnknownUsername {
		t.Fatalf("expected Unknown sender, got %q", msgs[1].Sender.Username)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	_, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)
	ctx := context.Background()

	if _, err := c.Messages(ctx, "broken"); !errors.Is(err, remote.ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}
	if _, err := c.Messages(ctx, "missing"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err := c.SendMessage(ctx, remote.NewMessage{ConversationID: "c1", SenderID: "u-1", Content: "fail"})
	if !errors.Is(err, remote.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if _, err := c.SendMessage(ctx, remote.NewMessage{ConversationID: "c1", Content: "x"}); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated without sender, got %v", err)
	}

	anon, err := New(Config{BaseURL: ts.URL}, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := anon.Conversations(ctx); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for 401, got %v", err)
	}
}

func TestSendMessage_CarriesAttachment(t *testing.T) {
	b, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)

	att := &model.Attachment{Name: "doc.pdf", Kind: model.AttachmentDocument, URL: "https://files/doc.pdf"}
	msg, err := c.SendMessage(context.Background(), remote.NewMessage{ConversationID: "c1", SenderID: "u-1", Content: "hello", Attachment: att})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "new" || msg.Content != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) != 1 || b.sent[0].FileURL != att.URL || b.sent[0].FileType != "document" {
		t.Fatalf("unexpected request %+v", b.sent)
	}
}

func TestUpload_DetectsImage(t *testing.T) {
	_, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)

	att, err := c.Upload(context.Background(), "pixel.png", strings.NewReader(string(pngHeader)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.Kind != model.AttachmentImage || att.Name != "pixel.png" || att.URL == "" {
		t.Fatalf("unexpected attachment %+v", att)
	}

	doc, err := c.Upload(context.Background(), "notes.txt", strings.NewReader("plain text"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Kind != model.AttachmentDocument {
		t.Fatalf("expected document kind, got %q", doc.Kind)
	}
}

func TestCall_DecodesResult(t *testing.T) {
	_, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)

	var labels []proto.LabelDTO
	if err := c.Call(context.Background(), proto.RPCListLabels, nil, &labels); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(labels) != 1 || labels[0].Name != "work" {
		t.Fatalf("unexpected labels %+v", labels)
	}
	if err := c.Call(context.Background(), "nope", nil, nil); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown fn, got %v", err)
	}
}

func TestSubscribe_DeliversAndClosesSynchronously(t *testing.T) {
	b, ts := newTestBackend(t)
	c := newSignedInClient(t, ts)

	got := make(chan model.Message, 4)
	sub, err := c.Subscribe(context.Background(), "c1", func(m model.Message) { got <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case room := <-b.joined:
		if room != "c1" {
			t.Fatalf("expected join c1, got %q", room)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never saw join")
	}

	b.live <- proto.MessageDTO{ID: "other", ConversationID: "c2", Content: "skip me"}
	b.live <- proto.MessageDTO{ID: "live-1", ConversationID: "c1", Content: "hi", CreatedAt: time.Now()}

	select {
	case m := <-got:
		if m.ID != "live-1" || m.Source != model.SourceLive {
			t.Fatalf("unexpected live message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("live message not delivered")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected delivery after close: %+v", m)
	default:
	}
}

func TestSubscribe_ReconnectsAfterConnectionLoss(t *testing.T) {
	b, ts := newTestBackend(t)
	c, err := New(Config{BaseURL: ts.URL, ReconnectBackoff: []time.Duration{10 * time.Millisecond}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.SignIn(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	got := make(chan model.Message, 4)
	sub, err := c.Subscribe(context.Background(), "c1", func(m model.Message) { got <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	watcher, ok := sub.(remote.FeedWatcher)
	if !ok {
		t.Fatalf("subscription does not report feed events")
	}
	events := watcher.FeedEvents()

	waitJoin := func() {
		t.Helper()
		select {
		case room := <-b.joined:
			if room != "c1" {
				t.Fatalf("expected join c1, got %q", room)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("backend never saw join")
		}
	}
	waitEvent := func(connected bool) {
		t.Helper()
		select {
		case ev := <-events:
			if ev.Connected != connected {
				t.Fatalf("feed event connected=%v, want %v (err %v)", ev.Connected, connected, ev.Err)
			}
			if !connected && ev.Err == nil {
				t.Fatalf("loss event without a cause")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no feed event (want connected=%v)", connected)
		}
	}

	waitJoin()
	b.kick <- struct{}{}
	waitEvent(false)
	waitJoin()
	waitEvent(true)

	b.live <- proto.MessageDTO{ID: "after-reconnect", ConversationID: "c1", Content: "back", CreatedAt: time.Now()}
	select {
	case m := <-got:
		if m.ID != "after-reconnect" {
			t.Fatalf("unexpected live message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("live message not delivered after reconnect")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, open := <-events:
		if open {
			t.Fatalf("unexpected feed event after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feed events not closed after Close")
	}
}

func TestSubscribe_RequiresSession(t *testing.T) {
	_, ts := newTestBackend(t)
	c, err := New(Config{BaseURL: ts.URL}, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Subscribe(context.Background(), "c1", func(model.Message) {}); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func jsonRaw(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
