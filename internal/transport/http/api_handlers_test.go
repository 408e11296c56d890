package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func doJSON(t *testing.T, env *testEnv, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		r = bytes.NewReader(raw)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, env.ts.URL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, env, req)
}

func send(t *testing.T, env *testEnv, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func decodeError(t *testing.T, body []byte) proto.ErrorResponse {
	t.Helper()
	var e proto.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e
}

func waitLive(t *testing.T, env *testEnv) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := env.controller.View(); v.State == core.StateLive && env.fake.Subscribers("c1") == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("view never went live: %+v", env.controller.View())
}

func TestSelectAndSendJSON(t *testing.T) {
	env := startTestServer(t, nil)

	resp, body := doJSON(t, env, http.MethodPut, "/api/selection", SelectRequest{ConversationID: "c1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d, body %s", resp.StatusCode, body)
	}
	var sel SelectResponse
	if err := json.Unmarshal(body, &sel); err != nil || sel.Generation == 0 {
		t.Fatalf("select response = %s (%v), want a generation", body, err)
	}
	waitLive(t, env)

	resp, body = doJSON(t, env, http.MethodPost, "/api/messages", SendRequest{Content: "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, body %s", resp.StatusCode, body)
	}
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Content != "hello" || msg.ConversationID != "c1" {
		t.Fatalf("message = %+v", msg)
	}
	if got := env.fake.StoredMessages("c1"); len(got) != 1 {
		t.Fatalf("stored messages = %d, want 1", len(got))
	}
}

func TestSendMultipartAttachment(t *testing.T) {
	env := startTestServer(t, nil)
	if _, err := env.controller.Select(t.Context(), "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	waitLive(t, env)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("content", "see attached"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte("plain text notes"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/messages", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, body := send(t, env, req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, body %s", resp.StatusCode, body)
	}
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.Name != "notes.txt" {
		t.Fatalf("attachment = %+v, want notes.txt", msg.Attachment)
	}
}

func TestErrorMapping(t *testing.T) {
	env := startTestServer(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"send without selection", http.MethodPost, "/api/messages", SendRequest{Content: "hi"}, http.StatusConflict, codeNoConversation},
		{"select without id", http.MethodPut, "/api/selection", map[string]string{}, http.StatusBadRequest, core.ErrCodeBadRequest},
		{"label with bad color", http.MethodPost, "/api/labels", CreateLabelRequest{Name: "Work", Color: "blue"}, http.StatusBadRequest, core.ErrCodeBadRequest},
		{"label with empty name", http.MethodPost, "/api/labels", CreateLabelRequest{Name: " "}, http.StatusBadRequest, core.ErrCodeBadRequest},
		{"add existing member", http.MethodPut, "/api/conversations/c1/members/u2", nil, http.StatusConflict, codeConflict},
		{"prune without retention", http.MethodPost, "/api/cache/prune", nil, http.StatusServiceUnavailable, codeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, env, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if got := decodeError(t, body).Code; got != tt.wantCode {
				t.Fatalf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestSendEmptyDraftIsBadRequest(t *testing.T) {
	env := startTestServer(t, nil)
	if _, err := env.controller.Select(t.Context(), "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	waitLive(t, env)

	resp, body := doJSON(t, env, http.MethodPost, "/api/messages", SendRequest{Content: "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", resp.StatusCode, body)
	}
}

func TestLabelLifecycle(t *testing.T) {
	env := startTestServer(t, nil)

	resp, body := doJSON(t, env, http.MethodPost, "/api/labels", CreateLabelRequest{Name: "Work", Color: "#10b981"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, body)
	}
	var label model.Label
	if err := json.Unmarshal(body, &label); err != nil {
		t.Fatalf("decode label: %v", err)
	}
	if label.Color != "#10B981" {
		t.Fatalf("color = %q, want uppercased", label.Color)
	}

	resp, body = doJSON(t, env, http.MethodPut, "/api/conversations/c1/labels/"+label.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("attach status = %d, body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, env, http.MethodGet, "/api/conversations/c1/labels", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var attached []model.Label
	if err := json.Unmarshal(body, &attached); err != nil {
		t.Fatalf("decode labels: %v", err)
	}
	if len(attached) != 1 || attached[0].ID != label.ID {
		t.Fatalf("attached = %+v, want [%s]", attached, label.ID)
	}
}

func TestCandidatesExcludeMembers(t *testing.T) {
	env := startTestServer(t, nil)
	env.fake.AddProfile(model.Profile{ID: "u3", Username: "carol"}, "")

	resp, body := doJSON(t, env, http.MethodGet, "/api/conversations/c1/candidates", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var got []model.Profile
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u3" {
		t.Fatalf("candidates = %+v, want only carol", got)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	env := startTestServer(t, nil)
	env.fake.SetMessages("c1", []model.Message{{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u2",
		Content:        "persist me",
		CreatedAt:      time.Now(),
	}})
	if _, err := env.controller.Select(t.Context(), "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	waitLive(t, env)
	if err := env.controller.FlushCache(t.Context()); err != nil {
		t.Fatalf("FlushCache: %v", err)
	}

	resp, body := doJSON(t, env, http.MethodGet, "/api/cache/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var st StatsResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Driver != "memory" || !st.Available || st.Messages == 0 {
		t.Fatalf("stats = %+v, want cached messages", st)
	}

	resp, _ = doJSON(t, env, http.MethodDelete, "/api/cache", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	after, err := env.cache.Stats(t.Context())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.Messages != 0 || after.Conversations != 0 {
		t.Fatalf("stats after clear = %+v, want empty", after)
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	env := startTestServer(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	resp, body := doJSON(t, env, http.MethodPost, "/api/labels", CreateLabelRequest{Name: "first"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, body %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, env, http.MethodPost, "/api/labels", CreateLabelRequest{Name: "second"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", resp.StatusCode)
	}
	if !strings.Contains(string(body), "rate_limited") {
		t.Fatalf("body = %s, want rate_limited code", body)
	}

	resp, _ = doJSON(t, env, http.MethodGet, "/api/labels", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reads must not be throttled, got %d", resp.StatusCode)
	}
}
