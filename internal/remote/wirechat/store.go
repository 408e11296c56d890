package wirechat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

// MaxUploadSize caps attachment uploads.
const MaxUploadSize = 25 << 20

func conversationPath(id string, rest ...string) string {
	p := "/api/conversations/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// Conversations lists the current user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var dtos []proto.ConversationDTO
	if err := c.getJSON(ctx, "conversations", "/api/conversations", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, conversationFromDTO(d))
	}
	return out, nil
}

// Conversation fetches one conversation's metadata.
func (c *Client) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	var dto proto.ConversationDTO
	if err := c.getJSON(ctx, "conversation", conversationPath(id), &dto); err != nil {
		return model.Conversation{}, err
	}
	return conversationFromDTO(dto), nil
}

// Messages fetches a conversation's history ascending by creation time.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var dtos []proto.MessageDTO
	r, err := c.jsonRequest("messages", http.MethodGet, conversationPath(conversationID, "messages"), nil, false)
	if err != nil {
		return nil, err
	}
	r.query = url.Values{"order": {"asc"}}
	if err := c.do(ctx, r, &dtos); err != nil {
		return nil, err
	}
	return messagesFromDTO(dtos), nil
}

// SendMessage inserts a message authored by msg.SenderID.
func (c *Client) SendMessage(ctx context.Context, msg remote.NewMessage) (model.Message, error) {
	if msg.SenderID == "" {
		return model.Message{}, remote.ErrNotAuthenticated
	}
	var dto proto.MessageDTO
	in := sendRequest(msg.SenderID, msg.Content, msg.Attachment)
	if err := c.sendJSON(ctx, "send", http.MethodPost, conversationPath(msg.ConversationID, "messages"), in, &dto); err != nil {
		return model.Message{}, err
	}
	return messageFromDTO(dto, model.SourceRemote), nil
}

// Upload sends an attachment as multipart form data. The kind is detected from the content.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (model.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: upload: read attachment: %w", remote.ErrWriteFailed, err)
	}
	if len(data) > MaxUploadSize {
		return model.Attachment{}, fmt.Errorf("%w: upload: attachment exceeds %d bytes", remote.ErrWriteFailed, MaxUploadSize)
	}
	mime := mimetype.Detect(data)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mime.String())
	part, err := w.CreatePart(h)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: upload: %w", remote.ErrWriteFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return model.Attachment{}, fmt.Errorf("%w: upload: %w", remote.ErrWriteFailed, err)
	}
	if err := w.Close(); err != nil {
		return model.Attachment{}, fmt.Errorf("%w: upload: %w", remote.ErrWriteFailed, err)
	}

	var resp proto.UploadResponse
	req := request{
		op:          "upload",
		method:      http.MethodPost,
		path:        "/api/uploads",
		body:        &body,
		contentType: w.FormDataContentType(),
		write:       true,
	}
	if err := c.do(ctx, req, &resp); err != nil {
		return model.Attachment{}, err
	}

	kind := attachmentKind(mime.String())
	if resp.Type != "" {
		kind = attachmentKind(resp.Type)
	}
	fileName := resp.Name
	if fileName == "" {
		fileName = name
	}
	return model.Attachment{Name: fileName, Kind: kind, URL: resp.URL}, nil
}

// Profiles lists every user profile ordered by username.
func (c *Client) Profiles(ctx context.Context) ([]model.Profile, error) {
	var dtos []proto.ProfileDTO
	if err := c.getJSON(ctx, "profiles", "/api/profiles", &dtos); err != nil {
		return nil, err
	}
	return profilesFromDTO(dtos), nil
}

// Members lists a conversation's participants.
func (c *Client) Members(ctx context.Context, conversationID string) ([]model.Profile, error) {
	var dtos []proto.ProfileDTO
	if err := c.getJSON(ctx, "members", conversationPath(conversationID, "members"), &dtos); err != nil {
		return nil, err
	}
	return profilesFromDTO(dtos), nil
}

// AddMember adds a participant.
func (c *Client) AddMember(ctx context.Context, conversationID, userID string) error {
	return c.sendJSON(ctx, "add_member", http.MethodPost, conversationPath(conversationID, "members"), proto.MemberRequest{UserID: userID}, nil)
}

// RemoveMember removes a participant.
func (c *Client) RemoveMember(ctx context.Context, conversationID, userID string) error {
	return c.sendJSON(ctx, "remove_member", http.MethodDelete, conversationPath(conversationID, "members", url.PathEscape(userID)), nil, nil)
}

// Call invokes POST /api/rpc/{fn}.
func (c *Client) Call(ctx context.Context, fn string, params any, out any) error {
	return c.sendJSON(ctx, "rpc_"+fn, http.MethodPost, "/api/rpc/"+url.PathEscape(fn), params, out)
}

// ==== Identity ====

// Session returns the current session, restoring it from the token file when needed.
func (c *Client) Session(_ context.Context) (auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.session != nil {
		if c.session.ExpiresAt.IsZero() || now.Before(c.session.ExpiresAt) {
			return *c.session, nil
		}
		c.session = nil
	}
	if c.tokens == nil {
		return auth.Session{}, remote.ErrNotAuthenticated
	}

	token, err := c.tokens.Load()
	if errors.Is(err, auth.ErrNoToken) {
		return auth.Session{}, remote.ErrNotAuthenticated
	}
	if err != nil {
		return auth.Session{}, err
	}
	s, err := auth.SessionFromToken(token, now)
	if err != nil {
		c.log.Debug().Err(err).Msg("stored session token rejected")
		return auth.Session{}, fmt.Errorf("%w: %w", remote.ErrNotAuthenticated, err)
	}
	c.session = &s
	return s, nil
}

// SignIn exchanges credentials for a token and persists it.
func (c *Client) SignIn(ctx context.Context, username, password string) (auth.Session, error) {
	var resp proto.AuthResponse
	in := proto.LoginRequest{Username: username, Password: password}
	if err := c.sendJSON(ctx, "sign_in", http.MethodPost, "/api/login", in, &resp); err != nil {
		return auth.Session{}, err
	}

	s, err := c.adopt(resp.Token)
	if err != nil {
		return auth.Session{}, err
	}
	c.log.Info().Str("username", s.Username).Msg("signed in")
	return s, nil
}

// SignUp registers a new account. The backend answers with a token, which is
// persisted exactly like a sign-in.
func (c *Client) SignUp(ctx context.Context, username, email, password string) (auth.Session, error) {
	var resp proto.AuthResponse
	in := proto.RegisterRequest{Username: username, Email: email, Password: password}
	if err := c.sendJSON(ctx, "sign_up", http.MethodPost, "/api/register", in, &resp); err != nil {
		return auth.Session{}, err
	}

	s, err := c.adopt(resp.Token)
	if err != nil {
		return auth.Session{}, err
	}
	c.log.Info().Str("username", s.Username).Msg("account created")
	return s, nil
}

// adopt validates token, persists it and makes it the current session.
func (c *Client) adopt(token string) (auth.Session, error) {
	s, err := auth.SessionFromToken(token, c.now())
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: %w", remote.ErrNotAuthenticated, err)
	}
	if c.tokens != nil {
		if err := c.tokens.Save(token); err != nil {
			return auth.Session{}, err
		}
	}

	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	return s, nil
}

// SignOut notifies the backend (best effort) and forgets the token.
func (c *Client) SignOut(ctx context.Context) error {
	if c.token() != "" {
		if err := c.sendJSON(ctx, "sign_out", http.MethodPost, "/api/logout", nil, nil); err != nil {
			c.log.Warn().Err(err).Msg("backend logout failed")
		}
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	if c.tokens != nil {
		return c.tokens.Remove()
	}
	return nil
}
