// Package remotetest provides an in-memory Remote Store for tests and offline runs.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// Operation names used for gates, failure injection and call counting.
const (
	OpConversations = "conversations"
	OpConversation  = "conversation"
	OpMessages      = "messages"
	OpSend          = "send"
	OpUpload        = "upload"
	OpProfiles      = "profiles"
	OpMembers       = "members"
	OpAddMember     = "add_member"
	OpRemoveMember  = "remove_member"
	OpCall          = "call"
	OpSubscribe     = "subscribe"
	OpSignIn        = "sign_in"
	OpSignUp        = "sign_up"
)

var writeOps = map[string]bool{
	OpSend:         true,
	OpUpload:       true,
	OpAddMember:    true,
	OpRemoveMember: true,
	OpCall:         true,
	OpSignIn:       true,
	OpSignUp:       true,
}

// RPCFunc handles a remote procedure. params is the JSON-encoded argument.
type RPCFunc func(params json.RawMessage) (any, error)

// Gate holds calls of one operation until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	relOnce sync.Once
}

// Entered is closed once a call reaches the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release lets held and future calls through.
func (g *Gate) Release() {
	g.relOnce.Do(func() { close(g.release) })
}

func (g *Gate) wait(ctx context.Context) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscription struct {
	fake           *Fake
	conversationID string
	handler        remote.Handler
	events         chan remote.FeedEvent

	mu      sync.Mutex
	closed  bool
	dropped bool
}

var _ remote.FeedWatcher = (*subscription)(nil)

func (s *subscription) deliver(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.dropped {
		return
	}
	s.handler(msg)
}

func (s *subscription) FeedEvents() <-chan remote.FeedEvent {
	return s.events
}

// setDropped flips the connection state and reports the change.
func (s *subscription) setDropped(dropped bool, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.dropped == dropped {
		return
	}
	s.dropped = dropped
	select {
	case s.events <- remote.FeedEvent{Connected: !dropped, Err: cause}:
	default:
	}
}

// Close detaches the handler; no delivery is in progress once it returns.
func (s *subscription) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	s.fake.mu.Lock()
	delete(s.fake.subs[s.conversationID], s)
	s.fake.mu.Unlock()
	return nil
}

// Fake implements remote.Backend in memory.
type Fake struct {
	mu sync.Mutex

	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	profiles      map[string]model.Profile
	passwords     map[string]string
	members       map[string][]string
	labels        map[string]model.Label
	convLabels    map[string][]string
	uploads       map[string][]byte
	session       *auth.Session

	gates map[string]*Gate
	fails map[string]error
	calls map[string]int
	subs  map[string]map[*subscription]struct{}
	rpc   map[string]RPCFunc

	now func() time.Time
	jwt *auth.JWTConfig
}

var _ remote.Backend = (*Fake)(nil)

// New creates an empty fake backend.
func New() *Fake {
	f := &Fake{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string][]model.Message),
		profiles:      make(map[string]model.Profile),
		passwords:     make(map[string]string),
		members:       make(map[string][]string),
		labels:        make(map[string]model.Label),
		convLabels:    make(map[string][]string),
		uploads:       make(map[string][]byte),
		gates:         make(map[string]*Gate),
		fails:         make(map[string]error),
		calls:         make(map[string]int),
		subs:          make(map[string]map[*subscription]struct{}),
		now:           time.Now,
		jwt: &auth.JWTConfig{
			Secret: []byte("remotetest"),
			Issuer: "remotetest",
			TTL:    24 * time.Hour,
		},
	}
	f.rpc = map[string]RPCFunc{
		proto.RPCListLabels:         f.rpcListLabels,
		proto.RPCCreateLabel:        f.rpcCreateLabel,
		proto.RPCConversationLabels: f.rpcConversationLabels,
		proto.RPCAttachLabel:        f.rpcAttachLabel,
		proto.RPCDetachLabel:        f.rpcDetachLabel,
	}
	return f
}

// ==== Test controls ====

// SetClock overrides the time source for inserted messages.
func (f *Fake) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Hold installs a gate for op scoped to key (a conversation ID, or "" for unscoped ops).
func (f *Fake) Hold(op, key string) *Gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.gates[op+"/"+key] = g
	return g
}

// Fail makes every later call of op return err wrapped in the matching taxonomy error. A nil err clears it.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fails, op)
		return
	}
	f.fails[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Subscribers returns the number of open subscriptions for a conversation.
func (f *Fake) Subscribers(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[conversationID])
}

// HandleRPC registers or replaces a remote procedure.
func (f *Fake) HandleRPC(fn string, h RPCFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpc[fn] = h
}

// AddProfile registers a user. A non-empty password enables SignIn.
func (f *Fake) AddProfile(p model.Profile, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
	if password != "" {
		f.passwords[p.Username] = password
	}
}

// AddConversation stores conv. For groups, participants become members.
func (f *Fake) AddConversation(conv model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[conv.ID] = conv
	if conv.IsGroup {
		ids := make([]string, 0, len(conv.Participants))
		for _, p := range conv.Participants {
			ids = append(ids, p.ID)
			if _, ok := f.profiles[p.ID]; !ok {
				f.profiles[p.ID] = p
			}
		}
		f.members[conv.ID] = ids
	}
}

// SetMessages replaces the stored history of a conversation.
func (f *Fake) SetMessages(conversationID string, msgs []model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conversationID] = model.CloneMessages(msgs)
}

// StoredMessages returns the stored history of a conversation.
func (f *Fake) StoredMessages(conversationID string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.CloneMessages(f.messages[conversationID])
}

// SetSession sets (or with nil clears) the current actor.
func (f *Fake) SetSession(s *auth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

// Emit inserts msg as if another client had sent it and notifies subscribers.
func (f *Fake) Emit(msg model.Message) {
	f.mu.Lock()
	f.insertLocked(msg)
	subs := f.subscribersLocked(msg.ConversationID)
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(msg.Normalize(model.SourceLive))
	}
}

// DropFeed simulates a lost change feed for conversationID. Inserts are stored
// but not delivered until RestoreFeed.
func (f *Fake) DropFeed(conversationID string, cause error) {
	f.mu.Lock()
	subs := f.subscribersLocked(conversationID)
	f.mu.Unlock()

	for _, s := range subs {
		s.setDropped(true, cause)
	}
}

// RestoreFeed re-establishes feeds dropped by DropFeed.
func (f *Fake) RestoreFeed(conversationID string) {
	f.mu.Lock()
	subs := f.subscribersLocked(conversationID)
	f.mu.Unlock()

	for _, s := range subs {
		s.setDropped(false, nil)
	}
}

// Notify delivers msg to subscribers without storing it.
func (f *Fake) Notify(msg model.Message) {
	f.mu.Lock()
	subs := f.subscribersLocked(msg.ConversationID)
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(msg.Normalize(model.SourceLive))
	}
}

// ==== internals ====

func (f *Fake) enter(ctx context.Context, op, key string) error {
	f.mu.Lock()
	f.calls[op]++
	g := f.gates[op+"/"+key]
	f.mu.Unlock()

	if g != nil {
		if err := g.wait(ctx); err != nil {
			return f.classify(op, err)
		}
	}

	f.mu.Lock()
	err := f.fails[op]
	f.mu.Unlock()
	if err != nil {
		return f.classify(op, err)
	}
	return nil
}

func (f *Fake) classify(op string, err error) error {
	if writeOps[op] {
		return fmt.Errorf("%w: %s: %w", remote.ErrWriteFailed, op, err)
	}
	return fmt.Errorf("%w: %s: %w", remote.ErrQueryFailed, op, err)
}

func (f *Fake) insertLocked(msg model.Message) {
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], msg)
	conv, ok := f.conversations[msg.ConversationID]
	if !ok {
		return
	}
	conv.UpdatedAt = msg.CreatedAt
	conv.LastMessage = &model.MessageSummary{
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		SenderUsername: msg.Sender.Username,
	}
	f.conversations[msg.ConversationID] = conv
}

func (f *Fake) subscribersLocked(conversationID string) []*subscription {
	out := make([]*subscription, 0, len(f.subs[conversationID]))
	for s := range f.subs[conversationID] {
		out = append(out, s)
	}
	return out
}

func (f *Fake) conversationLocked(id string) (model.Conversation, bool) {
	conv, ok := f.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	if conv.IsGroup {
		conv.Participants = f.membersLocked(id)
	}
	conv.Labels = f.labelsOfLocked(id)
	return conv.Normalize(model.SourceRemote), true
}

func (f *Fake) membersLocked(conversationID string) []model.Profile {
	out := make([]model.Profile, 0, len(f.members[conversationID]))
	for _, id := range f.members[conversationID] {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (f *Fake) labelsOfLocked(conversationID string) []model.Label {
	var out []model.Label
	for _, id := range f.convLabels[conversationID] {
		if l, ok := f.labels[id]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ==== remote.Store ====

// Conversations returns every conversation.
func (f *Fake) Conversations(ctx context.Context) ([]model.Conversation, error) {
	if err := f.enter(ctx, OpConversations, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Conversation, 0, len(f.conversations))
	for id := range f.conversations {
		conv, _ := f.conversationLocked(id)
		out = append(out, conv)
	}
	model.SortConversations(out)
	return out, nil
}

// Conversation returns one conversation with members and labels joined in.
func (f *Fake) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	if err := f.enter(ctx, OpConversation, id); err != nil {
		return model.Conversation{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversationLocked(id)
	if !ok {
		return model.Conversation{}, fmt.Errorf("conversation %q: %w", id, remote.ErrNotFound)
	}
	return conv, nil
}

// Messages returns the stored history ascending.
func (f *Fake) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if err := f.enter(ctx, OpMessages, conversationID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, 0, len(f.messages[conversationID]))
	for _, m := range f.messages[conversationID] {
		out = append(out, m.Normalize(model.SourceRemote))
	}
	model.SortMessages(out)
	return out, nil
}

// SendMessage inserts msg and notifies subscribers.
func (f *Fake) SendMessage(ctx context.Context, nm remote.NewMessage) (model.Message, error) {
	if err := f.enter(ctx, OpSend, nm.ConversationID); err != nil {
		return model.Message{}, err
	}
	if nm.SenderID == "" {
		return model.Message{}, remote.ErrNotAuthenticated
	}

	f.mu.Lock()
	msg := model.Message{
		ID:             utils.NewID(),
		ConversationID: nm.ConversationID,
		SenderID:       nm.SenderID,
		Content:        nm.Content,
		CreatedAt:      f.now().UTC(),
		Sender:         model.Sender{Username: f.profiles[nm.SenderID].Username, AvatarURL: f.profiles[nm.SenderID].AvatarURL},
		Attachment:     nm.Attachment,
	}
	f.insertLocked(msg)
	subs := f.subscribersLocked(nm.ConversationID)
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(msg.Normalize(model.SourceLive))
	}
	return msg.Normalize(model.SourceRemote), nil
}

// Upload stores the content and returns a fake URL.
func (f *Fake) Upload(ctx context.Context, name string, r io.Reader) (model.Attachment, error) {
	if err := f.enter(ctx, OpUpload, ""); err != nil {
		return model.Attachment{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Attachment{}, f.classify(OpUpload, err)
	}

	kind := model.AttachmentDocument
	if strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		kind = model.AttachmentImage
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	url := "memory://uploads/" + utils.NewID() + "/" + name
	f.uploads[url] = data
	return model.Attachment{Name: name, Kind: kind, URL: url}, nil
}

// Profiles returns every profile ordered by username.
func (f *Fake) Profiles(ctx context.Context) ([]model.Profile, error) {
	if err := f.enter(ctx, OpProfiles, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Members returns the participants of a conversation.
func (f *Fake) Members(ctx context.Context, conversationID string) ([]model.Profile, error) {
	if err := f.enter(ctx, OpMembers, conversationID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.membersLocked(conversationID), nil
}

// AddMember adds userID to the conversation.
func (f *Fake) AddMember(ctx context.Context, conversationID, userID string) error {
	if err := f.enter(ctx, OpAddMember, conversationID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[userID]; !ok {
		return fmt.Errorf("profile %q: %w", userID, remote.ErrNotFound)
	}
	for _, id := range f.members[conversationID] {
		if id == userID {
			return nil
		}
	}
	f.members[conversationID] = append(f.members[conversationID], userID)
	return nil
}

// RemoveMember removes userID from the conversation.
func (f *Fake) RemoveMember(ctx context.Context, conversationID, userID string) error {
	if err := f.enter(ctx, OpRemoveMember, conversationID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.members[conversationID]
	for i, id := range ids {
		if id == userID {
			f.members[conversationID] = append(ids[:i:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

// Call dispatches to a registered procedure, round-tripping params and result through JSON.
func (f *Fake) Call(ctx context.Context, fn string, params any, out any) error {
	if err := f.enter(ctx, OpCall, fn); err != nil {
		return err
	}
	f.mu.Lock()
	h, ok := f.rpc[fn]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpc %q: %w", fn, remote.ErrNotFound)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode rpc params: %w", err)
	}
	res, err := h(raw)
	if err != nil {
		return f.classify(OpCall, err)
	}
	if out == nil || res == nil {
		return nil
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode rpc result: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode rpc result: %w", err)
	}
	return nil
}

// Subscribe registers h for inserts into conversationID.
func (f *Fake) Subscribe(ctx context.Context, conversationID string, h remote.Handler) (remote.Subscription, error) {
	if err := f.enter(ctx, OpSubscribe, conversationID); err != nil {
		return nil, err
	}
	s := &subscription{fake: f, conversationID: conversationID, handler: h, events: make(chan remote.FeedEvent, 8)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[conversationID] == nil {
		f.subs[conversationID] = make(map[*subscription]struct{})
	}
	f.subs[conversationID][s] = struct{}{}
	return s, nil
}

// ==== remote.Identity ====

// Session returns the current actor.
func (f *Fake) Session(context.Context) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return auth.Session{}, remote.ErrNotAuthenticated
	}
	return *f.session, nil
}

// SignIn checks the password registered with AddProfile.
func (f *Fake) SignIn(ctx context.Context, username, password string) (auth.Session, error) {
	if err := f.enter(ctx, OpSignIn, ""); err != nil {
		return auth.Session{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want, ok := f.passwords[username]
	if !ok || want != password {
		return auth.Session{}, remote.ErrNotAuthenticated
	}

	var userID string
	for _, p := range f.profiles {
		if p.Username == username {
			userID = p.ID
			break
		}
	}
	return f.issueLocked(userID, username)
}

// SignUp registers a profile with password and signs it in.
// A taken username fails with remote.ErrAlreadyExists.
func (f *Fake) SignUp(ctx context.Context, username, _, password string) (auth.Session, error) {
	if err := f.enter(ctx, OpSignUp, ""); err != nil {
		return auth.Session{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.passwords[username]; taken {
		return auth.Session{}, fmt.Errorf("%w: username %q", remote.ErrAlreadyExists, username)
	}
	for _, p := range f.profiles {
		if p.Username == username {
			return auth.Session{}, fmt.Errorf("%w: username %q", remote.ErrAlreadyExists, username)
		}
	}

	p := model.Profile{ID: utils.NewID(), Username: username}
	f.profiles[p.ID] = p
	f.passwords[username] = password
	return f.issueLocked(p.ID, username)
}

func (f *Fake) issueLocked(userID, username string) (auth.Session, error) {
	token, err := auth.GenerateToken(f.jwt, userID, username, false)
	if err != nil {
		return auth.Session{}, fmt.Errorf("generate token: %w", err)
	}
	s, err := auth.SessionFromToken(token, f.now())
	if err != nil {
		return auth.Session{}, err
	}
	f.session = &s
	return s, nil
}

// SignOut clears the session.
func (f *Fake) SignOut(context.Context) error {
	f.SetSession(nil)
	return nil
}

// ==== label procedures ====

func (f *Fake) rpcListLabels(json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proto.LabelDTO, 0, len(f.labels))
	for _, l := range f.labels {
		out = append(out, proto.LabelDTO{ID: l.ID, Name: l.Name, Color: l.Color})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) rpcCreateLabel(raw json.RawMessage) (any, error) {
	var p proto.CreateLabelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	l := model.Label{ID: utils.NewID(), Name: p.Name, Color: p.Color}
	f.mu.Lock()
	f.labels[l.ID] = l
	f.mu.Unlock()
	return proto.LabelDTO{ID: l.ID, Name: l.Name, Color: l.Color}, nil
}

func (f *Fake) rpcConversationLabels(raw json.RawMessage) (any, error) {
	var p proto.ConversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	labels := f.labelsOfLocked(p.ConversationID)
	out := make([]proto.LabelDTO, 0, len(labels))
	for _, l := range labels {
		out = append(out, proto.LabelDTO{ID: l.ID, Name: l.Name, Color: l.Color})
	}
	return out, nil
}

func (f *Fake) rpcAttachLabel(raw json.RawMessage) (any, error) {
	var p proto.ConversationLabelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.labels[p.LabelID]; !ok {
		return nil, fmt.Errorf("label %q: %w", p.LabelID, remote.ErrNotFound)
	}
	for _, id := range f.convLabels[p.ConversationID] {
		if id == p.LabelID {
			return nil, nil
		}
	}
	f.convLabels[p.ConversationID] = append(f.convLabels[p.ConversationID], p.LabelID)
	return nil, nil
}

func (f *Fake) rpcDetachLabel(raw json.RawMessage) (any, error) {
	var p proto.ConversationLabelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.convLabels[p.ConversationID]
	for i, id := range ids {
		if id == p.LabelID {
			f.convLabels[p.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil, nil
}
