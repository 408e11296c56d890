// Package remote defines the authoritative backend the client synchronizes against.
package remote

import (
	"context"
	"errors"
	"io"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

var (
	// ErrQueryFailed marks a failed read (network or backend fault).
	ErrQueryFailed = errors.New("remote query failed")
	// ErrWriteFailed marks a failed mutation; the caller's input should be kept for retry.
	ErrWriteFailed = errors.New("remote write failed")
	// ErrNotAuthenticated is returned for actor-dependent operations without a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotFound is returned by single-row lookups.
	ErrNotFound = errors.New("remote record not found")
	// ErrAlreadyExists is returned when a create collides with an existing record, e.g. a taken username.
	ErrAlreadyExists = errors.New("remote record already exists")
)

// NewMessage is an insert request.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachment     *model.Attachment
}

// Handler receives messages inserted into a subscribed conversation.
type Handler func(model.Message)

// Subscription is an open change feed. Close is synchronous: once it returns the handler is never called again.
type Subscription interface {
	Close() error
}

// FeedEvent reports a connection change of a subscription.
type FeedEvent struct {
	Connected bool
	// Err is the cause of a disconnect.
	Err error
}

// FeedWatcher is implemented by subscriptions that re-establish themselves after
// a connection loss. The channel is closed when the subscription is closed.
type FeedWatcher interface {
	FeedEvents() <-chan FeedEvent
}

// Store is the query, insert and change-feed surface of the backend.
type Store interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Conversation(ctx context.Context, id string) (model.Conversation, error)
	// Messages returns a conversation's history ascending by creation time.
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
	SendMessage(ctx context.Context, msg NewMessage) (model.Message, error)
	// Upload stores an attachment and returns its descriptor; the kind is detected from content.
	Upload(ctx context.Context, name string, r io.Reader) (model.Attachment, error)

	Profiles(ctx context.Context) ([]model.Profile, error)
	Members(ctx context.Context, conversationID string) ([]model.Profile, error)
	AddMember(ctx context.Context, conversationID, userID string) error
	RemoveMember(ctx context.Context, conversationID, userID string) error

	// Call invokes a remote procedure, decoding its result into out when non-nil.
	Call(ctx context.Context, fn string, params any, out any) error

	Subscribe(ctx context.Context, conversationID string, h Handler) (Subscription, error)
}

// Identity is the backend's session facility.
type Identity interface {
	Session(ctx context.Context) (auth.Session, error)
	SignIn(ctx context.Context, username, password string) (auth.Session, error)
	// SignUp creates an account and signs it in. email is optional.
	SignUp(ctx context.Context, username, email, password string) (auth.Session, error)
	SignOut(ctx context.Context) error
}

// Backend is a Store with an Identity.
type Backend interface {
	Store
	Identity
}
