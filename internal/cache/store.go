// Package cache defines the local, process-restart-surviving mirror of conversations and messages.
package cache

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/model"
)

// Driver names accepted by configuration.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
	DriverMemory = "memory"
)

// PrunePolicy selects records removed by an eviction pass.
type PrunePolicy struct {
	// Before evicts messages created before this instant, and conversations last
	// updated before it that have no cached messages left. Zero disables age eviction.
	Before time.Time
	// MaxMessagesPerConversation keeps only the newest N messages of each conversation.
	// Zero or negative disables capacity eviction.
	MaxMessagesPerConversation int
}

// PruneResult reports what an eviction pass removed.
type PruneResult struct {
	Messages      int
	Conversations int
}

// Stats describes cache contents.
type Stats struct {
	Conversations int
	Messages      int
	SizeBytes     int64
}

// ConversationStore handles cached conversation records.
type ConversationStore interface {
	// UpsertConversation inserts or overwrites a conversation by ID.
	UpsertConversation(ctx context.Context, conv model.Conversation) error

	// Conversations returns all cached conversations in unspecified order.
	Conversations(ctx context.Context) ([]model.Conversation, error)
}

// MessageStore handles cached message records.
type MessageStore interface {
	// UpsertMessage inserts or overwrites a message by ID.
	UpsertMessage(ctx context.Context, msg model.Message) error

	// UpsertMessages inserts or overwrites many messages. Re-applying a batch is a no-op.
	UpsertMessages(ctx context.Context, msgs []model.Message) error

	// MessagesByConversation returns the conversation's messages ascending by creation time,
	// ties broken by first insertion.
	MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error)

	// ReplaceConversationMessages makes the cached messages of a conversation equal msgs,
	// evicting entries that are not part of the batch.
	ReplaceConversationMessages(ctx context.Context, conversationID string, msgs []model.Message) error
}

// Store aggregates all cache capabilities of a driver.
type Store interface {
	ConversationStore
	MessageStore

	// Init idempotently prepares the schema.
	Init(ctx context.Context) error

	// Prune runs one eviction pass.
	Prune(ctx context.Context, policy PrunePolicy) (PruneResult, error)

	// Stats reports record counts and on-disk size.
	Stats(ctx context.Context) (Stats, error)

	// ClearAll empties both collections. A failing sub-clear does not stop the other.
	ClearAll(ctx context.Context) error

	// Close releases the storage facility.
	Close() error
}
