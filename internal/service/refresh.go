// Package service holds the mutations the presentation layer performs outside the message flow.
package service

import "context"

// Refresher reloads conversation metadata after a mutation that changes it.
type Refresher interface {
	RefreshConversation(ctx context.Context, conversationID string) error
}
