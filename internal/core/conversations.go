package core

import (
	"context"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

// Conversations returns the sidebar list filtered by query. The remote list is
// authoritative and mirrored into the cache; when the remote is unreachable the
// cached list is served instead.
func (c *Controller) Conversations(ctx context.Context, query string) ([]model.Conversation, error) {
	convs, err := c.remoteConversations(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to load conversations, serving cache")

		cached, cacheErr := c.cache.Conversations(ctx)
		if cacheErr != nil && c.demo == nil {
			return nil, err
		}
		convs = make([]model.Conversation, 0, len(cached))
		for _, conv := range cached {
			convs = append(convs, conv.Normalize(model.SourceCache))
		}
	}

	if c.demo != nil {
		for _, conv := range c.demo.Conversations() {
			convs = append(convs, conv.Normalize(model.SourceDemo))
		}
	}

	model.SortConversations(convs)
	return model.FilterConversations(convs, query), nil
}

func (c *Controller) remoteConversations(ctx context.Context) ([]model.Conversation, error) {
	if c.remote == nil {
		return nil, remote.ErrQueryFailed
	}
	list, err := c.remote.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(list))
	for _, conv := range list {
		conv = conv.Normalize(model.SourceRemote)
		c.writer.enqueue(writeOp{kind: writeUpsertConversation, conversationID: conv.ID, conversation: conv})
		out = append(out, conv)
	}
	return out, nil
}
