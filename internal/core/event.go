package core

import (
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

// eventKind is an I/O completion delivered back to the loop.
type eventKind int

const (
	eventCacheLoaded eventKind = iota
	eventRemoteMessages
	eventRemoteMetadata
	eventSubscribed
	eventLive
	eventFeed
	eventSendDone
)

func (k eventKind) String() string {
	switch k {
	case eventCacheLoaded:
		return "cache_messages"
	case eventRemoteMessages:
		return "remote_messages"
	case eventRemoteMetadata:
		return "remote_metadata"
	case eventSubscribed:
		return "subscription"
	case eventLive:
		return "live"
	case eventFeed:
		return "feed"
	case eventSendDone:
		return "send"
	default:
		return "unknown"
	}
}

// event carries the selection generation at issue time; the loop drops mismatches.
type event struct {
	kind           eventKind
	generation     uint64
	conversationID string

	messages     []model.Message
	message      model.Message
	conversation model.Conversation
	sub          remote.Subscription
	feed         remote.FeedEvent
	draft        Draft
	reply        chan commandResult
	err          error
}
