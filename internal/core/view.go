package core

import "github.com/vovakirdan/wirechat-client/internal/model"

// State is the lifecycle stage of the conversation view.
type State string

const (
	StateIdle              State = "idle"
	StateCacheLoading      State = "cache_loading"
	StateCacheLoaded       State = "cache_loaded"
	StateRemoteReconciling State = "remote_reconciling"
	StateLive              State = "live"
)

// View is an immutable snapshot of the selected conversation for the presentation layer.
type View struct {
	Generation     uint64              `json:"generation"`
	ConversationID string              `json:"conversation_id,omitempty"`
	State          State               `json:"state"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Messages       []model.Message     `json:"messages"`
	// Partial is set while the list may contain stale cached entries.
	Partial bool       `json:"partial"`
	Loading bool       `json:"loading"`
	Sending bool       `json:"sending"`
	Demo    bool       `json:"demo"`
	Draft   string     `json:"draft,omitempty"`
	Error   *CoreError `json:"error,omitempty"`
}

func (v View) clone() View {
	out := v
	out.Messages = model.CloneMessages(v.Messages)
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	if v.Conversation != nil {
		conv := v.Conversation.Normalize(v.Conversation.Source)
		out.Conversation = &conv
	}
	if v.Error != nil {
		e := *v.Error
		out.Error = &e
	}
	return out
}
