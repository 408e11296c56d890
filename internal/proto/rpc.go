package proto

// Remote procedures exposed by the backend under POST /api/rpc/{fn}.
const (
	RPCListLabels         = "list_labels"
	RPCCreateLabel        = "create_label"
	RPCConversationLabels = "conversation_labels"
	RPCAttachLabel        = "attach_label"
	RPCDetachLabel        = "detach_label"
)

// CreateLabelParams creates a label owned by the current user.
type CreateLabelParams struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ConversationParams scopes a procedure to one conversation.
type ConversationParams struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationLabelParams links or unlinks a label.
type ConversationLabelParams struct {
	ConversationID string `json:"conversation_id"`
	LabelID        string `json:"label_id"`
}
