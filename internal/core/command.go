package core

import "github.com/vovakirdan/wirechat-client/internal/model"

// CommandKind describes what the presentation layer wants to do.
type CommandKind int

const (
	// CommandSelect opens a conversation view.
	CommandSelect CommandKind = iota
	// CommandDeselect returns the view to idle.
	CommandDeselect
	// CommandSend submits the draft to the selected conversation.
	CommandSend
	// CommandRefreshMetadata refetches the selected conversation's metadata.
	CommandRefreshMetadata
)

// Draft is the pending input of the message composer.
type Draft struct {
	Content string     `json:"content"`
	File    *DraftFile `json:"file,omitempty"`
}

// DraftFile is an attachment that has not been uploaded yet.
type DraftFile struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// Empty reports whether the draft has nothing to send.
func (d Draft) Empty() bool {
	return d.Content == "" && (d.File == nil || len(d.File.Data) == 0)
}

type commandResult struct {
	generation uint64
	message    *model.Message
	err        error
}

type command struct {
	kind           CommandKind
	conversationID string
	draft          Draft
	reply          chan commandResult
}
