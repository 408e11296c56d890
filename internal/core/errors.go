package core

import "errors"

// Error codes exposed on the view.
const (
	ErrCodeLoadFailed       = "load_failed"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeNotAuthenticated = "not_authenticated"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeFeedLost         = "feed_lost"
)

var (
	// ErrEmptyMessage is returned when a draft has neither text nor a file.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoConversation is returned for conversation-scoped operations without a selection.
	ErrNoConversation = errors.New("no conversation selected")
	// ErrClosed is returned once the controller loop has stopped.
	ErrClosed = errors.New("controller stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
