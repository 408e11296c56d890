package proto

import "encoding/json"

// Inbound is the envelope for frames the client sends to the backend.
type Inbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello = "hello"
	InboundTypeJoin  = "join"
	InboundTypeLeave = "leave"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventMessage = "message"
)

// HelloData authenticates the change-feed connection.
type HelloData struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// JoinData subscribes to (or, for leave, unsubscribes from) a conversation's inserts.
type JoinData struct {
	Room string `json:"room"`
}

// Outbound is the envelope for frames received from the backend.
// Data is decoded according to Type and Event.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}
