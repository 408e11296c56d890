package proto

import "time"

// ProfileDTO is a user profile row.
type ProfileDTO struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Status    string     `json:"status,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// MessageDTO is a message row with its sender joined in.
type MessageDTO struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	FileURL        string      `json:"file_url,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	FileType       string      `json:"file_type,omitempty"`
	Sender         *ProfileDTO `json:"sender,omitempty"`
}

// LastMessageDTO is the denormalized newest message of a conversation.
type LastMessageDTO struct {
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	SenderUsername string    `json:"sender_username,omitempty"`
}

// LabelDTO is a chat label.
type LabelDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ConversationDTO is a conversation row as returned for the current user.
type ConversationDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	IsGroup      bool            `json:"is_group"`
	AvatarURL    string          `json:"avatar_url,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastMessage  *LastMessageDTO `json:"last_message,omitempty"`
	OtherUser    *ProfileDTO     `json:"other_user,omitempty"`
	Participants []ProfileDTO    `json:"participants,omitempty"`
	Labels       []LabelDTO      `json:"labels,omitempty"`
}

// SendMessageRequest inserts a message into a conversation.
type SendMessageRequest struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// UploadResponse locates an uploaded attachment.
type UploadResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// MemberRequest adds a participant.
type MemberRequest struct {
	UserID string `json:"user_id"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
