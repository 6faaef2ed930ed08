package model

import "time"

// ChatSessionStatus represents chat session state.
type ChatSessionStatus string

const (
	ChatSessionActive ChatSessionStatus = "active"
	ChatSessionClosed ChatSessionStatus = "closed"
)

// MessageKind is the chat message payload kind.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageFile   MessageKind = "file"
	MessageVoice  MessageKind = "voice"
	MessageSystem MessageKind = "system"
)

// Valid reports whether the kind is one of the closed message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageFile, MessageVoice, MessageSystem:
		return true
	}
	return false
}

// Participant is an identity authorized for a chat session.
type Participant struct {
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// ChatSession is the API view of a chat session. Sessions are created by the
// booking workflow; the realtime core only joins, leaves and messages within them.
type ChatSession struct {
	ID             string            `json:"id"`
	Status         ChatSessionStatus `json:"status"`
	Participants   []Participant     `json:"participants"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ChatMessage is the authoritative stored message record. Once persisted it is
// immutable except for the delivered/read transitions, which are monotonic.
type ChatMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id"`
	// SenderName is broadcast-only display enrichment taken from the sender's
	// identity; the persisted record carries only the sender id.
	SenderName  string      `json:"sender_name,omitempty"`
	Kind        MessageKind `json:"kind"`
	Content     string      `json:"content"`
	ReplyTo     string      `json:"reply_to,omitempty"`
	Delivered   bool        `json:"delivered"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
	Read        bool        `json:"read"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
