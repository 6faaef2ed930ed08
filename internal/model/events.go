package model

import (
	"encoding/json"
	"time"
)

// Inbound WebSocket event names. The set is closed: unknown events are
// answered with a validation error to the originating connection only.
const (
	EventJoinSession   = "join_session"
	EventLeaveSession  = "leave_session"
	EventSendMessage   = "send_message"
	EventMarkRead      = "mark_messages_read"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventOnlineUsers   = "get_online_users"
	EventQualityReport = "quality_report"
)

// Outbound WebSocket event names.
const (
	EventSessionJoined     = "session_joined"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventNewMessage        = "new_message"
	EventMessagesRead      = "messages_read"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventOnlineUsersReply  = "online_users"
	EventCallState         = "call_state"
	EventQualityDegraded   = "quality_degraded"
	EventRecordingStatus   = "recording_status"
	EventExtensionUpdate   = "extension_update"
	EventError             = "error"
)

// Envelope is the wire frame for both directions: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an outbound frame. Marshal failures are
// programming errors on closed structs, so the error is swallowed.
func NewEnvelope(event string, data any) []byte {
	raw, _ := json.Marshal(data)
	b, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return b
}

// Inbound payloads, one struct per event in the closed set.

type JoinSessionRequest struct {
	SessionID string `json:"session_id"`
}

type LeaveSessionRequest struct {
	SessionID string `json:"session_id"`
}

type SendMessageRequest struct {
	SessionID string      `json:"session_id"`
	Kind      MessageKind `json:"type"`
	Content   string      `json:"content"`
	ReplyTo   string      `json:"reply_to,omitempty"`
}

type MarkReadRequest struct {
	SessionID     string `json:"session_id"`
	UpToMessageID string `json:"up_to_message_id,omitempty"`
}

type TypingRequest struct {
	SessionID string `json:"session_id"`
}

type OnlineUsersRequest struct {
	SessionID string `json:"session_id"`
}

type QualityReportRequest struct {
	CallID     string  `json:"call_id"`
	PacketLoss float64 `json:"packet_loss"`
}

// Outbound payloads.

type SessionJoinedEvent struct {
	SessionID string        `json:"session_id"`
	Members   []Participant `json:"members"`
}

type UserJoinedEvent struct {
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id"`
	Role      Role        `json:"role"`
	Name      string      `json:"name"`
	JoinedAt  time.Time   `json:"joined_at"`
}

type UserLeftEvent struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type MessagesReadEvent struct {
	SessionID     string    `json:"session_id"`
	ReaderID      string    `json:"reader_id"`
	ReadCount     int       `json:"read_count"`
	UpToMessageID string    `json:"up_to_message_id,omitempty"`
	ReadAt        time.Time `json:"read_at"`
}

type TypingEvent struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type OnlineUsersEvent struct {
	SessionID string        `json:"session_id"`
	Users     []Participant `json:"users"`
}

type CallStateEvent struct {
	CallID           string    `json:"call_id"`
	State            CallState `json:"state"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type QualityDegradedEvent struct {
	CallID string `json:"call_id"`
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

type RecordingStatusEvent struct {
	CallID      string          `json:"call_id"`
	RecordingID string          `json:"recording_id"`
	Status      RecordingStatus `json:"status"`
}

type ExtensionUpdateEvent struct {
	CallID            string           `json:"call_id"`
	EscalationID      string           `json:"escalation_id"`
	Status            EscalationStatus `json:"status"`
	AdditionalMinutes int              `json:"additional_minutes"`
	RemainingSeconds  int              `json:"remaining_seconds"`
}

// ErrorEvent is reported to the originating connection only.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"` // inbound event that failed
}
