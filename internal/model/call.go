package model

import "time"

// CallState represents call session lifecycle state.
type CallState string

const (
	CallInitializing CallState = "initializing"
	CallConnecting   CallState = "connecting"
	CallActive       CallState = "active"
	CallEnded        CallState = "ended"
)

// CallKind is audio or video.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// Valid reports whether the kind is audio or video.
func (k CallKind) Valid() bool { return k == CallAudio || k == CallVideo }

// ConsentType is the kind of permission captured in a consent record.
type ConsentType string

const (
	ConsentParticipation ConsentType = "participation"
	ConsentRecording     ConsentType = "recording"
	ConsentDataSharing   ConsentType = "data-sharing"
	ConsentTerms         ConsentType = "terms"
)

// Valid reports whether the consent type is one of the closed set.
func (t ConsentType) Valid() bool {
	switch t {
	case ConsentParticipation, ConsentRecording, ConsentDataSharing, ConsentTerms:
		return true
	}
	return false
}

// ConsentRecord is an append-only permission log entry. A later record for the
// same (call, identity, type) supersedes earlier ones for display; the log is
// never deleted.
type ConsentRecord struct {
	ID         string      `json:"id"`
	CallID     string      `json:"call_id"`
	UserID     string      `json:"user_id"`
	Type       ConsentType `json:"type"`
	Granted    bool        `json:"granted"`
	RemoteAddr string      `json:"remote_addr,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// RecordingStatus represents recording lifecycle state.
type RecordingStatus string

const (
	RecordingRecording  RecordingStatus = "recording"
	RecordingPaused     RecordingStatus = "paused"
	RecordingUploading  RecordingStatus = "uploading"
	RecordingProcessing RecordingStatus = "processing"
	RecordingReady      RecordingStatus = "ready"
	RecordingFailed     RecordingStatus = "failed"
)

// Recording is the API view of a call recording.
type Recording struct {
	ID              string          `json:"id"`
	CallID          string          `json:"call_id"`
	Status          RecordingStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	StoppedAt       *time.Time      `json:"stopped_at,omitempty"`
	CapturedSeconds int             `json:"captured_seconds"`
	StorageRef      string          `json:"storage_ref,omitempty"` // set only when ready
}

// EscalationStatus is the outcome of an emergency time-extension request.
type EscalationStatus string

const (
	EscalationPending EscalationStatus = "pending"
	EscalationGranted EscalationStatus = "granted"
	EscalationDenied  EscalationStatus = "denied"
)

// Escalation is a logged request to extend a call's remaining time. Each
// request is its own record for audit purposes, never merged.
type Escalation struct {
	ID                string           `json:"id"`
	CallID            string           `json:"call_id"`
	RequestedBy       string           `json:"requested_by"`
	Reason            string           `json:"reason,omitempty"`
	AdditionalMinutes int              `json:"additional_minutes"`
	Status            EscalationStatus `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// QualitySample is one connection-health observation for a call participant.
// Score is a discrete 1..5 rating derived from the reported packet loss.
type QualitySample struct {
	CallID     string    `json:"call_id"`
	UserID     string    `json:"user_id"`
	Score      int       `json:"score"`
	PacketLoss float64   `json:"packet_loss"`
	SampledAt  time.Time `json:"sampled_at"`
}

// CallSession is the API view of a call session.
type CallSession struct {
	ID               string     `json:"id"`
	ChatSessionID    string     `json:"chat_session_id,omitempty"`
	ClientID         string     `json:"client_id"`
	ReaderID         string     `json:"reader_id"`
	Kind             CallKind   `json:"kind"`
	State            CallState  `json:"state"`
	ScheduledSeconds int        `json:"scheduled_seconds"`
	ConsumedSeconds  int        `json:"consumed_seconds"`
	RemainingSeconds int        `json:"remaining_seconds"`
	Emergency        bool       `json:"emergency"`
	RecordingEnabled bool       `json:"recording_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}
