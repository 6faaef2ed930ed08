package model

// CreateCallRequest is the request body for POST /calls.
type CreateCallRequest struct {
	ChatSessionID    string   `json:"chat_session_id"`
	ClientID         string   `json:"client_id" binding:"required"`
	ReaderID         string   `json:"reader_id" binding:"required"`
	Kind             CallKind `json:"kind" binding:"required"`
	ScheduledMinutes int      `json:"scheduled_minutes" binding:"required"`
	Emergency        bool     `json:"emergency"`
	RecordingEnabled bool     `json:"recording_enabled"`
}

// ConsentRequest is the request body for POST /calls/:id/consent.
type ConsentRequest struct {
	Type    ConsentType `json:"type" binding:"required"`
	Granted *bool       `json:"granted" binding:"required"`
}

// ExtensionRequest is the request body for POST /calls/:id/extensions.
type ExtensionRequest struct {
	AdditionalMinutes int    `json:"additional_minutes" binding:"required"`
	Reason            string `json:"reason"`
}

// ResolveExtensionRequest is the request body for POST /calls/:id/extensions/:eid/resolve.
type ResolveExtensionRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// RecordingUploadedRequest reports a completed media blob handoff.
type RecordingUploadedRequest struct {
	StorageRef string `json:"storage_ref" binding:"required"`
}
