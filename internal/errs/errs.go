package errs

import "errors"

// Domain sentinel errors for mapping to HTTP and WebSocket error codes in handlers.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrAccessDenied           = errors.New("access denied")
	ErrValidationFailed       = errors.New("validation failed")
	ErrSessionNotFound        = errors.New("session not found")
	ErrMessageNotFound        = errors.New("message not found")
	ErrCallNotFound           = errors.New("call not found")
	ErrCallEnded              = errors.New("call already ended")
	ErrRecordingNotFound      = errors.New("recording not found")
	ErrRecordingActive        = errors.New("recording already in progress")
	ErrConsentMissing         = errors.New("recording consent missing")
	ErrExtensionNotAllowed    = errors.New("extension not allowed")
	ErrTooManyObservers       = errors.New("session has maximum observers")
	ErrUpstreamFailure        = errors.New("durable write failed")
)
