package store

import (
	"context"
	"time"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

// Store is the persistence collaborator of the realtime core. The core treats
// durable writes as logically async: broadcasts are not held back waiting for
// them, and callers are told when a durable write failed so they can retry.
type Store interface {
	// Chat
	GetChatSession(ctx context.Context, id string) (*model.ChatSession, error)
	TouchChatSession(ctx context.Context, id string, at time.Time) error
	InsertMessage(ctx context.Context, m *model.ChatMessage) error
	GetMessage(ctx context.Context, sessionID, messageID string) (*model.ChatMessage, error)
	// MarkMessagesRead marks unread messages in the session not authored by
	// readerID, created at or before upTo (all when upTo is nil), as read.
	// Returns the number of rows transitioned.
	MarkMessagesRead(ctx context.Context, sessionID, readerID string, upTo *time.Time, at time.Time) (int64, error)

	// Calls
	InsertCall(ctx context.Context, c *model.CallSession) error
	UpdateCall(ctx context.Context, c *model.CallSession) error
	InsertConsent(ctx context.Context, c *model.ConsentRecord) error
	InsertRecording(ctx context.Context, r *model.Recording) error
	UpdateRecording(ctx context.Context, r *model.Recording) error
	InsertEscalation(ctx context.Context, e *model.Escalation) error
	UpdateEscalation(ctx context.Context, e *model.Escalation) error
	InsertQualitySample(ctx context.Context, s *model.QualitySample) error
}
