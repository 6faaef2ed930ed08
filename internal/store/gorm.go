package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

// GormStore implements Store on PostgreSQL via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetChatSession(ctx context.Context, id string) (*model.ChatSession, error) {
	var ent ChatSession
	err := s.db.WithContext(ctx).Preload("Participants").Where("id = ?", id).First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	out := &model.ChatSession{
		ID:             ent.ID,
		Status:         model.ChatSessionStatus(ent.Status),
		LastActivityAt: ent.LastActivityAt,
		CreatedAt:      ent.CreatedAt,
	}
	for _, p := range ent.Participants {
		out.Participants = append(out.Participants, model.Participant{
			UserID:      p.UserID,
			Role:        model.Role(p.Role),
			DisplayName: p.DisplayName,
		})
	}
	return out, nil
}

func (s *GormStore) TouchChatSession(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&ChatSession{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
}

func (s *GormStore) InsertMessage(ctx context.Context, m *model.ChatMessage) error {
	ent := ChatMessage{
		ID:          m.ID,
		SessionID:   m.SessionID,
		SenderID:    m.SenderID,
		Kind:        string(m.Kind),
		Content:     m.Content,
		Delivered:   m.Delivered,
		DeliveredAt: m.DeliveredAt,
		Read:        m.Read,
		ReadAt:      m.ReadAt,
		CreatedAt:   m.CreatedAt,
	}
	if m.ReplyTo != "" {
		rt := m.ReplyTo
		ent.ReplyTo = &rt
	}
	return s.db.WithContext(ctx).Create(&ent).Error
}

func (s *GormStore) GetMessage(ctx context.Context, sessionID, messageID string) (*model.ChatMessage, error) {
	var ent ChatMessage
	err := s.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", messageID, sessionID).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrMessageNotFound
		}
		return nil, err
	}
	out := &model.ChatMessage{
		ID:          ent.ID,
		SessionID:   ent.SessionID,
		SenderID:    ent.SenderID,
		Kind:        model.MessageKind(ent.Kind),
		Content:     ent.Content,
		Delivered:   ent.Delivered,
		DeliveredAt: ent.DeliveredAt,
		Read:        ent.Read,
		ReadAt:      ent.ReadAt,
		CreatedAt:   ent.CreatedAt,
	}
	if ent.ReplyTo != nil {
		out.ReplyTo = *ent.ReplyTo
	}
	return out, nil
}

// MarkMessagesRead is monotonic: already-read rows are excluded from the
// predicate so re-issuing the same call reports zero rows, not an error.
func (s *GormStore) MarkMessagesRead(ctx context.Context, sessionID, readerID string, upTo *time.Time, at time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("session_id = ? AND sender_id <> ? AND read = false", sessionID, readerID)
	if upTo != nil {
		q = q.Where("created_at <= ?", *upTo)
	}
	res := q.Updates(map[string]interface{}{"read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

func (s *GormStore) InsertCall(ctx context.Context, c *model.CallSession) error {
	ent := callToEntity(c)
	return s.db.WithContext(ctx).Create(ent).Error
}

func (s *GormStore) UpdateCall(ctx context.Context, c *model.CallSession) error {
	updates := map[string]interface{}{
		"state":            string(c.State),
		"consumed_seconds": c.ConsumedSeconds,
		"started_at":       c.StartedAt,
		"ended_at":         c.EndedAt,
	}
	return s.db.WithContext(ctx).Model(&CallSession{}).
		Where("id = ?", c.ID).
		Updates(updates).Error
}

func (s *GormStore) InsertConsent(ctx context.Context, c *model.ConsentRecord) error {
	ent := ConsentRecord{
		ID:         c.ID,
		CallID:     c.CallID,
		UserID:     c.UserID,
		Type:       string(c.Type),
		Granted:    c.Granted,
		RemoteAddr: c.RemoteAddr,
		CreatedAt:  c.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&ent).Error
}

func (s *GormStore) InsertRecording(ctx context.Context, r *model.Recording) error {
	return s.db.WithContext(ctx).Create(recordingToEntity(r)).Error
}

func (s *GormStore) UpdateRecording(ctx context.Context, r *model.Recording) error {
	return s.db.WithContext(ctx).Model(&Recording{}).
		Where("id = ?", r.ID).
		Updates(map[string]interface{}{
			"status":           string(r.Status),
			"stopped_at":       r.StoppedAt,
			"captured_seconds": r.CapturedSeconds,
			"storage_ref":      r.StorageRef,
		}).Error
}

func (s *GormStore) InsertEscalation(ctx context.Context, e *model.Escalation) error {
	ent := Escalation{
		ID:                e.ID,
		CallID:            e.CallID,
		RequestedBy:       e.RequestedBy,
		Reason:            e.Reason,
		AdditionalMinutes: e.AdditionalMinutes,
		Status:            string(e.Status),
		CreatedAt:         e.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&ent).Error
}

func (s *GormStore) UpdateEscalation(ctx context.Context, e *model.Escalation) error {
	return s.db.WithContext(ctx).Model(&Escalation{}).
		Where("id = ?", e.ID).
		Updates(map[string]interface{}{"status": string(e.Status), "resolved_at": e.ResolvedAt}).Error
}

func (s *GormStore) InsertQualitySample(ctx context.Context, q *model.QualitySample) error {
	ent := QualitySample{
		CallID:     q.CallID,
		UserID:     q.UserID,
		Score:      q.Score,
		PacketLoss: q.PacketLoss,
		SampledAt:  q.SampledAt,
	}
	return s.db.WithContext(ctx).Create(&ent).Error
}

func callToEntity(c *model.CallSession) *CallSession {
	ent := &CallSession{
		ID:               c.ID,
		ClientID:         c.ClientID,
		ReaderID:         c.ReaderID,
		Kind:             string(c.Kind),
		State:            string(c.State),
		ScheduledSeconds: c.ScheduledSeconds,
		ConsumedSeconds:  c.ConsumedSeconds,
		Emergency:        c.Emergency,
		RecordingEnabled: c.RecordingEnabled,
		StartedAt:        c.StartedAt,
		EndedAt:          c.EndedAt,
	}
	if c.ChatSessionID != "" {
		id := c.ChatSessionID
		ent.ChatSessionID = &id
	}
	return ent
}

func recordingToEntity(r *model.Recording) *Recording {
	return &Recording{
		ID:              r.ID,
		CallID:          r.CallID,
		Status:          string(r.Status),
		StartedAt:       r.StartedAt,
		StoppedAt:       r.StoppedAt,
		CapturedSeconds: r.CapturedSeconds,
		StorageRef:      r.StorageRef,
	}
}
