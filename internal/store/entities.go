package store

import "time"

// GORM entities for the persisted shapes the realtime core round-trips.
// The API views live in internal/model.

type ChatSession struct {
	ID             string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Status         string    `gorm:"size:20;not null;default:active"` // active, closed
	LastActivityAt time.Time `gorm:"column:last_activity_at;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`

	Participants []ChatParticipant `gorm:"foreignKey:SessionID"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

type ChatParticipant struct {
	ID          string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID   string `gorm:"type:uuid;not null;index"`
	UserID      string `gorm:"type:uuid;not null;index"`
	Role        string `gorm:"size:20;not null"`
	DisplayName string `gorm:"size:120"`
}

func (ChatParticipant) TableName() string { return "chat_participants" }

type ChatMessage struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	SessionID   string     `gorm:"type:uuid;not null;index:idx_messages_session_created,priority:1"`
	SenderID    string     `gorm:"type:uuid;not null;index"`
	Kind        string     `gorm:"size:20;not null"` // text, file, voice, system
	Content     string     `gorm:"type:text;not null"`
	ReplyTo     *string    `gorm:"type:uuid"`
	Delivered   bool       `gorm:"not null;default:false"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	Read        bool       `gorm:"not null;default:false"`
	ReadAt      *time.Time `gorm:"column:read_at"`
	CreatedAt   time.Time  `gorm:"not null;index:idx_messages_session_created,priority:2"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

type CallSession struct {
	ID               string     `gorm:"type:uuid;primaryKey"`
	ChatSessionID    *string    `gorm:"type:uuid;index"`
	ClientID         string     `gorm:"type:uuid;not null;index"`
	ReaderID         string     `gorm:"type:uuid;not null;index"`
	Kind             string     `gorm:"size:10;not null"` // audio, video
	State            string     `gorm:"size:20;not null"`
	ScheduledSeconds int        `gorm:"not null"`
	ConsumedSeconds  int        `gorm:"not null;default:0"`
	Emergency        bool       `gorm:"not null;default:false"`
	RecordingEnabled bool       `gorm:"not null;default:false"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	EndedAt          *time.Time `gorm:"column:ended_at"`
}

func (CallSession) TableName() string { return "call_sessions" }

type ConsentRecord struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	CallID     string    `gorm:"type:uuid;not null;index"`
	UserID     string    `gorm:"type:uuid;not null;index"`
	Type       string    `gorm:"size:20;not null"`
	Granted    bool      `gorm:"not null"`
	RemoteAddr string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (ConsentRecord) TableName() string { return "consent_records" }

type Recording struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	CallID          string     `gorm:"type:uuid;not null;index"`
	Status          string     `gorm:"size:20;not null"`
	StartedAt       time.Time  `gorm:"not null"`
	StoppedAt       *time.Time `gorm:"column:stopped_at"`
	CapturedSeconds int        `gorm:"not null;default:0"`
	StorageRef      string     `gorm:"size:512"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

func (Recording) TableName() string { return "recordings" }

type Escalation struct {
	ID                string     `gorm:"type:uuid;primaryKey"`
	CallID            string     `gorm:"type:uuid;not null;index"`
	RequestedBy       string     `gorm:"type:uuid;not null"`
	Reason            string     `gorm:"type:text"`
	AdditionalMinutes int        `gorm:"not null"`
	Status            string     `gorm:"size:10;not null;default:pending"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	ResolvedAt        *time.Time `gorm:"column:resolved_at"`
}

func (Escalation) TableName() string { return "escalations" }

type QualitySample struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	CallID     string    `gorm:"type:uuid;not null;index"`
	UserID     string    `gorm:"type:uuid;not null"`
	Score      int       `gorm:"not null"`
	PacketLoss float64   `gorm:"not null;default:0"`
	SampledAt  time.Time `gorm:"not null"`
}

func (QualitySample) TableName() string { return "quality_samples" }
