package session

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Row types for the session store. Documents (record, state, diagnosis) are
// stored as JSON columns and marshaled through the shared model types; the
// chat log and todos are flat relational rows.

type MedicalRecordRow struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID      `gorm:"type:uuid;index:idx_records_user;not null"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (MedicalRecordRow) TableName() string { return "medical_records" }

type ChatMessageRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index:idx_messages_session;not null"`
	RecordID  uuid.UUID `gorm:"type:uuid;index:idx_messages_session;not null"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (ChatMessageRow) TableName() string { return "chat_messages" }

// DialogueStateRow holds exactly one row per (user, record) pair and is the
// only table written by upsert.
type DialogueStateRow struct {
	UserID    uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RecordID  uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Data      datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (DialogueStateRow) TableName() string { return "dialogue_states" }

// DiagnosisRow is append-only; the newest row per session is the current
// diagnosis paper, older rows are the revision trail.
type DiagnosisRow struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID      `gorm:"type:uuid;index:idx_diagnoses_session;not null"`
	RecordID  uuid.UUID      `gorm:"type:uuid;index:idx_diagnoses_session;not null"`
	Paper     datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
}

func (DiagnosisRow) TableName() string { return "diagnoses" }

type TodoRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index:idx_todos_session;not null"`
	RecordID  uuid.UUID `gorm:"type:uuid;index:idx_todos_session;not null"`
	Position  int       `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	Checked   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TodoRow) TableName() string { return "todos" }
