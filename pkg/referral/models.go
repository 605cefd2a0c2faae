package referral

import (
	"time"

	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContactRow is one referral handoff. The unique index enforces at most one
// referral per (patient, record); the snapshot column freezes the case as it
// looked at referral time.
type ContactRow struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PatientID           uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_contacts_session;not null"`
	RecordID            uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_contacts_session;not null"`
	Address             string         `gorm:"size:255;index:idx_contacts_target;not null"`
	Facility            string         `gorm:"size:255;index:idx_contacts_target;not null"`
	DoctorName          string         `gorm:"size:255"`
	IncludeConversation bool           `gorm:"not null"`
	Snapshot            datatypes.JSON `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (ContactRow) TableName() string { return "contacts" }

type ContactMessageRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ContactID  uuid.UUID `gorm:"type:uuid;index:idx_contact_messages_contact;not null"`
	SenderRole string    `gorm:"size:16;not null"` // doctor | patient
	SenderName string    `gorm:"size:255"`
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

func (ContactMessageRow) TableName() string { return "contact_messages" }

// Snapshot is the frozen case payload shared with the facility.
type Snapshot struct {
	Record       models.MedicalRecordData `json:"medical_record"`
	Diagnosis    *models.DiagnosisPaper   `json:"diagnosis,omitempty"`
	Todos        []models.TodoItem        `json:"todos,omitempty"`
	Conversation []models.ChatMessage     `json:"conversation,omitempty"`
}

// PatientCard is the list-view DTO for a facility's inbox.
type PatientCard struct {
	ContactID   uuid.UUID `json:"contact_id"`
	PatientName string    `json:"patient_name"`
	Address     string    `json:"address"`
	Facility    string    `json:"facility"`
	DoctorName  string    `json:"doctor_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ContactDetail struct {
	PatientCard
	IncludeConversation bool     `json:"include_conversation"`
	Snapshot            Snapshot `json:"snapshot"`
}

type ContactMessage struct {
	ID         uuid.UUID `json:"id"`
	SenderRole string    `json:"sender_role"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
