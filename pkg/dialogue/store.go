package dialogue

import (
	"context"

	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/google/uuid"
)

// TurnWrite is everything one turn persists. Implementations must apply it
// as a single atomic unit, writing evidence rows (messages, diagnosis,
// todos, record) before the state upsert, so a partial failure reads as
// "state didn't advance" rather than "evidence exists but state lies".
type TurnWrite struct {
	UserID   uuid.UUID
	RecordID uuid.UUID

	Messages  []models.ChatMessage      // appended in order
	Record    *models.MedicalRecordData // overwrite when set
	Diagnosis *models.DiagnosisPaper    // append when set
	Todos     []models.TodoItem         // wholesale replace when non-nil

	State State // upserted last
}

// SessionStore persists the four entity families for one (user, record)
// pair. Reads return ErrNotFound for missing sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, userID uuid.UUID, record models.MedicalRecordData, state State, firstMessage string) (uuid.UUID, error)
	Record(ctx context.Context, userID, recordID uuid.UUID) (models.MedicalRecordData, error)
	State(ctx context.Context, userID, recordID uuid.UUID) (State, error)
	History(ctx context.Context, userID, recordID uuid.UUID) ([]models.ChatMessage, error)
	LatestDiagnosis(ctx context.Context, userID, recordID uuid.UUID) (*models.DiagnosisPaper, error)
	Todos(ctx context.Context, userID, recordID uuid.UUID) ([]models.TodoItem, error)
	CommitTurn(ctx context.Context, turn TurnWrite) error
}

// ContactCreator hands the case snapshot to a facility. Idempotent per
// (patient, record): a second call fails distinguishably instead of
// duplicating the referral.
type ContactCreator interface {
	Create(ctx context.Context, patientID, recordID uuid.UUID, proposal ReferralProposal) (uuid.UUID, error)
}

// AllowlistProvider supplies the valid address -> facilities mapping for
// referral validation. Read-only, refreshable without restart.
type AllowlistProvider interface {
	Validate(address, facility string) bool
	Options() map[string][]string
}

// EventPublisher is the best-effort platform event sink; kafka in
// production, nil-safe in the engine.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}
