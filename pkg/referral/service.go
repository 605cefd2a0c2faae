// Package referral turns a finished intake session into a contact a partner
// facility can act on: a frozen case snapshot plus a doctor/patient message
// thread.
package referral

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/anamnesis-ai/platform/pkg/dialogue"
	"github.com/google/uuid"
)

const source = "contact-service"

// SnapshotSource is the read surface the service freezes a case from.
type SnapshotSource interface {
	Record(ctx context.Context, userID, recordID uuid.UUID) (models.MedicalRecordData, error)
	LatestDiagnosis(ctx context.Context, userID, recordID uuid.UUID) (*models.DiagnosisPaper, error)
	Todos(ctx context.Context, userID, recordID uuid.UUID) ([]models.TodoItem, error)
	History(ctx context.Context, userID, recordID uuid.UUID) ([]models.ChatMessage, error)
}

type Service struct {
	repo   *Repository
	src    SnapshotSource
	events dialogue.EventPublisher
}

func NewService(repo *Repository, src SnapshotSource, events dialogue.EventPublisher) *Service {
	return &Service{repo: repo, src: src, events: events}
}

// Create freezes the case and writes the contact. A second call for the same
// (patient, record) pair fails with ErrAlreadyReferred.
func (s *Service) Create(ctx context.Context, patientID, recordID uuid.UUID, proposal dialogue.ReferralProposal) (uuid.UUID, error) {
	record, err := s.src.Record(ctx, patientID, recordID)
	if err != nil {
		return uuid.Nil, err
	}
	paper, err := s.src.LatestDiagnosis(ctx, patientID, recordID)
	if err != nil {
		return uuid.Nil, err
	}
	todos, err := s.src.Todos(ctx, patientID, recordID)
	if err != nil {
		return uuid.Nil, err
	}

	snap := Snapshot{Record: record, Diagnosis: paper, Todos: todos}
	if proposal.IncludeConversation {
		history, err := s.src.History(ctx, patientID, recordID)
		if err != nil {
			return uuid.Nil, err
		}
		snap.Conversation = history
	}

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal contact snapshot: %w", err)
	}

	row := &ContactRow{
		ID:                  uuid.New(),
		PatientID:           patientID,
		RecordID:            recordID,
		Address:             proposal.Address,
		Facility:            proposal.Facility,
		IncludeConversation: proposal.IncludeConversation,
		Snapshot:            snapJSON,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return uuid.Nil, err
	}

	if s.events != nil {
		if err := s.events.PublishEvent(ctx, models.EventContactCreated, source, map[string]interface{}{
			"contact_id": row.ID.String(),
			"patient_id": patientID.String(),
			"record_id":  recordID.String(),
			"address":    proposal.Address,
			"facility":   proposal.Facility,
		}); err != nil {
			logger.Log.WithError(err).Warn("Failed to publish contact_created event")
		}
	}

	return row.ID, nil
}
