// Package session is the Postgres persistence layer for intake sessions:
// medical records, chat log, dialogue state, diagnoses and todos.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/anamnesis-ai/platform/pkg/dialogue"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&MedicalRecordRow{},
		&ChatMessageRow{},
		&DialogueStateRow{},
		&DiagnosisRow{},
		&TodoRow{},
	)
}

// CreateSession writes the record, the opening assistant message (when
// non-empty) and the initial state in one transaction.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, record models.MedicalRecordData, state dialogue.State, firstMessage string) (uuid.UUID, error) {
	recordID := uuid.New()

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal medical record: %w", err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal dialogue state: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&MedicalRecordRow{
			ID:     recordID,
			UserID: userID,
			Data:   recordJSON,
		}).Error; err != nil {
			return err
		}
		if firstMessage != "" {
			if err := tx.Create(&ChatMessageRow{
				ID:        uuid.New(),
				UserID:    userID,
				RecordID:  recordID,
				Role:      models.RoleAssistant,
				Content:   firstMessage,
				CreatedAt: time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&DialogueStateRow{
			UserID:   userID,
			RecordID: recordID,
			Data:     stateJSON,
		}).Error
	})
	if err != nil {
		return uuid.Nil, err
	}
	return recordID, nil
}

func (s *Store) Record(ctx context.Context, userID, recordID uuid.UUID) (models.MedicalRecordData, error) {
	var row MedicalRecordRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", recordID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MedicalRecordData{}, fmt.Errorf("%w: record %s", dialogue.ErrNotFound, recordID)
	}
	if err != nil {
		return models.MedicalRecordData{}, err
	}

	var record models.MedicalRecordData
	if err := json.Unmarshal(row.Data, &record); err != nil {
		return models.MedicalRecordData{}, fmt.Errorf("unmarshal medical record %s: %w", recordID, err)
	}
	return record, nil
}

func (s *Store) State(ctx context.Context, userID, recordID uuid.UUID) (dialogue.State, error) {
	var row DialogueStateRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND record_id = ?", userID, recordID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dialogue.State{}, fmt.Errorf("%w: session %s", dialogue.ErrNotFound, recordID)
	}
	if err != nil {
		return dialogue.State{}, err
	}

	var state dialogue.State
	if err := json.Unmarshal(row.Data, &state); err != nil {
		return dialogue.State{}, fmt.Errorf("unmarshal dialogue state %s: %w", recordID, err)
	}
	return state, nil
}

func (s *Store) History(ctx context.Context, userID, recordID uuid.UUID) ([]models.ChatMessage, error) {
	var rows []ChatMessageRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND record_id = ?", userID, recordID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	history := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		history = append(history, models.ChatMessage{
			ID:        row.ID,
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		})
	}
	return history, nil
}

// LatestDiagnosis returns nil without error when the session has not been
// diagnosed yet.
func (s *Store) LatestDiagnosis(ctx context.Context, userID, recordID uuid.UUID) (*models.DiagnosisPaper, error) {
	var row DiagnosisRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND record_id = ?", userID, recordID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paper models.DiagnosisPaper
	if err := json.Unmarshal(row.Paper, &paper); err != nil {
		return nil, fmt.Errorf("unmarshal diagnosis %s: %w", row.ID, err)
	}
	return &paper, nil
}

func (s *Store) Todos(ctx context.Context, userID, recordID uuid.UUID) ([]models.TodoItem, error) {
	var rows []TodoRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND record_id = ?", userID, recordID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	todos := make([]models.TodoItem, 0, len(rows))
	for _, row := range rows {
		todos = append(todos, models.TodoItem{Text: row.Text, Checked: row.Checked})
	}
	return todos, nil
}

// CommitTurn applies one turn atomically. Evidence rows go in before the
// state upsert so a failed transaction can never leave the state ahead of
// the evidence it references.
func (s *Store) CommitTurn(ctx context.Context, turn dialogue.TurnWrite) error {
	stateJSON, err := json.Marshal(turn.State)
	if err != nil {
		return fmt.Errorf("marshal dialogue state: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, msg := range turn.Messages {
			row := ChatMessageRow{
				ID:        msg.ID,
				UserID:    turn.UserID,
				RecordID:  turn.RecordID,
				Role:      msg.Role,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			}
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			if row.CreatedAt.IsZero() {
				row.CreatedAt = time.Now().UTC()
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if turn.Record != nil {
			recordJSON, err := json.Marshal(turn.Record)
			if err != nil {
				return fmt.Errorf("marshal medical record: %w", err)
			}
			res := tx.Model(&MedicalRecordRow{}).
				Where("id = ? AND user_id = ?", turn.RecordID, turn.UserID).
				Update("data", recordJSON)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: record %s", dialogue.ErrNotFound, turn.RecordID)
			}
		}

		if turn.Diagnosis != nil {
			paperJSON, err := json.Marshal(turn.Diagnosis)
			if err != nil {
				return fmt.Errorf("marshal diagnosis paper: %w", err)
			}
			if err := tx.Create(&DiagnosisRow{
				ID:       uuid.New(),
				UserID:   turn.UserID,
				RecordID: turn.RecordID,
				Paper:    paperJSON,
			}).Error; err != nil {
				return err
			}
		}

		if turn.Todos != nil {
			if err := tx.Where("user_id = ? AND record_id = ?", turn.UserID, turn.RecordID).
				Delete(&TodoRow{}).Error; err != nil {
				return err
			}
			for i, todo := range turn.Todos {
				if err := tx.Create(&TodoRow{
					ID:       uuid.New(),
					UserID:   turn.UserID,
					RecordID: turn.RecordID,
					Position: i,
					Text:     todo.Text,
					Checked:  todo.Checked,
				}).Error; err != nil {
					return err
				}
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&DialogueStateRow{
			UserID:    turn.UserID,
			RecordID:  turn.RecordID,
			Data:      stateJSON,
			UpdatedAt: time.Now().UTC(),
		}).Error
	})
}

// SetTodoChecked flips one todo by position. Used by the patient-facing todo
// endpoint, outside the turn path.
func (s *Store) SetTodoChecked(ctx context.Context, userID, recordID uuid.UUID, position int, checked bool) error {
	res := s.db.WithContext(ctx).Model(&TodoRow{}).
		Where("user_id = ? AND record_id = ? AND position = ?", userID, recordID, position).
		Update("checked", checked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: todo %d", dialogue.ErrNotFound, position)
	}
	return nil
}
