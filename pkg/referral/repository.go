package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anamnesis-ai/platform/pkg/dialogue"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAlreadyReferred marks a second referral attempt for a (patient, record)
// pair that already has a contact.
var ErrAlreadyReferred = errors.New("referral: contact already exists for this record")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ContactRow{}, &ContactMessageRow{})
}

func (r *Repository) Create(ctx context.Context, row *ContactRow) error {
	err := r.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: record %s", ErrAlreadyReferred, row.RecordID)
	}
	return err
}

func (r *Repository) Get(ctx context.Context, contactID uuid.UUID) (*ContactRow, error) {
	var row ContactRow
	err := r.db.WithContext(ctx).Where("id = ?", contactID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: contact %s", dialogue.ErrNotFound, contactID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) ListByFacility(ctx context.Context, address, facility string) ([]ContactRow, error) {
	var rows []ContactRow
	err := r.db.WithContext(ctx).
		Where("address = ? AND facility = ?", address, facility).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// AddMessage appends one message to a contact thread. The first doctor
// message claims the contact: the doctor's name is stamped onto the contact
// row so later list views show who picked up the case.
func (r *Repository) AddMessage(ctx context.Context, contactID uuid.UUID, senderRole, senderName, content string) (*ContactMessageRow, error) {
	row := &ContactMessageRow{
		ID:         uuid.New(),
		ContactID:  contactID,
		SenderRole: senderRole,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contact ContactRow
		if err := tx.Where("id = ?", contactID).First(&contact).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact %s", dialogue.ErrNotFound, contactID)
			}
			return err
		}
		if senderRole == "doctor" && contact.DoctorName == "" && senderName != "" {
			if err := tx.Model(&ContactRow{}).
				Where("id = ? AND doctor_name = ''", contactID).
				Update("doctor_name", senderName).Error; err != nil {
				return err
			}
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *Repository) Messages(ctx context.Context, contactID uuid.UUID) ([]ContactMessageRow, error) {
	var rows []ContactMessageRow
	err := r.db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func snapshotOf(row ContactRow) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal contact snapshot %s: %w", row.ID, err)
	}
	return snap, nil
}
