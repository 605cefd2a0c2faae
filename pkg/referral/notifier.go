package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Notifier maintains a per-facility notification feed in redis, fed by
// contact_created events off the platform topic. Facilities poll the feed
// instead of the contacts table.
type Notifier struct {
	client *redis.Client
	maxLen int64
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client, maxLen: 100}
}

type Notification struct {
	ContactID string    `json:"contact_id"`
	PatientID string    `json:"patient_id"`
	RecordID  string    `json:"record_id"`
	Address   string    `json:"address"`
	Facility  string    `json:"facility"`
	CreatedAt time.Time `json:"created_at"`
}

func feedKey(address, facility string) string {
	return "referral:feed:" + address + "|" + facility
}

// HandleEvent is wired as the kafka consumer handler. Events other than
// contact_created pass through untouched.
func (n *Notifier) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventContactCreated {
		return nil
	}

	str := func(key string) string {
		v, _ := event.Data[key].(string)
		return v
	}
	note := Notification{
		ContactID: str("contact_id"),
		PatientID: str("patient_id"),
		RecordID:  str("record_id"),
		Address:   str("address"),
		Facility:  str("facility"),
		CreatedAt: event.Timestamp,
	}
	if note.ContactID == "" || note.Address == "" || note.Facility == "" {
		logger.Log.WithField("event_id", event.ID).Warn("Dropping malformed contact_created event")
		return nil
	}

	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := feedKey(note.Address, note.Facility)
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, n.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"contact_id": note.ContactID,
		"facility":   note.Facility,
	}).Info("Referral notification queued")
	return nil
}

// Feed returns the newest notifications for one facility, newest first.
func (n *Notifier) Feed(ctx context.Context, address, facility string, limit int64) ([]Notification, error) {
	if limit <= 0 || limit > n.maxLen {
		limit = n.maxLen
	}
	raw, err := n.client.LRange(ctx, feedKey(address, facility), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read notification feed: %w", err)
	}

	notes := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var note Notification
		if err := json.Unmarshal([]byte(item), &note); err != nil {
			logger.Log.WithError(err).Warn("Skipping malformed notification")
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}
