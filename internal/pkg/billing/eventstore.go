package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shoplium/shoplium/app/models"
)

// EventStore persists webhook deliveries and answers whether a delivery
// with the same provider event id was seen before.
type EventStore interface {
	// Record inserts the delivery if its (provider, event id) pair is new
	// and reports whether it was actually inserted. A false result means
	// the delivery is a redelivery and must be acked without side effects.
	Record(ctx context.Context, ev *models.BillingWebhookEvent) (bool, error)

	// MarkProcessed stamps the delivery as handled, with an optional
	// processing error kept for operators.
	MarkProcessed(ctx context.Context, provider, providerEventID string, processingErr error) error
}

type gormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

func (s *gormEventStore) Record(ctx context.Context, ev *models.BillingWebhookEvent) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormEventStore) MarkProcessed(ctx context.Context, provider, providerEventID string, processingErr error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at": &now,
	}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	return s.db.WithContext(ctx).
		Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Updates(updates).Error
}

// PayloadFingerprint derives a stable event id from the raw payload, used
// when a provider delivery carries no usable event id of its own.
func PayloadFingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}
