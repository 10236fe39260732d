package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shoplium/shoplium/app/models"
)

// Ledger is the durable per-user subscription store. Upsert has
// full-replace semantics: callers read, decide, and write the whole
// record; the storage layer never merges fields.
type Ledger interface {
	Get(ctx context.Context, userID string) (*models.UserSubscription, error)
	Upsert(ctx context.Context, rec *models.UserSubscription) error

	// ScanPendingDue pages through records whose deferred transition has
	// matured. afterID is the last record id of the previous page (0 for
	// the first page).
	ScanPendingDue(ctx context.Context, now time.Time, afterID uint, limit int) ([]models.UserSubscription, error)
}

type gormLedger struct {
	db *gorm.DB
}

// NewLedger creates a subscription ledger backed by GORM.
func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) Get(ctx context.Context, userID string) (*models.UserSubscription, error) {
	var rec models.UserSubscription
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("ledger get %s: %w", userID, err)
	}
	return &rec, nil
}

func (l *gormLedger) Upsert(ctx context.Context, rec *models.UserSubscription) error {
	if rec.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"plan_name",
			"plan_price",
			"next_payment_date",
			"pending_plan",
			"pending_start_date",
			"last_four_digits",
			"updated_at",
		}),
	}).Create(rec).Error; err != nil {
		return fmt.Errorf("ledger upsert %s: %w", rec.UserID, err)
	}

	// Ensure ID is populated after upsert.
	return l.db.WithContext(ctx).Where("user_id = ?", rec.UserID).First(rec).Error
}

func (l *gormLedger) ScanPendingDue(ctx context.Context, now time.Time, afterID uint, limit int) ([]models.UserSubscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []models.UserSubscription
	err := l.db.WithContext(ctx).
		Where("pending_plan IS NOT NULL AND pending_start_date IS NOT NULL AND pending_start_date <= ? AND id > ?", now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("ledger scan pending due: %w", err)
	}
	return recs, nil
}
