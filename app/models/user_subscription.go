package models

import "time"

// PlanFree is the plan every user falls back to when no paid subscription
// is active. Paid plan names are provider-defined and resolved through the
// plan catalog; "free" is the only name the engine itself needs to know.
const PlanFree = "free"

// UserSubscription is the durable per-user subscription ledger record.
// There is at most one record per user; it is created on the first paid
// event and overwritten in place afterwards, never deleted.
//
// PendingPlan/PendingStartDate describe a deferred transition: the plan to
// apply once PendingStartDate matures. Both are set together or not at all.
// While PendingStartDate is in the future, PlanName still reflects the plan
// the user is entitled to right now.
type UserSubscription struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"user_id"`
	SubscriptionID  string     `gorm:"type:varchar(191);not null" json:"subscription_id"`
	PlanName        string     `gorm:"type:varchar(64);not null;default:'free'" json:"plan_name"`
	PlanPrice       float64    `gorm:"not null;default:0" json:"plan_price"`
	NextPaymentDate *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_date,omitempty"`
	PendingPlan     *string    `gorm:"type:varchar(64);default:null" json:"pending_plan,omitempty"`
	PendingStartDate *time.Time `gorm:"type:timestamp;default:null;index:idx_user_subscriptions_pending_start" json:"pending_start_date,omitempty"`
	LastFourDigits  *string    `gorm:"type:varchar(4);default:null" json:"last_four_digits,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPendingTransition reports whether a deferred plan change is recorded.
func (s *UserSubscription) HasPendingTransition() bool {
	return s.PendingPlan != nil && s.PendingStartDate != nil
}

// PendingDue reports whether the deferred transition has matured.
func (s *UserSubscription) PendingDue(now time.Time) bool {
	return s.HasPendingTransition() && !s.PendingStartDate.After(now)
}

// DueForReconciliation reports whether the record needs the sweep's
// attention: either the recurring billing period lapsed without a renewal
// event, or a deferred transition has matured.
func (s *UserSubscription) DueForReconciliation(now time.Time) bool {
	if s.PendingDue(now) {
		return true
	}
	return s.NextPaymentDate == nil || s.NextPaymentDate.Before(now)
}

// ClearPending removes the deferred transition marker.
func (s *UserSubscription) ClearPending() {
	s.PendingPlan = nil
	s.PendingStartDate = nil
}
