package models

import "time"

// Store is one storefront owned by a platform user. StoreStatus is a
// projection of the owner's plan (active iff the plan is paid); it is kept
// eventually consistent by the subscription engine and may briefly lag the
// ledger after a plan change.
type Store struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StoreID     string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"store_id"`
	UserID      string    `gorm:"type:varchar(191);not null;index" json:"user_id"`
	Name        string    `gorm:"type:varchar(191);not null" json:"name"`
	StoreStatus bool      `gorm:"not null;default:false" json:"store_status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
