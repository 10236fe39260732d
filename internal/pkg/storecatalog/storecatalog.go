// Package storecatalog provides access to the storefront registry. Each
// user may own several stores; a store's status flag gates whether its
// public storefront is served.
package storecatalog

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/shoplium/shoplium/app/models"
)

// Catalog is the store-registry surface the subscription engine needs.
type Catalog interface {
	// ListStoresByUser returns every store owned by the user, oldest first.
	ListStoresByUser(ctx context.Context, userID string) ([]models.Store, error)

	// UpdateStoreActive flips a single store's status flag.
	UpdateStoreActive(ctx context.Context, storeID string, active bool) error
}

type gormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog returns a Catalog backed by the given database handle.
func NewGormCatalog(db *gorm.DB) Catalog {
	return &gormCatalog{db: db}
}

func (c *gormCatalog) ListStoresByUser(ctx context.Context, userID string) ([]models.Store, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	var stores []models.Store
	err := c.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&stores).Error
	if err != nil {
		return nil, err
	}
	return stores, nil
}

func (c *gormCatalog) UpdateStoreActive(ctx context.Context, storeID string, active bool) error {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return errors.New("store id is required")
	}

	res := c.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("store_id = ?", storeID).
		Update("store_status", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
