package repository

import (
	"context"

	"github.com/yashrajoria/storefront-checkout/models"
	"gorm.io/gorm"
)

// CheckoutAuditRepository writes completion attempts to the checkout_attempts table.
type CheckoutAuditRepository interface {
	RecordAttempt(ctx context.Context, record *models.CheckoutAttemptRecord) error
	FindByToken(ctx context.Context, token string) ([]models.CheckoutAttemptRecord, error)
}

type GormCheckoutAuditRepository struct {
	db *gorm.DB
}

func NewGormCheckoutAuditRepository(db *gorm.DB) CheckoutAuditRepository {
	return &GormCheckoutAuditRepository{db: db}
}

func (r *GormCheckoutAuditRepository) RecordAttempt(ctx context.Context, record *models.CheckoutAttemptRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByToken is for support tooling; checkout never reads the audit log to deduplicate.
func (r *GormCheckoutAuditRepository) FindByToken(ctx context.Context, token string) ([]models.CheckoutAttemptRecord, error) {
	var records []models.CheckoutAttemptRecord
	if err := r.db.WithContext(ctx).
		Where("token = ?", token).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
