package repository

import (
	"context"

	"sports-marketplace-backend/internal/models"

	"gorm.io/gorm"
)

type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// Record appends an inbound gateway notification to the audit trail.
func (r *PaymentEventRepository) Record(ctx context.Context, ev *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}
