package repository

import (
	"context"
	"errors"
	"time"

	"sports-marketplace-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// lifecycleColumns are the only invoice columns a transition may write.
// Amount, currency, product, target_ref, buyer_id and order_number are
// immutable after creation and deliberately excluded.
var lifecycleColumns = []string{"status", "payment_url", "receipt_url", "gateway_ref", "paid_at", "grant_error", "updated_at"}

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// DB exposes the underlying connection for wiring.
func (r *InvoiceRepository) DB() *gorm.DB {
	return r.db
}

// Create inserts a new invoice. Unique violations (order number,
// gateway ref, or a second live pending invoice for the same intent)
// come back as ErrDuplicate.
func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	err := r.db.WithContext(ctx).Create(inv).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// FindByGatewayRef resolves the invoice a webhook refers to. Webhook
// processing matches on this and nothing else.
func (r *InvoiceRepository) FindByGatewayRef(ctx context.Context, ref string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).First(&inv, "gateway_ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// FindPendingFor returns the live pending invoice for a buyer intent,
// or ErrNotFound.
func (r *InvoiceRepository) FindPendingFor(ctx context.Context, buyerID uuid.UUID, product models.Product, targetRef string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND product = ? AND target_ref = ? AND status = ?",
			buyerID, product, targetRef, models.StatusPending).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListByBuyer returns the buyer's invoices, optionally filtered by status,
// newest first.
func (r *InvoiceRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, status models.InvoiceStatus) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Find(&invoices).Error
	return invoices, err
}

// FindExpiredPending returns pending invoices created before cutoff.
func (r *InvoiceRepository) FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Find(&invoices).Error
	return invoices, err
}

// CompareAndTransition atomically moves an invoice from expected to next,
// applying mutate to the lifecycle fields first. The UPDATE is guarded by
// the expected status; zero rows affected means another writer got there
// first and the caller receives ErrConflict.
func (r *InvoiceRepository) CompareAndTransition(ctx context.Context, id uuid.UUID, expected, next models.InvoiceStatus, mutate func(*models.Invoice)) (*models.Invoice, error) {
	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != expected {
		return nil, ErrConflict
	}

	inv.Status = next
	if mutate != nil {
		mutate(inv)
	}
	inv.UpdatedAt = time.Now()

	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Select(lifecycleColumns).
		Where("id = ? AND status = ?", id, expected).
		Updates(inv)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return inv, nil
}

// ClaimEntitlement flips entitlement_granted exactly once for a paid
// invoice. The conditional update is the whole guarantee: concurrent
// duplicate confirmations race here and exactly one wins.
func (r *InvoiceRepository) ClaimEntitlement(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ? AND entitlement_granted = ?", id, models.StatusPaid, false).
		Update("entitlement_granted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.EntitlementGranted {
		return ErrAlreadyGranted
	}
	return ErrConflict
}

// RecordGrantError stores the side-effect failure on a paid invoice for
// operator remediation. The paid status itself is never touched.
func (r *InvoiceRepository) RecordGrantError(ctx context.Context, id uuid.UUID, msg string) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("grant_error", msg).Error
}
