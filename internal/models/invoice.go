package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is what the buyer is paying for.
type Product string

const (
	ProductContactsAccess Product = "contacts_access"
	ProductPlayerListing  Product = "player_listing"
)

// InvoiceStatus values mirror the gateway-facing status vocabulary.
type InvoiceStatus string

const (
	StatusPending   InvoiceStatus = "pending"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
	StatusExpired   InvoiceStatus = "expired"
	StatusFailed    InvoiceStatus = "failed"
	StatusRefunded  InvoiceStatus = "refunded"
)

// ValidProduct reports whether p is a sellable product.
func ValidProduct(p Product) bool {
	return p == ProductContactsAccess || p == ProductPlayerListing
}

// ValidStatus reports whether s is a known invoice status.
func ValidStatus(s InvoiceStatus) bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled, StatusExpired, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Invoice is the durable record of a single payable intent.
// Amount, currency, product, target and buyer are fixed at creation;
// only lifecycle fields change afterwards.
type Invoice struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber string    `gorm:"uniqueIndex" json:"order_number"`
	BuyerID     uuid.UUID `gorm:"index" json:"buyer_id"`
	Product     Product   `gorm:"index" json:"product"`
	// TargetRef references the player profile for player_listing,
	// empty for contacts_access.
	TargetRef string  `gorm:"index" json:"target_ref,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`

	Status     InvoiceStatus `gorm:"index" json:"status"`
	PaymentURL string        `json:"payment_url,omitempty"`
	ReceiptURL string        `json:"receipt_url,omitempty"`
	// GatewayRef stays nil until the gateway handoff succeeds.
	GatewayRef *string `gorm:"uniqueIndex" json:"gateway_ref,omitempty"`

	EntitlementGranted bool   `json:"entitlement_granted"`
	GrantError         string `json:"grant_error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// Terminal reports whether the invoice left the pending state.
// paid is terminal except for the refund transition.
func (i *Invoice) Terminal() bool {
	return i.Status != StatusPending
}
