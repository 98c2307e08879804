package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PaymentEvent is the audit record of one inbound gateway notification.
// Every signature-valid webhook is recorded here, whether or not it
// resulted in a transition, so stale and unknown deliveries stay visible
// to operators.
type PaymentEvent struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	InvoiceID  *uuid.UUID `gorm:"index"`
	GatewayRef string     `gorm:"index"`
	Outcome    string
	// Applied is false for no-op deliveries (duplicates, stale or
	// unknown refs).
	Applied   bool
	Note      string
	Payload   datatypes.JSON
	CreatedAt time.Time
}
