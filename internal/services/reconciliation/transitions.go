package reconciliation

import "sports-marketplace-backend/internal/models"

// Trigger identifies what is driving a status change: a normalized
// gateway outcome or the expiry sweep.
type Trigger string

const (
	TriggerConfirmed Trigger = "gateway_confirmed"
	TriggerCancelled Trigger = "gateway_cancelled"
	TriggerFailed    Trigger = "gateway_failed"
	TriggerRefunded  Trigger = "gateway_refunded"
	TriggerTimeout   Trigger = "sweep_timeout"
)

// transitions maps each trigger to the statuses it may fire from and the
// status it produces. Anything not in the table is a no-op, never an
// error: a duplicate or late delivery must be acknowledged without
// touching the invoice.
var transitions = map[Trigger]map[models.InvoiceStatus]models.InvoiceStatus{
	TriggerConfirmed: {models.StatusPending: models.StatusPaid},
	TriggerCancelled: {models.StatusPending: models.StatusCancelled},
	TriggerFailed:    {models.StatusPending: models.StatusFailed},
	TriggerTimeout:   {models.StatusPending: models.StatusExpired},
	// The refund is the single allowed transition out of a terminal state.
	TriggerRefunded: {models.StatusPaid: models.StatusRefunded},
}

// NextStatus returns the resulting status for a trigger fired against the
// current status, and whether the transition is legal at all.
func NextStatus(trigger Trigger, current models.InvoiceStatus) (models.InvoiceStatus, bool) {
	allowed, ok := transitions[trigger]
	if !ok {
		return "", false
	}
	next, ok := allowed[current]
	return next, ok
}
