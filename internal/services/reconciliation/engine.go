package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sports-marketplace-backend/internal/gateway"
	"sports-marketplace-backend/internal/models"
	"sports-marketplace-backend/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ErrRetryable tells the webhook handler to answer with a retryable
// status so the gateway's own redelivery resolves the race.
var ErrRetryable = errors.New("reconciliation: transient conflict, retry later")

// InvoiceStore is the slice of the invoice repository the engine needs.
type InvoiceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByGatewayRef(ctx context.Context, ref string) (*models.Invoice, error)
	CompareAndTransition(ctx context.Context, id uuid.UUID, expected, next models.InvoiceStatus, mutate func(*models.Invoice)) (*models.Invoice, error)
}

// EventLog records inbound notifications for the audit trail.
type EventLog interface {
	Record(ctx context.Context, ev *models.PaymentEvent) error
}

// EntitlementService applies and reverses the business effect of payment.
type EntitlementService interface {
	Dispatch(invoiceID uuid.UUID)
	Revoke(ctx context.Context, inv *models.Invoice) error
}

// Engine applies gateway events and sweep timeouts to invoices through
// the transition table, using compare-and-transition as the sole
// serialization point.
type Engine struct {
	invoices     InvoiceStore
	events       EventLog
	entitlements EntitlementService
	infoLog      *log.Logger
	errorLog     *log.Logger
}

func NewEngine(invoices InvoiceStore, events EventLog, entitlements EntitlementService, infoLog, errorLog *log.Logger) *Engine {
	if infoLog == nil {
		infoLog = log.Default()
	}
	if errorLog == nil {
		errorLog = log.Default()
	}
	return &Engine{
		invoices:     invoices,
		events:       events,
		entitlements: entitlements,
		infoLog:      infoLog,
		errorLog:     errorLog,
	}
}

// ApplyWebhook resolves the invoice strictly by gateway ref and applies
// the normalized outcome. Unknown refs and stale deliveries are audited
// and acknowledged; only an unresolved write race surfaces an error.
func (e *Engine) ApplyWebhook(ctx context.Context, ev gateway.Event) error {
	trigger := triggerForOutcome(ev.Outcome)

	inv, err := e.invoices.FindByGatewayRef(ctx, ev.GatewayRef)
	if errors.Is(err, repository.ErrNotFound) {
		e.infoLog.Printf("reconciliation: webhook for unknown gateway ref %s (%s), acknowledged", ev.GatewayRef, ev.Outcome)
		e.record(ctx, nil, ev, false, "unknown gateway ref")
		return nil
	}
	if err != nil {
		return err
	}

	applied, note, err := e.applyTrigger(ctx, inv, trigger, ev.ReceiptURL)
	if err != nil {
		return err
	}
	e.record(ctx, &inv.ID, ev, applied, note)
	return nil
}

// ExpireInvoice applies the sweep timeout to a stale pending invoice.
// Losing the race to a late confirmation is expected and not an error.
func (e *Engine) ExpireInvoice(ctx context.Context, inv *models.Invoice) error {
	applied, _, err := e.applyTrigger(ctx, inv, TriggerTimeout, "")
	if errors.Is(err, ErrRetryable) {
		// The next sweep run will pick it up if it is still pending.
		return nil
	}
	if err != nil {
		return err
	}
	if applied {
		e.infoLog.Printf("reconciliation: invoice %s expired after pending timeout", inv.ID)
	}
	return nil
}

// applyTrigger performs the transition with one retry on conflict. The
// loser of a concurrent race re-reads, usually observes the applied
// terminal state, and downgrades to a no-op.
func (e *Engine) applyTrigger(ctx context.Context, inv *models.Invoice, trigger Trigger, receiptURL string) (applied bool, note string, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		next, ok := NextStatus(trigger, inv.Status)
		if !ok {
			e.infoLog.Printf("reconciliation: %s for invoice %s in status %s is a no-op", trigger, inv.ID, inv.Status)
			return false, fmt.Sprintf("no-op: %s against %s", trigger, inv.Status), nil
		}

		updated, casErr := e.invoices.CompareAndTransition(ctx, inv.ID, inv.Status, next, transitionMutator(trigger, receiptURL))
		if errors.Is(casErr, repository.ErrConflict) {
			reread, readErr := e.invoices.GetByID(ctx, inv.ID)
			if readErr != nil {
				return false, "", ErrRetryable
			}
			inv = reread
			continue
		}
		if casErr != nil {
			return false, "", casErr
		}

		switch trigger {
		case TriggerConfirmed:
			e.entitlements.Dispatch(updated.ID)
		case TriggerRefunded:
			if revErr := e.entitlements.Revoke(ctx, updated); revErr != nil {
				e.errorLog.Printf("reconciliation: revocation hook failed for invoice %s: %v", updated.ID, revErr)
			}
		}
		return true, fmt.Sprintf("applied: %s -> %s", trigger, next), nil
	}
	return false, "", ErrRetryable
}

func transitionMutator(trigger Trigger, receiptURL string) func(*models.Invoice) {
	if trigger != TriggerConfirmed {
		return nil
	}
	return func(inv *models.Invoice) {
		now := time.Now()
		inv.PaidAt = &now
		inv.ReceiptURL = receiptURL
	}
}

func (e *Engine) record(ctx context.Context, invoiceID *uuid.UUID, ev gateway.Event, applied bool, note string) {
	rec := &models.PaymentEvent{
		ID:         uuid.New(),
		InvoiceID:  invoiceID,
		GatewayRef: ev.GatewayRef,
		Outcome:    string(ev.Outcome),
		Applied:    applied,
		Note:       note,
		Payload:    datatypes.JSON(ev.Raw),
		CreatedAt:  time.Now(),
	}
	if err := e.events.Record(ctx, rec); err != nil {
		e.errorLog.Printf("reconciliation: failed to record payment event for ref %s: %v", ev.GatewayRef, err)
	}
}

func triggerForOutcome(o gateway.Outcome) Trigger {
	switch o {
	case gateway.OutcomeConfirmed:
		return TriggerConfirmed
	case gateway.OutcomeCancelled:
		return TriggerCancelled
	case gateway.OutcomeFailed:
		return TriggerFailed
	case gateway.OutcomeRefunded:
		return TriggerRefunded
	}
	return Trigger(o)
}
