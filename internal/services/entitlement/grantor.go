package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sports-marketplace-backend/internal/models"
	"sports-marketplace-backend/internal/repository"

	"github.com/google/uuid"
)

// ProfileService is the external collaborator that owns player and coach
// profiles. Its calls can fail independently of payment success.
type ProfileService interface {
	Publish(ctx context.Context, profileRef string) error
	UnlockContacts(ctx context.Context, buyerID uuid.UUID) error
}

// InvoiceStore is the slice of the invoice repository the grantor needs.
type InvoiceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ClaimEntitlement(ctx context.Context, id uuid.UUID) error
	RecordGrantError(ctx context.Context, id uuid.UUID, msg string) error
}

// RevocationPolicy decides what happens to an entitlement when its
// invoice is refunded. The business rule is intentionally pluggable.
type RevocationPolicy interface {
	Revoke(ctx context.Context, inv *models.Invoice) error
}

// RecordOnlyRevocation is the default policy: it flags the refund for
// manual follow-up and leaves the entitlement untouched.
type RecordOnlyRevocation struct {
	Invoices InvoiceStore
}

func (p RecordOnlyRevocation) Revoke(ctx context.Context, inv *models.Invoice) error {
	return p.Invoices.RecordGrantError(ctx, inv.ID, "refunded: entitlement revocation pending manual review")
}

// Grantor applies the business effect of a paid invoice exactly once.
// The entitlement flag claim is the serialization point: duplicate or
// concurrent confirmations race on it and exactly one performs the
// side effect.
type Grantor struct {
	invoices   InvoiceStore
	profiles   ProfileService
	revocation RevocationPolicy
	timeout    time.Duration
	queue      chan uuid.UUID
	infoLog    *log.Logger
	errorLog   *log.Logger
}

func NewGrantor(invoices InvoiceStore, profiles ProfileService, revocation RevocationPolicy, timeout time.Duration, infoLog, errorLog *log.Logger) *Grantor {
	if revocation == nil {
		revocation = RecordOnlyRevocation{Invoices: invoices}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if infoLog == nil {
		infoLog = log.Default()
	}
	if errorLog == nil {
		errorLog = log.Default()
	}
	return &Grantor{
		invoices:   invoices,
		profiles:   profiles,
		revocation: revocation,
		timeout:    timeout,
		infoLog:    infoLog,
		errorLog:   errorLog,
	}
}

// Start launches the worker that drains dispatched grants so slow
// profile-service calls never hold up a webhook acknowledgement.
func (g *Grantor) Start(ctx context.Context) {
	g.queue = make(chan uuid.UUID, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-g.queue:
				g.run(id)
			}
		}
	}()
}

// Dispatch hands a paid invoice to the worker. Without a running worker,
// or with a full queue, the grant runs inline instead: a paid grant is
// never dropped.
func (g *Grantor) Dispatch(invoiceID uuid.UUID) {
	if g.queue != nil {
		select {
		case g.queue <- invoiceID:
			return
		default:
		}
	}
	g.run(invoiceID)
}

func (g *Grantor) run(invoiceID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	if err := g.Grant(ctx, invoiceID); err != nil {
		g.errorLog.Printf("entitlement: grant for invoice %s failed: %v", invoiceID, err)
	}
}

// Grant claims the entitlement flag and performs the product side effect.
// A lost claim means another delivery already granted: that is a no-op,
// not a failure. A failed side effect never rolls back the paid status;
// it is recorded on the invoice for operator remediation.
func (g *Grantor) Grant(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := g.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	if err := g.invoices.ClaimEntitlement(ctx, inv.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadyGranted) {
			g.infoLog.Printf("entitlement: invoice %s already granted, skipping", inv.ID)
			return nil
		}
		return err
	}

	if err := g.apply(ctx, inv); err != nil {
		msg := fmt.Sprintf("grant side effect failed: %v", err)
		if recErr := g.invoices.RecordGrantError(ctx, inv.ID, msg); recErr != nil {
			g.errorLog.Printf("entitlement: could not record grant error for invoice %s: %v", inv.ID, recErr)
		}
		g.errorLog.Printf("entitlement: invoice %s stays paid, needs manual resolution: %v", inv.ID, err)
		return nil
	}

	g.infoLog.Printf("entitlement: granted %s for invoice %s", inv.Product, inv.ID)
	return nil
}

func (g *Grantor) apply(ctx context.Context, inv *models.Invoice) error {
	switch inv.Product {
	case models.ProductPlayerListing:
		return g.profiles.Publish(ctx, inv.TargetRef)
	case models.ProductContactsAccess:
		return g.profiles.UnlockContacts(ctx, inv.BuyerID)
	}
	return fmt.Errorf("unknown product %q", inv.Product)
}

// Revoke runs the configured revocation policy for a refunded invoice.
func (g *Grantor) Revoke(ctx context.Context, inv *models.Invoice) error {
	return g.revocation.Revoke(ctx, inv)
}
