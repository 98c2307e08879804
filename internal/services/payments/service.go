package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sports-marketplace-backend/internal/gateway"
	"sports-marketplace-backend/internal/models"
	"sports-marketplace-backend/internal/repository"

	"github.com/google/uuid"
)

var (
	// ErrInvalidProduct means the requested product is not sellable.
	ErrInvalidProduct = errors.New("payments: unknown product")
	// ErrTargetRequired means player_listing was requested without a profile.
	ErrTargetRequired = errors.New("payments: player profile required for listing")
	// ErrTargetNotAllowed means contacts_access was requested with a target.
	ErrTargetNotAllowed = errors.New("payments: target not allowed for contacts access")
	// ErrInvalidStatusFilter means the list filter is not a known status.
	ErrInvalidStatusFilter = errors.New("payments: unknown status filter")
	// ErrGatewayUnavailable means the gateway rejected or failed the
	// create-payment call; the invoice was moved to failed.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayTimeout means the create-payment call timed out. The
	// gateway-side state is unknown, so the invoice stays pending and
	// the buyer may retry.
	ErrGatewayTimeout = errors.New("payments: gateway timed out")
)

// InvoiceStore is the slice of the invoice repository this service needs.
type InvoiceStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	FindPendingFor(ctx context.Context, buyerID uuid.UUID, product models.Product, targetRef string) (*models.Invoice, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, status models.InvoiceStatus) ([]models.Invoice, error)
	CompareAndTransition(ctx context.Context, id uuid.UUID, expected, next models.InvoiceStatus, mutate func(*models.Invoice)) (*models.Invoice, error)
}

// Gateway performs the external create-payment handoff.
type Gateway interface {
	CreatePayment(ctx context.Context, inv *models.Invoice) (gateway.CreatePaymentResult, error)
}

// Expirer retires a stale pending invoice before a replacement is minted.
type Expirer interface {
	ExpireInvoice(ctx context.Context, inv *models.Invoice) error
}

// Pricing fixes the amount and currency per product at creation time.
type Pricing struct {
	Currency       string
	ContactsAccess float64
	PlayerListing  float64
}

func (p Pricing) amountFor(product models.Product) float64 {
	if product == models.ProductPlayerListing {
		return p.PlayerListing
	}
	return p.ContactsAccess
}

// Service creates and lists invoices. Initiate is safe to call
// repeatedly for the same intent: while a live pending invoice exists
// the buyer gets its payment URL back instead of a second gateway
// transaction.
type Service struct {
	invoices       InvoiceStore
	gateway        Gateway
	expirer        Expirer
	pricing        Pricing
	pendingTimeout time.Duration
	gatewayTimeout time.Duration
	errorLog       *log.Logger
}

func NewService(invoices InvoiceStore, gw Gateway, expirer Expirer, pricing Pricing, pendingTimeout, gatewayTimeout time.Duration, errorLog *log.Logger) *Service {
	if errorLog == nil {
		errorLog = log.Default()
	}
	return &Service{
		invoices:       invoices,
		gateway:        gw,
		expirer:        expirer,
		pricing:        pricing,
		pendingTimeout: pendingTimeout,
		gatewayTimeout: gatewayTimeout,
		errorLog:       errorLog,
	}
}

// Initiate returns a payable invoice for the buyer intent, creating one
// only when no live pending invoice exists.
func (s *Service) Initiate(ctx context.Context, buyerID uuid.UUID, product models.Product, targetRef string) (*models.Invoice, error) {
	if err := validateIntent(product, targetRef); err != nil {
		return nil, err
	}

	existing, err := s.invoices.FindPendingFor(ctx, buyerID, product, targetRef)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		if time.Since(existing.CreatedAt) < s.pendingTimeout {
			if existing.PaymentURL != "" {
				return existing, nil
			}
			// A previous handoff timed out before the URL was attached;
			// retry on the surviving invoice instead of minting another.
			return s.handoff(ctx, existing)
		}
		if expErr := s.expirer.ExpireInvoice(ctx, existing); expErr != nil {
			// Creating a replacement now would collide with the live-intent
			// index and hand the stale invoice back to the buyer.
			s.errorLog.Printf("payments: could not expire stale invoice %s: %v", existing.ID, expErr)
			return nil, fmt.Errorf("payments: could not retire stale invoice %s: %w", existing.ID, expErr)
		}
	}

	now := time.Now()
	inv := &models.Invoice{
		ID:          uuid.New(),
		OrderNumber: newOrderNumber(now),
		BuyerID:     buyerID,
		Product:     product,
		TargetRef:   targetRef,
		Amount:      s.pricing.amountFor(product),
		Currency:    s.pricing.Currency,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// A concurrent initiate won the race; hand back its invoice,
			// finishing the gateway handoff if the winner has not yet.
			winner, lookErr := s.invoices.FindPendingFor(ctx, buyerID, product, targetRef)
			if lookErr == nil {
				if winner.PaymentURL != "" {
					return winner, nil
				}
				return s.handoff(ctx, winner)
			}
		}
		return nil, err
	}

	return s.handoff(ctx, inv)
}

// handoff registers the pending invoice with the gateway and attaches the
// payment URL and gateway ref while the invoice is still pending.
func (s *Service) handoff(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	res, err := s.gateway.CreatePayment(gctx, inv)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Gateway-side state is unknown: leave the invoice pending.
			return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		if _, tErr := s.invoices.CompareAndTransition(ctx, inv.ID, models.StatusPending, models.StatusFailed, nil); tErr != nil {
			s.errorLog.Printf("payments: could not fail invoice %s after gateway error: %v", inv.ID, tErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	updated, err := s.invoices.CompareAndTransition(ctx, inv.ID, models.StatusPending, models.StatusPending, func(i *models.Invoice) {
		i.PaymentURL = res.PaymentURL
		i.GatewayRef = &res.GatewayRef
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListForBuyer returns the buyer's invoices, optionally filtered by status.
func (s *Service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, status models.InvoiceStatus) ([]models.Invoice, error) {
	if status != "" && !models.ValidStatus(status) {
		return nil, ErrInvalidStatusFilter
	}
	return s.invoices.ListByBuyer(ctx, buyerID, status)
}

func validateIntent(product models.Product, targetRef string) error {
	if !models.ValidProduct(product) {
		return ErrInvalidProduct
	}
	if product == models.ProductPlayerListing && targetRef == "" {
		return ErrTargetRequired
	}
	if product == models.ProductContactsAccess && targetRef != "" {
		return ErrTargetNotAllowed
	}
	return nil
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}
