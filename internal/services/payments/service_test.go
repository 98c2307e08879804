package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sports-marketplace-backend/internal/gateway"
	"sports-marketplace-backend/internal/models"
	"sports-marketplace-backend/internal/repository"

	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]models.Invoice
}

func newMemStore() *memStore {
	return &memStore{invoices: make(map[uuid.UUID]models.Invoice)}
}

func (s *memStore) Create(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invoices {
		if existing.Status == models.StatusPending &&
			existing.BuyerID == inv.BuyerID &&
			existing.Product == inv.Product &&
			existing.TargetRef == inv.TargetRef {
			return repository.ErrDuplicate
		}
	}
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *memStore) FindPendingFor(_ context.Context, buyerID uuid.UUID, product models.Product, targetRef string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.Status == models.StatusPending && inv.BuyerID == buyerID && inv.Product == product && inv.TargetRef == targetRef {
			copy := inv
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) ListByBuyer(_ context.Context, buyerID uuid.UUID, status models.InvoiceStatus) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Invoice
	for _, inv := range s.invoices {
		if inv.BuyerID != buyerID {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *memStore) CompareAndTransition(_ context.Context, id uuid.UUID, expected, next models.InvoiceStatus, mutate func(*models.Invoice)) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if inv.Status != expected {
		return nil, repository.ErrConflict
	}
	inv.Status = next
	if mutate != nil {
		mutate(&inv)
	}
	s.invoices[id] = inv
	copy := inv
	return &copy, nil
}

func (s *memStore) get(id uuid.UUID) models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *fakeGateway) CreatePayment(_ context.Context, inv *models.Invoice) (gateway.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return gateway.CreatePaymentResult{}, g.err
	}
	return gateway.CreatePaymentResult{
		PaymentURL: "https://gw/pay/" + inv.OrderNumber,
		GatewayRef: "ref-" + inv.OrderNumber,
	}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeExpirer struct {
	store *memStore
}

func (e *fakeExpirer) ExpireInvoice(ctx context.Context, inv *models.Invoice) error {
	_, err := e.store.CompareAndTransition(ctx, inv.ID, models.StatusPending, models.StatusExpired, nil)
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}

func newTestService(store *memStore, gw *fakeGateway) *Service {
	return NewService(store, gw, &fakeExpirer{store: store}, Pricing{
		Currency:       "SAR",
		ContactsAccess: 35,
		PlayerListing:  55,
	}, 30*time.Minute, 5*time.Second, nil)
}

func TestInitiateIsIdempotent(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw)
	buyer := uuid.New()
	ctx := context.Background()

	first, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1")
	if err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	if first.Status != models.StatusPending || first.PaymentURL == "" {
		t.Fatalf("expected pending invoice with payment url, got %+v", first)
	}
	if first.Amount != 55 || first.Currency != "SAR" {
		t.Fatalf("pricing not applied: %v %s", first.Amount, first.Currency)
	}

	second, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1")
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if second.ID != first.ID || second.PaymentURL != first.PaymentURL {
		t.Fatal("repeat initiate must return the same live invoice")
	}
	if gw.callCount() != 1 {
		t.Fatalf("expected one gateway transaction, got %d", gw.callCount())
	}

	// A different target is a different intent.
	other, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p2")
	if err != nil {
		t.Fatalf("other target: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different target must create a new invoice")
	}
}

func TestInitiateValidation(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{})
	buyer := uuid.New()
	ctx := context.Background()

	if _, err := svc.Initiate(ctx, buyer, "vip_badge", ""); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected invalid product, got %v", err)
	}
	if _, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, ""); !errors.Is(err, ErrTargetRequired) {
		t.Fatalf("expected target required, got %v", err)
	}
	if _, err := svc.Initiate(ctx, buyer, models.ProductContactsAccess, "p1"); !errors.Is(err, ErrTargetNotAllowed) {
		t.Fatalf("expected target not allowed, got %v", err)
	}
}

func TestGatewayFailureFailsInvoice(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{err: errors.New("gateway: unexpected status 502 Bad Gateway")}
	svc := newTestService(store, gw)
	buyer := uuid.New()

	_, err := svc.Initiate(context.Background(), buyer, models.ProductContactsAccess, "")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}

	invoices, _ := store.ListByBuyer(context.Background(), buyer, "")
	if len(invoices) != 1 || invoices[0].Status != models.StatusFailed {
		t.Fatalf("expected one failed invoice, got %+v", invoices)
	}

	// The failed invoice is terminal; a retry mints a fresh one.
	gw.err = nil
	retry, err := svc.Initiate(context.Background(), buyer, models.ProductContactsAccess, "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Status != models.StatusPending || retry.ID == invoices[0].ID {
		t.Fatal("retry must create a new pending invoice")
	}
}

func TestGatewayTimeoutLeavesPendingAndResumes(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{err: fmt.Errorf("post https://gw/payment: %w", context.DeadlineExceeded)}
	svc := newTestService(store, gw)
	buyer := uuid.New()
	ctx := context.Background()

	_, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1")
	if !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}

	invoices, _ := store.ListByBuyer(ctx, buyer, "")
	if len(invoices) != 1 || invoices[0].Status != models.StatusPending {
		t.Fatalf("timed-out handoff must leave the invoice pending, got %+v", invoices)
	}
	if invoices[0].PaymentURL != "" {
		t.Fatal("no payment url may be attached after a timeout")
	}

	// Retrying resumes the surviving invoice instead of minting another.
	gw.err = nil
	resumed, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != invoices[0].ID {
		t.Fatal("resume must reuse the pending invoice")
	}
	if resumed.PaymentURL == "" || resumed.GatewayRef == nil {
		t.Fatal("resume must attach the gateway handoff data")
	}
}

func TestStalePendingIsReplaced(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw)
	buyer := uuid.New()
	ctx := context.Background()

	first, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Age the invoice past the pending timeout.
	store.mu.Lock()
	aged := store.invoices[first.ID]
	aged.CreatedAt = time.Now().Add(-31 * time.Minute)
	store.invoices[first.ID] = aged
	store.mu.Unlock()

	replacement, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1")
	if err != nil {
		t.Fatalf("replacement initiate: %v", err)
	}
	if replacement.ID == first.ID {
		t.Fatal("stale pending invoice must be replaced")
	}
	if got := store.get(first.ID); got.Status != models.StatusExpired {
		t.Fatalf("stale invoice should be expired, got %s", got.Status)
	}
}

// raceStore simulates a concurrent initiate that wins between the
// pending lookup and the insert: the first lookup sees nothing, then the
// winner's invoice appears and the insert collides with it.
type raceStore struct {
	*memStore
	winner models.Invoice
	raced  bool
}

func (s *raceStore) FindPendingFor(ctx context.Context, buyerID uuid.UUID, product models.Product, targetRef string) (*models.Invoice, error) {
	if !s.raced {
		s.raced = true
		s.mu.Lock()
		s.invoices[s.winner.ID] = s.winner
		s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	return s.memStore.FindPendingFor(ctx, buyerID, product, targetRef)
}

func TestLostCreateRaceFinishesWinnersHandoff(t *testing.T) {
	buyer := uuid.New()
	winner := models.Invoice{
		ID:          uuid.New(),
		OrderNumber: "ORD-20260829-WINNER01",
		BuyerID:     buyer,
		Product:     models.ProductPlayerListing,
		TargetRef:   "p1",
		Amount:      55,
		Currency:    "SAR",
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	store := &raceStore{memStore: newMemStore(), winner: winner}
	gw := &fakeGateway{}
	svc := NewService(store, gw, &fakeExpirer{store: store.memStore}, Pricing{
		Currency:       "SAR",
		ContactsAccess: 35,
		PlayerListing:  55,
	}, 30*time.Minute, 5*time.Second, nil)

	got, err := svc.Initiate(context.Background(), buyer, models.ProductPlayerListing, "p1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if got.ID != winner.ID {
		t.Fatal("loser of the create race must return the winner's invoice")
	}
	if got.PaymentURL == "" || got.GatewayRef == nil {
		t.Fatal("winner's unfinished handoff must be completed, never a url-less success")
	}
	if gw.callCount() != 1 {
		t.Fatalf("expected one gateway transaction for the winner, got %d", gw.callCount())
	}
}

type failingExpirer struct {
	err error
}

func (e *failingExpirer) ExpireInvoice(context.Context, *models.Invoice) error {
	return e.err
}

func TestStaleExpireFailureStopsInitiate(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	svc := NewService(store, gw, &failingExpirer{err: errors.New("store unavailable")}, Pricing{
		Currency:       "SAR",
		ContactsAccess: 35,
		PlayerListing:  55,
	}, 30*time.Minute, 5*time.Second, nil)
	buyer := uuid.New()
	ctx := context.Background()

	stale := models.Invoice{
		ID:          uuid.New(),
		OrderNumber: "ORD-20260829-STALE001",
		BuyerID:     buyer,
		Product:     models.ProductPlayerListing,
		TargetRef:   "p1",
		Status:      models.StatusPending,
		PaymentURL:  "https://gw/pay/stale",
		CreatedAt:   time.Now().Add(-31 * time.Minute),
	}
	store.mu.Lock()
	store.invoices[stale.ID] = stale
	store.mu.Unlock()

	if _, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1"); err == nil {
		t.Fatal("a failed expire must not fall through to creating a replacement")
	}
	if gw.callCount() != 0 {
		t.Fatal("no gateway transaction may be started while the stale invoice survives")
	}
	if got := store.get(stale.ID); got.Status != models.StatusPending || got.PaymentURL != stale.PaymentURL {
		t.Fatalf("stale invoice must be left untouched, got %+v", got)
	}
}

func TestListForBuyerFilters(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})
	buyer := uuid.New()
	ctx := context.Background()

	if _, err := svc.Initiate(ctx, buyer, models.ProductPlayerListing, "p1"); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	pending, err := svc.ListForBuyer(ctx, buyer, models.StatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending invoice, got %v (%v)", pending, err)
	}
	paid, err := svc.ListForBuyer(ctx, buyer, models.StatusPaid)
	if err != nil || len(paid) != 0 {
		t.Fatalf("expected no paid invoices, got %v (%v)", paid, err)
	}
	if _, err := svc.ListForBuyer(ctx, buyer, "sent"); !errors.Is(err, ErrInvalidStatusFilter) {
		t.Fatalf("expected invalid filter error, got %v", err)
	}
}
