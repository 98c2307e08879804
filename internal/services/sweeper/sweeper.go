package sweeper

import (
	"context"
	"log"
	"time"

	"sports-marketplace-backend/internal/models"
)

// InvoiceStore lists the pending invoices older than the cutoff.
type InvoiceStore interface {
	FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Invoice, error)
}

// Expirer applies the timeout transition with compare-and-transition
// discipline, so a late-arriving confirmation can still win the race.
type Expirer interface {
	ExpireInvoice(ctx context.Context, inv *models.Invoice) error
}

// Sweeper periodically marks stale pending invoices expired. The pending
// timeout must exceed the gateway's own payment-page timeout.
type Sweeper struct {
	invoices       InvoiceStore
	expirer        Expirer
	interval       time.Duration
	pendingTimeout time.Duration
	runTimeout     time.Duration
	infoLog        *log.Logger
	errorLog       *log.Logger
}

func New(invoices InvoiceStore, expirer Expirer, interval, pendingTimeout time.Duration, infoLog, errorLog *log.Logger) *Sweeper {
	if infoLog == nil {
		infoLog = log.Default()
	}
	if errorLog == nil {
		errorLog = log.Default()
	}
	return &Sweeper{
		invoices:       invoices,
		expirer:        expirer,
		interval:       interval,
		pendingTimeout: pendingTimeout,
		runTimeout:     time.Minute,
		infoLog:        infoLog,
		errorLog:       errorLog,
	}
}

// Start launches the sweep loop. It runs once immediately, then on every
// tick, until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	cutoff := time.Now().Add(-s.pendingTimeout)
	stale, err := s.invoices.FindExpiredPending(runCtx, cutoff)
	if err != nil {
		s.errorLog.Printf("sweeper: failed to load stale pending invoices: %v", err)
		return
	}

	expired := 0
	for i := range stale {
		if err := s.expirer.ExpireInvoice(runCtx, &stale[i]); err != nil {
			s.errorLog.Printf("sweeper: failed to expire invoice %s: %v", stale[i].ID, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.infoLog.Printf("sweeper: expired %d stale pending invoices", expired)
	}
}
