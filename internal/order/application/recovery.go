package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

const sweepBatchSize = 50

// Sweeper drives orders stuck in PENDING_PAYMENT beyond a timeout to
// CANCELLED and releases their reservations. PENDING_PAYMENT is the only
// state from which a compensating release can still be pending, so this is
// the whole recovery surface.
type Sweeper struct {
	log        *slog.Logger
	repo       OrderRepository
	stock      ReservationClient
	interval   time.Duration
	stuckAfter time.Duration

	now func() time.Time
}

func NewSweeper(log *slog.Logger, repo OrderRepository, stock ReservationClient, interval, stuckAfter time.Duration) *Sweeper {
	return &Sweeper{
		log:        log,
		repo:       repo,
		stock:      stock,
		interval:   interval,
		stuckAfter: stuckAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("recovery sweeper stopping")
			return nil
		case <-t.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("recovery sweep failed", "err", err)
			} else if n > 0 {
				s.log.Info("recovery sweep cancelled stuck orders", "count", n)
			}
		}
	}
}

// SweepOnce cancels one batch of stuck orders and returns how many it
// drove to CANCELLED.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	before := s.now().Add(-s.stuckAfter)
	orders, err := s.repo.FindStuckPendingPayment(ctx, before, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range orders {
		if err := s.repo.Cancel(ctx, o.ID, "payment timed out"); err != nil {
			if errors.Is(err, domain.ErrTerminalState) {
				// The saga finished between the query and the cancel.
				continue
			}
			s.log.Error("sweep cancel failed", "order_id", o.ID, "err", err)
			continue
		}
		if o.ReservationID != "" {
			if err := s.stock.Release(ctx, o.ReservationID); err != nil {
				cerr := &domain.CompensationError{Cause: errors.New("payment timed out"), Compensation: err}
				s.log.Error("sweep compensation failed", "order_id", o.ID, "reservation_id", o.ReservationID, "err", cerr)
				cancelled++
				continue
			}
		}
		cancelled++
	}
	return cancelled, nil
}
