package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

func TestSweeper_CancelsStuckOrders(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	stock := newFakeStock()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	stuck := domain.NewOrder("order-1", "R-1", "C1", []domain.OrderLine{{ProductID: "P1", Quantity: 1}}, 100, domain.MethodCard, now.Add(-time.Hour))
	stuck.ReservationID = "res-stuck"
	fresh := domain.NewOrder("order-2", "R-2", "C1", []domain.OrderLine{{ProductID: "P1", Quantity: 1}}, 100, domain.MethodCard, now.Add(-time.Minute))
	fresh.ReservationID = "res-fresh"
	for _, o := range []domain.Order{stuck, fresh} {
		if _, _, err := repo.CreateWithLines(context.Background(), o); err != nil {
			t.Fatal(err)
		}
	}

	sw := NewSweeper(slog.New(slog.DiscardHandler), repo, stock, time.Second, 30*time.Minute)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled = %d, want 1", n)
	}

	got, err := repo.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("stuck order status = %s, want CANCELLED", got.Status)
	}
	if stock.released["res-stuck"] != 1 {
		t.Fatalf("stuck reservation not released: %v", stock.released)
	}

	got, err = repo.Get(context.Background(), "order-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPendingPayment {
		t.Fatalf("fresh order must be untouched, got %s", got.Status)
	}
	if stock.released["res-fresh"] != 0 {
		t.Fatal("fresh reservation must not be released")
	}
}

func TestSweeper_SkipsOrdersThatFinishedMeanwhile(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	stock := newFakeStock()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	o := domain.NewOrder("order-1", "R-1", "C1", []domain.OrderLine{{ProductID: "P1", Quantity: 1}}, 100, domain.MethodCard, now.Add(-time.Hour))
	o.ReservationID = "res-1"
	if _, _, err := repo.CreateWithLines(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	// Simulate the saga confirming between the query and the cancel by
	// making Cancel observe a terminal state.
	if err := repo.ConfirmWithOutbox(context.Background(), "order-1", domain.OrderConfirmation{Reference: "R-1"}); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(slog.New(slog.DiscardHandler), repo, stock, time.Second, 30*time.Minute)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("cancelled = %d, want 0", n)
	}
	if stock.released["res-1"] != 0 {
		t.Fatal("confirmed order's reservation must not be released")
	}
}

func TestSweeper_ReleaseFailureStillCountsCancel(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	stock := newFakeStock()
	stock.releaseErr = errors.New("reservation service down")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	o := domain.NewOrder("order-1", "R-1", "C1", []domain.OrderLine{{ProductID: "P1", Quantity: 1}}, 100, domain.MethodCard, now.Add(-time.Hour))
	o.ReservationID = "res-1"
	if _, _, err := repo.CreateWithLines(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(slog.New(slog.DiscardHandler), repo, stock, time.Second, 30*time.Minute)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled = %d, want 1 (order is CANCELLED even when release fails)", n)
	}
	got, err := repo.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
}
