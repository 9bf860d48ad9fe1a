package domain

import (
	"testing"
	"time"
)

func TestOrderStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{StatusPendingPayment, StatusConfirmed, true},
		{StatusPendingPayment, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, false},
		{StatusConfirmed, StatusPendingPayment, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCancelled, StatusPendingPayment, false},
		{StatusPendingPayment, StatusPendingPayment, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	if StatusPendingPayment.Terminal() {
		t.Error("PENDING_PAYMENT must not be terminal")
	}
	if !StatusConfirmed.Terminal() {
		t.Error("CONFIRMED must be terminal")
	}
	if !StatusCancelled.Terminal() {
		t.Error("CANCELLED must be terminal")
	}
}

func TestPaymentMethodValid(t *testing.T) {
	t.Parallel()

	for _, m := range []PaymentMethod{MethodCard, MethodPaypal, MethodBankTransfer, MethodBitcoin} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if PaymentMethod("CASH").Valid() {
		t.Error("CASH should not be valid")
	}
}

func TestNewOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o := NewOrder("id-1", "R-100", "C1", []OrderLine{{ProductID: "P1", Quantity: 2}}, 4998, MethodCard, now)

	if o.Status != StatusPendingPayment {
		t.Fatalf("new order status = %s, want PENDING_PAYMENT", o.Status)
	}
	if o.CreatedAt != now || o.UpdatedAt != now {
		t.Fatal("timestamps not set from now")
	}
	if o.AmountCents != 4998 {
		t.Fatalf("amount = %d, want 4998", o.AmountCents)
	}
}
