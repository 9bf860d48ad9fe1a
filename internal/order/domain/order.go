package domain

import "time"

type OrderStatus string

// Persisted order states. An order is written for the first time in
// PENDING_PAYMENT; before that write the saga holds it in memory only.
const (
	StatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	return s == StatusPendingPayment && (next == StatusConfirmed || next == StatusCancelled)
}

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "CARD"
	MethodPaypal       PaymentMethod = "PAYPAL"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodBitcoin      PaymentMethod = "BITCOIN"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodPaypal, MethodBankTransfer, MethodBitcoin:
		return true
	}
	return false
}

type Order struct {
	ID            string
	Reference     string
	CustomerID    string
	Lines         []OrderLine
	AmountCents   int64
	PaymentMethod PaymentMethod
	Status        OrderStatus
	// ReservationID is the stock-hold handle returned by the reservation
	// service. Kept on the row so a recovery sweep can release the hold
	// after a crash.
	ReservationID string
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderLine struct {
	ProductID string
	Quantity  int
}

func NewOrder(id, reference, customerID string, lines []OrderLine, amountCents int64, method PaymentMethod, now time.Time) Order {
	return Order{
		ID:            id,
		Reference:     reference,
		CustomerID:    customerID,
		Lines:         lines,
		AmountCents:   amountCents,
		PaymentMethod: method,
		Status:        StatusPendingPayment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
