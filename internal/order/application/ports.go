package application

import (
	"context"
	"time"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

// OrderRepository is the durable order store. CreateWithLines is the
// idempotency conditional write: order header and lines are committed in one
// transaction, keyed by the unique reference.
type OrderRepository interface {
	// CreateWithLines inserts o and its lines atomically. When a row for
	// o.Reference already exists it returns that row with created=false and
	// writes nothing.
	CreateWithLines(ctx context.Context, o domain.Order) (stored domain.Order, created bool, err error)

	// FindByReference returns domain.ErrOrderNotFound when no order exists
	// for the reference.
	FindByReference(ctx context.Context, reference string) (domain.Order, error)

	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)

	// ConfirmWithOutbox transitions the order to CONFIRMED and stages the
	// confirmation event in the outbox, both in one transaction. Confirming
	// an already CONFIRMED order is a no-op; any other terminal state is
	// domain.ErrTerminalState.
	ConfirmWithOutbox(ctx context.Context, orderID string, event domain.OrderConfirmation) error

	// Cancel transitions the order to CANCELLED with a reason. Cancelling an
	// already CANCELLED order is a no-op; CONFIRMED is domain.ErrTerminalState.
	Cancel(ctx context.Context, orderID, reason string) error

	// FindStuckPendingPayment lists orders still PENDING_PAYMENT whose last
	// update is older than before, for the recovery sweep.
	FindStuckPendingPayment(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// CustomerClient resolves a customer id to a snapshot, or
// domain.ErrCustomerNotFound.
type CustomerClient interface {
	Find(ctx context.Context, id string) (domain.CustomerSnapshot, error)
}

// ReservationClient holds and releases stock at the product service.
// Reserve is all-or-nothing across lines; Release is idempotent, releasing
// an already released handle is not an error.
type ReservationClient interface {
	Reserve(ctx context.Context, reference string, lines []domain.OrderLine) (domain.Reservation, error)
	Release(ctx context.Context, reservationID string) error
}

type PaymentRequest struct {
	OrderID     string
	Reference   string
	AmountCents int64
	Method      domain.PaymentMethod
	Customer    domain.CustomerSnapshot
}

// PaymentClient submits a payment request. A transport-level error means the
// provider was unreachable; business rejection comes back in the outcome.
type PaymentClient interface {
	Request(ctx context.Context, req PaymentRequest) (domain.PaymentOutcome, error)
}

// ReferenceLock serializes concurrent createOrder calls for the same
// reference ahead of the database conditional insert.
type ReferenceLock interface {
	// Acquire returns false when another request currently holds the
	// reference.
	Acquire(ctx context.Context, reference string) (bool, error)
	Release(ctx context.Context, reference string) error
}
