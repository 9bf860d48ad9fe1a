package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

const confirmWriteAttempts = 3

// Config tunes the saga's retry behavior.
type Config struct {
	// PaymentMaxAttempts bounds payment submissions before the saga fails
	// closed. Minimum 1.
	PaymentMaxAttempts int
	// PaymentBackoff is the initial delay between payment attempts; it
	// doubles per attempt.
	PaymentBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PaymentMaxAttempts < 1 {
		c.PaymentMaxAttempts = 3
	}
	if c.PaymentBackoff <= 0 {
		c.PaymentBackoff = 200 * time.Millisecond
	}
	return c
}

// Service orchestrates order creation as a saga: customer lookup, stock
// reservation, durable order write, payment, confirmation event. Side effects
// are strictly ordered and every committed effect has a compensating action
// on the failure paths that can follow it.
type Service struct {
	log       *slog.Logger
	repo      OrderRepository
	customers CustomerClient
	stock     ReservationClient
	payments  PaymentClient
	lock      ReferenceLock
	cfg       Config

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(log *slog.Logger, repo OrderRepository, customers CustomerClient, stock ReservationClient, payments PaymentClient, lock ReferenceLock, cfg Config) *Service {
	return &Service{
		log:       log,
		repo:      repo,
		customers: customers,
		stock:     stock,
		payments:  payments,
		lock:      lock,
		cfg:       cfg.withDefaults(),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CreateOrderInput carries the client-supplied order request. Reference and
// AmountCents are authoritative: validated, never recomputed.
type CreateOrderInput struct {
	CustomerID    string
	Reference     string
	AmountCents   int64
	PaymentMethod domain.PaymentMethod
	Lines         []domain.OrderLine
}

func (in CreateOrderInput) validate() error {
	switch {
	case in.Reference == "":
		return fmt.Errorf("%w: reference is required", domain.ErrInvalidRequest)
	case in.CustomerID == "":
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidRequest)
	case in.AmountCents <= 0:
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	case !in.PaymentMethod.Valid():
		return fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidRequest, in.PaymentMethod)
	case len(in.Lines) == 0:
		return fmt.Errorf("%w: at least one line is required", domain.ErrInvalidRequest)
	}
	for _, l := range in.Lines {
		if l.ProductID == "" {
			return fmt.Errorf("%w: line product id is required", domain.ErrInvalidRequest)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line quantity must be positive", domain.ErrInvalidRequest)
		}
	}
	return nil
}

// CreateOrder runs the order saga. It is idempotent on the reference: a
// repeated request returns the original order without re-running side
// effects. On failure after a committed side effect the matching
// compensation runs before the error is returned.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if err := in.validate(); err != nil {
		return domain.Order{}, err
	}

	// Fast-path duplicate check before taking the in-flight lock.
	existing, err := s.repo.FindByReference(ctx, in.Reference)
	if err == nil {
		return s.answerDuplicate(existing)
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	acquired, err := s.lock.Acquire(ctx, in.Reference)
	if err != nil {
		return domain.Order{}, fmt.Errorf("acquire reference lock: %w", err)
	}
	if !acquired {
		// A concurrent request owns this reference. Answer from its
		// persisted state if there is any, otherwise report the conflict.
		if existing, err := s.repo.FindByReference(ctx, in.Reference); err == nil {
			return s.answerDuplicate(existing)
		}
		return domain.Order{}, domain.ErrReferenceInFlight
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), in.Reference); err != nil {
			s.log.Error("reference lock release failed", "reference", in.Reference, "err", err)
		}
	}()

	customer, err := s.customers.Find(ctx, in.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, in.CustomerID)
		}
		return domain.Order{}, fmt.Errorf("customer lookup: %w", err)
	}

	reservation, err := s.stock.Reserve(ctx, in.Reference, in.Lines)
	if err != nil {
		// All-or-nothing on the product side: nothing held, nothing to undo.
		return domain.Order{}, fmt.Errorf("reserve stock: %w", err)
	}

	// A side effect is now committed. The saga must reach a terminal state
	// even if the caller cancels, so detach from the request context.
	ctx = context.WithoutCancel(ctx)

	order := domain.NewOrder(s.newID(), in.Reference, in.CustomerID, in.Lines, in.AmountCents, in.PaymentMethod, s.now())
	order.ReservationID = reservation.ID

	stored, created, err := s.repo.CreateWithLines(ctx, order)
	if err != nil {
		cause := fmt.Errorf("persist order: %w", err)
		if rerr := s.stock.Release(ctx, reservation.ID); rerr != nil {
			return domain.Order{}, &domain.CompensationError{Cause: cause, Compensation: fmt.Errorf("release reservation: %w", rerr)}
		}
		return domain.Order{}, cause
	}
	if !created {
		// Lost the insert race to a concurrent request that slipped past
		// the lock (e.g. after a lock TTL expiry). Its saga owns the order;
		// our hold duplicates its reservation.
		if rerr := s.stock.Release(ctx, reservation.ID); rerr != nil {
			s.log.Error("release of duplicate reservation failed", "reference", in.Reference, "reservation_id", reservation.ID, "err", rerr)
		}
		return s.answerDuplicate(stored)
	}

	s.log.Info("order pending payment", "order_id", stored.ID, "reference", stored.Reference)

	outcome, payErr := s.requestPayment(ctx, PaymentRequest{
		OrderID:     stored.ID,
		Reference:   stored.Reference,
		AmountCents: stored.AmountCents,
		Method:      stored.PaymentMethod,
		Customer:    customer,
	})
	if payErr != nil {
		return s.failPayment(ctx, stored, reservation.ID, payErr)
	}

	event := domain.OrderConfirmation{
		Reference:     stored.Reference,
		AmountCents:   stored.AmountCents,
		PaymentMethod: stored.PaymentMethod,
		Customer:      customer,
		Lines:         reservation.Lines,
	}
	if err := s.confirm(ctx, stored.ID, event); err != nil {
		// Payment is charged: never cancel or release here. The order stays
		// PENDING_PAYMENT for the operator, with the provider reference in
		// the log.
		s.log.Error("order confirm write failed after accepted payment",
			"order_id", stored.ID, "reference", stored.Reference, "provider_ref", outcome.ProviderRef, "err", err)
		return domain.Order{}, fmt.Errorf("confirm order %s: %w", stored.ID, err)
	}

	stored.Status = domain.StatusConfirmed
	s.log.Info("order confirmed", "order_id", stored.ID, "reference", stored.Reference, "provider_ref", outcome.ProviderRef)
	return stored, nil
}

// answerDuplicate maps an already persisted order to the duplicate-request
// response: the original identifier, and for cancelled sagas the original
// failure.
func (s *Service) answerDuplicate(o domain.Order) (domain.Order, error) {
	if o.Status == domain.StatusCancelled {
		return o, fmt.Errorf("%w: %s", domain.ErrOrderCancelled, o.CancelReason)
	}
	return o, nil
}

// requestPayment submits the payment with bounded retries and exponential
// backoff. Unreachable and pending outcomes are retried; exhaustion fails
// closed as ErrPaymentUnreachable.
func (s *Service) requestPayment(ctx context.Context, req PaymentRequest) (domain.PaymentOutcome, error) {
	var last error
	delay := s.cfg.PaymentBackoff
	for attempt := 1; attempt <= s.cfg.PaymentMaxAttempts; attempt++ {
		outcome, err := s.payments.Request(ctx, req)
		switch {
		case err != nil:
			last = err
		case outcome.Status == domain.PaymentAccepted:
			return outcome, nil
		case outcome.Status == domain.PaymentRejected:
			return outcome, fmt.Errorf("%w: %s", domain.ErrPaymentRejected, outcome.Reason)
		default:
			// PENDING and UNREACHABLE both mean no decision yet.
			last = fmt.Errorf("payment outcome %s", outcome.Status)
		}
		s.log.Warn("payment attempt failed", "order_id", req.OrderID, "attempt", attempt, "err", last)
		if attempt < s.cfg.PaymentMaxAttempts {
			if err := s.sleep(ctx, delay); err != nil {
				last = err
				break
			}
			delay *= 2
		}
	}
	return domain.PaymentOutcome{Status: domain.PaymentUnreachable},
		fmt.Errorf("%w after %d attempts: %v", domain.ErrPaymentUnreachable, s.cfg.PaymentMaxAttempts, last)
}

// failPayment drives the order to CANCELLED and releases the reservation,
// then reports cause. A failed compensation is surfaced as a distinct
// CompensationError, never masked as the payment failure alone.
func (s *Service) failPayment(ctx context.Context, o domain.Order, reservationID string, cause error) (domain.Order, error) {
	if err := s.repo.Cancel(ctx, o.ID, cause.Error()); err != nil {
		return o, &domain.CompensationError{Cause: cause, Compensation: fmt.Errorf("cancel order: %w", err)}
	}
	if err := s.stock.Release(ctx, reservationID); err != nil {
		return o, &domain.CompensationError{Cause: cause, Compensation: fmt.Errorf("release reservation: %w", err)}
	}
	o.Status = domain.StatusCancelled
	o.CancelReason = cause.Error()
	s.log.Info("order cancelled", "order_id", o.ID, "reference", o.Reference, "reason", cause.Error())
	return o, cause
}

func (s *Service) confirm(ctx context.Context, orderID string, event domain.OrderConfirmation) error {
	var err error
	for attempt := 1; attempt <= confirmWriteAttempts; attempt++ {
		if err = s.repo.ConfirmWithOutbox(ctx, orderID, event); err == nil {
			return nil
		}
		if attempt < confirmWriteAttempts {
			if serr := s.sleep(ctx, time.Duration(attempt)*100*time.Millisecond); serr != nil {
				return err
			}
		}
	}
	return err
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}
