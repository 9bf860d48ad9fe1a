package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowd/ecommerce-orders/internal/order/application"
	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

type stubService struct {
	createOrder func(ctx context.Context, in application.CreateOrderInput) (domain.Order, error)
	orders      map[string]domain.Order
}

func (s *stubService) CreateOrder(ctx context.Context, in application.CreateOrderInput) (domain.Order, error) {
	return s.createOrder(ctx, in)
}

func (s *stubService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if o, ok := s.orders[id]; ok {
		return o, nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *stubService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func confirmedOrder() domain.Order {
	return domain.Order{
		ID:            "order-1",
		Reference:     "R-100",
		CustomerID:    "C1",
		AmountCents:   4998,
		PaymentMethod: domain.MethodCard,
		Status:        domain.StatusConfirmed,
		Lines:         []domain.OrderLine{{ProductID: "P1", Quantity: 2}},
		CreatedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

const validBody = `{
	"customerId": "C1",
	"reference": "R-100",
	"amountCents": 4998,
	"paymentMethod": "CARD",
	"lines": [{"productId": "P1", "quantity": 2}]
}`

func newTestHandler(svc OrderService) http.Handler {
	return NewHandler(slog.New(slog.DiscardHandler), svc).Routes()
}

func TestCreateOrder_Created(t *testing.T) {
	t.Parallel()

	svc := &stubService{createOrder: func(ctx context.Context, in application.CreateOrderInput) (domain.Order, error) {
		assert.Equal(t, "R-100", in.Reference)
		assert.Equal(t, domain.MethodCard, in.PaymentMethod)
		return confirmedOrder(), nil
	}}

	rec := httptest.NewRecorder()
	newTestHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(validBody)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var got orderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "order-1", got.ID)
	assert.Equal(t, "CONFIRMED", got.Status)
}

func TestCreateOrder_ValidationRejected(t *testing.T) {
	t.Parallel()

	svc := &stubService{createOrder: func(ctx context.Context, in application.CreateOrderInput) (domain.Order, error) {
		t.Fatal("service must not be called for invalid requests")
		return domain.Order{}, nil
	}}
	h := newTestHandler(svc)

	bodies := map[string]string{
		"not json":      `{`,
		"no lines":      `{"customerId":"C1","reference":"R-1","amountCents":100,"paymentMethod":"CARD","lines":[]}`,
		"zero quantity": `{"customerId":"C1","reference":"R-1","amountCents":100,"paymentMethod":"CARD","lines":[{"productId":"P1","quantity":0}]}`,
		"bad method":    `{"customerId":"C1","reference":"R-1","amountCents":100,"paymentMethod":"CASH","lines":[{"productId":"P1","quantity":1}]}`,
		"no amount":     `{"customerId":"C1","reference":"R-1","paymentMethod":"CARD","lines":[{"productId":"P1","quantity":1}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"customer not found", domain.ErrCustomerNotFound, http.StatusNotFound},
		{"insufficient stock", domain.ErrInsufficientStock, http.StatusConflict},
		{"unknown product", domain.ErrUnknownProduct, http.StatusUnprocessableEntity},
		{"reference in flight", domain.ErrReferenceInFlight, http.StatusConflict},
		{"payment rejected", fmt.Errorf("%w: card declined", domain.ErrPaymentRejected), http.StatusPaymentRequired},
		{"payment unreachable", domain.ErrPaymentUnreachable, http.StatusBadGateway},
		{"duplicate of cancelled", fmt.Errorf("%w: card declined", domain.ErrOrderCancelled), http.StatusPaymentRequired},
		{"compensation failed", &domain.CompensationError{Cause: domain.ErrPaymentRejected, Compensation: fmt.Errorf("release failed")}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			svc := &stubService{createOrder: func(ctx context.Context, in application.CreateOrderInput) (domain.Order, error) {
				return domain.Order{}, c.err
			}}
			rec := httptest.NewRecorder()
			newTestHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(validBody)))
			assert.Equal(t, c.code, rec.Code)
		})
	}
}

func TestCreateOrder_CancelledDuplicateCarriesOrder(t *testing.T) {
	t.Parallel()

	cancelled := confirmedOrder()
	cancelled.Status = domain.StatusCancelled
	cancelled.CancelReason = "payment rejected: card declined"

	svc := &stubService{createOrder: func(ctx context.Context, in application.CreateOrderInput) (domain.Order, error) {
		return cancelled, fmt.Errorf("%w: %s", domain.ErrOrderCancelled, cancelled.CancelReason)
	}}

	rec := httptest.NewRecorder()
	newTestHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(validBody)))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var got failedOrder
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.NotNil(t, got.Order)
	assert.Equal(t, "order-1", got.Order.ID)
	assert.Equal(t, "CANCELLED", got.Order.Status)
}

func TestGetOrder(t *testing.T) {
	t.Parallel()

	svc := &stubService{orders: map[string]domain.Order{"order-1": confirmedOrder()}}
	h := newTestHandler(svc)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/order-1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got orderResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "R-100", got.Reference)
		require.Len(t, got.Lines, 1)
		assert.Equal(t, 2, got.Lines[0].Quantity)
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListOrders(t *testing.T) {
	t.Parallel()

	svc := &stubService{orders: map[string]domain.Order{"order-1": confirmedOrder()}}
	rec := httptest.NewRecorder()
	newTestHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []orderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	rec := httptest.NewRecorder()
	newTestHandler(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
