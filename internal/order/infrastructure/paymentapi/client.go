package paymentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cowd/ecommerce-orders/internal/order/application"
	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

// Client talks to the payment provider. Transport failures and 5xx answers
// are reported as UNREACHABLE outcomes; the saga decides how often to retry.
type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
}

func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		log:     log,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type paymentRequest struct {
	OrderID       string          `json:"orderId"`
	Reference     string          `json:"reference"`
	AmountCents   int64           `json:"amountCents"`
	PaymentMethod string          `json:"paymentMethod"`
	Customer      paymentCustomer `json:"customer"`
}

type paymentCustomer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type paymentResponse struct {
	Status      string `json:"status"`
	ProviderRef string `json:"providerRef"`
	Reason      string `json:"reason"`
}

func (c *Client) Request(ctx context.Context, req application.PaymentRequest) (domain.PaymentOutcome, error) {
	raw, err := json.Marshal(paymentRequest{
		OrderID:       req.OrderID,
		Reference:     req.Reference,
		AmountCents:   req.AmountCents,
		PaymentMethod: string(req.Method),
		Customer: paymentCustomer{
			ID:        req.Customer.ID,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Email:     req.Customer.Email,
		},
	})
	if err != nil {
		return domain.PaymentOutcome{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/payments", bytes.NewReader(raw))
	if err != nil {
		return domain.PaymentOutcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The reference doubles as the provider-side idempotency key, so a
	// retried submission cannot double-charge.
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("payment service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.log.Warn("payment service unavailable", "status", resp.StatusCode, "order_id", req.OrderID)
		return domain.PaymentOutcome{Status: domain.PaymentUnreachable}, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.PaymentOutcome{}, fmt.Errorf("payment service returned %d", resp.StatusCode)
	}

	var body paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("decode payment outcome: %w", err)
	}

	outcome := domain.PaymentOutcome{ProviderRef: body.ProviderRef, Reason: body.Reason}
	switch body.Status {
	case string(domain.PaymentAccepted):
		outcome.Status = domain.PaymentAccepted
	case string(domain.PaymentRejected):
		outcome.Status = domain.PaymentRejected
	case string(domain.PaymentPending):
		outcome.Status = domain.PaymentPending
	default:
		return domain.PaymentOutcome{}, fmt.Errorf("unknown payment status %q", body.Status)
	}
	return outcome, nil
}
