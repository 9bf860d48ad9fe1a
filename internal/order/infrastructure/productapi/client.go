package productapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

// Client talks to the product service. Reserve is atomic across lines on the
// product side; Release is idempotent, a handle already released (or unknown)
// is not an error.
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

type reserveRequest struct {
	Reference string        `json:"reference"`
	Lines     []reserveLine `json:"lines"`
}

type reserveLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type reserveResponse struct {
	ReservationID string `json:"reservationId"`
	Lines         []struct {
		ProductID      string `json:"productId"`
		Name           string `json:"name"`
		UnitPriceCents int64  `json:"unitPriceCents"`
		Quantity       int    `json:"quantity"`
	} `json:"lines"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Reserve(ctx context.Context, reference string, lines []domain.OrderLine) (domain.Reservation, error) {
	body := reserveRequest{Reference: reference, Lines: make([]reserveLine, 0, len(lines))}
	for _, l := range lines {
		body.Lines = append(body.Lines, reserveLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.Reservation{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/reservations", bytes.NewReader(raw))
	if err != nil {
		return domain.Reservation{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("product service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var out reserveResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return domain.Reservation{}, fmt.Errorf("decode reservation: %w", err)
		}
		res := domain.Reservation{ID: out.ReservationID}
		for _, l := range out.Lines {
			res.Lines = append(res.Lines, domain.PurchasedLine{
				ProductID:      l.ProductID,
				Name:           l.Name,
				UnitPriceCents: l.UnitPriceCents,
				Quantity:       l.Quantity,
			})
		}
		return res, nil
	}

	var fail errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&fail)
	switch fail.Code {
	case "INSUFFICIENT_STOCK":
		return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, fail.Message)
	case "UNKNOWN_PRODUCT":
		return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, fail.Message)
	default:
		return domain.Reservation{}, fmt.Errorf("product service returned %d", resp.StatusCode)
	}
}

func (c *Client) Release(ctx context.Context, reservationID string) error {
	u := fmt.Sprintf("%s/api/v1/reservations/%s/release", c.baseURL, url.PathEscape(reservationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("product service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound, http.StatusConflict:
		// Already released; release is idempotent.
		c.log.Debug("reservation already released", "reservation_id", reservationID)
		return nil
	default:
		return fmt.Errorf("release returned %d", resp.StatusCode)
	}
}
