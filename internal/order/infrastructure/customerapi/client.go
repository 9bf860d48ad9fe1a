package customerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

// Client talks to the customer service. Not-found is a business outcome
// (domain.ErrCustomerNotFound); anything else, including the client timeout,
// is a lookup failure.
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

type customerResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func (c *Client) Find(ctx context.Context, id string) (domain.CustomerSnapshot, error) {
	u := fmt.Sprintf("%s/api/v1/customers/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.CustomerSnapshot{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.CustomerSnapshot{}, fmt.Errorf("customer service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body customerResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return domain.CustomerSnapshot{}, fmt.Errorf("decode customer: %w", err)
		}
		return domain.CustomerSnapshot{
			ID:        body.ID,
			FirstName: body.FirstName,
			LastName:  body.LastName,
			Email:     body.Email,
		}, nil
	case http.StatusNotFound:
		return domain.CustomerSnapshot{}, domain.ErrCustomerNotFound
	default:
		return domain.CustomerSnapshot{}, fmt.Errorf("customer service returned %d", resp.StatusCode)
	}
}
