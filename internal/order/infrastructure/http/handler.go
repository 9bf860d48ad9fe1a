package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cowd/ecommerce-orders/internal/order/application"
	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

// OrderService is the application surface the transport depends on.
type OrderService interface {
	CreateOrder(ctx context.Context, in application.CreateOrderInput) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

type Handler struct {
	log      *slog.Logger
	service  OrderService
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service OrderService) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
		tracer:   otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/healthz", h.health)
	return r
}

type createOrderRequest struct {
	CustomerID    string           `json:"customerId" validate:"required"`
	Reference     string           `json:"reference" validate:"required"`
	AmountCents   int64            `json:"amountCents" validate:"required,gt=0"`
	PaymentMethod string           `json:"paymentMethod" validate:"required,oneof=CARD PAYPAL BANK_TRANSFER BITCOIN"`
	Lines         []orderLineInput `json:"lines" validate:"required,min=1,dive"`
}

type orderLineInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type orderResponse struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	CustomerID    string          `json:"customerId"`
	AmountCents   int64           `json:"amountCents"`
	PaymentMethod string          `json:"paymentMethod"`
	Status        string          `json:"status"`
	CancelReason  string          `json:"cancelReason,omitempty"`
	Lines         []orderLineResp `json:"lines"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type orderLineResp struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func toResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		Reference:     o.Reference,
		CustomerID:    o.CustomerID,
		AmountCents:   o.AmountCents,
		PaymentMethod: string(o.PaymentMethod),
		Status:        string(o.Status),
		CancelReason:  o.CancelReason,
		Lines:         make([]orderLineResp, 0, len(o.Lines)),
		CreatedAt:     o.CreatedAt,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResp{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return resp
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := application.CreateOrderInput{
		CustomerID:    req.CustomerID,
		Reference:     req.Reference,
		AmountCents:   req.AmountCents,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Lines:         make([]domain.OrderLine, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, domain.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	order, err := h.service.CreateOrder(ctx, in)
	if err != nil {
		h.writeServiceError(w, r, order, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	order, err := h.service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, r, http.StatusNotFound, "order not found")
			return
		}
		h.log.Error("get order failed", "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	orders, err := h.service.ListOrders(ctx)
	if err != nil {
		h.log.Error("list orders failed", "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps saga failures onto HTTP codes. Cancelled duplicates
// still carry the persisted order in the body so the caller sees the
// original outcome.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, order domain.Order, err error) {
	var cerr *domain.CompensationError
	switch {
	// Checked first: a CompensationError also unwraps to its cause, and must
	// not be mistaken for a cleanly compensated failure.
	case errors.As(err, &cerr):
		h.log.Error("compensation failed, operator attention required", "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "order failed and compensation is incomplete")
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCustomerNotFound):
		h.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnknownProduct):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrReferenceInFlight):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPaymentRejected), errors.Is(err, domain.ErrOrderCancelled):
		writeJSON(w, http.StatusPaymentRequired, failedOrderBody(order, err))
	case errors.Is(err, domain.ErrPaymentUnreachable):
		writeJSON(w, http.StatusBadGateway, failedOrderBody(order, err))
	default:
		h.log.Error("create order failed", "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type failedOrder struct {
	Error string         `json:"error"`
	Order *orderResponse `json:"order,omitempty"`
}

func failedOrderBody(order domain.Order, err error) failedOrder {
	body := failedOrder{Error: err.Error()}
	if order.ID != "" {
		resp := toResponse(order)
		body.Order = &resp
	}
	return body
}

func (h *Handler) writeError(w http.ResponseWriter, _ *http.Request, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
