package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/cowd/ecommerce-orders/internal/order/domain"
)

// Repository is the pgx-backed order store. The unique constraint on
// orders.reference is the idempotency conditional write; order header,
// lines and outbox rows share one transaction.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) CreateWithLines(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		INSERT INTO orders (id, reference, customer_id, amount_cents, payment_method, status, reservation_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (reference) DO NOTHING`,
		o.ID, o.Reference, o.CustomerID, o.AmountCents, o.PaymentMethod, o.Status, o.ReservationID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return domain.Order{}, false, err
	}
	if ct.RowsAffected() == 0 {
		// Another request already owns this reference.
		_ = tx.Rollback(ctx)
		existing, err := r.FindByReference(ctx, o.Reference)
		if err != nil {
			return domain.Order{}, false, err
		}
		return existing, false, nil
	}

	batch := &pgx.Batch{}
	for _, line := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, product_id, quantity) VALUES ($1,$2,$3)`,
			o.ID, line.ProductID, line.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

const orderColumns = `id, reference, customer_id, amount_cents, payment_method, status, reservation_id, COALESCE(cancel_reason,''), created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Reference, &o.CustomerID, &o.AmountCents, &o.PaymentMethod, &o.Status,
		&o.ReservationID, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) FindByReference(ctx context.Context, reference string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference=$1`, reference))
	if err != nil {
		return domain.Order{}, err
	}
	return r.withLines(ctx, o)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	return r.withLines(ctx, o)
}

func (r *Repository) withLines(ctx context.Context, o domain.Order) (domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity FROM order_lines WHERE order_id=$1`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return domain.Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	ids := make([]string, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lineRows, err := r.pool.Query(ctx, `SELECT order_id, product_id, quantity FROM order_lines WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	byID := make(map[string]*domain.Order, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}
	for lineRows.Next() {
		var orderID string
		var l domain.OrderLine
		if err := lineRows.Scan(&orderID, &l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return orders, lineRows.Err()
}

func (r *Repository) ConfirmWithOutbox(ctx context.Context, orderID string, event domain.OrderConfirmation) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		orderID, domain.StatusConfirmed, domain.StatusPendingPayment)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.terminalStateOf(ctx, orderID, domain.StatusConfirmed)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status, next_attempt_at)
		VALUES ('order', $1, 'OrderConfirmation', $2, $3, 'pending', now())`,
		orderID, payload, traceparentFrom(ctx))
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Cancel(ctx context.Context, orderID, reason string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$2, cancel_reason=$3, updated_at=now() WHERE id=$1 AND status=$4`,
		orderID, domain.StatusCancelled, reason, domain.StatusPendingPayment)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.terminalStateOf(ctx, orderID, domain.StatusCancelled)
	}
	return nil
}

// terminalStateOf resolves a zero-row conditional update: a repeat of the
// same transition is a no-op, any other state is an error.
func (r *Repository) terminalStateOf(ctx context.Context, orderID string, want domain.OrderStatus) error {
	var status domain.OrderStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if status == want {
		return nil
	}
	return fmt.Errorf("%w: order %s is %s", domain.ErrTerminalState, orderID, status)
}

func (r *Repository) FindStuckPendingPayment(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status=$1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		domain.StatusPendingPayment, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func traceparentFrom(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier["traceparent"]
}
