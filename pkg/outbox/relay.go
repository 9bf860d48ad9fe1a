package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	// LockBatch claims up to batchSize due pending events for this relay,
	// including events whose previous claimant's lease expired.
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	// MarkRetry returns the event to pending with an incremented retry
	// count, due again at nextAttempt.
	MarkRetry(ctx context.Context, id int64, errMsg string, nextAttempt time.Time) error
	// MarkFailed parks the event permanently after retries are exhausted.
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// Relay polls the outbox and publishes due events, with bounded per-event
// retries and exponential backoff. A publish whose acknowledgement is lost
// is re-sent; consumers dedup by reference.
type Relay struct {
	log      *slog.Logger
	store    Store
	dispatch *Dispatcher
	relayID  string

	batchSize   int
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	now func() time.Time
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, maxAttempts int) *Relay {
	if maxAttempts < 1 {
		maxAttempts = 10
	}
	return &Relay{
		log:         log,
		store:       store,
		dispatch:    dispatch,
		relayID:     relayID,
		batchSize:   100,
		interval:    500 * time.Millisecond,
		lease:       5 * time.Second,
		maxAttempts: maxAttempts,
		backoffBase: time.Second,
		backoffMax:  5 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			r.RelayOnce(ctx)
		}
	}
}

// RelayOnce claims and dispatches one batch.
func (r *Relay) RelayOnce(ctx context.Context) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		r.log.Error("relay lock batch error", "err", err)
		return
	}
	if len(events) == 0 {
		return
	}

	sent := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			r.scheduleRetry(ctx, e, err)
			continue
		}
		sent = append(sent, e.ID)
	}
	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			r.log.Error("relay mark sent error", "err", err)
		}
	}
}

func (r *Relay) scheduleRetry(ctx context.Context, e Event, cause error) {
	attempt := e.RetryCount + 1
	if attempt >= r.maxAttempts {
		r.log.Error("outbox event exhausted retries", "event_id", e.ID, "attempts", attempt, "err", cause)
		if err := r.store.MarkFailed(ctx, e.ID, cause.Error()); err != nil {
			r.log.Error("relay mark failed error", "event_id", e.ID, "err", err)
		}
		return
	}
	next := r.now().Add(r.backoff(e.RetryCount))
	if err := r.store.MarkRetry(ctx, e.ID, cause.Error(), next); err != nil {
		r.log.Error("relay mark retry error", "event_id", e.ID, "err", err)
	}
}

func (r *Relay) backoff(retryCount int) time.Duration {
	d := r.backoffBase << uint(retryCount)
	if d <= 0 || d > r.backoffMax {
		return r.backoffMax
	}
	return d
}
