package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	events  []Event
	sent    []int64
	retries map[int64]time.Time
	failed  map[int64]string
}

func newMemStore(events ...Event) *memStore {
	return &memStore{events: events, retries: map[int64]time.Time{}, failed: map[int64]string{}}
}

func (s *memStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	out := s.events
	s.events = nil
	return out, nil
}

func (s *memStore) MarkSent(ctx context.Context, ids []int64) error {
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *memStore) MarkRetry(ctx context.Context, id int64, errMsg string, nextAttempt time.Time) error {
	s.retries[id] = nextAttempt
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	s.failed[id] = errMsg
	return nil
}

type memProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *memProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestRelay_DispatchesAndMarksSent(t *testing.T) {
	t.Parallel()

	store := newMemStore(Event{ID: 1, AggregateID: "order-1", Type: "OrderConfirmation", Payload: []byte(`{"reference":"R-100"}`)})
	producer := &memProducer{}
	log := slog.New(slog.DiscardHandler)
	relay := NewRelay(log, store, NewDispatcher(log, producer, "order.events"), "relay-1", 5)

	relay.RelayOnce(context.Background())

	require.Len(t, producer.msgs, 1)
	msg := producer.msgs[0]
	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Empty(t, store.retries)
}

func TestRelay_SchedulesRetryWithBackoff(t *testing.T) {
	t.Parallel()

	store := newMemStore(Event{ID: 7, AggregateID: "order-1", Type: "OrderConfirmation", RetryCount: 2})
	producer := &memProducer{err: errors.New("broker down")}
	log := slog.New(slog.DiscardHandler)
	relay := NewRelay(log, store, NewDispatcher(log, producer, "order.events"), "relay-1", 5)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	relay.now = func() time.Time { return now }

	relay.RelayOnce(context.Background())

	require.Contains(t, store.retries, int64(7))
	// retry_count 2 -> backoff base << 2
	assert.Equal(t, now.Add(4*time.Second), store.retries[7])
	assert.Empty(t, store.sent)
	assert.Empty(t, store.failed)
}

func TestRelay_ExhaustedRetriesMarkFailed(t *testing.T) {
	t.Parallel()

	store := newMemStore(Event{ID: 9, AggregateID: "order-1", Type: "OrderConfirmation", RetryCount: 4})
	producer := &memProducer{err: errors.New("broker down")}
	log := slog.New(slog.DiscardHandler)
	relay := NewRelay(log, store, NewDispatcher(log, producer, "order.events"), "relay-1", 5)

	relay.RelayOnce(context.Background())

	assert.Contains(t, store.failed, int64(9))
	assert.Empty(t, store.retries)
}

func TestRelay_BackoffCapped(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.DiscardHandler)
	relay := NewRelay(log, newMemStore(), NewDispatcher(log, &memProducer{}, "t"), "relay-1", 50)

	assert.Equal(t, time.Second, relay.backoff(0))
	assert.Equal(t, 2*time.Second, relay.backoff(1))
	assert.Equal(t, 5*time.Minute, relay.backoff(30))
	assert.Equal(t, 5*time.Minute, relay.backoff(63))
}
