package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReferenceLock serializes in-flight order creations per reference using
// redis SET NX with a TTL. The durable idempotency guarantee lives in the
// order store's unique constraint; this lock only keeps concurrent requests
// for the same reference from racing the remote collaborators.
type ReferenceLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReferenceLock(rdb *redis.Client, ttl time.Duration) *ReferenceLock {
	return &ReferenceLock{rdb: rdb, ttl: ttl}
}

func Key(reference string) string {
	return fmt.Sprintf("order:ref:%s", reference)
}

// Acquire returns false when another request currently holds the reference.
func (l *ReferenceLock) Acquire(ctx context.Context, reference string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, Key(reference), "1", l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (l *ReferenceLock) Release(ctx context.Context, reference string) error {
	return l.rdb.Del(ctx, Key(reference)).Err()
}
