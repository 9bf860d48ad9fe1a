package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	// StatusFailed is terminal: retries are exhausted and the event needs
	// operator attention.
	StatusFailed Status = "failed"
)

// Event is one staged message in the transactional outbox. It is written in
// the same database transaction as the state change it announces, and
// delivered at-least-once by the relay.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RetryCount    int
	NextAttemptAt time.Time
	LastError     *string
}
