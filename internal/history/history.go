package history

import (
	"context"
	"time"
)

// Event is one control-plane operation exported to external analytics
// systems.
type Event struct {
	Op         string    `json:"op"`
	Name       string    `json:"name"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for operation events. Implementations must be
// safe for concurrent use; failures are best-effort and never block the
// operation that produced the event. Close releases the underlying
// connection.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
