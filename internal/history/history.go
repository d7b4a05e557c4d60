package history

import (
	"context"
	"time"
)

// EventType defines the kind of update lifecycle event.
type EventType string

const (
	EventDownload EventType = "download"
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventRollback EventType = "rollback"
	EventCleanup  EventType = "cleanup"
)

// Event represents one update operation outcome to be exported to external
// systems for auditing.
type Event struct {
	Type       EventType `json:"type"`
	Version    string    `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for update history events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
