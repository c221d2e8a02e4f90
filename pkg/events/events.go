// Package events publishes job-status-changed notifications.
//
// The orchestrator only needs a fire-and-forget publish capability; the
// surrounding portal subscribes and fans events out to browsers. Publish
// failures are the caller's to log and never affect the job itself.
package events

import (
	"context"
	"time"
)

// Event describes one job status change.
type Event struct {
	JobID   string    `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers job status events to interested subscribers.
type Publisher interface {
	// JobStatusChanged publishes one event.
	JobStatusChanged(ctx context.Context, ev Event) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Nop is a Publisher that drops every event. Used when no broker is
// configured.
type Nop struct{}

func (Nop) JobStatusChanged(context.Context, Event) error { return nil }
func (Nop) Close() error                                  { return nil }
