package events

import (
	"context"
	"time"
)

// Stage-transition event names. Each one triggers exactly one worker.
const (
	ProjectStart       = "project.start"
	QuestionsSubmitted = "project.questions-submitted"
	ContentRequested   = "project.content-requested"
)

// Event is a stage-transition trigger. Delivery is at-least-once; workers are
// responsible for making replays safe.
type Event struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId"`
}

// Handler processes one delivered event. Returning an error signals a
// delivery-level fault to the transport (which may redeliver); workers catch
// their own failures and never propagate them here.
type Handler func(ctx context.Context, evt Event) error

// Bus dispatches stage-transition events to asynchronous workers.
// Publish returns as soon as the event is enqueued; the request path never
// waits on a worker.
type Bus interface {
	Publish(ctx context.Context, evt Event) (Event, error)
	Start(ctx context.Context, concurrency int, handler Handler)
}

// Delivery states tracked per event by transports that support it.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// DeliveryStatus is the point-in-time transport record of one event.
type DeliveryStatus struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ProjectID    string    `json:"projectId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
