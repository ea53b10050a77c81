package dispatch

import (
	"context"
	"time"
)

// Job is a unit of schedulable work.
//
// The dispatcher assigns IDs monotonically at submission. StartTime and
// EndTime are each set exactly once, by the single worker that executes the
// job; the control loop only reads them after the matching status event, so
// the channel send/receive pair orders the accesses.
type Job struct {
	ID        uint64
	Priority  int       // higher runs sooner
	NotBefore time.Time // zero means eligible immediately

	StartTime time.Time
	EndTime   time.Time

	Run func(ctx context.Context) error

	submittedAt time.Time
}

// JobOptions carries the optional scheduling fields for QueueJobWith/Submit.
type JobOptions struct {
	// Priority orders ready jobs; higher dispatches first. Equal priorities
	// dispatch in submission order.
	Priority int

	// NotBefore is the earliest time the job may be handed to a worker.
	// Zero means immediately eligible.
	NotBefore time.Time
}

// JobEvent is the payload published on the event bus for job lifecycle events.
type JobEvent struct {
	ID         uint64        `json:"id"`
	Worker     int           `json:"worker,omitempty"`
	Priority   int           `json:"priority,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// WorkerEvent is the payload published on the event bus when a worker exits.
type WorkerEvent struct {
	ID int `json:"id"`
}
