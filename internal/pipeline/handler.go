package pipeline

import (
	"context"
	"encoding/json"
)

// JobContext carries everything a stage handler may see about the work item
// it is processing.
type JobContext struct {
	JobID   string
	JobType string
	Stage   string
	Attempt int
	Payload json.RawMessage
}

// Result reports what a handler accomplished. Complete means the stage's work
// is fully done and the job should advance; a non-complete success means the
// handler enqueued a same-stage continuation (for example per-section
// drafting) and the stage is still in flight.
type Result struct {
	Complete bool
}

// Handler executes one stage's work for one message. Handlers are opaque to
// the engine: they may call external services, enqueue continuations, and
// fail by returning an error. They must tolerate duplicate and out-of-order
// delivery, treating the job store as ground truth.
type Handler interface {
	Execute(context.Context, *JobContext) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *JobContext) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, jc *JobContext) (Result, error) {
	return f(ctx, jc)
}

// HealthChecker is optionally implemented by handlers that can report
// readiness ahead of processing.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}
