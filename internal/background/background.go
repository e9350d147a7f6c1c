// Package background runs detached work kicked off by HTTP handlers. The
// handler responds immediately while processing continues here; shutdown
// flushes in-flight work within a grace period instead of abandoning it.
package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pressroom/internal/logging"
)

// Group tracks detached goroutines started on behalf of request handlers.
// Work runs under the group's root context, not the request context, so it
// survives the response being written.
type Group struct {
	group  *errgroup.Group
	ctx    context.Context
	logger *slog.Logger

	mu       sync.Mutex
	inFlight int
	idle     chan struct{}
}

// New creates a group rooted at ctx. A positive limit caps concurrent tasks;
// zero or negative means unbounded.
func New(ctx context.Context, limit int, logger *slog.Logger) *Group {
	eg, egCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	return &Group{
		group:  eg,
		ctx:    egCtx,
		logger: logging.WithComponent(logger, "background"),
		idle:   make(chan struct{}),
	}
}

// Go schedules fn on the group. The task receives the group's context; task
// errors are logged, never propagated, so one failed batch cannot cancel its
// siblings through the errgroup.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.mu.Lock()
	g.inFlight++
	g.mu.Unlock()

	g.group.Go(func() error {
		defer g.done()
		if err := fn(g.ctx); err != nil {
			g.logger.Error("background task failed",
				logging.String("task", name),
				logging.Error(err))
		}
		return nil
	})
}

func (g *Group) done() {
	g.mu.Lock()
	g.inFlight--
	if g.inFlight == 0 {
		close(g.idle)
		g.idle = make(chan struct{})
	}
	g.mu.Unlock()
}

// InFlight returns the number of tasks currently running or queued.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Flush waits for in-flight tasks to finish, giving up after grace. Returns
// true when everything drained in time.
func (g *Group) Flush(grace time.Duration) bool {
	g.mu.Lock()
	if g.inFlight == 0 {
		g.mu.Unlock()
		return true
	}
	idle := g.idle
	g.mu.Unlock()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case <-idle:
			g.mu.Lock()
			if g.inFlight == 0 {
				g.mu.Unlock()
				return true
			}
			idle = g.idle
			g.mu.Unlock()
		case <-timer.C:
			g.logger.Warn("shutdown grace elapsed with tasks in flight",
				logging.Int("in_flight", g.InFlight()))
			return false
		}
	}
}
