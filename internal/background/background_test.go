package background_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pressroom/internal/background"
	"pressroom/internal/logging"
)

func TestTasksRunDetached(t *testing.T) {
	group := background.New(context.Background(), 0, logging.NewNop())

	var ran atomic.Int32
	done := make(chan struct{})
	group.Go("work", func(context.Context) error {
		ran.Add(1)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	if ran.Load() != 1 {
		t.Fatalf("expected 1 run, got %d", ran.Load())
	}
}

func TestFlushWaitsForInFlightWork(t *testing.T) {
	group := background.New(context.Background(), 0, logging.NewNop())

	var finished atomic.Bool
	release := make(chan struct{})
	group.Go("slow", func(context.Context) error {
		<-release
		finished.Store(true)
		return nil
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	if !group.Flush(time.Second) {
		t.Fatal("flush timed out waiting for a finishing task")
	}
	if !finished.Load() {
		t.Fatal("flush returned before the task finished")
	}
	if group.InFlight() != 0 {
		t.Fatalf("expected drained group, %d in flight", group.InFlight())
	}
}

func TestFlushGivesUpAfterGrace(t *testing.T) {
	group := background.New(context.Background(), 0, logging.NewNop())

	release := make(chan struct{})
	defer close(release)
	group.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})

	start := time.Now()
	if group.Flush(30 * time.Millisecond) {
		t.Fatal("flush claimed success with a stuck task")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("flush returned before the grace period")
	}
}

func TestTaskErrorDoesNotCancelSiblings(t *testing.T) {
	group := background.New(context.Background(), 0, logging.NewNop())

	group.Go("failing", func(context.Context) error {
		return errors.New("batch failed")
	})

	sibling := make(chan error, 1)
	group.Go("sibling", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		sibling <- ctx.Err()
		return nil
	})

	if !group.Flush(time.Second) {
		t.Fatal("flush timed out")
	}
	if err := <-sibling; err != nil {
		t.Fatalf("sibling context cancelled by another task's error: %v", err)
	}
}

func TestFlushEmptyGroupReturnsImmediately(t *testing.T) {
	group := background.New(context.Background(), 0, logging.NewNop())
	if !group.Flush(time.Millisecond) {
		t.Fatal("empty group should flush instantly")
	}
}
