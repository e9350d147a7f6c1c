package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"pressroom/internal/queue"
)

func TestNewJobStartsQueuedAtFirstStage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", json.RawMessage(`{"topic":"tea"}`), "research", 2)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Status != queue.JobQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.CurrentStage != "research" {
		t.Fatalf("expected research stage, got %s", job.CurrentStage)
	}
	if job.Priority != 2 || job.AttemptCount != 0 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)

	job, err := store.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestStartStageIncrementsAttempts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "draft", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	for want := 1; want <= 3; want++ {
		attempt, started, err := store.StartStage(ctx, job.ID, "draft")
		if err != nil {
			t.Fatalf("start stage: %v", err)
		}
		if !started {
			t.Fatalf("attempt %d not started", want)
		}
		if attempt != want {
			t.Fatalf("expected attempt %d, got %d", want, attempt)
		}
	}

	count, err := store.AttemptCount(ctx, job.ID, "draft")
	if err != nil {
		t.Fatalf("attempt count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", count)
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.Status != queue.JobProcessing {
		t.Fatalf("expected processing, got %s", fresh.Status)
	}
}

func TestStartStageSkipsTerminalJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "draft", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.CancelJob(ctx, job.ID, "operator request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, started, err := store.StartStage(ctx, job.ID, "draft")
	if err != nil {
		t.Fatalf("start stage: %v", err)
	}
	if started {
		t.Fatal("started a stage on a cancelled job")
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.Status != queue.JobCancelled {
		t.Fatalf("cancellation erased: got %s", fresh.Status)
	}

	count, err := store.AttemptCount(ctx, job.ID, "draft")
	if err != nil {
		t.Fatalf("attempt count: %v", err)
	}
	if count != 0 {
		t.Fatalf("attempt opened for terminal job: %d", count)
	}
}

func TestCompleteStageAdvances(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", json.RawMessage(`{"topic":"tea"}`), "outline", 3)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, _, err := store.StartStage(ctx, job.ID, "outline"); err != nil {
		t.Fatalf("start stage: %v", err)
	}

	advanced, msg, err := store.CompleteStage(ctx, job.ID, "outline", "draft", queue.JobQueued,
		&queue.NextStageMessage{Payload: job.Payload, Priority: job.Priority})
	if err != nil {
		t.Fatalf("complete stage: %v", err)
	}
	if !advanced {
		t.Fatal("expected advance")
	}
	if msg == nil || msg.QueueName != "draft" || msg.Stage != "draft" {
		t.Fatalf("unexpected next-stage message: %+v", msg)
	}
	if msg.Priority != 3 {
		t.Fatalf("priority not carried: %d", msg.Priority)
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.CurrentStage != "draft" || fresh.Status != queue.JobQueued {
		t.Fatalf("unexpected job after advance: stage=%s status=%s", fresh.CurrentStage, fresh.Status)
	}
	if fresh.AttemptCount != 0 {
		t.Fatalf("attempt count not reset: %d", fresh.AttemptCount)
	}

	// The advance and the next-stage message commit together.
	pending, err := store.Messages(ctx, "draft")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(pending) != 1 || pending[0].MsgID != msg.MsgID {
		t.Fatalf("expected the enqueued draft message, got %+v", pending)
	}
}

func TestCompleteStageTerminalEnqueuesNothing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "schema", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, _, err := store.StartStage(ctx, job.ID, "schema"); err != nil {
		t.Fatalf("start stage: %v", err)
	}

	advanced, msg, err := store.CompleteStage(ctx, job.ID, "schema", "complete", queue.JobCompleted, nil)
	if err != nil {
		t.Fatalf("complete stage: %v", err)
	}
	if !advanced || msg != nil {
		t.Fatalf("unexpected result: advanced=%v msg=%+v", advanced, msg)
	}

	pending, err := store.Messages(ctx, "complete")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("terminal advance enqueued messages: %+v", pending)
	}
}

func TestCompleteStageGuardsDoubleAdvance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "outline", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, _, err := store.StartStage(ctx, job.ID, "outline"); err != nil {
		t.Fatalf("start stage: %v", err)
	}
	next := &queue.NextStageMessage{Payload: job.Payload}
	if _, _, err := store.CompleteStage(ctx, job.ID, "outline", "draft", queue.JobQueued, next); err != nil {
		t.Fatalf("complete stage: %v", err)
	}

	// A stale redelivery completing the same stage again must not advance,
	// and must not enqueue a second draft message.
	advanced, msg, err := store.CompleteStage(ctx, job.ID, "outline", "draft", queue.JobQueued, next)
	if err != nil {
		t.Fatalf("duplicate complete: %v", err)
	}
	if advanced || msg != nil {
		t.Fatal("duplicate completion advanced the job twice")
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.CurrentStage != "draft" {
		t.Fatalf("stage drifted: %s", fresh.CurrentStage)
	}

	pending, err := store.Messages(ctx, "draft")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly one draft message, got %d", len(pending))
	}
}

func TestCompleteAttemptKeepsStage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "draft", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, _, err := store.StartStage(ctx, job.ID, "draft"); err != nil {
		t.Fatalf("start stage: %v", err)
	}
	if err := store.CompleteAttempt(ctx, job.ID, "draft"); err != nil {
		t.Fatalf("complete attempt: %v", err)
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.CurrentStage != "draft" || fresh.Status != queue.JobQueued {
		t.Fatalf("continuation mangled job: stage=%s status=%s", fresh.CurrentStage, fresh.Status)
	}

	attempts, err := store.StageAttempts(ctx, job.ID)
	if err != nil {
		t.Fatalf("stage attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != queue.AttemptCompleted {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
}

func TestFailStageRetryable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "qa", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, _, err := store.StartStage(ctx, job.ID, "qa"); err != nil {
		t.Fatalf("start stage: %v", err)
	}
	failed, err := store.FailStage(ctx, job.ID, "qa", "checker timeout")
	if err != nil {
		t.Fatalf("fail stage: %v", err)
	}
	if !failed {
		t.Fatal("expected the failure to be recorded")
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.Status != queue.JobQueued {
		t.Fatalf("retryable failure should return job to queued, got %s", fresh.Status)
	}
	if fresh.ErrorMessage != "checker timeout" {
		t.Fatalf("error message not recorded: %q", fresh.ErrorMessage)
	}

	events, err := store.EventsForJob(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var sawError bool
	for _, event := range events {
		if event.Type == queue.EventError && event.Stage == "qa" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no error event recorded")
	}
}

func TestFailStagePreservesCancellation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "qa", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, _, err := store.StartStage(ctx, job.ID, "qa"); err != nil {
		t.Fatalf("start stage: %v", err)
	}
	// An operator cancels the job while its handler is still running.
	if _, err := store.CancelJob(ctx, job.ID, "operator request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	failed, err := store.FailStage(ctx, job.ID, "qa", "checker timeout")
	if err != nil {
		t.Fatalf("fail stage: %v", err)
	}
	if failed {
		t.Fatal("failure recorded against a cancelled job")
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.Status != queue.JobCancelled {
		t.Fatalf("cancellation erased: got %s", fresh.Status)
	}
}

func TestCancelJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "article", nil, "research", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	cancelled, err := store.CancelJob(ctx, job.ID, "operator request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancellation")
	}

	// Terminal jobs cannot be cancelled again.
	cancelled, err = store.CancelJob(ctx, job.ID, "again")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if cancelled {
		t.Fatal("cancelled a terminal job")
	}

	fresh, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.Status != queue.JobCancelled {
		t.Fatalf("expected cancelled, got %s", fresh.Status)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, err := store.NewJob(ctx, "article", nil, "research", 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.NewJob(ctx, "article", nil, "research", 0); err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.CancelJob(ctx, a.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	queued, err := store.ListJobs(ctx, queue.JobQueued)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(queued))
	}

	all, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
}
