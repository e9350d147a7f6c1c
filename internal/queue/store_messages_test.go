package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pressroom/internal/queue"
	"pressroom/internal/testsupport"
)

func openTestStore(t *testing.T) *queue.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"topic":"espresso"}`)
	msg, err := store.Enqueue(ctx, "research", "job-1", "research", payload, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := store.DequeueBatch(ctx, "research", time.Minute, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected 1 message, got %d", len(leased))
	}
	got := leased[0]
	if got.MsgID != msg.MsgID || got.JobID != "job-1" || got.Stage != "research" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload mangled: %s", got.Payload)
	}
	if got.DeliveryCount != 1 {
		t.Fatalf("expected delivery count 1, got %d", got.DeliveryCount)
	}
}

func TestDequeueOrdersByPriorityThenAge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "draft", "low-old", "draft", nil, queue.EnqueueOptions{Priority: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.Enqueue(ctx, "draft", "low-new", "draft", nil, queue.EnqueueOptions{Priority: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.Enqueue(ctx, "draft", "high", "draft", nil, queue.EnqueueOptions{Priority: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := store.DequeueBatch(ctx, "draft", time.Minute, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(leased) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(leased))
	}
	wantOrder := []string{"high", "low-old", "low-new"}
	for i, want := range wantOrder {
		if leased[i].JobID != want {
			t.Fatalf("position %d: want %s, got %s", i, want, leased[i].JobID)
		}
	}
}

func TestLeasedMessageIsInvisible(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "qa", "job-1", "qa", nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := store.DequeueBatch(ctx, "qa", time.Minute, 10)
	if err != nil {
		t.Fatalf("first dequeue: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 message, got %d", len(first))
	}

	second, err := store.DequeueBatch(ctx, "qa", time.Minute, 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("leased message redelivered early: %d", len(second))
	}
}

func TestExpiredLeaseRedelivers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "qa", "job-1", "qa", nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := store.DequeueBatch(ctx, "qa", 30*time.Millisecond, 10); err != nil {
		t.Fatalf("first dequeue: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	again, err := store.DequeueBatch(ctx, "qa", time.Minute, 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("expected redelivery after lease expiry, got %d messages", len(again))
	}
	if again[0].DeliveryCount != 2 {
		t.Fatalf("expected delivery count 2, got %d", again[0].DeliveryCount)
	}
}

func TestEnqueueDelayHidesMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "outline", "job-1", "outline", nil, queue.EnqueueOptions{
		Delay: time.Hour,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := store.DequeueBatch(ctx, "outline", time.Minute, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("delayed message delivered immediately")
	}
}

func TestArchiveRemovesMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msg, err := store.Enqueue(ctx, "qa", "job-1", "qa", nil, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	removed, err := store.Archive(ctx, "qa", msg.MsgID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !removed {
		t.Fatal("archive reported nothing removed")
	}

	removed, err = store.Archive(ctx, "qa", msg.MsgID)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if removed {
		t.Fatal("archive removed an already-archived message")
	}
}

func TestDelayedRequeueAppliesBackoff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msg, err := store.Enqueue(ctx, "draft", "job-1", "draft", json.RawMessage(`{"n":1}`), queue.EnqueueOptions{Priority: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	fresh, delay, err := store.DelayedRequeue(ctx, "draft", msg.MsgID, msg.JobID, msg.Stage, msg.Payload, msg.Priority, queue.RequeueOptions{
		Attempt:   2,
		BaseDelay: 30 * time.Second,
		MaxDelay:  time.Hour,
	})
	if err != nil {
		t.Fatalf("delayed requeue: %v", err)
	}
	if delay != time.Minute {
		t.Fatalf("expected 1m backoff for attempt 2, got %s", delay)
	}
	if fresh.MsgID == msg.MsgID {
		t.Fatal("requeue reused the original message id")
	}
	if fresh.Priority != 3 {
		t.Fatalf("priority not preserved: %d", fresh.Priority)
	}

	messages, err := store.Messages(ctx, "draft")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected exactly the requeued message, got %d", len(messages))
	}
	if messages[0].MsgID != fresh.MsgID {
		t.Fatal("original message survived the requeue")
	}
	if got := messages[0].VisibleAt.Sub(messages[0].EnqueuedAt); got < 55*time.Second {
		t.Fatalf("requeued message not delayed: %s", got)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{10, time.Hour}, // capped
	}
	for _, tc := range cases {
		got := queue.RetryDelay(30*time.Second, time.Hour, tc.attempt)
		if got != tc.want {
			t.Errorf("attempt %d: want %s, got %s", tc.attempt, tc.want, got)
		}
	}
	if got := queue.RetryDelay(0, time.Hour, 3); got != 0 {
		t.Errorf("zero base should give zero delay, got %s", got)
	}

	// With no cap, doubling saturates instead of overflowing into garbage.
	uncapped := queue.RetryDelay(30*time.Second, 0, 200)
	if uncapped <= 0 {
		t.Errorf("uncapped huge attempt produced %s", uncapped)
	}
	if again := queue.RetryDelay(30*time.Second, 0, 500); again != uncapped {
		t.Errorf("saturation not stable: %s vs %s", uncapped, again)
	}
	if got := queue.RetryDelay(30*time.Second, time.Hour, 200); got != time.Hour {
		t.Errorf("capped huge attempt: want %s, got %s", time.Hour, got)
	}
}

func TestBacklogCountsReadyAndInFlight(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, "research", "job", "research", nil, queue.EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := store.DequeueBatch(ctx, "research", time.Minute, 2); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	backlog, err := store.Backlog(ctx)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(backlog) != 1 {
		t.Fatalf("expected one queue, got %d", len(backlog))
	}
	entry := backlog[0]
	if entry.QueueName != "research" || entry.Ready != 1 || entry.InFlight != 2 {
		t.Fatalf("unexpected backlog entry: %+v", entry)
	}
}
