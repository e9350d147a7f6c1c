package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EnqueueOptions tunes message placement. Priority orders dequeue (higher
// first); Delay hides the message for the given duration.
type EnqueueOptions struct {
	Priority int
	Delay    time.Duration
}

// RequeueOptions controls delayed redelivery of a failed message.
type RequeueOptions struct {
	// Attempt is the attempt number that just failed; the redelivery delay
	// is BaseDelay * 2^(Attempt-1), capped at MaxDelay.
	Attempt   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// PriorityOverride replaces the original priority when non-nil.
	PriorityOverride *int
}

// Enqueue creates a message visible immediately or after opts.Delay.
func (s *Store) Enqueue(ctx context.Context, queueName, jobID, stage string, payload json.RawMessage, opts EnqueueOptions) (*Message, error) {
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if stage == "" {
		return nil, errors.New("stage is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	now := time.Now()
	msg := &Message{
		MsgID:      uuid.NewString(),
		QueueName:  queueName,
		JobID:      jobID,
		Stage:      stage,
		Payload:    payload,
		Priority:   opts.Priority,
		EnqueuedAt: now.UTC(),
		VisibleAt:  now.Add(opts.Delay).UTC(),
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_messages (
            msg_id, queue_name, job_id, stage, payload,
            priority, enqueued_at, visible_at, delivery_count
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		msg.MsgID,
		msg.QueueName,
		msg.JobID,
		msg.Stage,
		string(msg.Payload),
		msg.Priority,
		msg.EnqueuedAt.UnixMilli(),
		msg.VisibleAt.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}
	return msg, nil
}

// DequeueBatch atomically leases up to batchSize visible messages, ordered by
// priority descending then enqueue time. The lease is taken by pushing
// visible_at forward in the same statement that selects the rows, so
// concurrently polling workers can never lease the same message.
func (s *Store) DequeueBatch(ctx context.Context, queueName string, visibility time.Duration, batchSize int) ([]*Message, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	if visibility <= 0 {
		return nil, errors.New("visibility timeout must be positive")
	}

	now := time.Now()
	rows, err := s.db.QueryContext(
		ctx,
		`UPDATE queue_messages
         SET visible_at = ?, delivery_count = delivery_count + 1
         WHERE msg_id IN (
             SELECT msg_id FROM queue_messages
             WHERE queue_name = ? AND visible_at <= ?
             ORDER BY priority DESC, enqueued_at ASC, msg_id ASC
             LIMIT ?
         )
         RETURNING `+messageColumns,
		now.Add(visibility).UnixMilli(),
		queueName,
		now.UnixMilli(),
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified; restore dequeue order.
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Priority != messages[j].Priority {
			return messages[i].Priority > messages[j].Priority
		}
		if !messages[i].EnqueuedAt.Equal(messages[j].EnqueuedAt) {
			return messages[i].EnqueuedAt.Before(messages[j].EnqueuedAt)
		}
		return messages[i].MsgID < messages[j].MsgID
	})
	return messages, nil
}

// Archive permanently removes a message, acknowledging its lease.
func (s *Store) Archive(ctx context.Context, queueName, msgID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM queue_messages WHERE queue_name = ? AND msg_id = ?`,
		queueName, msgID,
	)
	if err != nil {
		return false, fmt.Errorf("archive message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DelayedRequeue archives the leased message and creates a fresh one delayed
// by exponential backoff. Returns the new message and the delay applied.
func (s *Store) DelayedRequeue(ctx context.Context, queueName, msgID, jobID, stage string, payload json.RawMessage, priority int, opts RequeueOptions) (*Message, time.Duration, error) {
	delay := RetryDelay(opts.BaseDelay, opts.MaxDelay, opts.Attempt)
	if opts.PriorityOverride != nil {
		priority = *opts.PriorityOverride
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	now := time.Now()
	msg := &Message{
		MsgID:      uuid.NewString(),
		QueueName:  queueName,
		JobID:      jobID,
		Stage:      stage,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: now.UTC(),
		VisibleAt:  now.Add(delay).UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM queue_messages WHERE queue_name = ? AND msg_id = ?`,
			queueName, msgID,
		); err != nil {
			return fmt.Errorf("archive original message: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO queue_messages (
                msg_id, queue_name, job_id, stage, payload,
                priority, enqueued_at, visible_at, delivery_count
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			msg.MsgID,
			msg.QueueName,
			msg.JobID,
			msg.Stage,
			string(msg.Payload),
			msg.Priority,
			msg.EnqueuedAt.UnixMilli(),
			msg.VisibleAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("requeue message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return msg, delay, nil
}

// MoveToDeadLetter permanently fails a stage in one transaction: it closes
// the open attempt, marks the job failed, writes the dead-letter entry,
// archives the message, and records the error and dead_lettered events. The
// job update is guarded on processing so a cancel that landed while the
// handler ran wins; the dead-letter entry is written either way so the
// exhausted message is never dropped silently. Dead letters are never
// redelivered.
func (s *Store) MoveToDeadLetter(ctx context.Context, queueName, msgID, jobID, stage string, original json.RawMessage, reason string, attemptCount int) (*DeadLetterEntry, error) {
	if len(original) == 0 {
		original = json.RawMessage(`{}`)
	}
	entry := &DeadLetterEntry{
		QueueName:             queueName,
		JobID:                 jobID,
		Stage:                 stage,
		OriginalMessage:       original,
		Reason:                reason,
		AttemptCountAtFailure: attemptCount,
		ArchivedAt:            time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if err := closeOpenAttemptTx(ctx, tx, jobID, stage, AttemptFailed, reason, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobFailed, nullableString(reason), formatTime(now),
			jobID, JobProcessing,
		)
		if err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		jobFailed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		res, err = tx.ExecContext(
			ctx,
			`INSERT INTO dead_letters (
                queue_name, job_id, stage, original_message,
                reason, attempt_count_at_failure, archived_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.QueueName,
			entry.JobID,
			entry.Stage,
			string(entry.OriginalMessage),
			entry.Reason,
			entry.AttemptCountAtFailure,
			formatTime(entry.ArchivedAt),
		)
		if err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		entry.ID = id

		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM queue_messages WHERE queue_name = ? AND msg_id = ?`,
			queueName, msgID,
		); err != nil {
			return fmt.Errorf("archive dead-lettered message: %w", err)
		}
		if jobFailed > 0 {
			if err := appendEventTx(ctx, tx, jobID, EventError, stage, reason, nil, now); err != nil {
				return err
			}
		}
		return appendEventTx(ctx, tx, jobID, EventDeadLettered, stage, reason, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Backlog returns ready and in-flight message counts per queue.
func (s *Store) Backlog(ctx context.Context) ([]BacklogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT queue_name,
                SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END),
                SUM(CASE WHEN visible_at > ? THEN 1 ELSE 0 END)
         FROM queue_messages GROUP BY queue_name ORDER BY queue_name`,
		time.Now().UnixMilli(),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue backlog: %w", err)
	}
	defer rows.Close()

	var entries []BacklogEntry
	for rows.Next() {
		var entry BacklogEntry
		if err := rows.Scan(&entry.QueueName, &entry.Ready, &entry.InFlight); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Messages lists a queue's messages ordered the way dequeue would take them.
// Intended for inspection, not processing; it takes no lease.
func (s *Store) Messages(ctx context.Context, queueName string) ([]*Message, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+messageColumns+` FROM queue_messages
         WHERE queue_name = ?
         ORDER BY priority DESC, enqueued_at ASC, msg_id ASC`,
		queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RetryDelay computes exponential backoff for a failed attempt:
// base * 2^(attempt-1), capped at max. Doubling saturates instead of
// overflowing, so a huge attempt number with no cap still yields a sane
// delay.
func RetryDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if max > 0 && delay >= max {
			return max
		}
		doubled := delay * 2
		if doubled <= delay {
			break
		}
		delay = doubled
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

const messageColumns = "msg_id, queue_name, job_id, stage, payload, priority, enqueued_at, visible_at, delivery_count"

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var (
		msg        Message
		payload    sql.NullString
		enqueuedMS int64
		visibleMS  int64
	)
	if err := scanner.Scan(
		&msg.MsgID,
		&msg.QueueName,
		&msg.JobID,
		&msg.Stage,
		&payload,
		&msg.Priority,
		&enqueuedMS,
		&visibleMS,
		&msg.DeliveryCount,
	); err != nil {
		return nil, err
	}
	if payload.Valid {
		msg.Payload = json.RawMessage(payload.String)
	}
	msg.EnqueuedAt = time.UnixMilli(enqueuedMS).UTC()
	msg.VisibleAt = time.UnixMilli(visibleMS).UTC()
	return &msg, nil
}
