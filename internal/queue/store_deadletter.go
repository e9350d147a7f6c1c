package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDeadLetterNotFound is returned when a dead-letter id does not exist.
var ErrDeadLetterNotFound = errors.New("dead letter entry not found")

// messageSnapshot is the wire form of a message preserved inside a
// dead-letter entry.
type messageSnapshot struct {
	MsgID         string          `json:"msg_id"`
	QueueName     string          `json:"queue_name"`
	JobID         string          `json:"job_id"`
	Stage         string          `json:"stage"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	DeliveryCount int             `json:"delivery_count"`
}

// MarshalMessage renders a message to the JSON form stored in dead letters.
func MarshalMessage(msg *Message) json.RawMessage {
	if msg == nil {
		return json.RawMessage(`{}`)
	}
	snapshot := messageSnapshot{
		MsgID:         msg.MsgID,
		QueueName:     msg.QueueName,
		JobID:         msg.JobID,
		Stage:         msg.Stage,
		Payload:       msg.Payload,
		Priority:      msg.Priority,
		EnqueuedAt:    msg.EnqueuedAt,
		DeliveryCount: msg.DeliveryCount,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// DeadLetters returns dead-letter entries, optionally filtered by queue,
// newest first. A limit of zero returns everything.
func (s *Store) DeadLetters(ctx context.Context, queueName string, limit int) ([]*DeadLetterEntry, error) {
	query := `SELECT id, queue_name, job_id, stage, original_message, reason, attempt_count_at_failure, archived_at
              FROM dead_letters`
	var args []any
	if queueName != "" {
		query += ` WHERE queue_name = ?`
		args = append(args, queueName)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetDeadLetter fetches one dead-letter entry by id.
func (s *Store) GetDeadLetter(ctx context.Context, id int64) (*DeadLetterEntry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, queue_name, job_id, stage, original_message, reason, attempt_count_at_failure, archived_at
         FROM dead_letters WHERE id = ?`,
		id,
	)
	entry, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return entry, nil
}

// RequeueDeadLetter is the explicit manual-intervention path for a
// dead-lettered job: it clears the stage's attempt history, returns the job
// to queued at that stage, and enqueues a fresh message carrying the original
// payload. The dead-letter entry itself is kept as a permanent record.
func (s *Store) RequeueDeadLetter(ctx context.Context, id int64) (*Message, error) {
	entry, err := s.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}

	var snapshot messageSnapshot
	if err := json.Unmarshal(entry.OriginalMessage, &snapshot); err != nil {
		return nil, fmt.Errorf("decode original message: %w", err)
	}

	now := time.Now()
	msg := &Message{
		MsgID:      uuid.NewString(),
		QueueName:  entry.QueueName,
		JobID:      entry.JobID,
		Stage:      entry.Stage,
		Payload:    snapshot.Payload,
		Priority:   snapshot.Priority,
		EnqueuedAt: now.UTC(),
		VisibleAt:  now.UTC(),
	}
	if len(msg.Payload) == 0 {
		msg.Payload = json.RawMessage(`{}`)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		// Without this reset the job would immediately re-exhaust its budget.
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM stage_attempts WHERE job_id = ? AND stage = ?`,
			entry.JobID, entry.Stage,
		); err != nil {
			return fmt.Errorf("reset stage attempts: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, current_stage = ?, attempt_count = 0,
                 error_message = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobQueued, entry.Stage, formatTime(now),
			entry.JobID, JobFailed,
		); err != nil {
			return fmt.Errorf("reset job: %w", err)
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
		return appendEventTx(ctx, tx, entry.JobID, EventRequeued, entry.Stage,
			fmt.Sprintf("requeued from dead letter %d", entry.ID), nil, now)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }) (*DeadLetterEntry, error) {
	var (
		entry       DeadLetterEntry
		original    sql.NullString
		archivedRaw string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.QueueName,
		&entry.JobID,
		&entry.Stage,
		&original,
		&entry.Reason,
		&entry.AttemptCountAtFailure,
		&archivedRaw,
	); err != nil {
		return nil, err
	}
	if original.Valid {
		entry.OriginalMessage = json.RawMessage(original.String)
	}
	if archived, err := parseTimeString(archivedRaw); err == nil {
		entry.ArchivedAt = archived
	}
	return &entry, nil
}
