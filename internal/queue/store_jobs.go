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

// NewJob inserts a job at the first stage of its pipeline with status queued.
func (s *Store) NewJob(ctx context.Context, jobType string, payload json.RawMessage, firstStage string, priority int) (*Job, error) {
	if jobType == "" {
		return nil, errors.New("job type is required")
	}
	if firstStage == "" {
		return nil, errors.New("first stage is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	id := uuid.NewString()
	timestamp := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, job_type, payload, current_stage, status,
            attempt_count, priority, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id,
		jobType,
		string(payload),
		firstStage,
		JobQueued,
		priority,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier. Missing jobs return (nil, nil).
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is
// provided), ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CancelJob moves a non-terminal job to cancelled and records the event.
// Returns false when the job was already terminal (or missing).
func (s *Store) CancelJob(ctx context.Context, id, reason string) (bool, error) {
	cancelled := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			JobCancelled,
			nullableString(reason),
			formatTime(now),
			id,
			JobQueued,
			JobProcessing,
		)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		cancelled = true
		return appendEventTx(ctx, tx, id, EventCancelled, "", reason, nil, now)
	})
	return cancelled, err
}

// StartStage opens the next attempt for (job, stage) and moves the job to
// processing. The job update is guarded against terminal statuses so a
// concurrent cancel is never overwritten; started=false means the job is
// missing or terminal and the caller must drop the message without running
// the handler. The attempt number is computed inside the statements
// themselves so concurrent workers never read-then-write the counter.
func (s *Store) StartStage(ctx context.Context, jobID, stage string) (int, bool, error) {
	attempt := 0
	started := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?,
                 attempt_count = (
                     SELECT COALESCE(MAX(attempt_number), 0) + 1
                     FROM stage_attempts WHERE job_id = ? AND stage = ?
                 ),
                 error_message = NULL, updated_at = ?
             WHERE id = ? AND status NOT IN (?, ?, ?)`,
			JobProcessing, jobID, stage, formatTime(now),
			jobID, JobCompleted, JobFailed, JobCancelled,
		)
		if err != nil {
			return fmt.Errorf("mark job processing: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		started = true

		row := tx.QueryRowContext(
			ctx,
			`INSERT INTO stage_attempts (job_id, stage, attempt_number, started_at)
             VALUES (?, ?, (
                 SELECT COALESCE(MAX(attempt_number), 0) + 1
                 FROM stage_attempts WHERE job_id = ? AND stage = ?
             ), ?)
             RETURNING attempt_number`,
			jobID, stage, jobID, stage, formatTime(now),
		)
		if err := row.Scan(&attempt); err != nil {
			return fmt.Errorf("open stage attempt: %w", err)
		}
		return appendEventTx(ctx, tx, jobID, EventStageStarted, stage,
			fmt.Sprintf("attempt %d started", attempt), nil, now)
	})
	if err != nil {
		return 0, false, err
	}
	return attempt, started, nil
}

// NextStageMessage describes the follow-up message created together with a
// stage advance. Passing it to CompleteStage makes the advance and the
// next-stage enqueue one transaction, so a crash between them can never leave
// an advanced job with no message to carry it.
type NextStageMessage struct {
	Payload  json.RawMessage
	Priority int
}

// CompleteStage closes the open attempt, advances the job to nextStage with
// nextStatus, and (when next is non-nil) enqueues the next-stage message in
// the same transaction. The update is guarded on the current stage and
// processing status so a stale redelivery can never double-advance; the guard
// failing is reported as advanced=false, not an error, and nothing is
// enqueued.
func (s *Store) CompleteStage(ctx context.Context, jobID, fromStage, nextStage string, nextStatus JobStatus, next *NextStageMessage) (bool, *Message, error) {
	advanced := false
	var msg *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if err := closeOpenAttemptTx(ctx, tx, jobID, fromStage, AttemptCompleted, "", now); err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET current_stage = ?, status = ?, attempt_count = 0,
                 error_message = NULL, updated_at = ?
             WHERE id = ? AND current_stage = ? AND status = ?`,
			nextStage, nextStatus, formatTime(now),
			jobID, fromStage, JobProcessing,
		)
		if err != nil {
			return fmt.Errorf("advance job stage: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		advanced = true

		if next != nil {
			payload := next.Payload
			if len(payload) == 0 {
				payload = json.RawMessage(`{}`)
			}
			m := &Message{
				MsgID:      uuid.NewString(),
				QueueName:  nextStage,
				JobID:      jobID,
				Stage:      nextStage,
				Payload:    payload,
				Priority:   next.Priority,
				EnqueuedAt: now.UTC(),
				VisibleAt:  now.UTC(),
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO queue_messages (
                    msg_id, queue_name, job_id, stage, payload,
                    priority, enqueued_at, visible_at, delivery_count
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
				m.MsgID,
				m.QueueName,
				m.JobID,
				m.Stage,
				string(m.Payload),
				m.Priority,
				m.EnqueuedAt.UnixMilli(),
				m.VisibleAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("enqueue next stage: %w", err)
			}
			msg = m
		}
		return appendEventTx(ctx, tx, jobID, EventStageCompleted, fromStage,
			fmt.Sprintf("advanced to %s", nextStage), nil, now)
	})
	if err != nil {
		return false, nil, err
	}
	return advanced, msg, nil
}

// CompleteAttempt closes the open attempt without advancing the stage. Used
// when a handler reports progress but the stage continues via a same-stage
// continuation message it already enqueued.
func (s *Store) CompleteAttempt(ctx context.Context, jobID, stage string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if err := closeOpenAttemptTx(ctx, tx, jobID, stage, AttemptCompleted, "", now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			JobQueued, formatTime(now), jobID, JobProcessing,
		); err != nil {
			return fmt.Errorf("release job: %w", err)
		}
		return nil
	})
}

// FailStage closes the open attempt with the failure reason, records an
// error event, and returns the job to queued awaiting redelivery. The update
// is guarded on processing so a cancel that landed while the handler ran is
// preserved; failed=false tells the caller the job is no longer runnable and
// the message should be dropped instead of rescheduled. Terminal failures go
// through MoveToDeadLetter instead.
func (s *Store) FailStage(ctx context.Context, jobID, stage, reason string) (bool, error) {
	failed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if err := closeOpenAttemptTx(ctx, tx, jobID, stage, AttemptFailed, reason, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobQueued, nullableString(reason), formatTime(now),
			jobID, JobProcessing,
		)
		if err != nil {
			return fmt.Errorf("mark job failure: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		failed = true
		return appendEventTx(ctx, tx, jobID, EventError, stage, reason, nil, now)
	})
	return failed, err
}

// AttemptCount returns the number of attempts recorded for (job, stage).
func (s *Store) AttemptCount(ctx context.Context, jobID, stage string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM stage_attempts WHERE job_id = ? AND stage = ?`,
		jobID, stage,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count stage attempts: %w", err)
	}
	return count, nil
}

// StageAttempts returns all attempts for a job ordered by stage and attempt
// number.
func (s *Store) StageAttempts(ctx context.Context, jobID string) ([]*StageAttempt, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, stage, attempt_number, started_at, completed_at, outcome, error_message
         FROM stage_attempts WHERE job_id = ? ORDER BY stage, attempt_number`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*StageAttempt
	for rows.Next() {
		var (
			attempt      StageAttempt
			startedRaw   string
			completedRaw sql.NullString
			outcome      sql.NullString
			errMsg       sql.NullString
		)
		if err := rows.Scan(&attempt.JobID, &attempt.Stage, &attempt.AttemptNumber,
			&startedRaw, &completedRaw, &outcome, &errMsg); err != nil {
			return nil, err
		}
		if started, err := parseTimeString(startedRaw); err == nil {
			attempt.StartedAt = started
		}
		if completedRaw.Valid {
			if completed, err := parseTimeString(completedRaw.String); err == nil {
				attempt.CompletedAt = &completed
			}
		}
		attempt.Outcome = outcome.String
		attempt.ErrorMessage = errMsg.String
		attempts = append(attempts, &attempt)
	}
	return attempts, rows.Err()
}

func closeOpenAttemptTx(ctx context.Context, tx *sql.Tx, jobID, stage, outcome, errorMessage string, now time.Time) error {
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE stage_attempts SET completed_at = ?, outcome = ?, error_message = ?
         WHERE job_id = ? AND stage = ? AND completed_at IS NULL`,
		formatTime(now), outcome, nullableString(errorMessage),
		jobID, stage,
	); err != nil {
		return fmt.Errorf("close stage attempt: %w", err)
	}
	return nil
}

const jobColumns = "id, job_type, payload, current_stage, status, attempt_count, priority, error_message, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		statusStr    string
		payload      sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&job.ID,
		&job.JobType,
		&payload,
		&job.CurrentStage,
		&statusStr,
		&job.AttemptCount,
		&job.Priority,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = JobStatus(statusStr)
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	job.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}
