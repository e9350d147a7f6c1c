package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendEvent records one entry in a job's audit trail.
func (s *Store) AppendEvent(ctx context.Context, jobID, eventType, stage, message string, payload json.RawMessage) error {
	var payloadArg any
	if len(payload) > 0 {
		payloadArg = string(payload)
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO job_events (job_id, event_type, stage, message, payload, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		jobID,
		eventType,
		nullableString(stage),
		nullableString(message),
		payloadArg,
		formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsForJob returns a job's events in append order, newest last. A limit
// of zero returns everything.
func (s *Store) EventsForJob(ctx context.Context, jobID string, limit int) ([]*Event, error) {
	query := `SELECT id, job_id, event_type, stage, message, payload, created_at
              FROM job_events WHERE job_id = ? ORDER BY id`
	args := []any{jobID}
	if limit > 0 {
		// keep the newest events when limiting
		query = `SELECT id, job_id, event_type, stage, message, payload, created_at FROM (
                     SELECT id, job_id, event_type, stage, message, payload, created_at
                     FROM job_events WHERE job_id = ? ORDER BY id DESC LIMIT ?
                 ) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func appendEventTx(ctx context.Context, tx *sql.Tx, jobID, eventType, stage, message string, payload json.RawMessage, now time.Time) error {
	var payloadArg any
	if len(payload) > 0 {
		payloadArg = string(payload)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO job_events (job_id, event_type, stage, message, payload, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		jobID,
		eventType,
		nullableString(stage),
		nullableString(message),
		payloadArg,
		formatTime(now),
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*Event, error) {
	var (
		event      Event
		stage      sql.NullString
		message    sql.NullString
		payload    sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&event.ID,
		&event.JobID,
		&event.Type,
		&stage,
		&message,
		&payload,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	event.Stage = stage.String
	event.Message = message.String
	if payload.Valid {
		event.Payload = json.RawMessage(payload.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		event.CreatedAt = created
	}
	return &event, nil
}
