package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pressroom/internal/logging"
	"pressroom/internal/queue"
)

// workerHandler builds the POST /<stage>-worker endpoint. The dequeue happens
// synchronously so the caller learns how many messages were leased; the
// processing itself runs detached so the response is immediate.
func (s *Server) workerHandler(stage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeCORS(w)

		messages, err := s.runner.Dequeue(r.Context(), stage)
		if err != nil {
			s.logger.Error("dequeue failed",
				logging.String(logging.FieldQueue, stage),
				logging.Error(err))
			writeError(w, http.StatusInternalServerError, "queue_pop_failed")
			return
		}
		if len(messages) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		s.tasks.Go(stage+"-batch", func(ctx context.Context) error {
			s.runner.ProcessBatch(ctx, messages)
			return nil
		})

		writeJSON(w, http.StatusAccepted, map[string]any{
			"message": fmt.Sprintf("processing %d message(s)", len(messages)),
			"count":   len(messages),
		})
	}
}

type createJobRequest struct {
	JobType  string          `json:"job_type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

// handleCreateJob is the intake endpoint: it creates the job at its job
// type's first stage and enqueues the first message.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	firstStage, err := s.registry.FirstStage(req.JobType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_job_type")
		return
	}

	job, err := s.store.NewJob(r.Context(), req.JobType, req.Payload, firstStage, req.Priority)
	if err != nil {
		s.logger.Error("job intake failed",
			logging.String(logging.FieldJobType, req.JobType),
			logging.Error(err))
		writeError(w, http.StatusInternalServerError, "job_create_failed")
		return
	}
	if err := s.store.AppendEvent(r.Context(), job.ID, queue.EventIntake, firstStage, "job accepted", nil); err != nil {
		s.logger.Error("intake event failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
	if _, err := s.store.Enqueue(r.Context(), firstStage, job.ID, firstStage, job.Payload, queue.EnqueueOptions{
		Priority: job.Priority,
	}); err != nil {
		s.logger.Error("first stage enqueue failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	s.logger.Info("job accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, job.JobType),
		logging.String(logging.FieldStage, firstStage))
	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    firstStage,
		"status":   job.Status,
	})
}

type jobView struct {
	ID           string             `json:"id"`
	JobType      string             `json:"job_type"`
	CurrentStage string             `json:"current_stage"`
	Status       queue.JobStatus    `json:"status"`
	AttemptCount int                `json:"attempt_count"`
	Priority     int                `json:"priority"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Attempts     []stageAttemptView `json:"attempts"`
	Events       []eventView        `json:"events"`
}

type stageAttemptView struct {
	Stage         string     `json:"stage"`
	AttemptNumber int        `json:"attempt_number"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

type eventView struct {
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const recentEventLimit = 50

// handleGetJob returns a job with its stage attempts and recent events.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job_lookup_failed")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}

	attempts, err := s.store.StageAttempts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job_lookup_failed")
		return
	}
	events, err := s.store.EventsForJob(r.Context(), id, recentEventLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job_lookup_failed")
		return
	}

	view := jobView{
		ID:           job.ID,
		JobType:      job.JobType,
		CurrentStage: job.CurrentStage,
		Status:       job.Status,
		AttemptCount: job.AttemptCount,
		Priority:     job.Priority,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		Attempts:     make([]stageAttemptView, 0, len(attempts)),
		Events:       make([]eventView, 0, len(events)),
	}
	for _, attempt := range attempts {
		view.Attempts = append(view.Attempts, stageAttemptView{
			Stage:         attempt.Stage,
			AttemptNumber: attempt.AttemptNumber,
			StartedAt:     attempt.StartedAt,
			CompletedAt:   attempt.CompletedAt,
			Outcome:       attempt.Outcome,
			ErrorMessage:  attempt.ErrorMessage,
		})
	}
	for _, event := range events {
		view.Events = append(view.Events, eventView{
			Type:      event.Type,
			Stage:     event.Stage,
			Message:   event.Message,
			CreatedAt: event.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

// handleStatus reports database health, queue backlog, job counts, and
// handler readiness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.CheckHealth(r.Context())
	if err != nil {
		s.logger.Error("health check failed", logging.Error(err))
	}

	backlog, err := s.store.Backlog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed")
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed")
		return
	}

	queues := make([]map[string]any, 0, len(backlog))
	for _, entry := range backlog {
		queues = append(queues, map[string]any{
			"queue":     entry.QueueName,
			"ready":     entry.Ready,
			"in_flight": entry.InFlight,
		})
	}

	handlers := make([]map[string]any, 0)
	for _, check := range s.registry.HealthChecks(r.Context()) {
		entry := map[string]any{"stage": check.Stage, "ready": check.Ready}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		handlers = append(handlers, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"database": map[string]any{
			"path":      health.DBPath,
			"exists":    health.DatabaseExists,
			"readable":  health.DatabaseReadable,
			"integrity": health.IntegrityCheck,
			"jobs":      health.TotalJobs,
			"messages":  health.TotalMessages,
		},
		"jobs":     stats,
		"queues":   queues,
		"handlers": handlers,
		"tasks_in_flight": func() int {
			if s.tasks == nil {
				return 0
			}
			return s.tasks.InFlight()
		}(),
	})
}
