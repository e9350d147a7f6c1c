package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a pipeline job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

var allJobStatuses = []JobStatus{
	JobQueued,
	JobProcessing,
	JobCompleted,
	JobFailed,
	JobCancelled,
}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// Terminal reports whether a job in this status will never be processed again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is the durable record of one pipeline job. Jobs are created by intake,
// mutated only through stage transitions, and never deleted.
type Job struct {
	ID           string
	JobType      string
	Payload      json.RawMessage
	CurrentStage string
	Status       JobStatus
	AttemptCount int
	Priority     int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one leased work item in a stage queue. A message is invisible to
// dequeue while VisibleAt is in the future; a lease that is never archived
// becomes visible again once its visibility timeout passes.
type Message struct {
	MsgID         string
	QueueName     string
	JobID         string
	Stage         string
	Payload       json.RawMessage
	Priority      int
	EnqueuedAt    time.Time
	VisibleAt     time.Time
	DeliveryCount int
}

// DeadLetterEntry is the immutable record of a message that exhausted its
// retry budget.
type DeadLetterEntry struct {
	ID                    int64
	QueueName             string
	JobID                 string
	Stage                 string
	OriginalMessage       json.RawMessage
	Reason                string
	AttemptCountAtFailure int
	ArchivedAt            time.Time
}

// Event is one append-only entry in a job's lifecycle audit trail.
type Event struct {
	ID        int64
	JobID     string
	Type      string
	Stage     string
	Message   string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Event types recorded by the engine.
const (
	EventIntake         = "intake"
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventRetryScheduled = "retry_scheduled"
	EventError          = "error"
	EventDeadLettered   = "dead_lettered"
	EventCancelled      = "cancelled"
	EventRequeued       = "requeued"
)

// StageAttempt tracks one execution attempt of a stage for a job. The attempt
// budget is keyed per (job, stage), not per message.
type StageAttempt struct {
	JobID         string
	Stage         string
	AttemptNumber int
	StartedAt     time.Time
	CompletedAt   *time.Time
	Outcome       string
	ErrorMessage  string
}

// Stage attempt outcomes.
const (
	AttemptCompleted = "completed"
	AttemptFailed    = "failed"
)

// BacklogEntry summarizes one queue's ready and in-flight message counts.
type BacklogEntry struct {
	QueueName string
	Ready     int
	InFlight  int
}

// DatabaseHealth captures diagnostic information about the store database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	IntegrityCheck   bool
	TotalJobs        int
	TotalMessages    int
	Error            string
}
