package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pressroom/internal/config"
	"pressroom/internal/logging"
	"pressroom/internal/pipeline"
	"pressroom/internal/queue"
)

// Options tunes batch processing.
type Options struct {
	Visibility     time.Duration
	BatchSize      int
	MaxAttempts    int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// OptionsFromConfig converts the flat seconds-based config into runner options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Visibility:     time.Duration(cfg.Queue.VisibilityTimeout) * time.Second,
		BatchSize:      cfg.Queue.BatchSize,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BaseRetryDelay: time.Duration(cfg.Queue.BaseRetryDelay) * time.Second,
		MaxRetryDelay:  time.Duration(cfg.Queue.MaxRetryDelay) * time.Second,
	}
}

func (o *Options) applyDefaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = 30 * time.Second
	}
	if o.MaxRetryDelay < o.BaseRetryDelay {
		o.MaxRetryDelay = o.BaseRetryDelay
	}
}

// Runner leases stage messages and drives each through its handler and the
// job state machine. It holds no state of its own between batches; every
// decision is re-derived from the store, so any number of runners (or
// redeliveries) stay safe.
type Runner struct {
	store    *queue.Store
	registry *pipeline.Registry
	logger   *slog.Logger
	opts     Options
}

// New builds a runner over a store and pipeline registry.
func New(store *queue.Store, registry *pipeline.Registry, logger *slog.Logger, opts Options) *Runner {
	opts.applyDefaults()
	return &Runner{
		store:    store,
		registry: registry,
		logger:   logging.WithComponent(logger, "runner"),
		opts:     opts,
	}
}

// Dequeue leases the next batch for a queue using the configured visibility
// timeout and batch size.
func (r *Runner) Dequeue(ctx context.Context, queueName string) ([]*queue.Message, error) {
	return r.store.DequeueBatch(ctx, queueName, r.opts.Visibility, r.opts.BatchSize)
}

// ProcessBatch works through leased messages sequentially. A message that
// fails does not stop the rest of the batch; its retry or dead-letter handling
// already happened inside Process.
func (r *Runner) ProcessBatch(ctx context.Context, messages []*queue.Message) {
	for _, msg := range messages {
		if ctx.Err() != nil {
			// Unprocessed leases expire and redeliver; nothing to unwind.
			r.logger.Info("batch interrupted, remaining leases will redeliver",
				logging.Int("remaining", len(messages)))
			return
		}
		if err := r.Process(ctx, msg); err != nil {
			r.logger.Error("message processing error",
				logging.String(logging.FieldMessageID, msg.MsgID),
				logging.String(logging.FieldJobID, msg.JobID),
				logging.Error(err))
		}
	}
}

// Process drives one leased message to a terminal outcome: archived after
// success, requeued with backoff after a retryable failure, or dead-lettered
// after the attempt budget is spent. The returned error covers engine
// failures (store errors), not handler failures.
func (r *Runner) Process(ctx context.Context, msg *queue.Message) error {
	log := r.logger.With(
		logging.String(logging.FieldQueue, msg.QueueName),
		logging.String(logging.FieldMessageID, msg.MsgID),
		logging.String(logging.FieldJobID, msg.JobID),
		logging.String(logging.FieldStage, msg.Stage),
	)

	if msg.JobID == "" {
		log.Warn("archiving malformed message without job id")
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	}

	if msg.Stage != msg.QueueName {
		return r.forward(ctx, log, msg)
	}

	job, err := r.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return err
	}
	switch {
	case job == nil:
		log.Warn("archiving message for unknown job")
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	case job.Status.Terminal():
		log.Info("archiving message for terminal job",
			logging.String("status", string(job.Status)))
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	case job.CurrentStage != msg.Stage:
		log.Info("archiving stale message",
			logging.String("current_stage", job.CurrentStage))
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	}

	attempt, started, err := r.store.StartStage(ctx, msg.JobID, msg.Stage)
	if err != nil {
		return err
	}
	if !started {
		// The job went terminal between the status check above and the claim.
		log.Info("archiving message for unclaimable job")
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	}
	log = log.With(logging.Int(logging.FieldAttempt, attempt))

	result, execErr := r.execute(ctx, job, msg, attempt)
	if execErr != nil {
		return r.handleFailure(ctx, log, job, msg, attempt, execErr)
	}
	return r.handleSuccess(ctx, log, job, msg, result)
}

// execute runs the stage handler, converting a missing handler or a panic
// into an ordinary handler error so the retry budget applies uniformly.
func (r *Runner) execute(ctx context.Context, job *queue.Job, msg *queue.Message, attempt int) (result pipeline.Result, err error) {
	handler, ok := r.registry.Handler(msg.Stage)
	if !ok {
		return pipeline.Result{}, fmt.Errorf("no handler registered for stage %s", msg.Stage)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage handler panicked: %v", rec)
		}
	}()

	return handler.Execute(ctx, &pipeline.JobContext{
		JobID:   job.ID,
		JobType: job.JobType,
		Stage:   msg.Stage,
		Attempt: attempt,
		Payload: msg.Payload,
	})
}

func (r *Runner) handleSuccess(ctx context.Context, log *slog.Logger, job *queue.Job, msg *queue.Message, result pipeline.Result) error {
	if !result.Complete {
		// The handler enqueued its own same-stage continuation; the stage
		// stays current and only this message is retired.
		if err := r.store.CompleteAttempt(ctx, job.ID, msg.Stage); err != nil {
			return err
		}
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		log.Info("stage continuing")
		return err
	}

	next, err := r.registry.NextStage(job.JobType, msg.Stage)
	if err != nil {
		return err
	}
	nextStatus := queue.JobQueued
	if next == pipeline.TerminalStage {
		nextStatus = queue.JobCompleted
	}

	// The advance and the next-stage enqueue commit together; a crash after
	// the commit leaves only this lease behind, which redelivers and archives
	// as a duplicate.
	var nextMsg *queue.NextStageMessage
	if next != pipeline.TerminalStage {
		nextMsg = &queue.NextStageMessage{Payload: job.Payload, Priority: job.Priority}
	}
	advanced, _, err := r.store.CompleteStage(ctx, job.ID, msg.Stage, next, nextStatus, nextMsg)
	if err != nil {
		return err
	}
	if !advanced {
		// A concurrent redelivery won the advance, or the job left processing
		// while the handler ran; this copy just goes away.
		log.Info("stage not advanced, archiving message")
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	}

	if _, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID); err != nil {
		return err
	}

	if next == pipeline.TerminalStage {
		log.Info("job completed")
	} else {
		log.Info("stage completed", logging.String("next_stage", next))
	}
	return nil
}

func (r *Runner) handleFailure(ctx context.Context, log *slog.Logger, job *queue.Job, msg *queue.Message, attempt int, execErr error) error {
	reason := execErr.Error()

	if attempt >= r.opts.MaxAttempts {
		// Failed status, the dead-letter entry, and the message removal
		// commit as one transaction.
		if _, err := r.store.MoveToDeadLetter(
			ctx, msg.QueueName, msg.MsgID, job.ID, msg.Stage,
			queue.MarshalMessage(msg), reason, attempt,
		); err != nil {
			return err
		}
		log.Error("attempt budget exhausted, message dead-lettered",
			logging.Error(execErr))
		return nil
	}

	failed, err := r.store.FailStage(ctx, job.ID, msg.Stage, reason)
	if err != nil {
		return err
	}
	if !failed {
		// The job left processing while the handler ran (an operator cancel);
		// drop the message instead of rescheduling it.
		log.Info("job no longer processing, archiving message")
		_, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID)
		return err
	}

	_, delay, err := r.store.DelayedRequeue(
		ctx, msg.QueueName, msg.MsgID, job.ID, msg.Stage, msg.Payload, msg.Priority,
		queue.RequeueOptions{
			Attempt:   attempt,
			BaseDelay: r.opts.BaseRetryDelay,
			MaxDelay:  r.opts.MaxRetryDelay,
		},
	)
	if err != nil {
		return err
	}
	if err := r.store.AppendEvent(ctx, job.ID, queue.EventRetryScheduled, msg.Stage,
		fmt.Sprintf("retry in %s after attempt %d: %s", delay, attempt, reason), nil); err != nil {
		return err
	}
	log.Warn("stage attempt failed, retry scheduled",
		logging.Duration("delay", delay),
		logging.Error(execErr))
	return nil
}

// forward re-routes a message that landed in the wrong queue to the queue
// matching its stage, preserving payload and priority.
func (r *Runner) forward(ctx context.Context, log *slog.Logger, msg *queue.Message) error {
	if _, err := r.store.Enqueue(ctx, msg.Stage, msg.JobID, msg.Stage, msg.Payload, queue.EnqueueOptions{
		Priority: msg.Priority,
	}); err != nil {
		return err
	}
	if _, err := r.store.Archive(ctx, msg.QueueName, msg.MsgID); err != nil {
		return err
	}
	log.Warn("forwarded message to its stage queue")
	return nil
}
