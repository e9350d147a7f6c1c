// Package queue persists the pipeline's durable state in SQLite: jobs, the
// leased per-stage message queues, dead letters, stage attempts, and the
// append-only job event log.
//
// The store guarantees at-least-once delivery. DequeueBatch leases messages
// by pushing visible_at forward in the same atomic statement that selects
// them, so concurrent workers never share a lease; a lease that is never
// archived becomes visible again when its visibility timeout passes. Stage
// transitions (StartStage, CompleteStage, FailStage) are single guarded
// statements inside one transaction, never read-then-write in Go, so stale
// redeliveries cannot double-advance a job.
package queue
