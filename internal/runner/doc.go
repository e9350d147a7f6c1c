// Package runner executes leased stage messages: it resolves the handler for
// a message's stage, runs it with panic containment, and applies the outcome
// to the job state machine (advance, retry with backoff, or dead-letter).
package runner
