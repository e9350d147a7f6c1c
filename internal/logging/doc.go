// Package logging wires log/slog with the handlers and field conventions the
// daemon and CLI share: a compact console handler for interactive use, a JSON
// handler for ingestion, and standardized attribute keys so job, stage, and
// queue identifiers are greppable across components.
package logging
