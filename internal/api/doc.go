// Package api defines the wire format of the daemon HTTP API and a client
// for it.
//
// # Key Types
//
// Recording: a recording with its cached status, computed observation and
// per-destination targets. StageRun: one attempt of a stage, with its output
// keys passed through as json.RawMessage.
//
// RunResponse: the outcome of run, retry and target retry. A recording that
// needs no more work reports AlreadyComplete instead of an error.
//
// WorkflowStatus / DaemonStatus: pool occupancy, status counts and stage health.
//
// # Converters
//
// FromView, FromRecording, FromRun and FromStatusSummary translate internal
// models. ToNewRecording validates create requests.
//
// # Errors
//
// Classify maps orchestrator sentinels onto HTTP statuses and stable codes
// (not_found, conflict, invalid_transition, quota_exceeded, validation). The
// client turns replies back into *Error values that match the same sentinels
// with errors.Is.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
