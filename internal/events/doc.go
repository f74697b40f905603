// Package events carries pipeline lifecycle events. The Bus delivers events
// synchronously to in-process subscribers, which is how a completed stage
// hands off to the orchestrator, and mirrors every event to an optional
// buffered Producer that forwards them to external sinks (structured log,
// Kafka) without blocking the pipeline.
package events
