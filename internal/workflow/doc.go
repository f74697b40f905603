// Package workflow drives recordings through the configured pipeline stages.
//
// The Manager is the orchestrator behind Run, Retry, RetryTarget, Pause and
// Reset. It picks the next stage from the stage registry, opens a StageRun
// through the store's dispatch transaction (conflict, pause, transition and
// quota checks commit together) and hands the task to the CPU or I/O pool the
// stage declares. A finished stage publishes stage.completed on the event bus
// and the Manager's subscriber dispatches the continuation, so any idle
// worker picks up the next link of the chain. Publication fans out one
// upload task per destination and joins when every target is terminal.
//
// Failures are classified by the retry policy: transient errors schedule an
// automatic resume at the failed stage, permanent errors halt the recording
// in FAILED until an operator retries it. Background loops claim scheduled
// resumes, refresh heartbeats of running stages and fail runs whose worker
// stopped heartbeating so they resume like any transient failure.
package workflow
