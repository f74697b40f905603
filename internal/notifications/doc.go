// Package notifications delivers pipeline milestones to ntfy.
//
// NewService returns an ntfy-backed Service when notifications.ntfy_topic is
// set and a no-op otherwise. Notifier subscribes to the workflow event bus
// and forwards completed pipelines, permanent stage failures, failed uploads
// and the first quota wait of a recording. Delivery runs on its own goroutine
// and failures are only logged.
package notifications
