// Package daemon runs the long-lived recast process.
//
// It ties configuration, the SQLite store, the workflow manager and the
// notification forwarder into one lifecycle guarded by a flock so only one
// daemon owns a state directory. The HTTP API is a chi router over the
// workflow manager: create, list, get, run, retry, target retry, pause,
// reset, source-ready and status. Replies use the api package DTOs and
// failures carry the stable codes from api.Classify. When metrics are enabled
// the same listener serves the Prometheus scrape endpoint and every request
// is observed by route pattern.
//
// Orchestration rules live in workflow; this package only starts, stops and
// exposes them.
package daemon
