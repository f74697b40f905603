// Package main hosts the recast CLI.
//
// The Cobra command tree translates terminal invocations into calls against
// the daemon HTTP API: registering recordings, listing and inspecting them,
// dispatching run, retry, pause, reset and source-ready, and rendering
// daemon status. It also scaffolds configuration and runs or controls the
// daemon process itself. Every read command accepts --json.
package main
