// Package trimming implements the processing stage. It stages the acquired
// media locally, validates it with ffprobe and cuts the configured head and
// tail with an ffmpeg stream copy. Runs on the CPU pool.
package trimming
