package trimming

import (
	"context"

	"recast/internal/media/ffprobe"
)

var (
	probeMedia = ffprobe.Inspect
	execFFmpeg = runFFmpeg
)

// SetProbeForTests overrides the ffprobe runner during tests.
func SetProbeForTests(fn func(context.Context, string, string) (ffprobe.Result, error)) func() {
	previous := probeMedia
	probeMedia = fn
	return func() {
		probeMedia = previous
	}
}

// SetFFmpegForTests overrides the ffmpeg runner during tests.
func SetFFmpegForTests(fn func(context.Context, string, ...string) error) func() {
	previous := execFFmpeg
	execFFmpeg = fn
	return func() {
		execFFmpeg = previous
	}
}
