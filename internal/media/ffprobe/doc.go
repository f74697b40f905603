// Package ffprobe wraps the ffprobe binary and exposes the parts of its JSON
// report the media stages need: stream kinds, duration and size.
package ffprobe
