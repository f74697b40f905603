// Package language normalizes the transcription language operators attach to
// recordings. Codes are stored as ISO 639-1 so provider requests and the
// gateway default compare cleanly.
package language
