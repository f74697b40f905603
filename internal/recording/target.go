package recording

import (
	"fmt"
	"strings"
)

// Platform tags a publication destination. The set is closed.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformVK      Platform = "vk"
	PlatformRutube  Platform = "rutube"
	PlatformArchive Platform = "archive"
)

var allPlatforms = []Platform{PlatformYouTube, PlatformVK, PlatformRutube, PlatformArchive}

// AllPlatforms returns every supported destination.
func AllPlatforms() []Platform {
	out := make([]Platform, len(allPlatforms))
	copy(out, allPlatforms)
	return out
}

// ParsePlatform converts a string to a Platform.
func ParsePlatform(value string) (Platform, bool) {
	candidate := Platform(strings.ToLower(strings.TrimSpace(value)))
	for _, p := range allPlatforms {
		if p == candidate {
			return p, true
		}
	}
	return "", false
}

// TargetStatus is the lifecycle of one destination for one recording.
type TargetStatus string

const (
	TargetNotUploaded TargetStatus = "not_uploaded"
	TargetUploading   TargetStatus = "uploading"
	TargetUploaded    TargetStatus = "uploaded"
	TargetFailed      TargetStatus = "failed"
)

var targetTransitions = map[TargetStatus][]TargetStatus{
	TargetNotUploaded: {TargetUploading},
	TargetUploading:   {TargetUploaded, TargetFailed},
	TargetFailed:      {TargetUploading},
}

// IsTerminal reports whether the target needs no further work in this attempt.
func (s TargetStatus) IsTerminal() bool {
	return s == TargetUploaded || s == TargetFailed
}

// CanTransitionTarget reports whether from -> to is allowed for a target.
func CanTransitionTarget(from, to TargetStatus) bool {
	for _, next := range targetTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTargetTransition rejects target status changes outside the allow-list.
func ValidateTargetTransition(platform Platform, from, to TargetStatus) error {
	if CanTransitionTarget(from, to) {
		return nil
	}
	return fmt.Errorf("%w: target %s %s -> %s", ErrInvalidTransition, platform, from, to)
}
