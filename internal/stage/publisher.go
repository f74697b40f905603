package stage

import (
	"context"
	"fmt"

	"recast/internal/recording"
)

// Content points at the stored artefacts a publisher uploads.
type Content struct {
	Tenant        string
	RecordingID   int64
	MediaKey      string
	SubtitlesKey  string
	TranscriptKey string
	TopicsKey     string
}

// Metadata describes the publication.
type Metadata struct {
	Title       string
	Description string
	Language    string
}

// TargetResult is returned by a successful upload.
type TargetResult struct {
	RemoteID  string
	RemoteURL string
}

// Publisher uploads finished content to one destination platform. Failures
// should be services.ClassifiedError values.
type Publisher interface {
	Platform() recording.Platform
	Upload(context.Context, Content, Metadata) (TargetResult, error)
}

// Publishers dispatches uploads by platform tag.
type Publishers map[recording.Platform]Publisher

// NewPublishers indexes publishers by their platform.
func NewPublishers(pubs ...Publisher) Publishers {
	out := make(Publishers, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out[p.Platform()] = p
		}
	}
	return out
}

// For returns the publisher for platform.
func (p Publishers) For(platform recording.Platform) (Publisher, error) {
	pub, ok := p[platform]
	if !ok {
		return nil, fmt.Errorf("no publisher configured for %s", platform)
	}
	return pub, nil
}
