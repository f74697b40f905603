package publishers

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
)

// Archive publishes by writing a manifest of the recording's artefacts.
type Archive struct {
	store storage.Storage
	now   func() time.Time
}

// NewArchive constructs the archive publisher.
func NewArchive(store storage.Storage) *Archive {
	return &Archive{store: store, now: time.Now}
}

type manifest struct {
	Tenant      string            `json:"tenant"`
	RecordingID int64             `json:"recording_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Language    string            `json:"language,omitempty"`
	Artefacts   map[string]string `json:"artefacts"`
	ArchivedAt  time.Time         `json:"archived_at"`
}

func (a *Archive) Platform() recording.Platform { return recording.PlatformArchive }

func (a *Archive) Upload(ctx context.Context, content stage.Content, meta stage.Metadata) (stage.TargetResult, error) {
	if content.MediaKey == "" {
		return stage.TargetResult{}, services.Permanent("archive", "no media to archive", services.ErrValidation)
	}
	ok, err := a.store.Exists(ctx, content.MediaKey)
	if err != nil {
		return stage.TargetResult{}, err
	}
	if !ok {
		return stage.TargetResult{}, services.Permanent("archive", "media artefact missing", storage.ErrNotFound)
	}

	artefacts := map[string]string{stage.ArtifactMedia: content.MediaKey}
	for name, key := range map[string]string{
		stage.ArtifactTranscript: content.TranscriptKey,
		stage.ArtifactTopics:     content.TopicsKey,
		stage.ArtifactSubtitles:  content.SubtitlesKey,
	} {
		if key != "" {
			artefacts[name] = key
		}
	}
	doc, err := json.MarshalIndent(manifest{
		Tenant:      content.Tenant,
		RecordingID: content.RecordingID,
		Title:       meta.Title,
		Description: meta.Description,
		Language:    meta.Language,
		Artefacts:   artefacts,
		ArchivedAt:  a.now().UTC(),
	}, "", "  ")
	if err != nil {
		return stage.TargetResult{}, services.Permanent("archive", "encode manifest", err)
	}

	key := storage.Key(content.Tenant, content.RecordingID, recording.StageUploading, "archive.json")
	loc, err := a.store.Save(ctx, key, bytes.NewReader(doc))
	if err != nil {
		return stage.TargetResult{}, err
	}
	return stage.TargetResult{RemoteID: loc.Key, RemoteURL: loc.URI}, nil
}
