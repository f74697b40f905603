package testsupport

import (
	"context"
	"testing"

	"recast/internal/config"
	"recast/internal/recording"
	"recast/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// DefaultSettings enables every stage and publishes to the given platforms.
func DefaultSettings(destinations ...recording.Platform) recording.Settings {
	return recording.Settings{
		Trim:          true,
		Transcribe:    true,
		ExtractTopics: true,
		Subtitles:     true,
		Destinations:  destinations,
	}
}

// NewRecording creates a ready recording for tenant using the provided store.
func NewRecording(t testing.TB, st *store.Store, tenant string, settings recording.Settings) *recording.Recording {
	t.Helper()

	rec, err := st.Create(context.Background(), store.NewRecording{
		Tenant:      tenant,
		Title:       "Weekly sync",
		SourceURI:   "https://meet.example.com/rec/1",
		SourceState: recording.SourceReady,
		Settings:    settings,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}
