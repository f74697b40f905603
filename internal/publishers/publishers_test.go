package publishers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"recast/internal/config"
	"recast/internal/publishers"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
)

func seed(t *testing.T) (storage.Storage, stage.Content) {
	t.Helper()
	st, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	media := storage.Key("acme", 11, recording.StageProcessing, "media.mp4")
	subs := storage.Key("acme", 11, recording.StageGeneratingSubtitles, "subtitles.json")
	if _, err := st.Save(ctx, media, strings.NewReader("MEDIA")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Save(ctx, subs, strings.NewReader(`{"format":"srt"}`)); err != nil {
		t.Fatal(err)
	}
	return st, stage.Content{Tenant: "acme", RecordingID: 11, MediaKey: media, SubtitlesKey: subs}
}

func TestArchiveWritesManifest(t *testing.T) {
	st, content := seed(t)
	pub := publishers.NewArchive(st)
	if pub.Platform() != recording.PlatformArchive {
		t.Fatalf("unexpected platform %s", pub.Platform())
	}
	res, err := pub.Upload(context.Background(), content, stage.Metadata{Title: "Keynote"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.RemoteID != "acme/11/uploading/archive.json" {
		t.Fatalf("unexpected remote id %q", res.RemoteID)
	}
	rc, err := st.Load(context.Background(), res.RemoteID)
	if err != nil {
		t.Fatalf("Load manifest: %v", err)
	}
	defer rc.Close()
	var doc struct {
		Title     string            `json:"title"`
		Artefacts map[string]string `json:"artefacts"`
	}
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if doc.Title != "Keynote" || doc.Artefacts[stage.ArtifactSubtitles] != content.SubtitlesKey {
		t.Fatalf("unexpected manifest %+v", doc)
	}
}

func TestArchiveRequiresMedia(t *testing.T) {
	st, content := seed(t)
	content.MediaKey = storage.Key("acme", 11, recording.StageProcessing, "gone.mp4")
	_, err := publishers.NewArchive(st).Upload(context.Background(), content, stage.Metadata{})
	if !errors.Is(err, storage.ErrNotFound) || services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent not found, got %v", err)
	}
}

func TestRelayStreamsMultipart(t *testing.T) {
	st, content := seed(t)
	var gotPath, gotTitle, gotMedia, gotSubs, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "title":
				gotTitle = string(data)
			case "media":
				gotMedia = string(data)
			case "subtitles":
				gotSubs = string(data)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "yt-123", "url": "https://youtu.be/yt-123"})
	}))
	defer srv.Close()

	relay, err := publishers.NewRelay(recording.PlatformYouTube, srv.URL+"/relay", "tok", st, srv.Client())
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	res, err := relay.Upload(context.Background(), content, stage.Metadata{Title: "Keynote"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.RemoteID != "yt-123" || res.RemoteURL != "https://youtu.be/yt-123" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotPath != "/relay/youtube" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected request path=%q auth=%q", gotPath, gotAuth)
	}
	if gotTitle != "Keynote" || gotMedia != "MEDIA" || gotSubs != `{"format":"srt"}` {
		t.Fatalf("unexpected form title=%q media=%q subs=%q", gotTitle, gotMedia, gotSubs)
	}
}

func TestRelayClassifiesFailures(t *testing.T) {
	st, content := seed(t)
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
	}))
	defer srv.Close()
	relay, _ := publishers.NewRelay(recording.PlatformVK, srv.URL, "", st, srv.Client())

	_, err := relay.Upload(context.Background(), content, stage.Metadata{})
	if services.Classify(err) != services.KindTransient {
		t.Fatalf("expected transient for 502, got %v", err)
	}
	status = http.StatusForbidden
	_, err = relay.Upload(context.Background(), content, stage.Metadata{})
	if services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent for 403, got %v", err)
	}
}

func TestNewRelaysCoversExternalPlatforms(t *testing.T) {
	st, _ := seed(t)
	relays, err := publishers.NewRelays(config.Publish{RelayURL: "http://relay.local", TimeoutSeconds: 5}, st)
	if err != nil {
		t.Fatalf("NewRelays: %v", err)
	}
	pubs := make([]stage.Publisher, 0, len(relays)+1)
	for _, r := range relays {
		pubs = append(pubs, r)
	}
	pubs = append(pubs, publishers.NewArchive(st))
	set := stage.NewPublishers(pubs...)
	for _, p := range recording.AllPlatforms() {
		if _, err := set.For(p); err != nil {
			t.Fatalf("no publisher for %s", p)
		}
	}
	if _, err := publishers.NewRelays(config.Publish{}, st); err == nil {
		t.Fatal("expected error without relay url")
	}
}
