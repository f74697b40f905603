package providers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"recast/internal/logging"
	"recast/internal/providers"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
)

type gateway struct {
	status   int
	bodies   map[string]string
	requests map[string]string
	auth     string
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	g.requests[r.URL.Path] = string(data)
	g.auth = r.Header.Get("Authorization")
	if g.status != 0 {
		w.WriteHeader(g.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(g.bodies[r.URL.Path]))
}

func newGateway() *gateway {
	return &gateway{
		bodies: map[string]string{
			"/v1/transcribe": `{"text":"hello","segments":[{"start":0,"end":1,"text":"hello"}]}`,
			"/v1/topics":     `{"topics":[{"title":"Intro","start":0}]}`,
			"/v1/subtitles":  `{"format":"srt","content":"1\n00:00:00,000 --> 00:00:01,000\nhello\n"}`,
		},
		requests: map[string]string{},
	}
}

func TestAIStagesChainThroughStorage(t *testing.T) {
	gw := newGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	client, err := providers.NewWithHTTPClient(srv.URL+"/v1", "secret", srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	mediaKey := storage.Key("acme", 5, recording.StageDownloading, "source.mp4")
	if _, err := st.Save(ctx, mediaKey, strings.NewReader("media-bytes")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := recording.Recording{ID: 5, Tenant: "acme", Settings: recording.Settings{Transcribe: true, ExtractTopics: true, Subtitles: true}}
	artifacts := map[string]string{stage.ArtifactMedia: mediaKey}
	handlers := []stage.Handler{
		providers.NewTranscriber(client, st, "ru", logging.NewNop()),
		providers.NewTopicExtractor(client, st, "ru", logging.NewNop()),
		providers.NewSubtitleGenerator(client, st, "ru", logging.NewNop()),
	}
	for _, h := range handlers {
		task := &stage.Task{Recording: rec, Artifacts: artifacts}
		if err := h.Prepare(ctx, task); err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		if err := h.Execute(ctx, task); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if task.StoredBytes <= 0 {
			t.Fatal("expected stored bytes to be reported")
		}
		for k, v := range task.Output {
			artifacts[k] = v
		}
	}

	if gw.requests["/v1/transcribe"] != "media-bytes" {
		t.Fatalf("transcription should stream media, got %q", gw.requests["/v1/transcribe"])
	}
	var topicsReq struct {
		Language string          `json:"language"`
		Document json.RawMessage `json:"document"`
	}
	if err := json.Unmarshal([]byte(gw.requests["/v1/topics"]), &topicsReq); err != nil {
		t.Fatalf("decode topics request: %v", err)
	}
	if topicsReq.Language != "ru" || !strings.Contains(string(topicsReq.Document), `"hello"`) {
		t.Fatalf("topics request should carry the transcript, got %+v", topicsReq)
	}
	if gw.auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gw.auth)
	}
	for _, key := range []string{stage.ArtifactTranscript, stage.ArtifactTopics, stage.ArtifactSubtitles} {
		if artifacts[key] == "" {
			t.Fatalf("missing %s artefact", key)
		}
	}
	if artifacts[stage.ArtifactSubtitles] != "acme/5/generating_subtitles/subtitles.json" {
		t.Fatalf("unexpected subtitles key %q", artifacts[stage.ArtifactSubtitles])
	}
}

func TestClientClassifiesFailures(t *testing.T) {
	gw := newGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()
	client, _ := providers.NewWithHTTPClient(srv.URL+"/v1", "", srv.Client())

	gw.status = http.StatusTooManyRequests
	_, err := client.Submit(context.Background(), providers.Input{Kind: providers.KindTopics, Document: json.RawMessage(`{}`)})
	if !errors.Is(err, services.ErrRateLimited) || services.Classify(err) != services.KindTransient {
		t.Fatalf("expected transient rate limit, got %v", err)
	}

	gw.status = http.StatusUnauthorized
	_, err = client.Submit(context.Background(), providers.Input{Kind: providers.KindTopics, Document: json.RawMessage(`{}`)})
	if !errors.Is(err, services.ErrCredentials) || services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent credentials error, got %v", err)
	}

	gw.status = 0
	gw.bodies["/v1/topics"] = "not json"
	_, err = client.Submit(context.Background(), providers.Input{Kind: providers.KindTopics, Document: json.RawMessage(`{}`)})
	if services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent malformed content, got %v", err)
	}
}

func TestStageRequiresInputArtifact(t *testing.T) {
	st, _ := storage.NewLocal(t.TempDir())
	client, _ := providers.NewWithHTTPClient("http://127.0.0.1:1", "", nil)
	h := providers.NewTopicExtractor(client, st, "en", logging.NewNop())
	err := h.Prepare(context.Background(), &stage.Task{Recording: recording.Recording{ID: 1, Tenant: "acme"}})
	if services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if _, err := providers.NewWithHTTPClient("", "", nil); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
