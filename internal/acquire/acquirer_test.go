package acquire_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"recast/internal/acquire"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
	"recast/internal/testsupport"
)

func newTask(uri string) *stage.Task {
	return &stage.Task{Recording: recording.Recording{ID: 9, Tenant: "acme", SourceURI: uri}}
}

func newStore(t *testing.T) *storage.Local {
	t.Helper()
	st, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return st
}

func readKey(t *testing.T, st storage.Storage, key string) string {
	t.Helper()
	rc, err := st.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load %s: %v", key, err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data)
}

func TestAcquireHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "recast/test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	st := newStore(t)
	a := acquire.NewWithClient(st, srv.Client(), "recast/test", logging.NewNop())
	task := newTask(srv.URL + "/talks/keynote.mp4")
	ctx := context.Background()
	if err := a.Prepare(ctx, task); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := a.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	key := task.Output[stage.ArtifactMedia]
	if key != "acme/9/downloading/source.mp4" {
		t.Fatalf("unexpected media key %q", key)
	}
	if task.StoredBytes != int64(len("video-bytes")) {
		t.Fatalf("StoredBytes = %d", task.StoredBytes)
	}
	if got := readKey(t, st, key); got != "video-bytes" {
		t.Fatalf("stored %q", got)
	}
}

func TestAcquireClassifiesHTTPFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	a := acquire.NewWithClient(newStore(t), srv.Client(), "", logging.NewNop())
	cases := []struct {
		status int
		kind   services.Kind
	}{
		{http.StatusServiceUnavailable, services.KindTransient},
		{http.StatusNotFound, services.KindTransient},
		{http.StatusForbidden, services.KindPermanent},
	}
	for _, tc := range cases {
		status = tc.status
		err := a.Execute(context.Background(), newTask(srv.URL+"/x.mp4"))
		if got := services.Classify(err); got != tc.kind {
			t.Fatalf("status %d: kind %s, want %s (%v)", tc.status, got, tc.kind, err)
		}
	}
}

func TestAcquireFileSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "lecture.mkv")
	if err := os.WriteFile(src, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := newStore(t)
	a := acquire.NewWithClient(st, nil, "", logging.NewNop())
	task := newTask("file://" + src)
	if err := a.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := readKey(t, st, task.Output[stage.ArtifactSource]); got != "local" {
		t.Fatalf("stored %q", got)
	}

	large := testsupport.WriteRecording(t, t.TempDir(), "talks/keynote.mp4", 3<<20+17)
	task = newTask("file://" + large)
	if err := a.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute large: %v", err)
	}
	if task.StoredBytes != 3<<20+17 {
		t.Fatalf("StoredBytes = %d", task.StoredBytes)
	}
	want, err := os.ReadFile(large)
	if err != nil {
		t.Fatal(err)
	}
	if got := readKey(t, st, task.Output[stage.ArtifactSource]); got != string(want) {
		t.Fatalf("stored copy differs from source (%d bytes, want %d)", len(got), len(want))
	}

	err = a.Execute(context.Background(), newTask("file:///definitely/missing.mkv"))
	if !errors.Is(err, services.ErrNotReady) || services.Classify(err) != services.KindTransient {
		t.Fatalf("missing file should be transient not-ready, got %v", err)
	}
}

func TestAcquireRejectsBadSources(t *testing.T) {
	a := acquire.NewWithClient(newStore(t), nil, "", logging.NewNop())
	for _, uri := range []string{"", "ftp://host/file", "::bad"} {
		err := a.Prepare(context.Background(), newTask(uri))
		if err == nil || services.Classify(err) != services.KindPermanent {
			t.Fatalf("uri %q: expected permanent error, got %v", uri, err)
		}
	}
}

func TestAcquireRejectsEmptySource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	a := acquire.NewWithClient(newStore(t), srv.Client(), "", logging.NewNop())
	err := a.Execute(context.Background(), newTask(srv.URL+"/empty.mp4"))
	if services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent error for empty source, got %v", err)
	}
}
