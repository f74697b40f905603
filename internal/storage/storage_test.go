package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/storage"
)

func TestKeyLayout(t *testing.T) {
	got := storage.Key("acme", 42, recording.StageTranscribing, "transcript.json")
	if got != "acme/42/transcribing/transcript.json" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := storage.Key("../evil", 1, recording.StageDownloading, "a/b"); got != "_/1/downloading/a_b" && got != ".._evil/1/downloading/a_b" {
		t.Fatalf("unsafe key %q", got)
	}
	if got := storage.Prefix("acme", 42); got != "acme/42/" {
		t.Fatalf("unexpected prefix %q", got)
	}
}

func TestLocalSaveLoadOverwriteDelete(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	key := storage.Key("acme", 7, recording.StageDownloading, "source.mp4")

	if ok, err := st.Exists(ctx, key); err != nil || ok {
		t.Fatalf("Exists before save = %v, %v", ok, err)
	}
	loc, err := st.Save(ctx, key, strings.NewReader("first payload"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if loc.Size != int64(len("first payload")) || loc.Key != key || loc.Checksum == "" {
		t.Fatalf("unexpected location %+v", loc)
	}

	loc, err = st.Save(ctx, key, strings.NewReader("v2"))
	if err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if loc.Size != 2 {
		t.Fatalf("overwrite size = %d", loc.Size)
	}

	rc, err := st.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "v2" {
		t.Fatalf("loaded %q", data)
	}

	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete is not idempotent: %v", err)
	}
	_, err = st.Load(ctx, key)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if services.Classify(err) != services.KindPermanent {
		t.Fatalf("missing object should be permanent, got %s", services.Classify(err))
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	st, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, key := range []string{"", "../outside", "/abs/path", "a/../../b"} {
		if _, err := st.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestLocalHonoursCancelledContext(t *testing.T) {
	st, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Save(ctx, "acme/1/downloading/x", strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSelectsLocalBackend(t *testing.T) {
	cfg := config.Storage{Backend: config.StorageLocal, LocalDir: t.TempDir()}
	st, err := storage.New(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := st.(*storage.Local); !ok {
		t.Fatalf("expected *storage.Local, got %T", st)
	}
	if _, err := storage.New(context.Background(), config.Storage{Backend: "tape"}, logging.NewNop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
