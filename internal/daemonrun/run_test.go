package daemonrun

import (
	"testing"

	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/storage"
	"recast/internal/testsupport"
)

func TestBuildStagesWithoutGatewayOrRelay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.BaseURL = ""
	cfg.Publish.RelayURL = ""
	objects, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	set, err := buildStages(cfg, objects, logging.NewNop())
	if err != nil {
		t.Fatalf("buildStages: %v", err)
	}
	if set.Acquirer == nil || set.Trimmer == nil {
		t.Fatal("expected acquire and trim stages")
	}
	if set.Transcriber != nil || set.TopicExtractor != nil || set.SubtitleGenerator != nil {
		t.Fatal("expected provider stages to be disabled without a gateway")
	}
	if len(set.Publishers) != 1 {
		t.Fatalf("expected archive publisher only, got %d", len(set.Publishers))
	}
	if _, err := set.Publishers.For(recording.PlatformArchive); err != nil {
		t.Fatalf("expected archive publisher: %v", err)
	}
}

func TestBuildStagesWiresGatewayAndRelays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.BaseURL = "http://127.0.0.1:9100"
	cfg.Publish.RelayURL = "http://127.0.0.1:9200/upload"
	objects, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	set, err := buildStages(cfg, objects, logging.NewNop())
	if err != nil {
		t.Fatalf("buildStages: %v", err)
	}
	if set.Transcriber == nil || set.TopicExtractor == nil || set.SubtitleGenerator == nil {
		t.Fatal("expected provider stages")
	}
	for _, platform := range recording.AllPlatforms() {
		if _, err := set.Publishers.For(platform); err != nil {
			t.Fatalf("expected publisher for %s: %v", platform, err)
		}
	}
}
