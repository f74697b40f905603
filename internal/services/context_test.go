package services_test

import (
	"context"
	"testing"

	"recast/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRecordingID(ctx, 42)
	ctx = services.WithTenant(ctx, "acme")
	ctx = services.WithStage(ctx, "TRANSCRIBING")
	ctx = services.WithPool(ctx, "io")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RecordingIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected recording id: %v %v", id, ok)
	}
	if tenant, ok := services.TenantFromContext(ctx); !ok || tenant != "acme" {
		t.Fatalf("unexpected tenant: %v %v", tenant, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "TRANSCRIBING" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if pool, ok := services.PoolFromContext(ctx); !ok || pool != "io" {
		t.Fatalf("unexpected pool: %v %v", pool, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithTenant(ctx, "")
	if _, ok := services.TenantFromContext(ctx); ok {
		t.Fatal("expected no tenant value")
	}
}
