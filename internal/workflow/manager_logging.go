package workflow

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"recast/internal/recording"
	"recast/internal/services"
)

func withStageContext(ctx context.Context, rec *recording.Recording, stageName recording.Stage, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if rec != nil {
		ctx = services.WithRecordingID(ctx, rec.ID)
		ctx = services.WithTenant(ctx, rec.Tenant)
	}
	if stageName != "" {
		ctx = services.WithStage(ctx, string(stageName))
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}

// StageLabel renders a stage identifier for humans: EXTRACTING_TOPICS
// becomes "Extracting Topics".
func StageLabel(s recording.Stage) string {
	if s == "" {
		return ""
	}
	words := strings.ReplaceAll(strings.ToLower(string(s)), "_", " ")
	return cases.Title(language.English).String(words)
}
