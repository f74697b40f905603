package ffprobe

import (
	"context"
	"testing"
)

func TestParseAndHelpers(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264"},
			{"index": 1, "codec_type": "audio", "codec_name": "aac"},
			{"index": 2, "codec_type": "subtitle", "codec_name": "mov_text"}
		],
		"format": {"duration": "123.45", "size": "1000", "format_name": "mov,mp4"}
	}`)
	result, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := result.MediaStreamCount(); got != 2 {
		t.Fatalf("expected 2 media streams, got %d", got)
	}
	if got := result.DurationSeconds(); got != 123.45 {
		t.Fatalf("unexpected duration: %v", got)
	}
	if got := result.SizeBytes(); got != 1000 {
		t.Fatalf("unexpected size: %d", got)
	}
}

func TestHelpersTolerateMalformedNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", Size: "-1"}}
	if got := result.DurationSeconds(); got != 0 {
		t.Fatalf("expected duration 0, got %v", got)
	}
	if got := result.SizeBytes(); got != 0 {
		t.Fatalf("expected size 0, got %d", got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
