package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteRecording creates a placeholder recording of exactly size bytes under
// dir and returns its path. Content repeats so truncation is detectable.
func WriteRecording(t testing.TB, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create recording dir: %v", err)
	}
	pattern := []byte("recast-media-")
	data := bytes.Repeat(pattern, size/len(pattern)+1)[:size]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write recording %s: %v", path, err)
	}
	return path
}
