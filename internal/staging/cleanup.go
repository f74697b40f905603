package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"recast/internal/logging"
)

const dirPrefix = "rec-"

// Dir returns the scratch directory for one recording: <work>/<tenant>/rec-<id>.
func Dir(workDir, tenant string, recordingID int64) string {
	return filepath.Join(workDir, safeTenant(tenant), dirPrefix+strconv.FormatInt(recordingID, 10))
}

// Ensure creates the recording scratch directory.
func Ensure(workDir, tenant string, recordingID int64) (string, error) {
	dir := Dir(workDir, tenant, recordingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Remove deletes the recording scratch directory if present.
func Remove(workDir, tenant string, recordingID int64) error {
	return os.RemoveAll(Dir(workDir, tenant, recordingID))
}

func safeTenant(tenant string) string {
	tenant = strings.TrimSpace(tenant)
	tenant = strings.NewReplacer("/", "_", "\\", "_").Replace(tenant)
	if tenant == "" || tenant == "." || tenant == ".." {
		return "_"
	}
	return tenant
}

// CleanupResult contains the outcome of a cleanup pass.
type CleanupResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

type recordingDir struct {
	path string
	id   int64
}

func listRecordingDirs(workDir string, result *CleanupResult) []recordingDir {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil
	}
	tenants, err := os.ReadDir(workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: workDir, Error: err})
		}
		return nil
	}
	var dirs []recordingDir
	for _, tenant := range tenants {
		if !tenant.IsDir() {
			continue
		}
		tenantPath := filepath.Join(workDir, tenant.Name())
		entries, err := os.ReadDir(tenantPath)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: tenantPath, Error: err})
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
				continue
			}
			id, err := strconv.ParseInt(strings.TrimPrefix(entry.Name(), dirPrefix), 10, 64)
			if err != nil {
				continue
			}
			dirs = append(dirs, recordingDir{path: filepath.Join(tenantPath, entry.Name()), id: id})
		}
	}
	return dirs
}

func remove(dir recordingDir, reason string, result *CleanupResult, logger *slog.Logger) {
	if err := os.RemoveAll(dir.path); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: dir.path, Error: err})
		if logger != nil {
			logger.Warn("failed to remove staging directory",
				logging.String("path", dir.path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		}
		return
	}
	result.Removed = append(result.Removed, dir.path)
	if logger != nil {
		logger.Info("removed staging directory",
			logging.String("path", dir.path),
			logging.Int64(logging.FieldRecordingID, dir.id),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
}

// CleanOrphaned removes scratch directories of recordings that no longer
// exist or have finished.
func CleanOrphaned(ctx context.Context, workDir string, active map[int64]struct{}, logger *slog.Logger) CleanupResult {
	result := CleanupResult{}
	for _, dir := range listRecordingDirs(workDir, &result) {
		if ctx.Err() != nil {
			break
		}
		if _, ok := active[dir.id]; ok {
			continue
		}
		remove(dir, "orphaned", &result, logger)
	}
	return result
}
