// Package storage persists stage artefacts under overwrite-safe keys of the
// form <tenant>/<recording>/<stage>/<file>. Re-running a stage writes the same
// keys, so retries replace rather than accumulate objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"recast/internal/config"
	"recast/internal/recording"
	"recast/internal/services"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Location describes a stored object.
type Location struct {
	Backend  string `json:"backend"`
	Key      string `json:"key"`
	URI      string `json:"uri"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// Storage is the artefact backend consumed by stages.
type Storage interface {
	Save(ctx context.Context, key string, r io.Reader) (Location, error)
	Load(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Key builds the canonical object key for a stage output.
func Key(tenant string, recordingID int64, stage recording.Stage, file string) string {
	return path.Join(
		sanitizeSegment(tenant),
		strconv.FormatInt(recordingID, 10),
		strings.ToLower(string(stage)),
		sanitizeSegment(file),
	)
}

// Prefix returns the key prefix holding every artefact of a recording.
func Prefix(tenant string, recordingID int64) string {
	return path.Join(sanitizeSegment(tenant), strconv.FormatInt(recordingID, 10)) + "/"
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return services.Permanent("storage", "empty object key", services.ErrValidation)
	}
	clean := path.Clean(key)
	if strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "..") || clean != key {
		return services.Permanent("storage", fmt.Sprintf("invalid object key %q", key), services.ErrValidation)
	}
	return nil
}

// New builds the backend selected by configuration.
func New(ctx context.Context, cfg config.Storage, logger *slog.Logger) (Storage, error) {
	switch cfg.Backend {
	case config.StorageMinIO:
		return NewMinIO(ctx, cfg.MinIO, logger)
	case config.StorageLocal, "":
		return NewLocal(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
