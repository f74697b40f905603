package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
)

const stageName = "acquire"

// Acquirer downloads sources into storage.
type Acquirer struct {
	store     storage.Storage
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// New constructs the download stage handler.
func New(cfg *config.Config, store storage.Storage, logger *slog.Logger) *Acquirer {
	timeout := time.Duration(cfg.Media.DownloadTimeout) * time.Second
	return NewWithClient(store, &http.Client{Timeout: timeout}, cfg.Media.UserAgent, logger)
}

// NewWithClient allows injecting the HTTP client (used in tests).
func NewWithClient(store storage.Storage, client *http.Client, userAgent string, logger *slog.Logger) *Acquirer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Acquirer{
		store:     store,
		client:    client,
		userAgent: userAgent,
		logger:    logging.NewComponentLogger(logger, "acquire"),
	}
}

// SetLogger implements stage.LoggerAware.
func (a *Acquirer) SetLogger(logger *slog.Logger) {
	a.logger = logging.NewComponentLogger(logger, "acquire")
}

func (a *Acquirer) Prepare(ctx context.Context, task *stage.Task) error {
	_, err := parseSource(task.Recording.SourceURI)
	return err
}

func (a *Acquirer) Execute(ctx context.Context, task *stage.Task) error {
	logger := logging.WithContext(ctx, a.logger)
	src, err := parseSource(task.Recording.SourceURI)
	if err != nil {
		return err
	}

	body, err := a.open(ctx, src)
	if err != nil {
		return err
	}
	defer body.Close()

	key := storage.Key(task.Recording.Tenant, task.Recording.ID, recording.StageDownloading, "source"+extension(src))
	started := time.Now()
	loc, err := a.store.Save(ctx, key, body)
	if err != nil {
		return err
	}
	if loc.Size == 0 {
		return services.Permanent(stageName, "source is empty", services.ErrValidation)
	}
	task.StoredBytes += loc.Size
	task.SetOutput(stage.ArtifactSource, loc.Key)
	task.SetOutput(stage.ArtifactMedia, loc.Key)

	logger.Info("source acquired",
		logging.String("key", loc.Key),
		logging.Int64("bytes", loc.Size),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "source_acquired"),
	)
	return nil
}

func (a *Acquirer) HealthCheck(context.Context) stage.Health {
	if a.store == nil {
		return stage.Unhealthy(stageName, "storage not configured")
	}
	return stage.Healthy(stageName)
}

func parseSource(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, services.Permanent(stageName, "recording has no source uri", services.ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, services.Permanent(stageName, "malformed source uri", fmt.Errorf("%w: %w", services.ErrValidation, err))
	}
	switch u.Scheme {
	case "http", "https", "file":
		return u, nil
	default:
		return nil, services.Permanent(stageName, fmt.Sprintf("unsupported source scheme %q", u.Scheme), services.ErrUnsupported)
	}
}

func (a *Acquirer) open(ctx context.Context, src *url.URL) (io.ReadCloser, error) {
	if src.Scheme == "file" {
		f, err := os.Open(src.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &services.ClassifiedError{Kind: services.KindTransient, Op: stageName, Message: "source file not present yet", Err: fmt.Errorf("%w: %w", services.ErrNotReady, err)}
			}
			return nil, services.Transient(stageName, "open source file", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), nil)
	if err != nil {
		return nil, services.Permanent(stageName, "build source request", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, services.HTTPTransportError(stageName, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, &services.ClassifiedError{Kind: services.KindTransient, Op: stageName, Message: "source not available yet", Code: "404", Err: services.ErrNotReady}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, services.HTTPStatusError(stageName, resp)
	}
	return resp.Body, nil
}

func extension(u *url.URL) string {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 6 {
		return ".bin"
	}
	return ext
}
