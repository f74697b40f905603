package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"recast/internal/config"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
)

// Relay uploads to one platform through the upload relay. The relay owns
// platform credentials and API specifics; recast streams the media and
// metadata as multipart form data to <relay>/<platform>.
type Relay struct {
	platform recording.Platform
	endpoint *url.URL
	token    string
	store    storage.Storage
	http     *http.Client
}

type relayResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NewRelays builds relay publishers for every external platform.
func NewRelays(cfg config.Publish, store storage.Storage) ([]*Relay, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client := &http.Client{Timeout: timeout}
	var relays []*Relay
	for _, platform := range recording.AllPlatforms() {
		if platform == recording.PlatformArchive {
			continue
		}
		r, err := NewRelay(platform, cfg.RelayURL, cfg.RelayToken, store, client)
		if err != nil {
			return nil, err
		}
		relays = append(relays, r)
	}
	return relays, nil
}

// NewRelay constructs a relay publisher for one platform.
func NewRelay(platform recording.Platform, relayURL, token string, store storage.Storage, client *http.Client) (*Relay, error) {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return nil, errors.New("publishers: relay url is required")
	}
	base, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("publishers: parse relay url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{
		platform: platform,
		endpoint: base.JoinPath(string(platform)),
		token:    strings.TrimSpace(token),
		store:    store,
		http:     client,
	}, nil
}

func (r *Relay) Platform() recording.Platform { return r.platform }

func (r *Relay) Upload(ctx context.Context, content stage.Content, meta stage.Metadata) (stage.TargetResult, error) {
	op := "publish." + string(r.platform)
	if content.MediaKey == "" {
		return stage.TargetResult{}, services.Permanent(op, "no media to publish", services.ErrValidation)
	}
	media, err := r.store.Load(ctx, content.MediaKey)
	if err != nil {
		return stage.TargetResult{}, err
	}
	defer media.Close()

	var subtitles io.ReadCloser
	if content.SubtitlesKey != "" {
		subtitles, err = r.store.Load(ctx, content.SubtitlesKey)
		if err != nil {
			return stage.TargetResult{}, err
		}
		defer subtitles.Close()
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(form, content, meta, media, subtitles))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.String(), pr)
	if err != nil {
		_ = pr.Close()
		return stage.TargetResult{}, services.Permanent(op, "build request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		_ = pr.Close()
		return stage.TargetResult{}, services.HTTPTransportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stage.TargetResult{}, services.HTTPStatusError(op, resp)
	}

	var out relayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return stage.TargetResult{}, services.Permanent(op, "relay returned malformed response", fmt.Errorf("%w: %w", services.ErrValidation, err))
	}
	if strings.TrimSpace(out.ID) == "" {
		return stage.TargetResult{}, services.Permanent(op, "relay response has no remote id", services.ErrValidation)
	}
	return stage.TargetResult{RemoteID: out.ID, RemoteURL: out.URL}, nil
}

func writeForm(form *multipart.Writer, content stage.Content, meta stage.Metadata, media, subtitles io.Reader) error {
	fields := map[string]string{
		"tenant":       content.Tenant,
		"recording_id": strconv.FormatInt(content.RecordingID, 10),
		"title":        meta.Title,
		"description":  meta.Description,
		"language":     meta.Language,
	}
	for _, name := range []string{"tenant", "recording_id", "title", "description", "language"} {
		if err := form.WriteField(name, fields[name]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("media", path.Base(content.MediaKey))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, media); err != nil {
		return err
	}
	if subtitles != nil {
		part, err := form.CreateFormFile("subtitles", path.Base(content.SubtitlesKey))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, subtitles); err != nil {
			return err
		}
	}
	return form.Close()
}
