package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable reports that no daemon answered at the configured address.
var ErrUnavailable = errors.New("recast daemon unavailable")

// Client talks to the daemon HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// ListOptions narrows List results.
type ListOptions struct {
	Tenant   string
	Statuses []string
}

// NewClient builds a client for bind, which may omit the scheme.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Create registers a recording.
func (c *Client) Create(ctx context.Context, req CreateRecordingRequest) (RecordingResponse, error) {
	var out RecordingResponse
	err := c.do(ctx, http.MethodPost, "/api/recordings", nil, req, &out)
	return out, err
}

// List returns recordings matching opts.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Recording, error) {
	values := url.Values{}
	if tenant := strings.TrimSpace(opts.Tenant); tenant != "" {
		values.Set("tenant", tenant)
	}
	for _, s := range opts.Statuses {
		if s = strings.TrimSpace(s); s != "" {
			values.Add("status", s)
		}
	}
	var out RecordingListResponse
	if err := c.do(ctx, http.MethodGet, "/api/recordings", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// Get returns one recording with its run history.
func (c *Client) Get(ctx context.Context, id int64) (RecordingResponse, error) {
	var out RecordingResponse
	err := c.do(ctx, http.MethodGet, recordingPath(id, ""), nil, nil, &out)
	return out, err
}

// Run dispatches the next action for a recording.
func (c *Client) Run(ctx context.Context, id int64) (RunResponse, error) {
	var out RunResponse
	err := c.do(ctx, http.MethodPost, recordingPath(id, "run"), nil, nil, &out)
	return out, err
}

// Retry resumes a failed recording at its failed stage.
func (c *Client) Retry(ctx context.Context, id int64) (RunResponse, error) {
	var out RunResponse
	err := c.do(ctx, http.MethodPost, recordingPath(id, "retry"), nil, nil, &out)
	return out, err
}

// RetryTarget re-publishes one failed destination.
func (c *Client) RetryTarget(ctx context.Context, id int64, platform string) (RunResponse, error) {
	var out RunResponse
	path := recordingPath(id, "targets/"+url.PathEscape(strings.TrimSpace(platform))+"/retry")
	err := c.do(ctx, http.MethodPost, path, nil, nil, &out)
	return out, err
}

// Pause sets the cooperative pause flag.
func (c *Client) Pause(ctx context.Context, id int64) (RecordingResponse, error) {
	var out RecordingResponse
	err := c.do(ctx, http.MethodPost, recordingPath(id, "pause"), nil, nil, &out)
	return out, err
}

// Reset starts a fresh generation.
func (c *Client) Reset(ctx context.Context, id int64) (RecordingResponse, error) {
	var out RecordingResponse
	err := c.do(ctx, http.MethodPost, recordingPath(id, "reset"), nil, nil, &out)
	return out, err
}

// SourceReady resolves a pending source.
func (c *Client) SourceReady(ctx context.Context, id int64, blank bool) (RecordingResponse, error) {
	var out RecordingResponse
	err := c.do(ctx, http.MethodPost, recordingPath(id, "source-ready"), nil, SourceReadyRequest{Blank: blank}, &out)
	return out, err
}

// Status returns daemon diagnostics.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

func recordingPath(id int64, action string) string {
	path := "/api/recordings/" + strconv.FormatInt(id, 10)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if IsUnavailable(err) {
			return fmt.Errorf("%w at %s: %v", ErrUnavailable, c.base.Host, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		var payload ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
