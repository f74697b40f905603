package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"recast/internal/config"
	"recast/internal/services"
)

// Kind selects the provider operation.
type Kind string

const (
	KindTranscribe Kind = "transcribe"
	KindTopics     Kind = "topics"
	KindSubtitles  Kind = "subtitles"
)

// Input is one provider request. Transcription sends Media; the later
// operations send the transcript Document.
type Input struct {
	Kind        Kind
	Tenant      string
	RecordingID int64
	Language    string
	Granularity string
	Media       io.Reader
	Document    json.RawMessage
}

// Result carries the provider's JSON document.
type Result struct {
	Document json.RawMessage
}

// Provider is the contract the AI stages consume. Errors are classified.
type Provider interface {
	Submit(ctx context.Context, in Input) (Result, error)
}

// Client talks to the provider gateway over HTTP.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New constructs a gateway client from configuration.
func New(cfg config.Providers) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return NewWithHTTPClient(cfg.BaseURL, cfg.Token, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient allows injecting the HTTP client (used in tests).
func NewWithHTTPClient(baseURL, token string, client *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("providers: base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("providers: parse base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: parsed, token: strings.TrimSpace(token), http: client}, nil
}

type documentRequest struct {
	Tenant      string          `json:"tenant"`
	RecordingID int64           `json:"recording_id"`
	Language    string          `json:"language,omitempty"`
	Granularity string          `json:"granularity,omitempty"`
	Document    json.RawMessage `json:"document"`
}

// Submit performs one provider call.
func (c *Client) Submit(ctx context.Context, in Input) (Result, error) {
	op := "provider." + string(in.Kind)
	endpoint := c.baseURL.JoinPath(string(in.Kind))

	var (
		body        io.Reader
		contentType string
	)
	if in.Media != nil {
		body = in.Media
		contentType = "application/octet-stream"
	} else {
		payload, err := json.Marshal(documentRequest{
			Tenant:      in.Tenant,
			RecordingID: in.RecordingID,
			Language:    in.Language,
			Granularity: in.Granularity,
			Document:    in.Document,
		})
		if err != nil {
			return Result{}, services.Permanent(op, "encode request", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return Result{}, services.Permanent(op, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Recast-Tenant", in.Tenant)
	req.Header.Set("X-Recast-Recording", strconv.FormatInt(in.RecordingID, 10))
	if in.Language != "" {
		req.Header.Set("X-Recast-Language", in.Language)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, services.HTTPTransportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, services.HTTPStatusError(op, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, services.HTTPTransportError(op, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return Result{}, services.Permanent(op, "provider returned malformed content", services.ErrValidation)
	}
	return Result{Document: json.RawMessage(data)}, nil
}
