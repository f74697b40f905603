package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"recast/internal/api"
	"recast/internal/workflow"
)

func TestClientSendsTokenAndDecodesRecordings(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/api/recordings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(api.RecordingListResponse{Recordings: []api.Recording{{ID: 3, Tenant: "acme", Status: "UPLOADED"}}})
	}))
	defer server.Close()

	client, err := api.NewClient(strings.TrimPrefix(server.URL, "http://"), "s3cret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	recs, err := client.List(context.Background(), api.ListOptions{Tenant: "acme", Statuses: []string{"FAILED", "UPLOADED"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 3 {
		t.Fatalf("unexpected recordings %+v", recs)
	}
	if gotAuth != "Bearer s3cret" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotQuery != "status=FAILED&status=UPLOADED&tenant=acme" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestClientPostsActionsToRecordingPaths(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/source-ready") {
			var body api.SourceReadyRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Blank {
				t.Errorf("expected blank source-ready body, got %+v (%v)", body, err)
			}
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := api.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()
	if _, err := client.Run(ctx, 7); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := client.RetryTarget(ctx, 7, "youtube"); err != nil {
		t.Fatalf("RetryTarget: %v", err)
	}
	if _, err := client.SourceReady(ctx, 7, true); err != nil {
		t.Fatalf("SourceReady: %v", err)
	}
	want := []string{"/api/recordings/7/run", "/api/recordings/7/targets/youtube/retry", "/api/recordings/7/source-ready"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestClientMapsErrorCodesToSentinels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "recording 9 is DOWNLOADING: stage already running", Code: api.CodeConflict})
	}))
	defer server.Close()

	client, err := api.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Run(context.Background(), 9)
	if !errors.Is(err, workflow.ErrConflict) {
		t.Fatalf("expected conflict sentinel, got %v", err)
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected *api.Error with 409, got %v", err)
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected server message, got %q", err.Error())
	}
}

func TestClientReportsUnavailableDaemon(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client, err := api.NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Status(context.Background())
	if !api.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
