package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"recast/internal/api"
	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/metrics"
	"recast/internal/recording"
	"recast/internal/stage"
	"recast/internal/testsupport"
	"recast/internal/workflow"
)

type acquireStub struct{}

func (acquireStub) Prepare(context.Context, *stage.Task) error { return nil }

func (acquireStub) Execute(_ context.Context, task *stage.Task) error {
	task.SetOutput(stage.ArtifactSource, "acme/source.mp4")
	task.SetOutput(stage.ArtifactMedia, "acme/source.mp4")
	return nil
}

func (acquireStub) HealthCheck(context.Context) stage.Health { return stage.Healthy("acquire") }

type publisherStub struct{ platform recording.Platform }

func (p publisherStub) Platform() recording.Platform { return p.platform }

func (p publisherStub) Upload(_ context.Context, content stage.Content, _ stage.Metadata) (stage.TargetResult, error) {
	return stage.TargetResult{RemoteID: "v1", RemoteURL: "https://" + string(p.platform) + ".example.com/v1"}, nil
}

func newTestDaemon(t *testing.T, mutate func(*config.Config), opts ...Option) *Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, st, logging.NewNop(), workflow.Options{})
	if err := mgr.ConfigureStages(workflow.StageSet{
		Acquirer:   acquireStub{},
		Publishers: stage.NewPublishers(publisherStub{platform: recording.PlatformYouTube}),
	}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	t.Cleanup(mgr.Stop)
	d, err := New(cfg, st, logging.NewNop(), mgr, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func serve(t *testing.T, d *Daemon) *api.Client {
	t.Helper()
	server := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(server.Close)
	client, err := api.NewClient(server.URL, d.cfg.API.Token)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestAPICreateRunAndGetRecording(t *testing.T) {
	d := newTestDaemon(t, nil)
	if err := d.workflow.Start(context.Background()); err != nil {
		t.Fatalf("workflow Start: %v", err)
	}
	client := serve(t, d)
	ctx := context.Background()

	created, err := client.Create(ctx, api.CreateRecordingRequest{
		Tenant:    "acme",
		Title:     "Weekly sync",
		SourceURI: "https://meet.example.com/rec/1",
		Settings:  api.Settings{Destinations: []string{"youtube"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Recording.Status != string(recording.StatusInitialized) {
		t.Fatalf("expected INITIALIZED, got %s", created.Recording.Status)
	}

	resp, err := client.Run(ctx, created.Recording.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Run == nil || resp.Run.Stage != string(recording.StageDownloading) {
		t.Fatalf("expected downloading run, got %+v", resp)
	}

	deadline := time.Now().Add(5 * time.Second)
	var got api.RecordingResponse
	for time.Now().Before(deadline) {
		got, err = client.Get(ctx, created.Recording.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Recording.Status == string(recording.StatusUploaded) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got.Recording.Status != string(recording.StatusUploaded) {
		t.Fatalf("expected UPLOADED, got %s", got.Recording.Status)
	}
	if len(got.Recording.Targets) != 1 || got.Recording.Targets[0].RemoteURL == "" {
		t.Fatalf("expected published youtube target, got %+v", got.Recording.Targets)
	}
	if len(got.Runs) == 0 {
		t.Fatal("expected run history")
	}

	again, err := client.Run(ctx, created.Recording.ID)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !again.AlreadyComplete || again.Run != nil {
		t.Fatalf("expected alreadyComplete reply, got %+v", again)
	}

	list, err := client.List(ctx, api.ListOptions{Tenant: "acme", Statuses: []string{"UPLOADED"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one uploaded recording, got %d", len(list))
	}
}

func TestAPIErrorsCarryStableCodes(t *testing.T) {
	d := newTestDaemon(t, nil)
	server := httptest.NewServer(d.api.server.Handler)
	defer server.Close()

	cases := []struct {
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{http.MethodGet, "/api/recordings/42", "", http.StatusNotFound, api.CodeNotFound},
		{http.MethodPost, "/api/recordings/abc/run", "", http.StatusBadRequest, api.CodeValidation},
		{http.MethodGet, "/api/recordings?status=LOST", "", http.StatusBadRequest, api.CodeValidation},
		{http.MethodPost, "/api/recordings", `{"tenant":""}`, http.StatusBadRequest, api.CodeValidation},
		{http.MethodPost, "/api/recordings", `{"tenant":"acme","bogus":1}`, http.StatusBadRequest, api.CodeValidation},
		{http.MethodPost, "/api/recordings/1/targets/myspace/retry", "", http.StatusBadRequest, api.CodeValidation},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, server.URL+tc.path, strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		var payload api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if resp.StatusCode != tc.status || payload.Code != tc.code {
			t.Fatalf("%s %s = %d/%s, want %d/%s", tc.method, tc.path, resp.StatusCode, payload.Code, tc.status, tc.code)
		}
	}
}

func TestAPIRejectsRunUntilSourceReady(t *testing.T) {
	d := newTestDaemon(t, nil)
	client := serve(t, d)
	ctx := context.Background()

	created, err := client.Create(ctx, api.CreateRecordingRequest{Tenant: "acme", SourceState: "pending"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := client.Run(ctx, created.Recording.ID); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected run on pending source to be refused, got %v", err)
	}
	ready, err := client.SourceReady(ctx, created.Recording.ID, true)
	if err != nil {
		t.Fatalf("SourceReady: %v", err)
	}
	if !ready.Recording.Blank || ready.Recording.Status != string(recording.StatusSkipped) {
		t.Fatalf("expected skipped blank recording, got %+v", ready.Recording)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	d := newTestDaemon(t, func(cfg *config.Config) { cfg.API.Token = "s3cret" })
	server := httptest.NewServer(d.api.server.Handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	client, err := api.NewClient(server.URL, "s3cret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.DatabasePath == "" || len(status.Workflow.Pools) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAPIServesMetricsAndRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Path = "/metrics"
	}, WithMetrics(rec, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	server := httptest.NewServer(d.api.server.Handler)
	defer server.Close()

	for _, id := range []string{"7", "8"} {
		resp, err := http.Get(server.URL + "/api/recordings/" + id)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
	}

	if n := testutil.CollectAndCount(reg, "recast_http_requests_total"); n != 1 {
		t.Fatalf("expected one request series for both ids, got %d", n)
	}

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(body.String(), `path="/api/recordings/{id}/"`) && !strings.Contains(body.String(), `path="/api/recordings/{id}"`) {
		t.Fatalf("expected route pattern label in metrics output:\n%s", body.String())
	}
}
