package daemonctl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recast/internal/api"
	"recast/internal/daemonctl"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	if _, err := daemonctl.ReadPID(filepath.Join(dir, "missing.pid")); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}

	path := filepath.Join(dir, "recastd.pid")
	if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	pid, err := daemonctl.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}

	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}

func TestEnsureStartedSkipsLaunchWhenRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 77})
	}))
	defer server.Close()
	client, err := api.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	result, err := daemonctl.EnsureStarted(context.Background(), client, "", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning || result.PID != 77 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWaitForShutdownReturnsOnceUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()
	client, err := api.NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := daemonctl.WaitForShutdown(context.Background(), client, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}
