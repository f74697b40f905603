package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recast/internal/config"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/workerpool"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := workerpool.New("io", 3, nil, nil)
	ctx := context.Background()

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	release := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := pool.Submit(ctx, func(context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().InFlight < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stats := pool.Stats()
	if stats.InFlight != 3 || stats.Queued != 7 {
		t.Fatalf("unexpected stats while saturated: %+v", stats)
	}
	close(release)
	wg.Wait()
	if peak.Load() > 3 {
		t.Fatalf("observed %d concurrent tasks over limit 3", peak.Load())
	}
}

func TestPoolTagsContextAndRejectsAfterClose(t *testing.T) {
	pool := workerpool.New("cpu", 1, nil, nil)
	done := make(chan string, 1)
	if err := pool.Submit(context.Background(), func(ctx context.Context) {
		name, _ := services.PoolFromContext(ctx)
		done <- name
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case name := <-done:
		if name != "cpu" {
			t.Fatalf("expected pool name in context, got %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pool.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, workerpool.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPoolDropsTaskWhenContextEndsWhileQueued(t *testing.T) {
	pool := workerpool.New("io", 1, nil, nil)
	block := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) { <-block }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().InFlight < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	dropped := make(chan struct{})
	if err := pool.Submit(ctx, func(context.Context) { ran.Store(true) }, workerpool.OnDrop(func() { close(dropped) })); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("dropped task did not run its drop callback")
	}
	close(block)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := pool.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ran.Load() {
		t.Fatal("queued task ran after its context was cancelled")
	}
}

func TestDispatcherRoutesByPool(t *testing.T) {
	d := workerpool.NewDispatcher(config.Workflow{CPUWorkers: 1, IOWorkers: 2}, nil, nil)
	got := make(chan string, 2)
	for _, p := range []stage.Pool{stage.PoolCPU, stage.PoolIO} {
		if err := d.Submit(context.Background(), p, func(ctx context.Context) {
			name, _ := services.PoolFromContext(ctx)
			got <- name
		}); err != nil {
			t.Fatalf("Submit %s: %v", p, err)
		}
	}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-got:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
	}
	if !seen["cpu"] || !seen["io"] {
		t.Fatalf("expected both pools used, got %v", seen)
	}
	if err := d.Submit(context.Background(), "gpu", func(context.Context) {}); err == nil {
		t.Fatal("expected unknown pool error")
	}
	stats := d.Stats()
	if len(stats) != 2 || stats[0].Size != 1 || stats[1].Size != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
