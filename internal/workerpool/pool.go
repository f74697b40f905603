// Package workerpool runs stage tasks on bounded pools. A CPU pool sized to
// the machine's cores serves local media work; a larger I/O pool serves tasks
// that mostly wait on the network. Any task may run on any worker.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/metrics"
	"recast/internal/services"
	"recast/internal/stage"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Task is one unit of work. The context is cancelled on shutdown.
type Task func(ctx context.Context)

// SubmitOption customizes one submission.
type SubmitOption func(*submission)

type submission struct {
	onDrop func()
}

// OnDrop registers fn to run when the task is dropped before it starts.
func OnDrop(fn func()) SubmitOption {
	return func(s *submission) {
		s.onDrop = fn
	}
}

// Pool bounds the number of tasks executing at once.
type Pool struct {
	name    string
	size    int
	sem     *semaphore.Weighted
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	queued   int
	inFlight int
	wg       sync.WaitGroup
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name     string
	Size     int
	Queued   int
	InFlight int
}

// New constructs a pool executing at most size tasks concurrently.
func New(name string, size int, rec *metrics.Recorder, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		name:    name,
		size:    size,
		sem:     semaphore.NewWeighted(int64(size)),
		metrics: rec,
		logger:  logging.NewComponentLogger(logger, "workerpool").With(logging.String(logging.FieldPool, name)),
	}
}

// Submit queues task. It never blocks on pool capacity: the task waits for a
// free worker in its own goroutine. If ctx ends before a worker frees up, the
// task is dropped and its OnDrop callback runs instead.
func (p *Pool) Submit(ctx context.Context, task Task, opts ...SubmitOption) error {
	if task == nil {
		return errors.New("nil task")
	}
	var sub submission
	for _, opt := range opts {
		opt(&sub)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queued++
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		err := p.sem.Acquire(ctx, 1)
		p.mu.Lock()
		p.queued--
		if err == nil {
			p.inFlight++
		}
		p.mu.Unlock()
		if err != nil {
			p.logger.Debug("task dropped before start", logging.Error(err))
			if sub.onDrop != nil {
				sub.onDrop()
			}
			return
		}
		p.metrics.PoolAdd(p.name, 1)
		defer func() {
			p.sem.Release(1)
			p.metrics.PoolAdd(p.name, -1)
			p.mu.Lock()
			p.inFlight--
			p.mu.Unlock()
		}()
		task(services.WithPool(ctx, p.name))
	}()
	return nil
}

// Stats reports queue depth and running tasks.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Name: p.name, Size: p.size, Queued: p.queued, InFlight: p.inFlight}
}

// Close stops accepting tasks and waits for submitted ones to finish or for
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s: %w", p.name, ctx.Err())
	}
}

// Dispatcher routes tasks to the pool a stage declares.
type Dispatcher struct {
	pools map[stage.Pool]*Pool
}

// NewDispatcher builds the CPU and I/O pools from workflow configuration.
func NewDispatcher(cfg config.Workflow, rec *metrics.Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pools: map[stage.Pool]*Pool{
		stage.PoolCPU: New(string(stage.PoolCPU), cfg.CPUWorkers, rec, logger),
		stage.PoolIO:  New(string(stage.PoolIO), cfg.IOWorkers, rec, logger),
	}}
}

// Submit queues task on the named pool.
func (d *Dispatcher) Submit(ctx context.Context, pool stage.Pool, task Task, opts ...SubmitOption) error {
	p, ok := d.pools[pool]
	if !ok {
		return fmt.Errorf("unknown worker pool %q", pool)
	}
	return p.Submit(ctx, task, opts...)
}

// Stats reports every pool.
func (d *Dispatcher) Stats() []Stats {
	out := make([]Stats, 0, len(d.pools))
	for _, name := range []stage.Pool{stage.PoolCPU, stage.PoolIO} {
		if p, ok := d.pools[name]; ok {
			out = append(out, p.Stats())
		}
	}
	return out
}

// Close closes every pool.
func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	for _, p := range d.pools {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
