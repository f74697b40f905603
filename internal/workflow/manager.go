package workflow

import (
	"context"
	"log/slog"
	"sync"

	"recast/internal/config"
	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/metrics"
	"recast/internal/quota"
	"recast/internal/recording"
	"recast/internal/retry"
	"recast/internal/stage"
	"recast/internal/store"
	"recast/internal/workerpool"
)

// Manager orchestrates stage dispatch for every recording.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	root    *slog.Logger
	logger  *slog.Logger
	gate    *quota.Gate
	bus     *events.Bus
	metrics *metrics.Recorder
	pools   *workerpool.Dispatcher
	policy  retry.Policy

	heartbeat *HeartbeatMonitor

	registry   *stage.Registry
	publishers stage.Publishers
	fanouts    map[int64]*fanout

	// baseCtx outlives individual requests: dispatched tasks and their
	// continuations run under it until Stop.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	lastErr   error
	lastItem  *recording.Recording
}

// Options carries the optional collaborators of a Manager. Zero values are
// replaced by permissive defaults: no quota gate, a bus without sinks, no
// metrics and pools sized from the workflow config.
type Options struct {
	Gate       *quota.Gate
	Bus        *events.Bus
	Metrics    *metrics.Recorder
	Dispatcher *workerpool.Dispatcher
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	root := logger
	logger = logging.NewComponentLogger(root, "workflow-manager")
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(nil, root)
	}
	pools := opts.Dispatcher
	if pools == nil {
		pools = workerpool.NewDispatcher(cfg.Workflow, opts.Metrics, root)
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		store:      st,
		root:       root,
		logger:     logger,
		gate:       opts.Gate,
		bus:        bus,
		metrics:    opts.Metrics,
		pools:      pools,
		policy:     retry.FromConfig(cfg.Workflow),
		heartbeat:  NewHeartbeatMonitor(st, logger, cfg.Workflow.Heartbeat(), cfg.Workflow.HeartbeatStale()),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	bus.Subscribe(events.StageCompleted, m.onStageCompleted)
	return m
}

// ConfigureStages installs the handlers and publishers the manager drives.
func (m *Manager) ConfigureStages(set StageSet) error {
	registry, err := set.registry()
	if err != nil {
		return err
	}
	for _, def := range registry.Definitions() {
		if aware, ok := def.Handler.(stage.LoggerAware); ok {
			aware.SetLogger(m.root)
		}
	}
	m.mu.Lock()
	m.registry = registry
	m.publishers = set.Publishers
	m.mu.Unlock()
	return nil
}

// Bus returns the event bus the manager publishes on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

func (m *Manager) stages() (*stage.Registry, stage.Publishers) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry, m.publishers
}
