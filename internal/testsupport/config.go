package testsupport

import (
	"path/filepath"
	"testing"

	"recast/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.Backend = config.StorageLocal
	cfgVal.Storage.LocalDir = filepath.Join(base, "objects")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Events.Log = false
	cfgVal.Workflow.CPUWorkers = 2
	cfgVal.Workflow.IOWorkers = 4
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.CapacityRetryInterval = 1
	cfgVal.Workflow.RetryBaseDelay = 1
	cfgVal.Workflow.RetryMaxDelay = 2
	cfgVal.Workflow.PollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLimits sets the default tenant limits on the test config.
func WithLimits(limits config.Limits) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quota.Limits = limits
	}
}

// WithTenantLimits adds a per-tenant override on the test config.
func WithTenantLimits(tenant string, limits config.TenantLimits) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Quota.Tenants == nil {
			b.cfg.Quota.Tenants = make(map[string]config.TenantLimits)
		}
		b.cfg.Quota.Tenants[tenant] = limits
	}
}

// WithMaxAutoRetries overrides the automatic retry budget.
func WithMaxAutoRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAutoRetries = n
	}
}

// WithWorkers sizes the CPU and I/O worker pools.
func WithWorkers(cpu, io int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.CPUWorkers = cpu
		b.cfg.Workflow.IOWorkers = io
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
