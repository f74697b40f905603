// Package quota implements tenant admission control. Limits resolve from a
// per-tenant override or the configured defaults; Check compares usage
// counters read inside the dispatch transaction so the check and the
// increment that follows commit atomically.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/metrics"
	"recast/internal/services"
)

// Resources named in rejections and metrics.
const (
	ResourceConcurrentTasks = "concurrent_tasks"
	ResourceMonthlyItems    = "monthly_items"
	ResourceStorageBytes    = "storage_bytes"
)

// ErrQuotaExceeded matches every ExceededError via errors.Is.
var ErrQuotaExceeded = services.ErrQuotaExceeded

// Limits are effective bounds for one tenant. Zero means unlimited.
type Limits struct {
	MaxConcurrentTasks int
	MonthlyItems       int
	StorageBytes       int64
}

// Usage is a snapshot of a tenant's counters.
type Usage struct {
	Tenant          string
	Period          string
	ConcurrentTasks int
	MonthlyItems    int
	StorageBytes    int64
}

// Request describes what an admission would consume.
type Request struct {
	Tenant string
	// StartsPipeline counts one monthly item.
	StartsPipeline bool
	// TakesSlot occupies one concurrent task slot.
	TakesSlot bool
}

// ExceededError reports which bound rejected an admission.
type ExceededError struct {
	Tenant   string
	Resource string
	Limit    int64
	Current  int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: tenant %s %s %d/%d", e.Tenant, e.Resource, e.Current, e.Limit)
}

func (e *ExceededError) Is(target error) bool { return target == services.ErrQuotaExceeded }

// ErrorKind implements services.ErrorClassifier.
func (e *ExceededError) ErrorKind() services.Kind { return services.KindQuotaExceeded }

// Period returns the monthly accounting bucket for t.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Policy resolves effective limits per tenant.
type Policy struct {
	defaults Limits
	tenants  map[string]config.TenantLimits
}

// NewPolicy builds a policy from configuration.
func NewPolicy(cfg config.Quota) *Policy {
	return &Policy{
		defaults: Limits{
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
			MonthlyItems:       cfg.MonthlyItems,
			StorageBytes:       cfg.StorageBytes,
		},
		tenants: cfg.Tenants,
	}
}

// For returns the effective limits for tenant: each override field wins over
// the default when set.
func (p *Policy) For(tenant string) Limits {
	if p == nil {
		return Limits{}
	}
	limits := p.defaults
	override, ok := p.tenants[tenant]
	if !ok {
		return limits
	}
	if override.MaxConcurrentTasks != nil {
		limits.MaxConcurrentTasks = *override.MaxConcurrentTasks
	}
	if override.MonthlyItems != nil {
		limits.MonthlyItems = *override.MonthlyItems
	}
	if override.StorageBytes != nil {
		limits.StorageBytes = *override.StorageBytes
	}
	return limits
}

// Check compares usage against limits for req. It has no side effects.
func Check(limits Limits, usage Usage, req Request) error {
	reject := func(resource string, limit, current int64) error {
		return &ExceededError{Tenant: req.Tenant, Resource: resource, Limit: limit, Current: current}
	}
	if req.TakesSlot && limits.MaxConcurrentTasks > 0 && usage.ConcurrentTasks >= limits.MaxConcurrentTasks {
		return reject(ResourceConcurrentTasks, int64(limits.MaxConcurrentTasks), int64(usage.ConcurrentTasks))
	}
	if req.StartsPipeline && limits.MonthlyItems > 0 && usage.MonthlyItems >= limits.MonthlyItems {
		return reject(ResourceMonthlyItems, int64(limits.MonthlyItems), int64(usage.MonthlyItems))
	}
	if limits.StorageBytes > 0 && usage.StorageBytes >= limits.StorageBytes {
		return reject(ResourceStorageBytes, limits.StorageBytes, usage.StorageBytes)
	}
	return nil
}

// Gate is the admission controller handed to the store's dispatch transaction.
// When a SlotLimiter is configured, concurrent slots are additionally held in
// Redis so several daemons sharing a tenant stay within its bound.
type Gate struct {
	policy  *Policy
	slots   SlotLimiter
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewGate constructs a gate. A nil policy admits everything; slots may be nil.
func NewGate(policy *Policy, slots SlotLimiter, rec *metrics.Recorder, logger *slog.Logger) *Gate {
	return &Gate{policy: policy, slots: slots, metrics: rec, logger: logging.NewComponentLogger(logger, "quota")}
}

// Limits returns the effective limits for tenant.
func (g *Gate) Limits(tenant string) Limits {
	if g == nil {
		return Limits{}
	}
	return g.policy.For(tenant)
}

// Admit checks req against the tenant's usage. Rejections are counted and logged.
func (g *Gate) Admit(usage Usage, req Request) error {
	if g == nil {
		return nil
	}
	err := Check(g.policy.For(req.Tenant), usage, req)
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		g.reject(exceeded)
	}
	return err
}

// AcquireSlot reserves a distributed concurrency slot. It is a no-op without
// a SlotLimiter or when the tenant has no concurrency bound.
func (g *Gate) AcquireSlot(ctx context.Context, tenant string) error {
	if g == nil || g.slots == nil {
		return nil
	}
	limit := g.policy.For(tenant).MaxConcurrentTasks
	ok, err := g.slots.Acquire(ctx, tenant, limit)
	if err != nil {
		return err
	}
	if !ok {
		exceeded := &ExceededError{Tenant: tenant, Resource: ResourceConcurrentTasks, Limit: int64(limit), Current: int64(limit)}
		g.reject(exceeded)
		return exceeded
	}
	return nil
}

// ReleaseSlot returns a slot taken by AcquireSlot.
func (g *Gate) ReleaseSlot(ctx context.Context, tenant string) {
	if g == nil || g.slots == nil || g.policy.For(tenant).MaxConcurrentTasks <= 0 {
		return
	}
	if err := g.slots.Release(ctx, tenant); err != nil {
		logging.WarnWithContext(g.logger, "slot release failed", "quota_slot_release_failed",
			logging.String(logging.FieldTenant, tenant),
			logging.Error(err),
			logging.String(logging.FieldImpact, "tenant may be throttled until the slot ttl expires"),
			logging.String(logging.FieldErrorHint, "check redis connectivity"),
		)
	}
}

func (g *Gate) reject(exceeded *ExceededError) {
	g.metrics.IncQuotaRejection(exceeded.Tenant, exceeded.Resource)
	g.logger.Info("admission rejected",
		logging.String(logging.FieldEventType, "quota_rejected"),
		logging.String(logging.FieldTenant, exceeded.Tenant),
		logging.String("resource", exceeded.Resource),
		logging.Int64("limit", exceeded.Limit),
		logging.Int64("current", exceeded.Current),
	)
}
