package quota_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"recast/internal/config"
	"recast/internal/metrics"
	"recast/internal/quota"
	"recast/internal/services"
)

func intPtr(v int) *int { return &v }

func TestPolicyResolvesOverridesPerField(t *testing.T) {
	policy := quota.NewPolicy(config.Quota{
		Limits: config.Limits{MaxConcurrentTasks: 4, MonthlyItems: 100, StorageBytes: 1 << 30},
		Tenants: map[string]config.TenantLimits{
			"acme": {MaxConcurrentTasks: intPtr(1)},
			"free": {MonthlyItems: intPtr(0)},
		},
	})

	acme := policy.For("acme")
	if acme.MaxConcurrentTasks != 1 || acme.MonthlyItems != 100 || acme.StorageBytes != 1<<30 {
		t.Fatalf("unexpected acme limits: %+v", acme)
	}
	free := policy.For("free")
	if free.MonthlyItems != 0 || free.MaxConcurrentTasks != 4 {
		t.Fatalf("unexpected free limits: %+v", free)
	}
	other := policy.For("other")
	if other.MaxConcurrentTasks != 4 {
		t.Fatalf("expected defaults for unknown tenant, got %+v", other)
	}
}

func TestCheck(t *testing.T) {
	limits := quota.Limits{MaxConcurrentTasks: 2, MonthlyItems: 10, StorageBytes: 1000}
	cases := []struct {
		name     string
		usage    quota.Usage
		req      quota.Request
		resource string
	}{
		{"under", quota.Usage{ConcurrentTasks: 1, MonthlyItems: 9, StorageBytes: 999}, quota.Request{TakesSlot: true, StartsPipeline: true}, ""},
		{"at concurrency", quota.Usage{ConcurrentTasks: 2}, quota.Request{TakesSlot: true}, quota.ResourceConcurrentTasks},
		{"concurrency ignored without slot", quota.Usage{ConcurrentTasks: 2}, quota.Request{}, ""},
		{"monthly on start", quota.Usage{MonthlyItems: 10}, quota.Request{StartsPipeline: true}, quota.ResourceMonthlyItems},
		{"monthly ignored on continuation", quota.Usage{MonthlyItems: 10}, quota.Request{TakesSlot: true}, ""},
		{"storage", quota.Usage{StorageBytes: 1000}, quota.Request{}, quota.ResourceStorageBytes},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.Tenant = "acme"
			err := quota.Check(limits, tc.usage, tc.req)
			if tc.resource == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			var exceeded *quota.ExceededError
			if !errors.As(err, &exceeded) || exceeded.Resource != tc.resource {
				t.Fatalf("expected %s rejection, got %v", tc.resource, err)
			}
			if !errors.Is(err, quota.ErrQuotaExceeded) {
				t.Fatal("expected errors.Is ErrQuotaExceeded")
			}
			if services.Classify(err) != services.KindQuotaExceeded {
				t.Fatalf("expected quota kind, got %s", services.Classify(err))
			}
		})
	}
}

func TestUnlimitedWhenZero(t *testing.T) {
	usage := quota.Usage{ConcurrentTasks: 1000, MonthlyItems: 1000, StorageBytes: 1 << 40}
	if err := quota.Check(quota.Limits{}, usage, quota.Request{TakesSlot: true, StartsPipeline: true}); err != nil {
		t.Fatalf("zero limits must be unlimited: %v", err)
	}
}

func TestGateCountsRejections(t *testing.T) {
	reg := prometheus.NewRegistry()
	gate := quota.NewGate(quota.NewPolicy(config.Quota{Limits: config.Limits{MaxConcurrentTasks: 1}}), nil, metrics.New(reg), nil)

	if err := gate.Admit(quota.Usage{}, quota.Request{Tenant: "acme", TakesSlot: true}); err != nil {
		t.Fatalf("first admission should pass: %v", err)
	}
	if err := gate.Admit(quota.Usage{ConcurrentTasks: 1}, quota.Request{Tenant: "acme", TakesSlot: true}); err == nil {
		t.Fatal("second admission should be rejected")
	}
	count, err := testutil.GatherAndCount(reg, "recast_quota_rejections_total")
	if err != nil || count != 1 {
		t.Fatalf("expected one rejection series, got %d (%v)", count, err)
	}
}

func TestPeriod(t *testing.T) {
	ts := time.Date(2026, time.March, 31, 23, 59, 0, 0, time.FixedZone("x", -3600))
	if got := quota.Period(ts); got != "2026-04" {
		t.Fatalf("expected UTC month, got %s", got)
	}
}

func TestNilGateAdmits(t *testing.T) {
	var gate *quota.Gate
	if err := gate.Admit(quota.Usage{ConcurrentTasks: 99}, quota.Request{TakesSlot: true}); err != nil {
		t.Fatalf("nil gate should admit: %v", err)
	}
}
