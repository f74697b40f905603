package store

import (
	"context"
	"database/sql"
	"fmt"

	"recast/internal/quota"
)

// Admitter decides whether a dispatch may proceed given the tenant's usage as
// read inside the dispatch transaction. *quota.Gate satisfies it.
type Admitter interface {
	Admit(usage quota.Usage, req quota.Request) error
}

// Usage returns the tenant's counters for the current period.
func (s *Store) Usage(ctx context.Context, tenant string) (quota.Usage, error) {
	ctx = ensureContext(ctx)
	usage := quota.Usage{Tenant: tenant, Period: quota.Period(s.timestamp())}
	err := s.db.QueryRowContext(ctx,
		`SELECT concurrent_tasks, storage_bytes FROM tenant_usage WHERE tenant = ?`, tenant,
	).Scan(&usage.ConcurrentTasks, &usage.StorageBytes)
	if err != nil && err != sql.ErrNoRows {
		return usage, fmt.Errorf("read tenant usage: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT items FROM tenant_monthly_usage WHERE tenant = ? AND period = ?`, tenant, usage.Period,
	).Scan(&usage.MonthlyItems)
	if err != nil && err != sql.ErrNoRows {
		return usage, fmt.Errorf("read monthly usage: %w", err)
	}
	return usage, nil
}

func (s *Store) usageTx(ctx context.Context, tx *sql.Tx, tenant string) (quota.Usage, error) {
	usage := quota.Usage{Tenant: tenant, Period: quota.Period(s.timestamp())}
	if err := s.ensureUsageRowTx(ctx, tx, tenant); err != nil {
		return usage, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT concurrent_tasks, storage_bytes FROM tenant_usage WHERE tenant = ?`, tenant,
	).Scan(&usage.ConcurrentTasks, &usage.StorageBytes); err != nil {
		return usage, fmt.Errorf("read tenant usage: %w", err)
	}
	err := tx.QueryRowContext(ctx,
		`SELECT items FROM tenant_monthly_usage WHERE tenant = ? AND period = ?`, tenant, usage.Period,
	).Scan(&usage.MonthlyItems)
	if err != nil && err != sql.ErrNoRows {
		return usage, fmt.Errorf("read monthly usage: %w", err)
	}
	return usage, nil
}

func (s *Store) ensureUsageRowTx(ctx context.Context, tx *sql.Tx, tenant string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_usage (tenant, updated_at) VALUES (?, ?) ON CONFLICT(tenant) DO NOTHING`,
		tenant, formatTime(s.timestamp()),
	); err != nil {
		return fmt.Errorf("ensure tenant usage: %w", err)
	}
	return nil
}

func (s *Store) adjustConcurrentTx(ctx context.Context, tx *sql.Tx, tenant string, delta int) error {
	if delta == 0 {
		return nil
	}
	if err := s.ensureUsageRowTx(ctx, tx, tenant); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_usage SET concurrent_tasks = MAX(concurrent_tasks + ?, 0), updated_at = ? WHERE tenant = ?`,
		delta, formatTime(s.timestamp()), tenant,
	); err != nil {
		return fmt.Errorf("adjust concurrency: %w", err)
	}
	return nil
}

func (s *Store) adjustStorageTx(ctx context.Context, tx *sql.Tx, tenant string, delta int64) error {
	if delta == 0 {
		return nil
	}
	if err := s.ensureUsageRowTx(ctx, tx, tenant); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_usage SET storage_bytes = MAX(storage_bytes + ?, 0), updated_at = ? WHERE tenant = ?`,
		delta, formatTime(s.timestamp()), tenant,
	); err != nil {
		return fmt.Errorf("adjust storage: %w", err)
	}
	return nil
}

func (s *Store) countPipelineStartTx(ctx context.Context, tx *sql.Tx, tenant string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_monthly_usage (tenant, period, items) VALUES (?, ?, 1)
         ON CONFLICT(tenant, period) DO UPDATE SET items = items + 1`,
		tenant, quota.Period(s.timestamp()),
	); err != nil {
		return fmt.Errorf("count pipeline start: %w", err)
	}
	return nil
}

// RebuildUsage recomputes concurrency and storage counters from the run and
// target tables. It repairs drift left by a crash between a task finishing and
// its counters being released.
func (s *Store) RebuildUsage(ctx context.Context) error {
	now := formatTime(s.timestamp())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenant_usage (tenant, updated_at)
             SELECT DISTINCT tenant, ? FROM recordings WHERE true
             ON CONFLICT(tenant) DO NOTHING`, now,
		); err != nil {
			return fmt.Errorf("seed tenant usage: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tenant_usage SET
                 concurrent_tasks =
                     (SELECT COUNT(1) FROM stage_runs r JOIN recordings rc ON rc.id = r.recording_id
                      WHERE rc.tenant = tenant_usage.tenant AND r.status = 'running' AND r.holds_slot = 1)
                   + (SELECT COUNT(1) FROM output_targets t JOIN recordings rc ON rc.id = t.recording_id
                      WHERE rc.tenant = tenant_usage.tenant AND t.status = 'uploading'),
                 storage_bytes = COALESCE(
                     (SELECT SUM(r.stored_bytes) FROM stage_runs r JOIN recordings rc ON rc.id = r.recording_id
                      WHERE rc.tenant = tenant_usage.tenant AND r.status = 'completed'
                        AND r.id = (SELECT MAX(r2.id) FROM stage_runs r2
                                    WHERE r2.recording_id = r.recording_id AND r2.stage = r.stage AND r2.status = 'completed')), 0),
                 updated_at = ?`, now,
		); err != nil {
			return fmt.Errorf("rebuild tenant usage: %w", err)
		}
		return nil
	})
}
