package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"recast/internal/quota"
	"recast/internal/recording"
)

// StageRequest asks to start a stage for a recording.
type StageRequest struct {
	RecordingID int64
	Stage       recording.Stage
	// TakesSlot occupies one of the tenant's concurrent task slots until the
	// run finishes.
	TakesSlot bool
	// Admitter is consulted with usage read inside the transaction. Nil admits.
	Admitter Admitter
	// OperatorRetry marks an operator-initiated resume: the retry counter is
	// incremented and the automatic retry budget restored.
	OperatorRetry bool
	// AutoRetry marks a resume scheduled after a transient failure.
	AutoRetry bool
	// ClearPause lifts the pause flag as part of the dispatch. Without it a
	// paused recording rejects the dispatch with ErrPaused.
	ClearPause bool
	// Targets limits a publish run to these destinations. Nil queues every
	// destination not yet uploaded.
	Targets []recording.Platform
}

// StageResult is the outcome of a successful stage.
type StageResult struct {
	Metadata string
	// StoredBytes is the size of the artifacts the stage wrote.
	StoredBytes int64
}

// Failure is the outcome of a failed stage.
type Failure struct {
	Kind    string
	Message string
	// RetryAt schedules an automatic resume. Nil leaves the recording for the
	// operator.
	RetryAt *time.Time
}

// BeginStage validates and records the start of a stage in one transaction:
// conflict and pause checks, the transition allow-list, quota admission and
// the usage increments all commit together with the new running StageRun.
func (s *Store) BeginStage(ctx context.Context, req StageRequest) (*recording.StageRun, error) {
	if req.Stage.Order() < 0 {
		return nil, fmt.Errorf("unknown stage %q", req.Stage)
	}
	var runID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecordingTx(ctx, tx, req.RecordingID)
		if err != nil {
			return err
		}
		if running, err := hasRunningRunTx(ctx, tx, rec.ID); err != nil {
			return err
		} else if running {
			return ErrConflict
		}
		if rec.OnPause && !req.ClearPause {
			return ErrPaused
		}
		if err := recording.ValidateTransition(rec.Status, req.Stage.Running()); err != nil {
			return err
		}

		runs, err := currentRunsTx(ctx, tx, rec.ID, rec.Generation)
		if err != nil {
			return err
		}
		startsPipeline := len(runs) == 0
		if req.Admitter != nil {
			usage, err := s.usageTx(ctx, tx, rec.Tenant)
			if err != nil {
				return err
			}
			if err := req.Admitter.Admit(usage, quota.Request{
				Tenant:         rec.Tenant,
				StartsPipeline: startsPipeline,
				TakesSlot:      req.TakesSlot,
			}); err != nil {
				return err
			}
		}

		now := s.timestamp()
		if startsPipeline {
			if err := s.countPipelineStartTx(ctx, tx, rec.Tenant); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE recordings SET pipeline_started_at = ?, pipeline_completed_at = NULL WHERE id = ?`,
				formatTime(now), rec.ID,
			); err != nil {
				return fmt.Errorf("mark pipeline start: %w", err)
			}
		}
		if req.TakesSlot {
			if err := s.adjustConcurrentTx(ctx, tx, rec.Tenant, 1); err != nil {
				return err
			}
		}

		attempt := 1
		for _, run := range runs {
			if run.Stage == req.Stage {
				attempt++
			}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stage_runs (recording_id, stage, attempt, generation, status, started_at, heartbeat_at, holds_slot)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, string(req.Stage), attempt, rec.Generation, string(recording.RunRunning),
			formatTime(now), formatTime(now), boolToInt(req.TakesSlot),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert stage run: %w", err)
		}
		if runID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("stage run id: %w", err)
		}

		if req.Stage == recording.StageUploading {
			if err := s.queueTargetsTx(ctx, tx, rec, req.Targets); err != nil {
				return err
			}
		}

		retryDelta := 0
		if req.OperatorRetry || req.AutoRetry {
			retryDelta = 1
		}
		autoRetries := "auto_retries"
		if req.OperatorRetry {
			autoRetries = "0"
		} else if req.AutoRetry {
			autoRetries = "auto_retries + 1"
		}
		onPause := "on_pause"
		if req.ClearPause {
			onPause = "0"
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE recordings
             SET retry_count = retry_count + ?, auto_retries = `+autoRetries+`, on_pause = `+onPause+`,
                 error_message = NULL, error_kind = NULL, next_attempt_at = NULL, updated_at = ?
             WHERE id = ?`,
			retryDelta, formatTime(now), rec.ID,
		); err != nil {
			return fmt.Errorf("update recording for dispatch: %w", err)
		}
		_, err = s.refreshStatusTx(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetRun(ctx, runID)
}

// CompleteStage marks a running stage completed, releases its slot, accounts
// stored bytes and refreshes the aggregate status.
func (s *Store) CompleteStage(ctx context.Context, runID int64, result StageResult) (*recording.Recording, error) {
	var recordingID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		run, rec, err := s.runningRunTx(ctx, tx, runID)
		if err != nil {
			return err
		}
		recordingID = rec.ID
		if run.Stage == recording.StageUploading {
			if pending, err := pendingTargetsTx(ctx, tx, rec.ID); err != nil {
				return err
			} else if pending > 0 {
				return ErrConflict
			}
		}

		var previous int64
		err = tx.QueryRowContext(ctx,
			`SELECT stored_bytes FROM stage_runs
             WHERE recording_id = ? AND stage = ? AND status = 'completed'
             ORDER BY id DESC LIMIT 1`,
			rec.ID, string(run.Stage),
		).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read previous artifact size: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_runs SET status = ?, finished_at = ?, metadata_json = ?, stored_bytes = ? WHERE id = ?`,
			string(recording.RunCompleted), formatTime(s.timestamp()), nullableString(result.Metadata), result.StoredBytes, runID,
		); err != nil {
			return fmt.Errorf("complete stage run: %w", err)
		}
		if run.HoldsSlot {
			if err := s.adjustConcurrentTx(ctx, tx, rec.Tenant, -1); err != nil {
				return err
			}
		}
		// Artifacts live at stable keys, so a rerun replaces the previous bytes.
		if err := s.adjustStorageTx(ctx, tx, rec.Tenant, result.StoredBytes-previous); err != nil {
			return err
		}
		_, err = s.refreshStatusTx(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, recordingID)
}

// FailStage marks a running stage failed and records the error on the
// recording. Targets still uploading under a failed publish run fail with it.
func (s *Store) FailStage(ctx context.Context, runID int64, failure Failure) (*recording.Recording, error) {
	var recordingID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		run, rec, err := s.runningRunTx(ctx, tx, runID)
		if err != nil {
			return err
		}
		recordingID = rec.ID
		now := formatTime(s.timestamp())
		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_runs SET status = ?, finished_at = ?, error_kind = ?, error_message = ? WHERE id = ?`,
			string(recording.RunFailed), now, nullableString(failure.Kind), nullableString(failure.Message), runID,
		); err != nil {
			return fmt.Errorf("fail stage run: %w", err)
		}
		if run.HoldsSlot {
			if err := s.adjustConcurrentTx(ctx, tx, rec.Tenant, -1); err != nil {
				return err
			}
		}
		if run.Stage == recording.StageUploading {
			res, err := tx.ExecContext(ctx,
				`UPDATE output_targets SET status = ?, last_error = ?, error_kind = ?, queued = 0, updated_at = ?
                 WHERE recording_id = ? AND status = ?`,
				string(recording.TargetFailed), nullableString(failure.Message), nullableString(failure.Kind), now,
				rec.ID, string(recording.TargetUploading),
			)
			if err != nil {
				return fmt.Errorf("fail uploading targets: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				if err := s.adjustConcurrentTx(ctx, tx, rec.Tenant, -int(n)); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE output_targets SET queued = 0 WHERE recording_id = ?`, rec.ID,
			); err != nil {
				return fmt.Errorf("dequeue targets: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE recordings SET error_kind = ?, error_message = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
			nullableString(failure.Kind), nullableString(failure.Message), nullableTime(failure.RetryAt), now, rec.ID,
		); err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		_, err = s.refreshStatusTx(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, recordingID)
}

// Heartbeat refreshes the heartbeat of running stage runs.
func (s *Store) Heartbeat(ctx context.Context, runIDs ...int64) error {
	if len(runIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(runIDs)+1)
	args = append(args, formatTime(s.timestamp()))
	for _, id := range runIDs {
		args = append(args, id)
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE stage_runs SET heartbeat_at = ? WHERE status = 'running' AND id IN (`+makePlaceholders(len(runIDs))+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// StaleRuns returns running stage runs whose last heartbeat is older than cutoff.
func (s *Store) StaleRuns(ctx context.Context, cutoff time.Time) ([]*recording.StageRun, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM stage_runs
         WHERE status = 'running' AND COALESCE(heartbeat_at, started_at) < ?
         ORDER BY id`,
		formatTime(cutoff))
}

// RunningRuns returns every running stage run.
func (s *Store) RunningRuns(ctx context.Context) ([]*recording.StageRun, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM stage_runs WHERE status = 'running' ORDER BY id`)
}

// GetRun fetches a stage run by id.
func (s *Store) GetRun(ctx context.Context, runID int64) (*recording.StageRun, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM stage_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &notFoundError{what: fmt.Sprintf("stage run %d", runID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get stage run: %w", err)
	}
	return run, nil
}

// Runs returns a recording's full stage run history across generations.
func (s *Store) Runs(ctx context.Context, recordingID int64) ([]*recording.StageRun, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE recording_id = ? ORDER BY id`, recordingID)
}

// CurrentRuns returns the stage runs of the recording's current generation.
func (s *Store) CurrentRuns(ctx context.Context, recordingID int64) ([]recording.StageRun, error) {
	rec, err := s.Get(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	return currentRunsTx(ensureContext(ctx), s.db, rec.ID, rec.Generation)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*recording.StageRun, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()
	var out []*recording.StageRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func currentRunsTx(ctx context.Context, tx queryer, recordingID int64, generation int) ([]recording.StageRun, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM stage_runs WHERE recording_id = ? AND generation = ? ORDER BY id`,
		recordingID, generation)
	if err != nil {
		return nil, fmt.Errorf("query current runs: %w", err)
	}
	defer rows.Close()
	var out []recording.StageRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func hasRunningRunTx(ctx context.Context, tx *sql.Tx, recordingID int64) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stage_runs WHERE recording_id = ? AND status = 'running'`, recordingID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check running stage: %w", err)
	}
	return count > 0, nil
}

func (s *Store) runningRunTx(ctx context.Context, tx *sql.Tx, runID int64) (*recording.StageRun, *recording.Recording, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM stage_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, &notFoundError{what: fmt.Sprintf("stage run %d", runID)}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load stage run: %w", err)
	}
	if run.Status != recording.RunRunning {
		return nil, nil, fmt.Errorf("%w: stage run %d is %s", ErrInvalidTransition, runID, run.Status)
	}
	rec, err := getRecordingTx(ctx, tx, run.RecordingID)
	if err != nil {
		return nil, nil, err
	}
	return run, rec, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
