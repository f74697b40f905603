package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"recast/internal/quota"
	"recast/internal/recording"
)

// TargetRequest asks to start uploading one destination.
type TargetRequest struct {
	RecordingID int64
	Platform    recording.Platform
	Admitter    Admitter
}

// TargetOutcome is the result of one upload attempt.
type TargetOutcome struct {
	Uploaded  bool
	RemoteURL string
	RemoteID  string
	Kind      string
	Message   string
}

// Join summarizes the publish fan-out after a target finishes. Done is set
// for exactly one finishing target: the one that left no queued target.
// Every target not uploaded once the attempt settles is listed in Failed.
type Join struct {
	RecordingID int64
	RunID       int64
	Done        bool
	Uploaded    []recording.Platform
	Failed      []recording.Target
}

// Targets returns a recording's publication targets ordered by platform.
func (s *Store) Targets(ctx context.Context, recordingID int64) ([]recording.Target, error) {
	return targetsTx(ensureContext(ctx), s.db, recordingID)
}

// GetTarget fetches one publication target.
func (s *Store) GetTarget(ctx context.Context, recordingID int64, platform recording.Platform) (*recording.Target, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM output_targets WHERE recording_id = ? AND platform = ?`,
		recordingID, string(platform))
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &notFoundError{what: fmt.Sprintf("target %s of recording %d", platform, recordingID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// BeginTarget moves a target to uploading under the recording's running
// publish run, admitting one concurrent task slot.
func (s *Store) BeginTarget(ctx context.Context, req TargetRequest) (*recording.Target, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecordingTx(ctx, tx, req.RecordingID)
		if err != nil {
			return err
		}
		target, err := getTargetTx(ctx, tx, rec.ID, req.Platform)
		if err != nil {
			return err
		}
		active, err := activePublishRunTx(ctx, tx, rec)
		if err != nil {
			return err
		}
		if active == 0 {
			return fmt.Errorf("%w: recording %d has no active publish run", ErrInvalidTransition, rec.ID)
		}
		if err := recording.ValidateTargetTransition(req.Platform, target.Status, recording.TargetUploading); err != nil {
			return err
		}
		if req.Admitter != nil {
			usage, err := s.usageTx(ctx, tx, rec.Tenant)
			if err != nil {
				return err
			}
			if err := req.Admitter.Admit(usage, quota.Request{Tenant: rec.Tenant, TakesSlot: true}); err != nil {
				return err
			}
		}
		if err := s.adjustConcurrentTx(ctx, tx, rec.Tenant, 1); err != nil {
			return err
		}
		retryDelta := 0
		if target.Status == recording.TargetFailed {
			retryDelta = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE output_targets SET status = ?, retry_count = retry_count + ?, queued = 1, updated_at = ?
             WHERE recording_id = ? AND platform = ?`,
			string(recording.TargetUploading), retryDelta, formatTime(s.timestamp()), rec.ID, string(req.Platform),
		); err != nil {
			return fmt.Errorf("begin target: %w", err)
		}
		_, err = s.refreshStatusTx(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetTarget(ctx, req.RecordingID, req.Platform)
}

// FinishTarget records an upload outcome, releases its slot and reports
// whether the fan-out has joined.
func (s *Store) FinishTarget(ctx context.Context, recordingID int64, platform recording.Platform, outcome TargetOutcome) (*Join, error) {
	var join *Join
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecordingTx(ctx, tx, recordingID)
		if err != nil {
			return err
		}
		target, err := getTargetTx(ctx, tx, rec.ID, platform)
		if err != nil {
			return err
		}
		next := recording.TargetFailed
		if outcome.Uploaded {
			next = recording.TargetUploaded
		}
		if err := recording.ValidateTargetTransition(platform, target.Status, next); err != nil {
			return err
		}
		now := formatTime(s.timestamp())
		if outcome.Uploaded {
			_, err = tx.ExecContext(ctx,
				`UPDATE output_targets
                 SET status = ?, remote_url = ?, remote_id = ?, last_error = NULL, error_kind = NULL, queued = 0, updated_at = ?
                 WHERE recording_id = ? AND platform = ?`,
				string(next), nullableString(outcome.RemoteURL), nullableString(outcome.RemoteID), now,
				rec.ID, string(platform))
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE output_targets SET status = ?, last_error = ?, error_kind = ?, queued = 0, updated_at = ?
                 WHERE recording_id = ? AND platform = ?`,
				string(next), nullableString(outcome.Message), nullableString(outcome.Kind), now,
				rec.ID, string(platform))
		}
		if err != nil {
			return fmt.Errorf("finish target: %w", err)
		}
		if err := s.adjustConcurrentTx(ctx, tx, rec.Tenant, -1); err != nil {
			return err
		}
		if join, err = joinTx(ctx, tx, rec); err != nil {
			return err
		}
		_, err = s.refreshStatusTx(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return join, nil
}

// RejectTarget fails a queued target whose upload was refused before it
// started. The refused attempt counts as one that failed; sibling targets
// are untouched and no slot is released.
func (s *Store) RejectTarget(ctx context.Context, recordingID int64, platform recording.Platform, outcome TargetOutcome) (*Join, error) {
	var join *Join
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecordingTx(ctx, tx, recordingID)
		if err != nil {
			return err
		}
		target, err := getTargetTx(ctx, tx, rec.ID, platform)
		if err != nil {
			return err
		}
		active, err := activePublishRunTx(ctx, tx, rec)
		if err != nil {
			return err
		}
		if active == 0 || !target.Queued {
			return fmt.Errorf("%w: target %s of recording %d is not awaiting upload", ErrInvalidTransition, platform, rec.ID)
		}
		if err := recording.ValidateTargetTransition(platform, target.Status, recording.TargetUploading); err != nil {
			return err
		}
		if err := recording.ValidateTargetTransition(platform, recording.TargetUploading, recording.TargetFailed); err != nil {
			return err
		}
		retryDelta := 0
		if target.Status == recording.TargetFailed {
			retryDelta = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE output_targets SET status = ?, last_error = ?, error_kind = ?, retry_count = retry_count + ?, queued = 0, updated_at = ?
             WHERE recording_id = ? AND platform = ?`,
			string(recording.TargetFailed), nullableString(outcome.Message), nullableString(outcome.Kind), retryDelta,
			formatTime(s.timestamp()), rec.ID, string(platform),
		); err != nil {
			return fmt.Errorf("reject target: %w", err)
		}
		if join, err = joinTx(ctx, tx, rec); err != nil {
			return err
		}
		_, err = s.refreshStatusTx(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return join, nil
}

// joinTx reports the fan-out state of the recording's running publish run.
func joinTx(ctx context.Context, tx *sql.Tx, rec *recording.Recording) (*Join, error) {
	targets, err := targetsTx(ctx, tx, rec.ID)
	if err != nil {
		return nil, err
	}
	runID, err := activePublishRunTx(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	join := &Join{RecordingID: rec.ID, RunID: runID, Done: runID != 0}
	for _, t := range targets {
		if t.Queued || t.Status == recording.TargetUploading {
			join.Done = false
			continue
		}
		if t.Status == recording.TargetUploaded {
			join.Uploaded = append(join.Uploaded, t.Platform)
		} else {
			join.Failed = append(join.Failed, t)
		}
	}
	return join, nil
}

// queueTargetsTx creates missing targets for the recording's destinations and
// queues the ones this publish attempt covers.
func (s *Store) queueTargetsTx(ctx context.Context, tx *sql.Tx, rec *recording.Recording, only []recording.Platform) error {
	now := formatTime(s.timestamp())
	for _, platform := range rec.Settings.Destinations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO output_targets (recording_id, platform, status, updated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(recording_id, platform) DO NOTHING`,
			rec.ID, string(platform), string(recording.TargetNotUploaded), now,
		); err != nil {
			return fmt.Errorf("create target %s: %w", platform, err)
		}
	}
	query := `UPDATE output_targets SET queued = 1, updated_at = ? WHERE recording_id = ? AND status != ?`
	args := []any{now, rec.ID, string(recording.TargetUploaded)}
	if only != nil {
		if len(only) == 0 {
			return nil
		}
		query += ` AND platform IN (` + makePlaceholders(len(only)) + `)`
		for _, platform := range only {
			args = append(args, string(platform))
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("queue targets: %w", err)
	}
	return nil
}

func targetsTx(ctx context.Context, q queryer, recordingID int64) ([]recording.Target, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM output_targets WHERE recording_id = ? ORDER BY platform`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()
	var out []recording.Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *target)
	}
	return out, rows.Err()
}

func getTargetTx(ctx context.Context, tx *sql.Tx, recordingID int64, platform recording.Platform) (*recording.Target, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM output_targets WHERE recording_id = ? AND platform = ?`,
		recordingID, string(platform))
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &notFoundError{what: fmt.Sprintf("target %s of recording %d", platform, recordingID)}
	}
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	return target, nil
}

func pendingTargetsTx(ctx context.Context, tx *sql.Tx, recordingID int64) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM output_targets WHERE recording_id = ? AND (queued = 1 OR status = ?)`,
		recordingID, string(recording.TargetUploading),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending targets: %w", err)
	}
	return count, nil
}

// activePublishRunTx returns the id of the running publish run, or zero.
func activePublishRunTx(ctx context.Context, tx *sql.Tx, rec *recording.Recording) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM stage_runs WHERE recording_id = ? AND generation = ? AND stage = ? AND status = 'running'`,
		rec.ID, rec.Generation, string(recording.StageUploading),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load publish run: %w", err)
	}
	return id, nil
}
