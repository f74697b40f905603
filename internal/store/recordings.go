package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"recast/internal/recording"
)

// NewRecording describes a recording to ingest.
type NewRecording struct {
	Tenant      string
	Title       string
	SourceURI   string
	SourceState recording.SourceState
	Blank       bool
	Settings    recording.Settings
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Tenant   string
	Statuses []recording.Status
}

// Create inserts a recording. Its initial status derives from the source state.
func (s *Store) Create(ctx context.Context, req NewRecording) (*recording.Recording, error) {
	if strings.TrimSpace(req.Tenant) == "" {
		return nil, errors.New("tenant is required")
	}
	state := req.SourceState
	if state == "" {
		state = recording.SourceReady
	}
	switch state {
	case recording.SourcePending, recording.SourceReady, recording.SourceSkipped:
	default:
		return nil, fmt.Errorf("unknown source state %q", state)
	}
	for _, platform := range req.Settings.Destinations {
		if _, ok := recording.ParsePlatform(string(platform)); !ok {
			return nil, fmt.Errorf("unknown destination %q", platform)
		}
	}
	settings, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	status := recording.Derive(state, nil).Status
	now := formatTime(s.timestamp())
	res, err := s.execWithRetry(ctx,
		`INSERT INTO recordings (tenant, title, source_uri, source_state, blank, settings_json, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Tenant,
		nullableString(req.Title),
		nullableString(req.SourceURI),
		string(state),
		boolToInt(req.Blank),
		string(settings),
		string(status),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert recording: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("recording id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a recording by id.
func (s *Store) Get(ctx context.Context, id int64) (*recording.Recording, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &notFoundError{what: fmt.Sprintf("recording %d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// List returns recordings matching filter ordered by id.
func (s *Store) List(ctx context.Context, filter Filter) ([]*recording.Recording, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + recordingColumns + ` FROM recordings`
	var (
		clauses []string
		args    []any
	)
	if filter.Tenant != "" {
		clauses = append(clauses, "tenant = ?")
		args = append(args, filter.Tenant)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []*recording.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of recordings per cached status.
func (s *Store) StatusCounts(ctx context.Context) (map[recording.Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM recordings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[recording.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[recording.Status(status)] = count
	}
	return counts, rows.Err()
}

// SetPause sets or clears the cooperative pause flag.
func (s *Store) SetPause(ctx context.Context, id int64, paused bool) (*recording.Recording, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE recordings SET on_pause = ?, updated_at = ? WHERE id = ?`,
		boolToInt(paused), formatTime(s.timestamp()), id)
	if err != nil {
		return nil, fmt.Errorf("set pause: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &notFoundError{what: fmt.Sprintf("recording %d", id)}
	}
	return s.Get(ctx, id)
}

// ResolveSource records the source collaborator's verdict. Blank recordings and
// recordings without destinations resolve to skipped, everything else to ready.
func (s *Store) ResolveSource(ctx context.Context, id int64, blank bool) (*recording.Recording, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecordingTx(ctx, tx, id)
		if err != nil {
			return err
		}
		state := recording.SourceReady
		if blank || len(rec.Settings.Destinations) == 0 {
			state = recording.SourceSkipped
		}
		runs, err := currentRunsTx(ctx, tx, rec.ID, rec.Generation)
		if err != nil {
			return err
		}
		next := recording.Derive(state, runs).Status
		if err := recording.ValidateTransition(rec.Status, next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE recordings SET source_state = ?, blank = ?, updated_at = ? WHERE id = ?`,
			string(state), boolToInt(blank), formatTime(s.timestamp()), id,
		); err != nil {
			return fmt.Errorf("update source state: %w", err)
		}
		_, err = s.refreshStatusTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Reset starts a new generation: prior stage runs stay as history, targets are
// dropped and the recording returns to the status its source state implies.
func (s *Store) Reset(ctx context.Context, id int64) (*recording.Recording, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecordingTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if running, err := hasRunningRunTx(ctx, tx, id); err != nil {
			return err
		} else if running {
			return ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM output_targets WHERE recording_id = ?`, id); err != nil {
			return fmt.Errorf("drop targets: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE recordings
             SET generation = ?, retry_count = 0, auto_retries = 0, on_pause = 0,
                 error_message = NULL, error_kind = NULL, next_attempt_at = NULL,
                 pipeline_started_at = NULL, pipeline_completed_at = NULL, updated_at = ?
             WHERE id = ?`,
			rec.Generation+1, formatTime(s.timestamp()), id,
		); err != nil {
			return fmt.Errorf("reset recording: %w", err)
		}
		_, err = s.refreshStatusTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Defer schedules the recording to be picked up again at retryAt and records
// why it is waiting. A nil retryAt records the note without scheduling.
func (s *Store) Defer(ctx context.Context, id int64, retryAt *time.Time, kind, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE recordings SET next_attempt_at = ?, error_kind = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		nullableTime(retryAt), nullableString(kind), nullableString(message), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("defer recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &notFoundError{what: fmt.Sprintf("recording %d", id)}
	}
	return nil
}

// ClaimDue returns recordings whose scheduled attempt time has passed and
// clears their schedule so each is claimed once.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) ([]*recording.Recording, error) {
	var claimed []*recording.Recording
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = claimed[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT `+recordingColumns+` FROM recordings
             WHERE next_attempt_at IS NOT NULL AND next_attempt_at <= ?
             ORDER BY next_attempt_at, id`,
			formatTime(now))
		if err != nil {
			return fmt.Errorf("query due recordings: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecording(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan due recording: %w", err)
			}
			claimed = append(claimed, rec)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, rec := range claimed {
			if _, err := tx.ExecContext(ctx, `UPDATE recordings SET next_attempt_at = NULL WHERE id = ?`, rec.ID); err != nil {
				return fmt.Errorf("claim recording %d: %w", rec.ID, err)
			}
			rec.NextAttemptAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func getRecordingTx(ctx context.Context, tx *sql.Tx, id int64) (*recording.Recording, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &notFoundError{what: fmt.Sprintf("recording %d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("load recording: %w", err)
	}
	return rec, nil
}

// refreshStatusTx rewrites the cached aggregate from the current generation's
// run history and returns the derived snapshot.
func (s *Store) refreshStatusTx(ctx context.Context, tx *sql.Tx, id int64) (recording.Snapshot, error) {
	var (
		sourceState string
		generation  int
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT source_state, generation FROM recordings WHERE id = ?`, id,
	).Scan(&sourceState, &generation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recording.Snapshot{}, &notFoundError{what: fmt.Sprintf("recording %d", id)}
		}
		return recording.Snapshot{}, fmt.Errorf("load source state: %w", err)
	}
	runs, err := currentRunsTx(ctx, tx, id, generation)
	if err != nil {
		return recording.Snapshot{}, err
	}
	snap := recording.Derive(recording.SourceState(sourceState), runs)
	now := formatTime(s.timestamp())
	if _, err := tx.ExecContext(ctx,
		`UPDATE recordings
         SET status = ?, failed = ?, failed_at_stage = ?,
             pipeline_completed_at = CASE WHEN ? THEN COALESCE(pipeline_completed_at, ?) END,
             updated_at = ?
         WHERE id = ?`,
		string(snap.Status),
		boolToInt(snap.Failed),
		nullableString(string(snap.FailedAtStage)),
		boolToInt(snap.Status == recording.StatusUploaded),
		now,
		now,
		id,
	); err != nil {
		return recording.Snapshot{}, fmt.Errorf("refresh status cache: %w", err)
	}
	return snap, nil
}
