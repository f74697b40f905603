package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recast/internal/recording"
)

const recordingColumns = "id, tenant, title, source_uri, source_state, blank, settings_json, status, failed, failed_at_stage, retry_count, auto_retries, on_pause, generation, error_message, error_kind, next_attempt_at, pipeline_started_at, pipeline_completed_at, created_at, updated_at"

const runColumns = "id, recording_id, stage, attempt, generation, status, started_at, finished_at, heartbeat_at, error_kind, error_message, metadata_json, stored_bytes, holds_slot"

const targetColumns = "recording_id, platform, status, retry_count, last_error, error_kind, remote_url, remote_id, queued, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(scanner rowScanner) (*recording.Recording, error) {
	var (
		rec          recording.Recording
		title        sql.NullString
		sourceURI    sql.NullString
		sourceState  string
		blank        int
		settingsRaw  string
		statusStr    string
		failed       int
		failedAt     sql.NullString
		onPause      int
		errorMessage sql.NullString
		errorKind    sql.NullString
		nextAttempt  sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Tenant,
		&title,
		&sourceURI,
		&sourceState,
		&blank,
		&settingsRaw,
		&statusStr,
		&failed,
		&failedAt,
		&rec.RetryCount,
		&rec.AutoRetries,
		&onPause,
		&rec.Generation,
		&errorMessage,
		&errorKind,
		&nextAttempt,
		&startedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Title = title.String
	rec.SourceURI = sourceURI.String
	rec.SourceState = recording.SourceState(sourceState)
	rec.Blank = blank != 0
	rec.Status = recording.Status(statusStr)
	rec.Failed = failed != 0
	rec.FailedAtStage = recording.Stage(failedAt.String)
	rec.OnPause = onPause != 0
	rec.ErrorMessage = errorMessage.String
	rec.ErrorKind = errorKind.String
	rec.NextAttemptAt = parseNullableTime(nextAttempt)
	rec.PipelineStartedAt = parseNullableTime(startedRaw)
	rec.PipelineCompletedAt = parseNullableTime(completedRaw)
	if settingsRaw != "" {
		if err := json.Unmarshal([]byte(settingsRaw), &rec.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for recording %d: %w", rec.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return &rec, nil
}

func scanRun(scanner rowScanner) (*recording.StageRun, error) {
	var (
		run         recording.StageRun
		stage       string
		status      string
		startedRaw  string
		finishedRaw sql.NullString
		heartbeat   sql.NullString
		errorKind   sql.NullString
		errorMsg    sql.NullString
		metadata    sql.NullString
		holdsSlot   int
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RecordingID,
		&stage,
		&run.Attempt,
		&run.Generation,
		&status,
		&startedRaw,
		&finishedRaw,
		&heartbeat,
		&errorKind,
		&errorMsg,
		&metadata,
		&run.StoredBytes,
		&holdsSlot,
	); err != nil {
		return nil, err
	}
	run.Stage = recording.Stage(stage)
	run.Status = recording.RunStatus(status)
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	run.FinishedAt = parseNullableTime(finishedRaw)
	run.HeartbeatAt = parseNullableTime(heartbeat)
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMsg.String
	run.Metadata = metadata.String
	run.HoldsSlot = holdsSlot != 0
	return &run, nil
}

func scanTarget(scanner rowScanner) (*recording.Target, error) {
	var (
		target     recording.Target
		platform   string
		status     string
		lastError  sql.NullString
		errorKind  sql.NullString
		remoteURL  sql.NullString
		remoteID   sql.NullString
		queued     int
		updatedRaw string
	)
	if err := scanner.Scan(
		&target.RecordingID,
		&platform,
		&status,
		&target.RetryCount,
		&lastError,
		&errorKind,
		&remoteURL,
		&remoteID,
		&queued,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	target.Platform = recording.Platform(platform)
	target.Status = recording.TargetStatus(status)
	target.LastError = lastError.String
	target.ErrorKind = errorKind.String
	target.RemoteURL = remoteURL.String
	target.RemoteID = remoteID.String
	target.Queued = queued != 0
	if updated, err := parseTimeString(updatedRaw); err == nil {
		target.UpdatedAt = updated
	}
	return &target, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
