package recording

// Snapshot is the aggregate state computed from stage run history.
type Snapshot struct {
	Status        Status
	Failed        bool
	FailedAtStage Stage
	LastStage     Stage
	Running       bool
}

// Derive computes the aggregate status from the source state and the current
// generation's stage runs, ordered oldest first.
func Derive(source SourceState, runs []StageRun) Snapshot {
	if len(runs) == 0 {
		switch source {
		case SourcePending:
			return Snapshot{Status: StatusPendingSource}
		case SourceSkipped:
			return Snapshot{Status: StatusSkipped}
		default:
			return Snapshot{Status: StatusInitialized}
		}
	}
	last := runs[len(runs)-1]
	snap := Snapshot{LastStage: last.Stage}
	switch last.Status {
	case RunFailed:
		snap.Status = StatusFailed
		snap.Failed = true
		snap.FailedAtStage = last.Stage
	case RunCompleted:
		snap.Status = last.Stage.Completed()
	default:
		snap.Status = last.Stage.Running()
		snap.Running = true
	}
	return snap
}

// Observation is the computed, never stored, view of overall progress.
type Observation string

const (
	ObservePending    Observation = "pending"
	ObserveInProgress Observation = "in_progress"
	ObservePaused     Observation = "paused"
	ObserveComplete   Observation = "complete"
	ObservePartial    Observation = "partial"
	ObserveFailed     Observation = "failed"
	ObserveSkipped    Observation = "skipped"
)

// TargetCounts tallies targets by status.
type TargetCounts struct {
	Total       int
	NotUploaded int
	Uploading   int
	Uploaded    int
	Failed      int
}

// CountTargets tallies targets by status.
func CountTargets(targets []Target) TargetCounts {
	counts := TargetCounts{Total: len(targets)}
	for _, t := range targets {
		switch t.Status {
		case TargetUploading:
			counts.Uploading++
		case TargetUploaded:
			counts.Uploaded++
		case TargetFailed:
			counts.Failed++
		default:
			counts.NotUploaded++
		}
	}
	return counts
}

// Observe combines the cached aggregate with target statuses. A recording
// whose publication failed for some destinations but succeeded for at least
// one is partial.
func Observe(rec Recording, targets []Target) Observation {
	counts := CountTargets(targets)
	switch rec.Status {
	case StatusUploaded:
		return ObserveComplete
	case StatusSkipped:
		return ObserveSkipped
	case StatusFailed:
		if rec.FailedAtStage == StageUploading && counts.Uploaded > 0 {
			return ObservePartial
		}
		return ObserveFailed
	case StatusPendingSource, StatusInitialized:
		if rec.OnPause {
			return ObservePaused
		}
		return ObservePending
	}
	if rec.OnPause && !rec.Status.IsRunning() {
		return ObservePaused
	}
	return ObserveInProgress
}
