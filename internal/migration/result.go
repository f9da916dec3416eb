package migration

import (
	"time"
)

// Revision is a migration version. Zero means no migration has been applied.
type Revision uint

// MigrationResult describes one run of ExecuteMigrations.
type MigrationResult struct {
	RunID           string
	Success         bool
	DryRun          bool
	PhasesCompleted []Phase
	StartRevision   Revision
	RollbackPoint   *Revision // set only when a rollback succeeded
	FailedPhase     Phase
	Err             error
	RollbackErr     error
	PreviewSQL      []string
	Durations       map[Phase]time.Duration

	startCaptured bool
}

// Completed reports whether the phase finished successfully.
func (r *MigrationResult) Completed(p Phase) bool {
	for _, c := range r.PhasesCompleted {
		if c == p {
			return true
		}
	}
	return false
}

// RolledBack reports whether a rollback was performed successfully.
func (r *MigrationResult) RolledBack() bool {
	return r.RollbackPoint != nil
}

// Outcome is a short label for logs and metrics.
func (r *MigrationResult) Outcome() string {
	switch {
	case r.Success && r.DryRun:
		return "dry_run"
	case r.Success:
		return "success"
	case r.RollbackErr != nil:
		return "rollback_failed"
	case r.RolledBack():
		return "rolled_back"
	default:
		return "failed"
	}
}
