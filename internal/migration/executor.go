// Package migration drives a phased, rollback-capable migration run: versioned schema
// changes, time-series provisioning, indexes, constraints and verification.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/consistency"
	"tsdb-reconcile/internal/metrics"
	"tsdb-reconcile/internal/timescale"
)

// ErrRollbackFailed is returned when a failed run could not be rolled back. The database
// may be left between revisions and needs manual attention.
var ErrRollbackFailed = errors.New("migration rollback failed")

const DefaultLockKey = "tsdb_reconcile_migrations"

// Conn is the online handle. *pgxpool.Pool satisfies it.
type Conn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Verifier checks the catalog against the live schema after the run.
type Verifier interface {
	RunCheck(ctx context.Context, defs []catalog.ModelInfo) []consistency.Issue
}

type ExecutorParams struct {
	Conn        Conn
	Tool        MigrationTool
	Lock        DistributedLock
	Backup      Backup
	Provisioner *timescale.Provisioner
	Verifier    Verifier
	Catalog     []catalog.ModelInfo
	Indexes     []IndexSpec
	Namespace   string
	Target      Revision // 0 means latest
	LockKey     string
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	OnPhase     func(Phase) // called after each completed phase
}

type Executor struct {
	p      ExecutorParams
	logger *slog.Logger
}

func NewExecutor(p ExecutorParams) *Executor {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Lock == nil {
		p.Lock = NewLocalLock()
	}
	if p.Backup == nil {
		p.Backup = NopBackup{}
	}
	if p.LockKey == "" {
		p.LockKey = DefaultLockKey
	}
	return &Executor{p: p, logger: p.Logger.With("component", "migration")}
}

// run carries per-run state between phases.
type run struct {
	result   *MigrationResult
	logger   *slog.Logger
	backupID string
}

// ExecuteMigrations runs every phase in order. A phase failure stops the run and triggers one
// rollback to the revision captured during VALIDATION. The returned error is non-nil only when
// that rollback fails; every other outcome is described by the result.
func (e *Executor) ExecuteMigrations(ctx context.Context, dryRun bool) (*MigrationResult, error) {
	result := &MigrationResult{
		RunID:     uuid.NewString(),
		DryRun:    dryRun,
		Durations: make(map[Phase]time.Duration),
	}
	r := &run{result: result, logger: e.logger.With("run_id", result.RunID, "dry_run", dryRun)}

	release, err := e.p.Lock.Acquire(ctx, e.p.LockKey)
	if err != nil {
		result.FailedPhase = PhaseValidation
		result.Err = fmt.Errorf("acquire migration lock: %w", err)
		r.logger.Error("migration not started", "error", result.Err)
		e.p.Metrics.Run(result.Outcome(), false)
		return result, nil
	}
	defer release()

	r.logger.Info("migration run started", "namespace", e.p.Namespace, "target", e.p.Target)

	for _, phase := range AllPhases() {
		start := time.Now()
		err := e.runPhase(ctx, r, phase)
		elapsed := time.Since(start)
		e.p.Metrics.Phase(phase.String(), elapsed, err)

		if err != nil {
			result.FailedPhase = phase
			result.Err = fmt.Errorf("phase %s: %w", phase, err)
			r.logger.Error("migration phase failed", "phase", phase.String(), "error", err)

			rbErr := e.rollbackMigration(ctx, r)
			e.p.Metrics.Run(result.Outcome(), false)
			return result, rbErr
		}

		result.Durations[phase] = elapsed
		result.PhasesCompleted = append(result.PhasesCompleted, phase)
		r.logger.Info("migration phase completed", "phase", phase.String(), "duration", elapsed)
		if e.p.OnPhase != nil {
			e.p.OnPhase(phase)
		}
	}

	result.Success = true
	e.p.Metrics.Run(result.Outcome(), true)
	r.logger.Info("migration run finished", "phases", len(result.PhasesCompleted))
	return result, nil
}

func (e *Executor) runPhase(ctx context.Context, r *run, phase Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch phase {
	case PhaseValidation:
		return e.validate(ctx, r)
	case PhaseBackup:
		return e.backup(ctx, r)
	case PhaseSchemaMigration:
		return e.schemaMigration(ctx, r)
	case PhaseHypertableSetup:
		if !e.p.Provisioner.Enabled() {
			return nil
		}
		if r.result.DryRun {
			r.preview(e.p.Provisioner.PlanHypertables())
			return nil
		}
		return e.p.Provisioner.SetupHypertables(ctx)
	case PhaseContinuousAggregates:
		if !e.p.Provisioner.Enabled() {
			return nil
		}
		if r.result.DryRun {
			r.preview(e.p.Provisioner.PlanContinuousAggregates())
			return nil
		}
		return e.p.Provisioner.SetupContinuousAggregates(ctx)
	case PhaseIndexes:
		stmts := make([]string, 0, len(e.p.Indexes))
		for _, idx := range e.p.Indexes {
			stmts = append(stmts, idx.Statement(e.p.Namespace))
		}
		return e.apply(ctx, r, stmts)
	case PhaseConstraints:
		stmts, err := ConstraintStatements(e.p.Namespace, e.p.Catalog)
		if err != nil {
			return err
		}
		return e.apply(ctx, r, stmts)
	case PhaseVerification:
		if r.result.DryRun {
			r.logger.Info("verification skipped in dry-run")
			return nil
		}
		return e.verify(ctx, r)
	case PhaseCleanup:
		if r.result.DryRun {
			return nil
		}
		if err := e.p.Backup.Discard(ctx, r.backupID); err != nil {
			return fmt.Errorf("discard backup: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown phase %d", phase)
}

// validate is read-only. The start revision is captured last, so a run that fails validation
// has nothing to roll back.
func (e *Executor) validate(ctx context.Context, r *run) error {
	if err := e.p.Conn.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if err := catalog.ValidateAll(e.p.Catalog); err != nil {
		return err
	}
	for _, idx := range e.p.Indexes {
		if err := idx.validate(); err != nil {
			return err
		}
	}
	if e.p.Provisioner.Enabled() {
		if err := e.p.Provisioner.Validate(); err != nil {
			return err
		}
		if err := e.p.Provisioner.CheckExtension(ctx); err != nil {
			return err
		}
	}

	rev, err := e.p.Tool.CurrentRevision(ctx)
	if err != nil {
		return fmt.Errorf("read current revision: %w", err)
	}
	if e.p.Target != 0 && e.p.Target < rev {
		return fmt.Errorf("target revision %d is below current revision %d; downgrades are not run forward", e.p.Target, rev)
	}
	r.result.StartRevision = rev
	r.result.startCaptured = true
	e.p.Metrics.Revision(uint(rev))
	r.logger.Info("current revision", "revision", rev)
	return nil
}

func (e *Executor) backup(ctx context.Context, r *run) error {
	if r.result.DryRun {
		r.logger.Info("backup simulated", "revision", r.result.StartRevision)
		return nil
	}
	id, err := e.p.Backup.Snapshot(ctx, r.result.StartRevision)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	r.backupID = id
	if id != "" {
		r.logger.Info("backup taken", "id", id)
	}
	return nil
}

func (e *Executor) schemaMigration(ctx context.Context, r *run) error {
	if r.result.DryRun {
		sql, err := e.p.Tool.RenderSQL(ctx, e.p.Target)
		if err != nil {
			return fmt.Errorf("render migration sql: %w", err)
		}
		r.result.PreviewSQL = append(r.result.PreviewSQL, sql...)
		return nil
	}
	return e.p.Tool.Upgrade(ctx, e.p.Target)
}

func (e *Executor) apply(ctx context.Context, r *run, stmts []string) error {
	if r.result.DryRun {
		r.result.PreviewSQL = append(r.result.PreviewSQL, stmts...)
		return nil
	}
	for _, s := range stmts {
		if _, err := e.p.Conn.Exec(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(s), err)
		}
	}
	return nil
}

// verify fails on anything the run should have created. Orphaned tables are only logged.
func (e *Executor) verify(ctx context.Context, r *run) error {
	if e.p.Verifier != nil {
		issues := e.p.Verifier.RunCheck(ctx, e.p.Catalog)
		for _, o := range consistency.Filter(issues, consistency.KindOrphanedTable) {
			r.logger.Warn("orphaned table found during verification", "location", o.Location)
		}

		var failures []error
		for _, i := range issues {
			if i.Kind == consistency.KindOrphanedTable {
				continue
			}
			failures = append(failures, errors.New(i.String()))
		}
		if len(failures) > 0 {
			return fmt.Errorf("schema verification found %d problem(s): %w", len(failures), errors.Join(failures...))
		}
	}

	if e.p.Provisioner.Enabled() {
		return e.p.Provisioner.Verify(ctx)
	}
	return nil
}

// rollbackMigration returns the schema to the start revision. It runs at most once per run and
// is skipped when nothing could have been mutated.
func (e *Executor) rollbackMigration(ctx context.Context, r *run) error {
	res := r.result
	if res.DryRun {
		r.logger.Info("rollback skipped: dry-run made no changes")
		return nil
	}
	if !res.startCaptured {
		r.logger.Info("rollback skipped: failure before start revision was captured")
		return nil
	}

	// The run's context may already be cancelled; the rollback still has to happen.
	rbCtx := context.WithoutCancel(ctx)
	r.logger.Warn("rolling back", "to_revision", res.StartRevision, "failed_phase", res.FailedPhase.String())

	if err := e.p.Tool.Downgrade(rbCtx, res.StartRevision); err != nil {
		res.RollbackErr = fmt.Errorf("%w: downgrade to revision %d: %w", ErrRollbackFailed, res.StartRevision, err)
		r.logger.Error("rollback failed", "error", err, "backup", r.backupID)
		return res.RollbackErr
	}

	point := res.StartRevision
	res.RollbackPoint = &point
	r.logger.Info("rollback completed", "revision", point, "backup", r.backupID)
	return nil
}

func (r *run) preview(stmts []timescale.Statement) {
	for _, s := range stmts {
		r.result.PreviewSQL = append(r.result.PreviewSQL, s.String())
	}
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}
