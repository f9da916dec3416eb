package consistency

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/metrics"
	"tsdb-reconcile/internal/schema"
)

// DefaultIgnoreTables are bookkeeping tables that live in the namespace but belong to no model.
var DefaultIgnoreTables = []string{"schema_migrations"}

// Config holds the checker's settings.
type Config struct {
	Namespace    string
	IgnoreTables []string // never reported as orphaned; nil means DefaultIgnoreTables
	Metrics      *metrics.Recorder
}

// Checker diffs catalog models against one namespace of a live database.
// It keeps no state between calls, so concurrent checks are safe.
type Checker struct {
	db        *sql.DB
	dialect   dialect.Dialect
	namespace string
	ignore    []string
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// NewChecker creates a Checker over the blocking database handle.
func NewChecker(db *sql.DB, d dialect.Dialect, cfg Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	ignore := cfg.IgnoreTables
	if ignore == nil {
		ignore = DefaultIgnoreTables
	}
	return &Checker{
		db:        db,
		dialect:   d,
		namespace: cfg.Namespace,
		ignore:    ignore,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "consistency", "namespace", cfg.Namespace),
	}
}

// RunCheck reports missing tables, missing columns and orphaned tables. It is read-only.
// An introspection failure yields a single system_error issue.
func (c *Checker) RunCheck(ctx context.Context, defs []catalog.ModelInfo) []Issue {
	issues, _ := c.check(ctx, defs)
	return issues
}

func (c *Checker) check(ctx context.Context, defs []catalog.ModelInfo) ([]Issue, *schema.Snapshot) {
	cols, err := schema.Inspect(ctx, c.db, c.dialect, c.namespace)
	if err != nil {
		return c.introspectionFailed(err), nil
	}
	fold, err := c.dialect.NameFolding(ctx, c.db)
	if err != nil {
		return c.introspectionFailed(err), nil
	}
	snap := schema.Analyze(c.namespace, cols, fold)

	var issues []Issue
	declared := make(map[string]bool, len(defs)+len(c.ignore))
	for _, t := range c.ignore {
		declared[snap.TableKey(t)] = true
	}

	for _, m := range defs {
		declared[snap.TableKey(m.TableName)] = true

		if !snap.HasTable(m.TableName) {
			issues = append(issues, missingTable(c.namespace, m.TableName))
			continue
		}
		for _, field := range m.FieldNames() {
			if !snap.HasColumn(m.TableName, field) {
				issues = append(issues, missingColumn(c.namespace, m.TableName, field))
			}
		}
	}

	for _, t := range snap.Tables {
		if declared[snap.TableKey(t.Name)] {
			continue
		}
		issues = append(issues, orphanedTable(c.namespace, t.Name))
	}

	for _, i := range issues {
		c.metrics.Issue(string(i.Category), string(i.Kind))
	}
	c.logger.Info("consistency check finished", "models", len(defs), "tables", len(snap.Tables), "issues", len(issues))
	return issues, snap
}

func (c *Checker) introspectionFailed(err error) []Issue {
	c.logger.Error("schema introspection failed", "error", err)
	issue := systemError(KindIntrospectionFailed, c.namespace, fmt.Errorf("schema introspection failed: %w", err))
	c.metrics.Issue(string(issue.Category), string(issue.Kind))
	return []Issue{issue}
}

// ReconcileResult is what a Reconcile call found and did.
type ReconcileResult struct {
	Issues  []Issue  // drift found before repair, followed by repair failures
	Applied []string // repair statements that completed
}

// Failures returns the repair failures.
func (r ReconcileResult) Failures() []Issue {
	return Filter(r.Issues, KindRepairFailed)
}

// Reconcile checks the catalog and, when autoRepair is set, creates missing tables and then
// adds missing columns. Orphaned tables are only reported.
//
// Each repair runs in its own transaction. A failed repair is reported as a system_error and
// the remaining repairs are still attempted, so a failure partway leaves earlier repairs applied.
func (c *Checker) Reconcile(ctx context.Context, defs []catalog.ModelInfo, autoRepair bool) ReconcileResult {
	issues, snap := c.check(ctx, defs)
	result := ReconcileResult{Issues: issues}

	for _, o := range Filter(issues, KindOrphanedTable) {
		c.logger.Warn("orphaned table left in place; drop it manually if it is no longer needed", "location", o.Location)
	}

	if !autoRepair || snap == nil {
		return result
	}

	missingTables := make(map[string]Issue)
	for _, i := range Filter(issues, KindMissingTable) {
		missingTables[i.Table] = i
	}

	// Tables first, referenced tables before the tables pointing at them.
	for _, m := range catalog.SortByDependencies(defs) {
		issue, ok := missingTables[m.TableName]
		if !ok {
			continue
		}
		delete(missingTables, m.TableName)

		stmt, err := c.createTableStatement(m)
		if err == nil {
			err = c.execRepair(ctx, stmt)
		}
		result.record(c, issue, stmt, err)
	}

	byTable := make(map[string]catalog.ModelInfo, len(defs))
	for _, m := range defs {
		byTable[m.TableName] = m
	}

	for _, issue := range Filter(issues, KindMissingColumn) {
		m := byTable[issue.Table]
		stmt, err := c.addColumnStatement(m, issue.Column)
		if err == nil {
			err = c.execRepair(ctx, stmt)
		}
		result.record(c, issue, stmt, err)
	}

	return result
}

func (r *ReconcileResult) record(c *Checker, issue Issue, stmt string, err error) {
	c.metrics.Repair(err == nil)
	if err != nil {
		c.logger.Error("repair failed", "location", issue.Location, "error", err)
		failure := systemError(KindRepairFailed, issue.Location, fmt.Errorf("repair of %s failed: %w", issue.Location, err))
		failure.Table, failure.Column = issue.Table, issue.Column
		c.metrics.Issue(string(failure.Category), string(failure.Kind))
		r.Issues = append(r.Issues, failure)
		return
	}
	c.logger.Info("repair applied", "location", issue.Location)
	r.Applied = append(r.Applied, stmt)
}

func (c *Checker) createTableStatement(m catalog.ModelInfo) (string, error) {
	cols := make([]dialect.ColumnDef, 0, len(m.Fields))
	for _, name := range m.FieldNames() {
		typ, err := c.dialect.ColumnType(m.Fields[name])
		if err != nil {
			return "", fmt.Errorf("field %s: %w", name, err)
		}
		cols = append(cols, dialect.ColumnDef{Name: name, Type: typ})
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("model %q declares no fields", m.Name)
	}
	return c.dialect.CreateTableQuery(c.namespace, m.TableName, cols), nil
}

func (c *Checker) addColumnStatement(m catalog.ModelInfo, field string) (string, error) {
	typ, err := c.dialect.ColumnType(m.Fields[field])
	if err != nil {
		return "", fmt.Errorf("field %s: %w", field, err)
	}
	return c.dialect.AddColumnQuery(c.namespace, m.TableName, dialect.ColumnDef{Name: field, Type: typ}), nil
}

// execRepair runs one repair statement in its own transaction. A concurrent repair that
// created the object first counts as success.
func (c *Checker) execRepair(ctx context.Context, stmt string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin repair: %w", err)
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		if c.dialect.IsAlreadyExists(err) {
			c.logger.Debug("repair target already exists", "error", err)
			return nil
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit repair: %w", err)
	}
	return nil
}
