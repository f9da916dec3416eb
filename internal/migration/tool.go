package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

// MigrationTool applies versioned schema changes. Implementations are opaque to the executor.
type MigrationTool interface {
	Upgrade(ctx context.Context, target Revision) error
	Downgrade(ctx context.Context, rev Revision) error
	CurrentRevision(ctx context.Context) (Revision, error)
	RenderSQL(ctx context.Context, target Revision) ([]string, error)
}

const DefaultVersionTable = "schema_migrations"

// ToolConfig configures MigrateTool.
type ToolConfig struct {
	SourceURL    string // e.g. file://migrations
	Namespace    string
	VersionTable string
}

// MigrateTool runs golang-migrate against the blocking database handle.
type MigrateTool struct {
	db     *sql.DB
	driver database.Driver // set by NewMigrateToolWithDriver; otherwise built from db
	cfg    ToolConfig
	logger *slog.Logger

	mu sync.Mutex
	m  *migrate.Migrate
}

var _ MigrationTool = (*MigrateTool)(nil)

func NewMigrateTool(db *sql.DB, cfg ToolConfig, logger *slog.Logger) *MigrateTool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VersionTable == "" {
		cfg.VersionTable = DefaultVersionTable
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "public"
	}
	if !strings.Contains(cfg.SourceURL, "://") {
		cfg.SourceURL = "file://" + cfg.SourceURL
	}
	return &MigrateTool{db: db, cfg: cfg, logger: logger.With("component", "migrate")}
}

// NewMigrateToolWithDriver runs migrations through an existing golang-migrate database driver.
// CurrentRevision and RenderSQL still need db.
func NewMigrateToolWithDriver(db *sql.DB, driver database.Driver, cfg ToolConfig, logger *slog.Logger) *MigrateTool {
	t := NewMigrateTool(db, cfg, logger)
	t.driver = driver
	return t
}

// instance creates the migrate instance on first use. Creating it writes the version table,
// so read-only paths never call it.
func (t *MigrateTool) instance() (*migrate.Migrate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m != nil {
		return t.m, nil
	}

	driver := t.driver
	if driver == nil {
		var err error
		driver, err = postgres.WithInstance(t.db, &postgres.Config{
			MigrationsTable: t.cfg.VersionTable,
			SchemaName:      t.cfg.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create migration driver: %w", err)
		}
	}

	m, err := migrate.NewWithDatabaseInstance(t.cfg.SourceURL, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{t.logger}
	t.m = m
	return m, nil
}

// stopOnCancel asks golang-migrate to stop after the current migration when ctx ends.
func stopOnCancel(ctx context.Context, m *migrate.Migrate) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Upgrade migrates up to target, or to the latest version when target is 0.
func (t *MigrateTool) Upgrade(ctx context.Context, target Revision) error {
	m, err := t.instance()
	if err != nil {
		return err
	}
	defer stopOnCancel(ctx, m)()

	if target == 0 {
		err = m.Up()
	} else {
		err = m.Migrate(uint(target))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return ctx.Err()
}

// Downgrade steps down to rev. A dirty version left by a failed upgrade never committed its
// script, so the version before it is forced clean first and its down script is not run.
func (t *MigrateTool) Downgrade(ctx context.Context, rev Revision) error {
	m, err := t.instance()
	if err != nil {
		return err
	}
	defer stopOnCancel(ctx, m)()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		prev, err := t.previousVersion(version)
		if err != nil {
			return err
		}
		t.logger.Warn("forcing dirty migration version before downgrade", "dirty", version, "forced", prev)
		if err := m.Force(prev); err != nil {
			return fmt.Errorf("force version %d: %w", prev, err)
		}
	}

	if rev == 0 {
		err = m.Down()
	} else {
		err = m.Migrate(uint(rev))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to downgrade to %d: %w", rev, err)
	}
	return nil
}

// previousVersion returns the source version before v, or database.NilVersion when v is the
// first one.
func (t *MigrateTool) previousVersion(v uint) (int, error) {
	src, err := source.Open(t.cfg.SourceURL)
	if err != nil {
		return 0, fmt.Errorf("open migration source: %w", err)
	}
	defer src.Close()

	prev, err := src.Prev(v)
	if errors.Is(err, os.ErrNotExist) {
		return database.NilVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read migration before %d: %w", v, err)
	}
	return int(prev), nil
}

// CurrentRevision reads the version table directly. A missing table means revision 0.
func (t *MigrateTool) CurrentRevision(ctx context.Context) (Revision, error) {
	table := pq.QuoteIdentifier(t.cfg.Namespace) + "." + pq.QuoteIdentifier(t.cfg.VersionTable)

	var reg sql.NullString
	if err := t.db.QueryRowContext(ctx, "SELECT to_regclass($1)::text", table).Scan(&reg); err != nil {
		return 0, fmt.Errorf("lookup version table: %w", err)
	}
	if !reg.Valid {
		return 0, nil
	}

	var (
		version int64
		dirty   bool
	)
	err := t.db.QueryRowContext(ctx, "SELECT version, dirty FROM "+table+" LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		t.logger.Warn("migration version is dirty", "version", version)
	}
	if version < 0 {
		return 0, nil
	}
	return Revision(version), nil
}

// RenderSQL returns the up scripts an Upgrade to target would run, read straight from the
// source. The database is only read.
func (t *MigrateTool) RenderSQL(ctx context.Context, target Revision) ([]string, error) {
	current, err := t.CurrentRevision(ctx)
	if err != nil {
		return nil, err
	}

	src, err := source.Open(t.cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	defer src.Close()

	versions, err := listVersions(src)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, v := range versions {
		if v <= uint(current) || (target != 0 && v > uint(target)) {
			continue
		}
		body, ok, err := readScript(src.ReadUp, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, fmt.Sprintf("-- up %d\n%s", v, body))
		}
	}
	return out, nil
}

// Close releases the migrate instance together with the database handle it wraps.
func (t *MigrateTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		return nil
	}
	srcErr, dbErr := t.m.Close()
	t.m = nil
	return errors.Join(srcErr, dbErr)
}

func listVersions(src source.Driver) ([]uint, error) {
	v, err := src.First()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read first migration: %w", err)
	}

	versions := []uint{v}
	for {
		next, err := src.Next(v)
		if errors.Is(err, os.ErrNotExist) {
			return versions, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read migration after %d: %w", v, err)
		}
		versions = append(versions, next)
		v = next
	}
}

func readScript(read func(uint) (io.ReadCloser, string, error), v uint) (string, bool, error) {
	r, _, err := read(v)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read migration %d: %w", v, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("read migration %d: %w", v, err)
	}
	return strings.TrimSpace(string(body)), true, nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
