package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/afero"

	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/schema"
)

// Backup takes a restorable copy of the namespace before the schema changes.
type Backup interface {
	Snapshot(ctx context.Context, rev Revision) (id string, err error)
	Discard(ctx context.Context, id string) error
}

// BackupConfig is shared by the backup strategies.
type BackupConfig struct {
	Dir       string
	Namespace string
	// Keep is how many backups of the namespace stay in Dir. With 0 the backup is
	// discarded once the run succeeds.
	Keep   int
	Now    func() time.Time
	Logger *slog.Logger
}

func (c BackupConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

const backupStamp = "20060102_150405"

func (c BackupConfig) name(rev Revision, ext string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_rev%d_%s%s", c.Namespace, rev, c.now().UTC().Format(backupStamp), ext))
}

// prune removes all but the newest Keep backups of the namespace. Failures are logged; the
// backup just taken is already on disk.
func (c BackupConfig) prune(fs afero.Fs) {
	if c.Keep <= 0 {
		return
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := afero.ReadDir(fs, c.Dir)
	if err != nil {
		logger.Warn("could not list backups", "dir", c.Dir, "error", err)
		return
	}

	re := regexp.MustCompile(`^` + regexp.QuoteMeta(c.Namespace) + `_rev\d+_(\d{8}_\d{6})\.(json|dump)$`)
	type backupFile struct{ name, stamp string }
	var files []backupFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := re.FindStringSubmatch(e.Name()); m != nil {
			files = append(files, backupFile{name: e.Name(), stamp: m[1]})
		}
	}
	if len(files) <= c.Keep {
		return
	}

	// newest first
	sort.Slice(files, func(i, j int) bool {
		if files[i].stamp != files[j].stamp {
			return files[i].stamp > files[j].stamp
		}
		return files[i].name > files[j].name
	})
	for _, f := range files[c.Keep:] {
		path := filepath.Join(c.Dir, f.name)
		if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not remove old backup", "path", path, "error", err)
			continue
		}
		logger.Debug("removed old backup", "path", path)
	}
}

// SchemaSnapshot is the document SnapshotBackup writes.
type SchemaSnapshot struct {
	Namespace string                  `json:"namespace"`
	Revision  Revision                `json:"revision"`
	TakenAt   time.Time               `json:"taken_at"`
	Columns   []schema.ExistingColumn `json:"columns"`
}

// SnapshotBackup records the namespace's column layout and revision as JSON. It restores
// nothing by itself; the revision is what rollback returns to.
type SnapshotBackup struct {
	fs      afero.Fs
	db      *sql.DB
	dialect dialect.Dialect
	cfg     BackupConfig
}

func NewSnapshotBackup(fs afero.Fs, db *sql.DB, d dialect.Dialect, cfg BackupConfig) *SnapshotBackup {
	return &SnapshotBackup{fs: fs, db: db, dialect: d, cfg: cfg}
}

func (b *SnapshotBackup) Snapshot(ctx context.Context, rev Revision) (string, error) {
	cols, err := schema.Inspect(ctx, b.db, b.dialect, b.cfg.Namespace)
	if err != nil {
		return "", fmt.Errorf("snapshot schema: %w", err)
	}

	doc := SchemaSnapshot{Namespace: b.cfg.Namespace, Revision: rev, TakenAt: b.cfg.now().UTC(), Columns: cols}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := b.fs.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := b.cfg.name(rev, ".json")
	if err := afero.WriteFile(b.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	b.cfg.prune(b.fs)
	return path, nil
}

func (b *SnapshotBackup) Discard(_ context.Context, id string) error {
	return discard(b.fs, b.cfg.Keep, id)
}

// DumpBackup runs pg_dump for the namespace in custom format.
type DumpBackup struct {
	fs  afero.Fs
	dsn string
	cfg BackupConfig

	// Command runs the dump tool; tests replace it.
	Command func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewDumpBackup(fs afero.Fs, dsn string, cfg BackupConfig) *DumpBackup {
	return &DumpBackup{
		fs:  fs,
		dsn: dsn,
		cfg: cfg,
		Command: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (b *DumpBackup) Snapshot(ctx context.Context, rev Revision) (string, error) {
	if err := b.fs.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := b.cfg.name(rev, ".dump")

	out, err := b.Command(ctx, "pg_dump",
		"--dbname="+b.dsn,
		"--schema="+b.cfg.Namespace,
		"--format=custom",
		"--file="+path,
	)
	if err != nil {
		return "", fmt.Errorf("pg_dump failed: %w: %s", err, out)
	}
	b.cfg.prune(b.fs)
	return path, nil
}

func (b *DumpBackup) Discard(_ context.Context, id string) error {
	return discard(b.fs, b.cfg.Keep, id)
}

// NopBackup takes no backup.
type NopBackup struct{}

func (NopBackup) Snapshot(context.Context, Revision) (string, error) { return "", nil }
func (NopBackup) Discard(context.Context, string) error { return nil }

func discard(fs afero.Fs, keep int, id string) error {
	if keep > 0 || id == "" {
		return nil
	}
	if err := fs.Remove(id); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove backup %s: %w", id, err)
	}
	return nil
}
