package report

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdb-reconcile/internal/consistency"
	"tsdb-reconcile/internal/migration"
)

func sampleIssues() []consistency.Issue {
	return []consistency.Issue{
		{Category: consistency.CategorySchemaDrift, Kind: consistency.KindMissingTable, Description: "kpis missing in database schema", Location: "analytics.kpis"},
		{Category: consistency.CategorySchemaDrift, Kind: consistency.KindMissingColumn, Description: "Column 'unit' missing", Location: "analytics.kpi_values.unit"},
		{Category: consistency.CategorySchemaDrift, Kind: consistency.KindMissingColumn, Description: "Column 'source' missing", Location: "analytics.kpi_values.source"},
		{Category: consistency.CategorySchemaDrift, Kind: consistency.KindOrphanedTable, Description: "Orphaned table 'legacy'", Location: "analytics.legacy"},
		{Category: consistency.CategorySystemError, Kind: consistency.KindRepairFailed, Description: "repair of analytics.kpis failed", Location: "analytics.kpis"},
	}
}

func TestFromIssues(t *testing.T) {
	r := FromIssues(sampleIssues())

	require.Len(t, r.Errors, 3)
	assert.Equal(t, "missing_table", r.Errors[0].Type)
	assert.Equal(t, "missing_column", r.Errors[1].Type)
	assert.Equal(t, 2, r.Errors[1].Count)
	assert.Equal(t, "analytics.kpi_values.unit: Column 'unit' missing", r.Errors[1].Items[0])
	assert.Equal(t, "repair_failed", r.Errors[2].Type)

	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "orphaned_table", r.Warnings[0].Type)

	assert.Equal(t, []Entry{
		{Type: "total_issues", Count: 5, Items: []string{}},
		{Type: "schema_drift", Count: 4, Items: []string{}},
		{Type: "system_error", Count: 1, Items: []string{}},
	}, r.Info)
	assert.True(t, r.HasErrors())
}

func TestFromIssues_Clean(t *testing.T) {
	r := FromIssues(nil)
	assert.False(t, r.HasErrors())
	assert.Empty(t, r.Warnings)
	assert.Equal(t, 0, r.Info[0].Count)
}

func TestFromRepairs(t *testing.T) {
	r := FromRepairs(consistency.ReconcileResult{
		Issues:  sampleIssues()[:1],
		Applied: []string{"CREATE TABLE IF NOT EXISTS analytics.kpis (...)"},
	})
	last := r.Info[len(r.Info)-1]
	assert.Equal(t, "repairs_applied", last.Type)
	assert.Equal(t, 1, last.Count)
}

func TestFromMigration(t *testing.T) {
	point := migration.Revision(3)
	res := &migration.MigrationResult{
		RunID:           "run-1",
		PhasesCompleted: []migration.Phase{migration.PhaseValidation, migration.PhaseBackup},
		StartRevision:   3,
		RollbackPoint:   &point,
		FailedPhase:     migration.PhaseSchemaMigration,
		Err:             errors.New("phase SCHEMA_MIGRATION: syntax error"),
		Durations: map[migration.Phase]time.Duration{
			migration.PhaseBackup:     2 * time.Second,
			migration.PhaseValidation: time.Second,
		},
	}

	r := FromMigration(res)

	require.Len(t, r.Errors, 1)
	assert.Equal(t, "migration_failed", r.Errors[0].Type)
	assert.Contains(t, r.Errors[0].Items[0], "SCHEMA_MIGRATION")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "schema returned to revision 3", r.Warnings[0].Items[0])

	assert.Equal(t, "run", r.Info[0].Type)
	assert.Contains(t, r.Info[0].Items, "outcome=rolled_back")
	assert.Equal(t, []string{"VALIDATION", "BACKUP"}, r.Info[1].Items)
	assert.Equal(t, []string{"VALIDATION=1s", "BACKUP=2s"}, r.Info[2].Items)
}

func TestFromMigration_DryRunPreview(t *testing.T) {
	res := &migration.MigrationResult{
		Success:         true,
		DryRun:          true,
		PhasesCompleted: migration.AllPhases(),
		PreviewSQL:      []string{"-- up 1\nCREATE TABLE kpis (id BIGINT);"},
	}
	r := FromMigration(res)

	assert.False(t, r.HasErrors())
	last := r.Info[len(r.Info)-1]
	assert.Equal(t, "preview_sql", last.Type)
	assert.Equal(t, 1, last.Count)
}

func TestWriter_ArchivesBeforeWriting(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	w := &Writer{Fs: fs, Path: "/reports/consistency_report.json", ArchiveDir: "/reports/archive", Now: func() time.Time { return now }}

	archived, err := w.Write(FromIssues(nil))
	require.NoError(t, err)
	assert.Empty(t, archived)

	archived, err = w.Write(FromIssues(sampleIssues()))
	require.NoError(t, err)
	assert.Equal(t, "/reports/archive/consistency_report_20261001_083000.json", archived)

	old, err := (&Writer{Fs: fs, Path: archived}).Read()
	require.NoError(t, err)
	assert.False(t, old.HasErrors())

	current, err := w.Read()
	require.NoError(t, err)
	assert.True(t, current.HasErrors())

	// Same second: the earlier archive is not overwritten.
	archived, err = w.Write(FromIssues(nil))
	require.NoError(t, err)
	assert.Equal(t, "/reports/archive/consistency_report_20261001_083000_1.json", archived)
}

func TestWriter_DefaultArchiveDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/out/report.json", "")
	w.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err := w.Write(FromIssues(nil))
	require.NoError(t, err)
	archived, err := w.Write(FromIssues(nil))
	require.NoError(t, err)
	assert.Equal(t, "/out/archive/report_20260102_030405.json", archived)
}

func TestWriter_JSONKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/r.json", "/archive")
	_, err := w.Write(FromIssues(sampleIssues()[3:4]))
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/r.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"errors": []`)
	assert.Contains(t, string(data), `"warnings": [`)
	assert.Contains(t, string(data), `"type": "orphaned_table"`)
	assert.Contains(t, string(data), `"count": 1`)
	assert.Contains(t, string(data), `"items": [`)
}
