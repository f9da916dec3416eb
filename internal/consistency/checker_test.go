package consistency

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/dialect"
)

const ns = "analytics_data"

func newTestChecker(t *testing.T) (*Checker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewChecker(db, &dialect.PostgresDialect{}, Config{Namespace: ns}, nil), mock
}

// expectColumns queues one introspection query returning "table.column" pairs.
func expectColumns(mock sqlmock.Sqlmock, pairs ...string) {
	rows := sqlmock.NewRows([]string{"table_name", "column_name", "data_type"})
	for _, p := range pairs {
		table, column, _ := strings.Cut(p, ".")
		rows.AddRow(table, column, "text")
	}
	mock.ExpectQuery("FROM information_schema.columns").WithArgs(ns).WillReturnRows(rows)
}

func kpiValues() catalog.ModelInfo {
	return catalog.ModelInfo{
		Name:      "KpiValue",
		TableName: "kpi_values",
		Fields:    map[string]string{"time": "timestamp", "kpi_id": "integer", "value": "float"},
		Relationships: []catalog.Relationship{
			{Column: "kpi_id", TargetTable: "kpis"},
		},
	}
}

func kpis() catalog.ModelInfo {
	return catalog.ModelInfo{
		Name:      "Kpi",
		TableName: "kpis",
		Fields:    map[string]string{"id": "integer", "name": "string"},
	}
}

func TestRunCheck_NoDrift(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "kpi_values.time", "kpi_values.kpi_id", "kpi_values.value", "kpis.id", "kpis.name")

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpiValues(), kpis()})

	assert.Empty(t, issues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCheck_MissingTable(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "kpis.id", "kpis.name")

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpiValues(), kpis()})

	require.Len(t, issues, 1)
	assert.Equal(t, CategorySchemaDrift, issues[0].Category)
	assert.Equal(t, KindMissingTable, issues[0].Kind)
	assert.Equal(t, "analytics_data.kpi_values", issues[0].Location)
	assert.Contains(t, issues[0].Description, "missing in database schema")
}

func TestRunCheck_MissingColumn(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "kpi_values.time", "kpi_values.kpi_id", "kpis.id", "kpis.name")

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpiValues(), kpis()})

	require.Len(t, issues, 1)
	assert.Equal(t, CategorySchemaDrift, issues[0].Category)
	assert.Equal(t, KindMissingColumn, issues[0].Kind)
	assert.Equal(t, "analytics_data.kpi_values.value", issues[0].Location)
	assert.Contains(t, issues[0].Description, "Column 'value' missing")
}

func TestRunCheck_OrphanedTable(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "kpis.id", "kpis.name", "legacy_events.id", "schema_migrations.version")

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpis()})

	require.Len(t, issues, 1)
	assert.Equal(t, KindOrphanedTable, issues[0].Kind)
	assert.Contains(t, issues[0].Description, "Orphaned table 'legacy_events'")
	assert.Equal(t, "analytics_data.legacy_events", issues[0].Location)
}

func TestRunCheck_PostgresMatchesExactNames(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "KPIS.id", "KPIS.name")

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpis()})

	require.Len(t, issues, 2)
	assert.Equal(t, KindMissingTable, issues[0].Kind)
	assert.Equal(t, "analytics_data.kpis", issues[0].Location)
	assert.Equal(t, KindOrphanedTable, issues[1].Kind)
	assert.Equal(t, "analytics_data.KPIS", issues[1].Location)
}

func TestRunCheck_MysqlFoldsCase(t *testing.T) {
	tests := []struct {
		name      string
		lowerCase int
		wantKinds []Kind
	}{
		{name: "lower_case_table_names set", lowerCase: 1, wantKinds: nil},
		{name: "case-sensitive tables", lowerCase: 0, wantKinds: []Kind{KindMissingTable, KindOrphanedTable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery("FROM information_schema.COLUMNS").WithArgs(ns).
				WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE"}).
					AddRow("KPIS", "ID", "int").
					AddRow("KPIS", "Name", "varchar"))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT @@lower_case_table_names")).
				WillReturnRows(sqlmock.NewRows([]string{"@@lower_case_table_names"}).AddRow(tt.lowerCase))

			c := NewChecker(db, &dialect.MysqlDialect{}, Config{Namespace: ns}, nil)
			issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpis()})

			var kinds []Kind
			for _, i := range issues {
				kinds = append(kinds, i.Kind)
			}
			assert.Equal(t, tt.wantKinds, kinds)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunCheck_FoldingQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE"}).AddRow("kpis", "id", "int"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT @@lower_case_table_names")).WillReturnError(errors.New("access denied"))

	c := NewChecker(db, &dialect.MysqlDialect{}, Config{Namespace: ns}, nil)
	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpis()})

	require.Len(t, issues, 1)
	assert.Equal(t, KindIntrospectionFailed, issues[0].Kind)
	assert.Contains(t, issues[0].Description, "access denied")
}

func TestRunCheck_Ordering(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "zzz_orphan.id", "kpis.id")

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpiValues(), kpis()})

	require.Len(t, issues, 3)
	assert.Equal(t, KindMissingTable, issues[0].Kind)
	assert.Equal(t, KindMissingColumn, issues[1].Kind)
	assert.Equal(t, "analytics_data.kpis.name", issues[1].Location)
	assert.Equal(t, KindOrphanedTable, issues[2].Kind)
}

func TestRunCheck_IntrospectionFailure(t *testing.T) {
	c, mock := newTestChecker(t)
	mock.ExpectQuery("FROM information_schema.columns").WillReturnError(errors.New("connection refused"))

	issues := c.RunCheck(context.Background(), []catalog.ModelInfo{kpis()})

	require.Len(t, issues, 1)
	assert.Equal(t, CategorySystemError, issues[0].Category)
	assert.Equal(t, KindIntrospectionFailed, issues[0].Kind)
	assert.Contains(t, issues[0].Description, "connection refused")
	assert.True(t, HasSystemError(issues))
}

func TestRunCheck_GeneratedCatalogsWithoutDrift(t *testing.T) {
	faker := gofakeit.New(42)

	for run := 0; run < 25; run++ {
		c, mock := newTestChecker(t)

		var defs []catalog.ModelInfo
		var pairs []string
		tables := faker.Number(1, 6)
		for i := 0; i < tables; i++ {
			table := fmt.Sprintf("t%d_%s", i, strings.ToLower(faker.LetterN(6)))
			m := catalog.ModelInfo{Name: table, TableName: table, Fields: map[string]string{}}
			fields := faker.Number(1, 8)
			for j := 0; j < fields; j++ {
				field := fmt.Sprintf("f%d_%s", j, strings.ToLower(faker.LetterN(4)))
				m.Fields[field] = faker.RandomString([]string{"integer", "float", "string", "timestamp"})
				pairs = append(pairs, table+"."+field)
			}
			defs = append(defs, m)
		}
		expectColumns(mock, pairs...)

		assert.Empty(t, c.RunCheck(context.Background(), defs), "run %d", run)
	}
}

func TestReconcile_NoAutoRepairIssuesNoDDL(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "kpis.id")

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{kpiValues(), kpis()}, false)

	assert.Len(t, res.Issues, 2)
	assert.Empty(t, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_MissingTableIsIdempotent(t *testing.T) {
	c, mock := newTestChecker(t)
	create := regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics_data.kpis (")

	for run := 0; run < 2; run++ {
		expectColumns(mock)
		mock.ExpectBegin()
		mock.ExpectExec(create).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
	}

	for run := 0; run < 2; run++ {
		res := c.Reconcile(context.Background(), []catalog.ModelInfo{kpis()}, true)
		assert.Empty(t, res.Failures(), "run %d", run)
		require.Len(t, res.Applied, 1)
		assert.Contains(t, res.Applied[0], "id INTEGER")
		assert.Contains(t, res.Applied[0], "name TEXT")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_MissingColumnIsIdempotent(t *testing.T) {
	c, mock := newTestChecker(t)
	alter := regexp.QuoteMeta("ALTER TABLE analytics_data.kpis ADD COLUMN IF NOT EXISTS name TEXT")

	for run := 0; run < 2; run++ {
		expectColumns(mock, "kpis.id")
		mock.ExpectBegin()
		mock.ExpectExec(alter).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
	}

	for run := 0; run < 2; run++ {
		res := c.Reconcile(context.Background(), []catalog.ModelInfo{kpis()}, true)
		assert.Empty(t, res.Failures())
		assert.Len(t, res.Applied, 1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_TablesBeforeColumnsInDependencyOrder(t *testing.T) {
	c, mock := newTestChecker(t)
	sites := catalog.ModelInfo{Name: "Site", TableName: "sites", Fields: map[string]string{"id": "integer", "region": "string"}}

	expectColumns(mock, "sites.id")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics_data.kpis (")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics_data.kpi_values (")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE analytics_data.sites ADD COLUMN IF NOT EXISTS region TEXT")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{sites, kpiValues(), kpis()}, true)

	assert.Empty(t, res.Failures())
	assert.Len(t, res.Applied, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_PartialFailureKeepsEarlierRepairs(t *testing.T) {
	c, mock := newTestChecker(t)
	first := catalog.ModelInfo{Name: "A", TableName: "alpha", Fields: map[string]string{"id": "integer"}}
	second := catalog.ModelInfo{Name: "B", TableName: "beta", Fields: map[string]string{"id": "integer"}}
	third := catalog.ModelInfo{Name: "C", TableName: "gamma", Fields: map[string]string{"id": "integer"}}

	expectColumns(mock)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics_data.alpha")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics_data.beta")).WillReturnError(&pq.Error{Code: "42501", Message: "permission denied"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics_data.gamma")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{first, second, third}, true)

	require.Len(t, res.Applied, 2)
	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, CategorySystemError, failures[0].Category)
	assert.Equal(t, "analytics_data.beta", failures[0].Location)
	assert.Contains(t, failures[0].Description, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_ConcurrentCreateCountsAsApplied(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(&pq.Error{Code: "42P07"})
	mock.ExpectRollback()

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{kpis()}, true)

	assert.Empty(t, res.Failures())
	assert.Len(t, res.Applied, 1)
}

func TestReconcile_UnsupportedTypeIsReported(t *testing.T) {
	c, mock := newTestChecker(t)
	bad := catalog.ModelInfo{Name: "Bad", TableName: "bad", Fields: map[string]string{"x": "int; drop table kpis"}}
	expectColumns(mock)

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{bad}, true)

	require.Len(t, res.Failures(), 1)
	assert.Contains(t, res.Failures()[0].Description, "unsupported column type")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_OrphansAreNeverDropped(t *testing.T) {
	c, mock := newTestChecker(t)
	expectColumns(mock, "kpis.id", "kpis.name", "legacy_events.id")

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{kpis()}, true)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, KindOrphanedTable, res.Issues[0].Kind)
	assert.Empty(t, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_IntrospectionFailureSkipsRepair(t *testing.T) {
	c, mock := newTestChecker(t)
	mock.ExpectQuery("FROM information_schema.columns").WillReturnError(errors.New("timeout"))

	res := c.Reconcile(context.Background(), []catalog.ModelInfo{kpis()}, true)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, CategorySystemError, res.Issues[0].Category)
	assert.Empty(t, res.Applied)
}
