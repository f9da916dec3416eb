package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/schema"
)

func TestInspect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("analytics_data").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("kpi_values", "time", "timestamp with time zone").
			AddRow("kpi_values", "value", "double precision").
			AddRow(nil, "ghost", "text").
			AddRow("kpis", "id", "integer"))

	cols, err := schema.Inspect(context.Background(), db, &dialect.PostgresDialect{}, "analytics_data")
	require.NoError(t, err)
	assert.Equal(t, []schema.ExistingColumn{
		{TableName: "kpi_values", ColumnName: "time", DataType: "timestamp with time zone"},
		{TableName: "kpi_values", ColumnName: "value", DataType: "double precision"},
		{TableName: "kpis", ColumnName: "id", DataType: "integer"},
	}, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInspect_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.columns").WillReturnError(errors.New("permission denied"))

	_, err = schema.Inspect(context.Background(), db, &dialect.PostgresDialect{}, "analytics_data")
	assert.ErrorContains(t, err, "permission denied")
}

func TestAnalyze(t *testing.T) {
	snap := schema.Analyze("analytics_data", []schema.ExistingColumn{
		{TableName: "kpi_values", ColumnName: "time"},
		{TableName: "KPIS", ColumnName: "ID"},
		{TableName: "kpi_values", ColumnName: "value"},
		{TableName: "kpi_values", ColumnName: "value"},
	}, dialect.NameFolding{Tables: true, Columns: true})

	require.Len(t, snap.Tables, 2)
	assert.Equal(t, "kpi_values", snap.Tables[0].Name)
	assert.Len(t, snap.Tables[0].Columns, 2)

	assert.True(t, snap.HasTable("kpis"))
	assert.True(t, snap.HasColumn("kpis", "id"))
	assert.True(t, snap.HasColumn("kpi_values", "value"))
	assert.False(t, snap.HasColumn("kpi_values", "unit"))
	assert.False(t, snap.HasColumn("sites", "id"))
	assert.False(t, snap.HasTable("sites"))

	tbl, ok := snap.Table("KPI_VALUES")
	require.True(t, ok)
	assert.Equal(t, "kpi_values", tbl.Name)
}

func TestAnalyze_ExactNames(t *testing.T) {
	snap := schema.Analyze("analytics_data", []schema.ExistingColumn{
		{TableName: "KPIS", ColumnName: "ID"},
		{TableName: "kpis", ColumnName: "id"},
		{TableName: "kpis", ColumnName: "Name"},
	}, dialect.NameFolding{})

	require.Len(t, snap.Tables, 2)
	assert.True(t, snap.HasTable("KPIS"))
	assert.True(t, snap.HasColumn("kpis", "Name"))
	assert.False(t, snap.HasColumn("kpis", "name"))
	assert.False(t, snap.HasColumn("KPIS", "id"))
	assert.Equal(t, "KPIS", snap.TableKey("KPIS"))
}

func TestAnalyze_FoldColumnsOnly(t *testing.T) {
	snap := schema.Analyze("kpi", []schema.ExistingColumn{
		{TableName: "Kpis", ColumnName: "ID"},
	}, dialect.NameFolding{Columns: true})

	assert.True(t, snap.HasColumn("Kpis", "id"))
	assert.False(t, snap.HasTable("kpis"))
}
