package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdb-reconcile/internal/catalog"
)

const sampleCatalog = `
models:
  - name: KpiValue
    table_name: kpi_values
    fields:
      time: timestamp
      kpi_id: integer
      value: float
    relationships:
      - column: kpi_id
        target_table: kpis
  - name: Kpi
    table_name: kpis
    fields:
      id: integer
      name: string
`

func TestParse(t *testing.T) {
	models, err := catalog.Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, "kpi_values", models[0].TableName)
	assert.Equal(t, []string{"kpi_id", "time", "value"}, models[0].FieldNames())
	assert.Equal(t, "fk_kpi_values_kpi_id", models[0].Relationships[0].ConstraintName("kpi_values"))
	assert.Equal(t, "id", models[0].Relationships[0].ReferencedColumn())
	assert.Equal(t, []string{"kpis"}, models[0].Dependencies())
	assert.NoError(t, catalog.ValidateAll(models))
}

func TestParse_DuplicateFieldRejected(t *testing.T) {
	_, err := catalog.Parse([]byte(`
models:
  - name: Dup
    table_name: dup
    fields:
      a: integer
      a: string
`))
	assert.Error(t, err)
}

func TestParse_MissingTableName(t *testing.T) {
	_, err := catalog.Parse([]byte(`
models:
  - name: NoTable
    fields:
      a: integer
`))
	assert.ErrorContains(t, err, "no table_name")
}

func TestParse_Empty(t *testing.T) {
	models, err := catalog.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	models, err := catalog.Load(path)
	require.NoError(t, err)
	assert.Len(t, models, 2)

	_, err = catalog.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		model catalog.ModelInfo
		ok    bool
	}{
		{"valid", catalog.ModelInfo{Name: "m", TableName: "metrics", Fields: map[string]string{"ts": "timestamp"}}, true},
		{"bad table", catalog.ModelInfo{Name: "m", TableName: "drop table;", Fields: map[string]string{"ts": "timestamp"}}, false},
		{"no fields", catalog.ModelInfo{Name: "m", TableName: "metrics"}, false},
		{"bad field", catalog.ModelInfo{Name: "m", TableName: "metrics", Fields: map[string]string{"a-b": "integer"}}, false},
		{"empty type", catalog.ModelInfo{Name: "m", TableName: "metrics", Fields: map[string]string{"a": ""}}, false},
		{"relationship on undeclared column", catalog.ModelInfo{
			Name: "m", TableName: "metrics", Fields: map[string]string{"a": "integer"},
			Relationships: []catalog.Relationship{{Column: "site_id", TargetTable: "sites"}},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.model.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
