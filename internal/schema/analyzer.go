package schema

import (
	"context"
	"database/sql"
	"fmt"

	"tsdb-reconcile/internal/dialect"
)

// Inspect queries the (table, column) pairs of every base table in the namespace.
// It is not cached: every call hits the database.
func Inspect(ctx context.Context, db *sql.DB, d dialect.Dialect, namespace string) ([]ExistingColumn, error) {
	target := d.GetSchemaName(namespace)

	rows, err := db.QueryContext(ctx, d.ColumnsQuery(), target)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var cols []ExistingColumn
	for rows.Next() {
		var tName, cName, dType sql.NullString
		if err := rows.Scan(&tName, &cName, &dType); err != nil {
			return nil, fmt.Errorf("failed to scan column (table: %s): %w", tName.String, err)
		}
		if !tName.Valid || !cName.Valid {
			continue // Skip invalid rows
		}
		cols = append(cols, ExistingColumn{
			TableName:  tName.String,
			ColumnName: cName.String,
			DataType:   dType.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	return cols, nil
}

// Analyze groups introspected rows into tables, keeping first-seen order. Names are matched
// according to fold.
func Analyze(namespace string, cols []ExistingColumn, fold dialect.NameFolding) *Snapshot {
	s := &Snapshot{
		Namespace: namespace,
		fold:      fold,
		tableMap:  make(map[string]*Table),
		colMap:    make(map[string]map[string]*Column),
	}

	for _, c := range cols {
		key := s.TableKey(c.TableName)
		t, ok := s.tableMap[key]
		if !ok {
			t = &Table{Name: c.TableName}
			s.tableMap[key] = t
			s.colMap[key] = make(map[string]*Column)
			s.Tables = append(s.Tables, t)
		}

		colKey := s.columnKey(c.ColumnName)
		if _, dup := s.colMap[key][colKey]; dup {
			continue
		}
		col := &Column{Name: c.ColumnName, DataType: c.DataType}
		s.colMap[key][colKey] = col
		t.Columns = append(t.Columns, col)
	}
	return s
}
