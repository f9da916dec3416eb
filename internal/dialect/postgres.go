package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type PostgresDialect struct{}

var postgresTypes = map[string]string{
	"string":    "TEXT",
	"text":      "TEXT",
	"integer":   "INTEGER",
	"int":       "INTEGER",
	"bigint":    "BIGINT",
	"float":     "DOUBLE PRECISION",
	"double":    "DOUBLE PRECISION",
	"decimal":   "NUMERIC",
	"boolean":   "BOOLEAN",
	"bool":      "BOOLEAN",
	"timestamp": "TIMESTAMPTZ",
	"datetime":  "TIMESTAMPTZ",
	"date":      "DATE",
	"json":      "JSONB",
	"uuid":      "UUID",
}

func (d *PostgresDialect) Name() string { return "postgres" }

func (d *PostgresDialect) ColumnsQuery() string {
	// Views (and continuous aggregates) are excluded; only base tables take part in drift checks.
	return `SELECT c.table_name, c.column_name, c.data_type
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = ` + d.Placeholder(0) + ` AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`
}

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index+1)
}

func (d *PostgresDialect) CreateTableQuery(schema, table string, cols []ColumnDef) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", qualify(d, schema, table), columnList(d, cols))
}

func (d *PostgresDialect) AddColumnQuery(schema, table string, col ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", qualify(d, schema, table), d.QuoteIdent(col.Name), col.Type)
}

func (d *PostgresDialect) IsAlreadyExists(err error) bool {
	const duplicateTable, duplicateColumn, duplicateObject = "42P07", "42701", "42710"

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case duplicateTable, duplicateColumn, duplicateObject:
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case duplicateTable, duplicateColumn, duplicateObject:
			return true
		}
	}
	return false
}

func (d *PostgresDialect) QuoteIdent(name string) string {
	if isSimpleIdent(name) {
		return name
	}
	return pq.QuoteIdentifier(name)
}

func (d *PostgresDialect) ColumnType(logical string) (string, error) {
	return mapType(postgresTypes, logical)
}

func (d *PostgresDialect) GetSchemaName(input string) string {
	if input == "" {
		return "public"
	}
	return input
}

// NameFolding: quoted identifiers keep their case, so names must match exactly.
func (d *PostgresDialect) NameFolding(context.Context, *sql.DB) (NameFolding, error) {
	return NameFolding{}, nil
}
