package dialect

import (
	"context"
	"database/sql"
)

// ColumnDef is a column to be created by repair DDL.
type ColumnDef struct {
	Name string
	Type string // already mapped to the dialect's SQL type
}

// NameFolding says which identifiers the database matches regardless of case.
type NameFolding struct {
	Tables  bool
	Columns bool
}

// Dialect abstracts database-specific introspection and repair DDL.
type Dialect interface {
	Name() string

	// Metadata Queries (Schema Introspection)
	// ColumnsQuery returns (table_name, column_name, data_type) rows for base tables
	// of the schema bound to Placeholder(0).
	ColumnsQuery() string
	Placeholder(index int) string // Returns ?, $1, @p1, :1

	// Repair DDL. Every statement must be safe to run when the object already exists.
	CreateTableQuery(schema, table string, cols []ColumnDef) string
	AddColumnQuery(schema, table string, col ColumnDef) string
	// IsAlreadyExists reports errors that mean a repair target already exists.
	IsAlreadyExists(err error) bool

	// Helpers
	QuoteIdent(name string) string
	ColumnType(logical string) (string, error)
	GetSchemaName(input string) string
	// NameFolding reports how live names compare with catalog names. Some databases
	// decide this per server, so it may query db.
	NameFolding(ctx context.Context, db *sql.DB) (NameFolding, error)
}
