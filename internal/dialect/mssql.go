package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

type MSSQLDialect struct{}

var mssqlTypes = map[string]string{
	"string":    "NVARCHAR(255)",
	"text":      "NVARCHAR(MAX)",
	"integer":   "INT",
	"int":       "INT",
	"bigint":    "BIGINT",
	"float":     "FLOAT",
	"double":    "FLOAT",
	"decimal":   "DECIMAL(18,6)",
	"boolean":   "BIT",
	"bool":      "BIT",
	"timestamp": "DATETIMEOFFSET",
	"datetime":  "DATETIME2",
	"date":      "DATE",
	"json":      "NVARCHAR(MAX)",
	"uuid":      "UNIQUEIDENTIFIER",
}

func (d *MSSQLDialect) Name() string { return "sqlserver" }

func (d *MSSQLDialect) ColumnsQuery() string {
	return `SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS c JOIN INFORMATION_SCHEMA.TABLES t ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME WHERE c.TABLE_SCHEMA = ` + d.Placeholder(0) + ` AND t.TABLE_TYPE = 'BASE TABLE' ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`
}

func (d *MSSQLDialect) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index+1)
}

// T-SQL has no CREATE TABLE IF NOT EXISTS; guard with OBJECT_ID instead.
func (d *MSSQLDialect) CreateTableQuery(schema, table string, cols []ColumnDef) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n%s\n)",
		escapeLiteral(qualify(d, schema, table)), qualify(d, schema, table), columnList(d, cols))
}

func (d *MSSQLDialect) AddColumnQuery(schema, table string, col ColumnDef) string {
	return fmt.Sprintf("IF COL_LENGTH(N'%s', N'%s') IS NULL\nALTER TABLE %s ADD %s %s",
		escapeLiteral(qualify(d, schema, table)), escapeLiteral(col.Name),
		qualify(d, schema, table), d.QuoteIdent(col.Name), col.Type)
}

func (d *MSSQLDialect) IsAlreadyExists(err error) bool {
	const objectExists, duplicateColumn = 2714, 2705

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == objectExists || msErr.Number == duplicateColumn
	}
	var msErrPtr *mssql.Error
	if errors.As(err, &msErrPtr) {
		return msErrPtr.Number == objectExists || msErrPtr.Number == duplicateColumn
	}
	return false
}

func (d *MSSQLDialect) QuoteIdent(name string) string {
	if isSimpleIdent(name) {
		return name
	}
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *MSSQLDialect) ColumnType(logical string) (string, error) {
	return mapType(mssqlTypes, logical)
}

func (d *MSSQLDialect) GetSchemaName(input string) string {
	if input == "" {
		return "dbo"
	}
	return input
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// NameFolding follows the database's default collation.
func (d *MSSQLDialect) NameFolding(ctx context.Context, db *sql.DB) (NameFolding, error) {
	var ci int
	if err := db.QueryRowContext(ctx, "SELECT CASE WHEN 'a' = 'A' THEN 1 ELSE 0 END").Scan(&ci); err != nil {
		return NameFolding{}, fmt.Errorf("read collation: %w", err)
	}
	return NameFolding{Tables: ci == 1, Columns: ci == 1}, nil
}
