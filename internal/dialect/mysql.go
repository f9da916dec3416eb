package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type MysqlDialect struct{}

var mysqlTypes = map[string]string{
	"string":    "VARCHAR(255)",
	"text":      "TEXT",
	"integer":   "INT",
	"int":       "INT",
	"bigint":    "BIGINT",
	"float":     "DOUBLE",
	"double":    "DOUBLE",
	"decimal":   "DECIMAL(18,6)",
	"boolean":   "TINYINT(1)",
	"bool":      "TINYINT(1)",
	"timestamp": "DATETIME(6)",
	"datetime":  "DATETIME(6)",
	"date":      "DATE",
	"json":      "JSON",
	"uuid":      "CHAR(36)",
}

func (d *MysqlDialect) Name() string { return "mysql" }

func (d *MysqlDialect) ColumnsQuery() string {
	return `SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE FROM information_schema.COLUMNS c JOIN information_schema.TABLES t ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME WHERE c.TABLE_SCHEMA = ` + d.Placeholder(0) + ` AND t.TABLE_TYPE = 'BASE TABLE' ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`
}

func (d *MysqlDialect) Placeholder(index int) string {
	return "?"
}

func (d *MysqlDialect) CreateTableQuery(schema, table string, cols []ColumnDef) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", qualify(d, schema, table), columnList(d, cols))
}

// AddColumnQuery has no IF NOT EXISTS guard in MySQL; duplicates surface as error 1060,
// which IsAlreadyExists accepts.
func (d *MysqlDialect) AddColumnQuery(schema, table string, col ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", qualify(d, schema, table), d.QuoteIdent(col.Name), col.Type)
}

func (d *MysqlDialect) IsAlreadyExists(err error) bool {
	const tableExists, dupFieldName = 1050, 1060

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == tableExists || myErr.Number == dupFieldName
	}
	return false
}

func (d *MysqlDialect) QuoteIdent(name string) string {
	if isSimpleIdent(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MysqlDialect) ColumnType(logical string) (string, error) {
	return mapType(mysqlTypes, logical)
}

func (d *MysqlDialect) GetSchemaName(input string) string {
	return input
}

// NameFolding: column names never depend on case. Table names do unless the server
// runs with lower_case_table_names set.
func (d *MysqlDialect) NameFolding(ctx context.Context, db *sql.DB) (NameFolding, error) {
	var lower int
	if err := db.QueryRowContext(ctx, "SELECT @@lower_case_table_names").Scan(&lower); err != nil {
		return NameFolding{}, fmt.Errorf("read lower_case_table_names: %w", err)
	}
	return NameFolding{Tables: lower != 0, Columns: true}, nil
}
