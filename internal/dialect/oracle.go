package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sijms/go-ora/v2/network"
)

type OracleDialect struct{}

var oracleTypes = map[string]string{
	"string":    "VARCHAR2(255)",
	"text":      "CLOB",
	"integer":   "NUMBER(10)",
	"int":       "NUMBER(10)",
	"bigint":    "NUMBER(19)",
	"float":     "BINARY_DOUBLE",
	"double":    "BINARY_DOUBLE",
	"decimal":   "NUMBER(18,6)",
	"boolean":   "NUMBER(1)",
	"bool":      "NUMBER(1)",
	"timestamp": "TIMESTAMP WITH TIME ZONE",
	"datetime":  "TIMESTAMP",
	"date":      "DATE",
	"json":      "CLOB",
	"uuid":      "VARCHAR2(36)",
}

// ORA-00955: name is already used by an existing object
// ORA-01430: column being added already exists in table
const (
	oraNameInUse    = 955
	oraColumnExists = 1430
)

func (d *OracleDialect) Name() string { return "oracle" }

func (d *OracleDialect) ColumnsQuery() string {
	// Oracle schemas are users; the owner is matched upper-cased like unquoted identifiers.
	return `
SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE
FROM ALL_TAB_COLUMNS c
JOIN ALL_TABLES t ON t.OWNER = c.OWNER AND t.TABLE_NAME = c.TABLE_NAME
WHERE c.OWNER = UPPER(` + d.Placeholder(0) + `)
ORDER BY c.TABLE_NAME, c.COLUMN_ID`
}

func (d *OracleDialect) Placeholder(index int) string {
	return fmt.Sprintf(":%d", index+1)
}

// Oracle DDL has no IF NOT EXISTS; the PL/SQL wrapper swallows the "already exists" code.
func (d *OracleDialect) CreateTableQuery(schema, table string, cols []ColumnDef) string {
	ddl := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", qualify(d, schema, table), columnList(d, cols))
	return plsqlIgnore(ddl, oraNameInUse)
}

func (d *OracleDialect) AddColumnQuery(schema, table string, col ColumnDef) string {
	ddl := fmt.Sprintf("ALTER TABLE %s ADD (%s %s)", qualify(d, schema, table), d.QuoteIdent(col.Name), col.Type)
	return plsqlIgnore(ddl, oraColumnExists)
}

func (d *OracleDialect) IsAlreadyExists(err error) bool {
	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		return oraErr.ErrCode == oraNameInUse || oraErr.ErrCode == oraColumnExists
	}
	return false
}

func (d *OracleDialect) QuoteIdent(name string) string {
	if isSimpleIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *OracleDialect) ColumnType(logical string) (string, error) {
	return mapType(oracleTypes, logical)
}

func (d *OracleDialect) GetSchemaName(input string) string {
	return strings.ToUpper(input)
}

func plsqlIgnore(ddl string, code int) string {
	return fmt.Sprintf(`BEGIN
    EXECUTE IMMEDIATE '%s';
EXCEPTION
    WHEN OTHERS THEN
        IF SQLCODE != -%d THEN
            RAISE;
        END IF;
END;`, escapeLiteral(ddl), code)
}

// NameFolding: unquoted identifiers are stored upper-cased.
func (d *OracleDialect) NameFolding(context.Context, *sql.DB) (NameFolding, error) {
	return NameFolding{Tables: true, Columns: true}, nil
}
