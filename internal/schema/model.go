package schema

import (
	"strings"

	"tsdb-reconcile/internal/dialect"
)

// ExistingColumn is one (table, column) row returned by introspection.
type ExistingColumn struct {
	TableName  string `json:"table_name"`
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type,omitempty"`
}

type Table struct {
	Name    string
	Columns []*Column
}

type Column struct {
	Name     string
	DataType string
}

// Snapshot is the live shape of one namespace.
type Snapshot struct {
	Namespace string
	Tables    []*Table // introspection order

	fold     dialect.NameFolding
	tableMap map[string]*Table
	colMap   map[string]map[string]*Column
}

func foldKey(name string, fold bool) string {
	if fold {
		return strings.ToUpper(name)
	}
	return name
}

// TableKey is the name under which the snapshot matches a table.
func (s *Snapshot) TableKey(name string) string { return foldKey(name, s.fold.Tables) }

func (s *Snapshot) columnKey(name string) string { return foldKey(name, s.fold.Columns) }

// Table looks a table up by name.
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.tableMap[s.TableKey(name)]
	return t, ok
}

// HasTable reports whether the namespace contains the table.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.tableMap[s.TableKey(name)]
	return ok
}

// HasColumn reports whether the table exists and carries the column.
func (s *Snapshot) HasColumn(table, column string) bool {
	cols, ok := s.colMap[s.TableKey(table)]
	if !ok {
		return false
	}
	_, ok = cols[s.columnKey(column)]
	return ok
}
