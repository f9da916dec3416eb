// Package catalog holds the model definitions the database is expected to match.
package catalog

import (
	"fmt"
	"regexp"
	"sort"
)

// ModelInfo describes one expected entity: its table and the columns it must carry.
type ModelInfo struct {
	Name          string            `yaml:"name"`
	TableName     string            `yaml:"table_name"`
	Fields        map[string]string `yaml:"fields"` // field name -> logical type
	Relationships []Relationship    `yaml:"relationships"`
}

// Relationship is a reference from a column of the model's table to another catalog table.
type Relationship struct {
	Name         string `yaml:"name"`
	Column       string `yaml:"column"`
	TargetTable  string `yaml:"target_table"`
	TargetColumn string `yaml:"target_column"`
	OnDelete     string `yaml:"on_delete"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s is a plain SQL identifier.
func IsIdentifier(s string) bool {
	return len(s) <= 63 && identRe.MatchString(s)
}

// FieldNames returns the model's field names in sorted order.
func (m ModelInfo) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConstraintName returns the relationship's constraint name, deriving one when unset.
func (r Relationship) ConstraintName(table string) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("fk_%s_%s", table, r.Column)
}

// ReferencedColumn defaults to "id".
func (r Relationship) ReferencedColumn() string {
	if r.TargetColumn == "" {
		return "id"
	}
	return r.TargetColumn
}

// Dependencies returns the distinct target tables of the model's relationships,
// excluding self references.
func (m ModelInfo) Dependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	for _, r := range m.Relationships {
		if r.TargetTable == "" || r.TargetTable == m.TableName || seen[r.TargetTable] {
			continue
		}
		seen[r.TargetTable] = true
		deps = append(deps, r.TargetTable)
	}
	return deps
}

// Validate checks that every name the model contributes to generated DDL is a plain identifier.
func (m ModelInfo) Validate() error {
	if !IsIdentifier(m.TableName) {
		return fmt.Errorf("model %q: invalid table name %q", m.Name, m.TableName)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("model %q: no fields declared", m.Name)
	}
	for name, typ := range m.Fields {
		if !IsIdentifier(name) {
			return fmt.Errorf("model %q: invalid field name %q", m.Name, name)
		}
		if typ == "" {
			return fmt.Errorf("model %q: field %q has no type", m.Name, name)
		}
	}
	for _, r := range m.Relationships {
		if !IsIdentifier(r.Column) || !IsIdentifier(r.TargetTable) || !IsIdentifier(r.ReferencedColumn()) {
			return fmt.Errorf("model %q: invalid relationship %+v", m.Name, r)
		}
		if !IsIdentifier(r.ConstraintName(m.TableName)) {
			return fmt.Errorf("model %q: invalid constraint name %q", m.Name, r.ConstraintName(m.TableName))
		}
		if _, ok := m.Fields[r.Column]; !ok {
			return fmt.Errorf("model %q: relationship column %q is not a declared field", m.Name, r.Column)
		}
	}
	return nil
}

// ValidateAll validates every model in the catalog.
func ValidateAll(models []ModelInfo) error {
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}
