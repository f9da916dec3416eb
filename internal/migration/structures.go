package migration

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/dialect"
)

var pg = &dialect.PostgresDialect{}

// IndexSpec is a secondary index created in the INDEXES phase.
type IndexSpec struct {
	Name    string   `mapstructure:"name"`
	Table   string   `mapstructure:"table"`
	Columns []string `mapstructure:"columns"`
	Unique  bool     `mapstructure:"unique"`
	Method  string   `mapstructure:"method"` // btree, brin, gin, ...
}

func (s IndexSpec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("idx_%s_%s", s.Table, strings.Join(s.Columns, "_"))
}

func (s IndexSpec) validate() error {
	if !catalog.IsIdentifier(s.Table) || len(s.Columns) == 0 {
		return fmt.Errorf("index %q: table and columns are required", s.Name)
	}
	if !catalog.IsIdentifier(s.name()) {
		return fmt.Errorf("index %q: invalid name", s.name())
	}
	for _, c := range s.Columns {
		if !catalog.IsIdentifier(c) {
			return fmt.Errorf("index %s: invalid column %q", s.name(), c)
		}
	}
	if s.Method != "" && !catalog.IsIdentifier(s.Method) {
		return fmt.Errorf("index %s: invalid method %q", s.name(), s.Method)
	}
	return nil
}

// Statement renders an idempotent CREATE INDEX.
func (s IndexSpec) Statement(namespace string) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if s.Unique {
		sb.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&sb, "INDEX IF NOT EXISTS %s ON %s.%s", pg.QuoteIdent(s.name()), pg.QuoteIdent(namespace), pg.QuoteIdent(s.Table))
	if s.Method != "" {
		fmt.Fprintf(&sb, " USING %s", strings.ToLower(s.Method))
	}

	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = pg.QuoteIdent(c)
	}
	fmt.Fprintf(&sb, " (%s)", strings.Join(cols, ", "))
	return sb.String()
}

var onDeleteActions = map[string]bool{
	"CASCADE":     true,
	"SET NULL":    true,
	"SET DEFAULT": true,
	"RESTRICT":    true,
	"NO ACTION":   true,
}

// ConstraintStatements returns one guarded ALTER TABLE per relationship, referenced tables first.
func ConstraintStatements(namespace string, models []catalog.ModelInfo) ([]string, error) {
	var stmts []string
	for _, m := range catalog.SortByDependencies(models) {
		for _, r := range m.Relationships {
			stmt, err := constraintStatement(namespace, m.TableName, r)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

// constraintStatement wraps the ALTER TABLE in a DO block that checks pg_constraint first,
// since ADD CONSTRAINT has no IF NOT EXISTS form.
func constraintStatement(namespace, table string, r catalog.Relationship) (string, error) {
	onDelete := strings.ToUpper(strings.TrimSpace(r.OnDelete))
	if onDelete != "" && !onDeleteActions[onDelete] {
		return "", fmt.Errorf("unsupported on_delete action %q", r.OnDelete)
	}

	name := r.ConstraintName(table)
	alter := fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s.%s (%s)",
		pg.QuoteIdent(namespace), pg.QuoteIdent(table), pg.QuoteIdent(name),
		pg.QuoteIdent(r.Column),
		pg.QuoteIdent(namespace), pg.QuoteIdent(r.TargetTable), pg.QuoteIdent(r.ReferencedColumn()))
	if onDelete != "" {
		alter += " ON DELETE " + onDelete
	}

	return fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_constraint
        WHERE conname = %s AND connamespace = %s::regnamespace
    ) THEN
        %s;
    END IF;
END $$`, pq.QuoteLiteral(name), pq.QuoteLiteral(pg.QuoteIdent(namespace)), alter), nil
}
