// Package consistency compares the model catalog with the live schema of one namespace.
//
// Problems are returned as Issue values, never as errors: a caller always gets a list and
// must look at Category to tell drift apart from a check that could not run.
package consistency

import "fmt"

// Category separates expected drift from tooling failures.
type Category string

const (
	CategorySchemaDrift Category = "schema_drift"
	CategorySystemError Category = "system_error"
)

// Kind narrows an issue down to what was found.
type Kind string

const (
	KindMissingTable        Kind = "missing_table"
	KindMissingColumn       Kind = "missing_column"
	KindOrphanedTable       Kind = "orphaned_table"
	KindIntrospectionFailed Kind = "introspection_failed"
	KindRepairFailed        Kind = "repair_failed"
)

// Issue is one finding. Table and Column are set for drift issues.
type Issue struct {
	Category    Category `json:"category"`
	Kind        Kind     `json:"kind"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Table       string   `json:"table,omitempty"`
	Column      string   `json:"column,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s (%s)", i.Category, i.Description, i.Location)
}

// IsDrift reports schema drift issues.
func (i Issue) IsDrift() bool { return i.Category == CategorySchemaDrift }

func missingTable(ns, table string) Issue {
	return Issue{
		Category:    CategorySchemaDrift,
		Kind:        KindMissingTable,
		Description: fmt.Sprintf("%s missing in database schema", table),
		Location:    ns + "." + table,
		Table:       table,
	}
}

func missingColumn(ns, table, column string) Issue {
	return Issue{
		Category:    CategorySchemaDrift,
		Kind:        KindMissingColumn,
		Description: fmt.Sprintf("Column '%s' missing", column),
		Location:    ns + "." + table + "." + column,
		Table:       table,
		Column:      column,
	}
}

func orphanedTable(ns, table string) Issue {
	return Issue{
		Category:    CategorySchemaDrift,
		Kind:        KindOrphanedTable,
		Description: fmt.Sprintf("Orphaned table '%s'", table),
		Location:    ns + "." + table,
		Table:       table,
	}
}

func systemError(kind Kind, location string, err error) Issue {
	return Issue{
		Category:    CategorySystemError,
		Kind:        kind,
		Description: err.Error(),
		Location:    location,
	}
}

// Filter returns the issues of the given kinds.
func Filter(issues []Issue, kinds ...Kind) []Issue {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []Issue
	for _, i := range issues {
		if want[i.Kind] {
			out = append(out, i)
		}
	}
	return out
}

// HasSystemError reports whether any issue is a tooling failure.
func HasSystemError(issues []Issue) bool {
	for _, i := range issues {
		if i.Category == CategorySystemError {
			return true
		}
	}
	return false
}
