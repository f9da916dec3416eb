// Package report turns check and migration results into the archived JSON report.
package report

import (
	"fmt"
	"sort"

	"tsdb-reconcile/internal/consistency"
	"tsdb-reconcile/internal/migration"
)

// Entry groups findings of one type.
type Entry struct {
	Type  string   `json:"type"`
	Count int      `json:"count"`
	Items []string `json:"items"`
}

type Report struct {
	Errors   []Entry `json:"errors"`
	Warnings []Entry `json:"warnings"`
	Info     []Entry `json:"info"`
}

// HasErrors reports whether the report carries any error entry.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

func newReport() *Report {
	return &Report{Errors: []Entry{}, Warnings: []Entry{}, Info: []Entry{}}
}

// FromIssues builds a report from a consistency check. Missing tables, missing columns and
// system errors are errors; orphaned tables are warnings.
func FromIssues(issues []consistency.Issue) *Report {
	r := newReport()

	groups := make(map[consistency.Kind][]string)
	var order []consistency.Kind
	drift, system := 0, 0

	for _, i := range issues {
		if _, seen := groups[i.Kind]; !seen {
			order = append(order, i.Kind)
		}
		groups[i.Kind] = append(groups[i.Kind], fmt.Sprintf("%s: %s", i.Location, i.Description))
		if i.IsDrift() {
			drift++
		} else {
			system++
		}
	}

	for _, kind := range order {
		items := groups[kind]
		e := Entry{Type: string(kind), Count: len(items), Items: items}
		if kind == consistency.KindOrphanedTable {
			r.Warnings = append(r.Warnings, e)
		} else {
			r.Errors = append(r.Errors, e)
		}
	}

	r.Info = append(r.Info,
		Entry{Type: "total_issues", Count: len(issues), Items: []string{}},
		Entry{Type: string(consistency.CategorySchemaDrift), Count: drift, Items: []string{}},
		Entry{Type: string(consistency.CategorySystemError), Count: system, Items: []string{}},
	)
	return r
}

// FromRepairs adds the statements applied by a reconcile run.
func FromRepairs(res consistency.ReconcileResult) *Report {
	r := FromIssues(res.Issues)
	applied := append([]string{}, res.Applied...)
	r.Info = append(r.Info, Entry{Type: "repairs_applied", Count: len(applied), Items: applied})
	return r
}

// FromMigration builds a report from a migration run.
func FromMigration(res *migration.MigrationResult) *Report {
	r := newReport()

	completed := make([]string, len(res.PhasesCompleted))
	for i, p := range res.PhasesCompleted {
		completed[i] = p.String()
	}

	if !res.Success && res.Err != nil {
		r.Errors = append(r.Errors, Entry{
			Type:  "migration_failed",
			Count: 1,
			Items: []string{fmt.Sprintf("%s: %v", res.FailedPhase, res.Err)},
		})
	}
	if res.RollbackErr != nil {
		r.Errors = append(r.Errors, Entry{Type: "rollback_failed", Count: 1, Items: []string{res.RollbackErr.Error()}})
	}
	if res.RollbackPoint != nil {
		r.Warnings = append(r.Warnings, Entry{
			Type:  "rolled_back",
			Count: 1,
			Items: []string{fmt.Sprintf("schema returned to revision %d", *res.RollbackPoint)},
		})
	}

	r.Info = append(r.Info,
		Entry{Type: "run", Count: 1, Items: []string{
			"id=" + res.RunID,
			"outcome=" + res.Outcome(),
			fmt.Sprintf("dry_run=%t", res.DryRun),
			fmt.Sprintf("start_revision=%d", res.StartRevision),
		}},
		Entry{Type: "phases_completed", Count: len(completed), Items: completed},
	)

	if len(res.Durations) > 0 {
		phases := make([]migration.Phase, 0, len(res.Durations))
		for p := range res.Durations {
			phases = append(phases, p)
		}
		sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })

		items := make([]string, len(phases))
		for i, p := range phases {
			items[i] = fmt.Sprintf("%s=%s", p, res.Durations[p])
		}
		r.Info = append(r.Info, Entry{Type: "phase_durations", Count: len(items), Items: items})
	}

	if len(res.PreviewSQL) > 0 {
		preview := append([]string{}, res.PreviewSQL...)
		r.Info = append(r.Info, Entry{Type: "preview_sql", Count: len(preview), Items: preview})
	}
	return r
}
