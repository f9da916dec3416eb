package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/consistency"
	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/report"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the model catalog with the live schema",
	Long: `Reports missing tables, missing columns and orphaned tables in the configured namespace.
With --auto-repair, missing tables and columns are created. Orphaned tables are never dropped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer pushMetrics()

		models, err := catalog.Load(Conf.Catalog.Path)
		if err != nil {
			return err
		}

		d := dialect.GetDialect(DBInfo.Driver)
		fmt.Printf("🔎 Checking %d models against %s (%s)\n", len(models), SchemaName, DBInfo.Driver)

		checker := consistency.NewChecker(Provider.DB(), d, consistency.Config{
			Namespace:    SchemaName,
			IgnoreTables: ignoredTables(),
			Metrics:      Metrics,
		}, Logger)

		autoRepair := viper.GetBool("check.auto_repair")
		res := checker.Reconcile(cmd.Context(), models, autoRepair)

		printIssues(res, autoRepair)

		rep := report.FromRepairs(res)
		w := report.NewWriter(afero.NewOsFs(), Conf.Report.Path, Conf.Report.ArchiveDir)
		archived, err := w.Write(rep)
		if err != nil {
			return err
		}
		if archived != "" {
			Logger.Info("previous report archived", "path", archived)
		}
		fmt.Printf("📄 Report written to %s\n", Conf.Report.Path)

		if consistency.HasSystemError(res.Issues) {
			return fmt.Errorf("consistency check finished with system errors")
		}
		if viper.GetBool("check.fail_on_drift") && rep.HasErrors() {
			return fmt.Errorf("schema drift detected")
		}
		return nil
	},
}

// ignoredTables never count as orphans: the migration version table plus any configured extras.
func ignoredTables() []string {
	return append([]string{Conf.Migrations.Table}, Conf.Catalog.IgnoreTables...)
}

func printIssues(res consistency.ReconcileResult, autoRepair bool) {
	if len(res.Issues) == 0 {
		fmt.Println("✓ No drift found")
		return
	}

	fmt.Println("\n📊 Consistency Report:")
	for i, issue := range res.Issues {
		icon := "!"
		switch {
		case issue.Category == consistency.CategorySystemError:
			icon = "✗"
		case issue.Kind == consistency.KindOrphanedTable:
			icon = "?"
		}
		fmt.Printf("[%s] [%02d/%02d] %-16s %-40s : %s\n", icon, i+1, len(res.Issues), issue.Kind, issue.Location, issue.Description)
	}
	fmt.Println("--------------------------------------------------")

	if autoRepair {
		fmt.Printf("Repairs applied: %d, failed: %d\n", len(res.Applied), len(res.Failures()))
	}
}

func init() {
	RootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Bool("auto-repair", false, "Create missing tables and columns")
	checkCmd.Flags().Bool("fail-on-drift", false, "Exit non-zero when drift is found")

	viper.BindPFlag("check.auto_repair", checkCmd.Flags().Lookup("auto-repair"))
	viper.BindPFlag("check.fail_on_drift", checkCmd.Flags().Lookup("fail-on-drift"))
}
