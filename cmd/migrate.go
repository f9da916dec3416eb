package cmd

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/consistency"
	"tsdb-reconcile/internal/database"
	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/migration"
	"tsdb-reconcile/internal/report"
	"tsdb-reconcile/internal/timescale"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the phased migration pipeline",
	Long: `Runs VALIDATION, BACKUP, SCHEMA_MIGRATION, HYPERTABLE_SETUP, CONTINUOUS_AGGREGATES,
INDEXES, CONSTRAINTS, VERIFICATION and CLEANUP in order. A failed phase rolls the schema
back to the revision found at the start of the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer pushMetrics()

		if !database.IsPostgres(DBInfo.Driver) {
			return fmt.Errorf("migrate requires a postgres/timescaledb database, got %s", DBInfo.Driver)
		}

		models, err := catalog.Load(Conf.Catalog.Path)
		if err != nil {
			return err
		}

		params, tool := executorParams(models)
		defer tool.Close()

		if dryRun {
			Logger.Info("[SIMULATION] Dry-Run Mode Active: no changes will be applied")
		}

		var current atomic.Value
		current.Store(migration.PhaseValidation.String())

		uiprogress.Start()
		bar := uiprogress.AddBar(len(migration.AllPhases())).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return fmt.Sprintf("%-22s", current.Load().(string))
		})

		params.OnPhase = func(p migration.Phase) {
			if next := p + 1; next <= migration.PhaseCleanup {
				current.Store(next.String())
			} else {
				current.Store("DONE")
			}
			bar.Incr()
		}

		start := time.Now()
		result, runErr := migration.NewExecutor(params).ExecuteMigrations(cmd.Context(), dryRun)
		uiprogress.Stop()

		printMigration(result, time.Since(start))

		w := report.NewWriter(afero.NewOsFs(), Conf.Report.MigrationPath, Conf.Report.ArchiveDir)
		if _, err := w.Write(report.FromMigration(result)); err != nil {
			Logger.Error("failed to write migration report", "error", err)
		} else {
			fmt.Printf("📄 Report written to %s\n", Conf.Report.MigrationPath)
		}

		if runErr != nil {
			return runErr
		}
		if !result.Success {
			return fmt.Errorf("migration failed: %w", result.Err)
		}
		return nil
	},
}

// executorParams wires the executor's collaborators from the active configuration.
func executorParams(models []catalog.ModelInfo) (migration.ExecutorParams, *migration.MigrateTool) {
	pool := Provider.Pool()
	d := dialect.GetDialect(DBInfo.Driver)

	tool := migration.NewMigrateTool(Provider.DB(), migration.ToolConfig{
		SourceURL:    Conf.Migrations.Source,
		Namespace:    SchemaName,
		VersionTable: Conf.Migrations.Table,
	}, Logger)

	backupCfg := migration.BackupConfig{Dir: Conf.Backup.Dir, Namespace: SchemaName, Keep: Conf.Backup.Keep, Logger: Logger}
	var backup migration.Backup
	switch Conf.Backup.Strategy {
	case "pg_dump":
		backup = migration.NewDumpBackup(afero.NewOsFs(), DBInfo.DSN, backupCfg)
	case "none":
		backup = migration.NopBackup{}
	default:
		backup = migration.NewSnapshotBackup(afero.NewOsFs(), Provider.DB(), d, backupCfg)
	}

	checker := consistency.NewChecker(Provider.DB(), d, consistency.Config{
		Namespace:    SchemaName,
		IgnoreTables: ignoredTables(),
		Metrics:      Metrics,
	}, Logger)

	params := migration.ExecutorParams{
		Conn:        pool,
		Tool:        tool,
		Lock:        migration.NewPostgresLock(pool),
		Backup:      backup,
		Provisioner: timescale.NewProvisioner(pool, SchemaName, Conf.Timescale, Logger),
		Verifier:    checker,
		Catalog:     models,
		Indexes:     Conf.Indexes,
		Namespace:   SchemaName,
		Target:      migration.Revision(viper.GetUint("migrations.target")),
		LockKey:     Conf.Migrations.LockKey,
		Logger:      Logger,
		Metrics:     Metrics,
	}
	return params, tool
}

func printMigration(res *migration.MigrationResult, elapsed time.Duration) {
	mode := "Migration"
	if res.DryRun {
		mode = "Dry-run"
	}
	fmt.Printf("\n📊 %s Summary (run %s):\n", mode, res.RunID)

	for _, p := range migration.AllPhases() {
		switch {
		case res.Completed(p):
			fmt.Printf("[✓] %-22s %s\n", p, res.Durations[p].Round(time.Millisecond))
		case !res.Success && p == res.FailedPhase:
			fmt.Printf("[✗] %-22s %v\n", p, res.Err)
		default:
			fmt.Printf("[ ] %s\n", p)
		}
	}
	fmt.Println("--------------------------------------------------")
	fmt.Printf("Start revision: %d\n", res.StartRevision)

	if res.RollbackPoint != nil {
		fmt.Printf("Rolled back to revision %d\n", *res.RollbackPoint)
	}
	if res.RollbackErr != nil {
		fmt.Printf("Rollback FAILED: %v\n", res.RollbackErr)
	}

	if res.DryRun && len(res.PreviewSQL) > 0 {
		fmt.Println("\n🔍 SQL that would be applied:")
		for _, stmt := range res.PreviewSQL {
			fmt.Println(strings.TrimSpace(stmt))
			fmt.Println()
		}
	}
	fmt.Printf("Outcome: %s, time elapsed: %s\n", res.Outcome(), elapsed.Round(time.Millisecond))
}

func init() {
	RootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview the SQL without applying anything")
	migrateCmd.Flags().Uint("target", 0, "Target revision (0 = latest)")

	viper.BindPFlag("migrations.target", migrateCmd.Flags().Lookup("target"))
}
