package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tsdb-reconcile/internal/catalog"
	"tsdb-reconcile/internal/consistency"
	"tsdb-reconcile/internal/database"
	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/migration"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current revision, pending migrations and a drift summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fmt.Printf("🦅 %s (%s), namespace %s\n", DBInfo.Name, DBInfo.Driver, SchemaName)

		if database.IsPostgres(DBInfo.Driver) {
			tool := migration.NewMigrateTool(Provider.DB(), migration.ToolConfig{
				SourceURL:    Conf.Migrations.Source,
				Namespace:    SchemaName,
				VersionTable: Conf.Migrations.Table,
			}, Logger)

			rev, err := tool.CurrentRevision(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Revision: %d\n", rev)

			pending, err := tool.RenderSQL(ctx, 0)
			if err != nil {
				Logger.Warn("could not read migration source", "source", Conf.Migrations.Source, "error", err)
			} else {
				fmt.Printf("Pending migrations: %d\n", len(pending))
			}
		}

		models, err := catalog.Load(Conf.Catalog.Path)
		if err != nil {
			return err
		}

		checker := consistency.NewChecker(Provider.DB(), dialect.GetDialect(DBInfo.Driver), consistency.Config{
			Namespace:    SchemaName,
			IgnoreTables: ignoredTables(),
		}, Logger)
		issues := checker.RunCheck(ctx, models)

		counts := make(map[consistency.Kind]int)
		for _, i := range issues {
			counts[i.Kind]++
		}
		fmt.Println("--------------------------------------------------")
		for _, k := range []consistency.Kind{
			consistency.KindMissingTable,
			consistency.KindMissingColumn,
			consistency.KindOrphanedTable,
			consistency.KindIntrospectionFailed,
		} {
			fmt.Printf("%-22s : %d\n", k, counts[k])
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
