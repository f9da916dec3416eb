package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdb-reconcile/internal/database"
	"tsdb-reconcile/internal/dialect"
	"tsdb-reconcile/internal/metrics"
)

var (
	dsn        string
	driverFlag string
	cfgFile    string

	Provider   *database.Provider
	DBInfo     *DBConfig
	SchemaName string
	Conf       *Settings
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
)

var RootCmd = &cobra.Command{
	Use:   "tsdb-reconcile",
	Short: "Schema reconciliation and migration runner for TimescaleDB analytics stores",
	Long: `
 _____ ____  ____  ____    ____  _____ ____ ___  _   _  ____ ___ _     _____
|_   _/ ___||  _ \| __ )  |  _ \| ____/ ___/ _ \| \ | |/ ___|_ _| |   | ____|
  | | \___ \| | | |  _ \  | |_) |  _|| |  | | | |  \| | |    | || |   |  _|
  | |  ___) | |_| | |_) | |  _ <| |__| |__| |_| | |\  | |___ | || |___| |___
  |_| |____/|____/|____/  |_| \_\_____\____\___/|_| \_|\____|___|_____|_____|

Checks the model catalog against the live schema, repairs simple drift and runs
phased, rollback-capable migrations with hypertable and continuous aggregate setup.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Conf, err = LoadSettings()
		if err != nil {
			return err
		}
		Logger = newLogger(Conf.Log)
		slog.SetDefault(Logger)
		Metrics = metrics.NewRecorder()

		DBInfo, err = GetActiveDBConfig()
		if err != nil {
			// Fall back to --dsn / --driver when the config has no databases section.
			if dsn == "" {
				return err
			}
			DBInfo = &DBConfig{Name: "cli", Driver: driverFlag, DSN: dsn, Active: true}
		}
		if DBInfo.Driver == "" {
			DBInfo.Driver = detectDriver(DBInfo.DSN)
		}

		Provider, err = database.Open(cmd.Context(), database.Config{
			Driver:          DBInfo.Driver,
			DSN:             DBInfo.DSN,
			MaxConns:        DBInfo.MaxConns,
			MinConns:        DBInfo.MinConns,
			MaxConnIdleTime: DBInfo.MaxConnIdleTime,
		})
		if err != nil {
			return err
		}

		SchemaName, err = resolveNamespace(cmd.Context(), DBInfo)
		if err != nil {
			return err
		}
		Logger.Debug("connected", "database", DBInfo.Name, "driver", DBInfo.Driver, "namespace", SchemaName)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if Provider != nil {
			return Provider.Close()
		}
		return nil
	},
}

// pushMetrics sends the run's metrics to the configured Pushgateway. Commands defer it so
// failed runs are pushed too.
func pushMetrics() {
	if Conf == nil || Conf.Metrics.Pushgateway == "" {
		return
	}
	if err := Metrics.Push(Conf.Metrics.Pushgateway, Conf.Metrics.Job); err != nil {
		Logger.Warn("metrics push failed", "error", err)
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tsdb-reconcile.yaml)")
	RootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database Source Name (DSN), used when no database is configured")
	RootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "database driver for --dsn (postgres, mysql, sqlserver, oracle)")
	RootCmd.PersistentFlags().String("namespace", "", "schema to check and migrate (overrides the database entry)")
	RootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("namespace", RootCmd.PersistentFlags().Lookup("namespace"))
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 1. Executable directory
		ex, err := os.Executable()
		if err == nil {
			viper.AddConfigPath(filepath.Dir(ex))
		}

		// 2. Current directory
		viper.AddConfigPath(".")

		viper.SetConfigName("tsdb-reconcile")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.SetEnvPrefix("TSDB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func detectDriver(connStr string) string {
	switch {
	case strings.HasPrefix(connStr, "postgres") || strings.Contains(connStr, "sslmode"):
		return "postgres"
	case strings.HasPrefix(connStr, "sqlserver://"):
		return "sqlserver"
	case strings.HasPrefix(connStr, "oracle://"):
		return "oracle"
	default:
		return "mysql"
	}
}

func resolveNamespace(ctx context.Context, cfg *DBConfig) (string, error) {
	if ns := viper.GetString("namespace"); ns != "" {
		return ns, nil
	}
	if cfg.Namespace != "" {
		return cfg.Namespace, nil
	}
	if cfg.Driver == "mysql" {
		var name string
		if err := Provider.DB().QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
			return "", fmt.Errorf("failed to get database name: %w", err)
		}
		if name == "" {
			return "", fmt.Errorf("no database selected in DSN")
		}
		return name, nil
	}
	return dialect.GetDialect(cfg.Driver).GetSchemaName(""), nil
}

func newLogger(cfg LogSettings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
