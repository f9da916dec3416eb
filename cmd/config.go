package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"tsdb-reconcile/internal/migration"
	"tsdb-reconcile/internal/timescale"
)

type DBConfig struct {
	Name      string `mapstructure:"name"`
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	Namespace string `mapstructure:"namespace"`
	Active    bool   `mapstructure:"active"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// GetActiveDBConfig returns the currently active database configuration.
func GetActiveDBConfig() (*DBConfig, error) {
	var configs []DBConfig

	if err := viper.UnmarshalKey("databases", &configs); err != nil {
		return nil, fmt.Errorf("failed to parse databases config: %w", err)
	}

	var activeConfig *DBConfig
	count := 0

	for i := range configs {
		if configs[i].Active {
			activeConfig = &configs[i]
			count++
		}
	}

	if count == 0 {
		return nil, fmt.Errorf("no active database found in config (set active: true)")
	}
	if count > 1 {
		return nil, fmt.Errorf("multiple active databases found (only one can be active)")
	}

	return activeConfig, nil
}

type CatalogSettings struct {
	Path         string   `mapstructure:"path"`
	IgnoreTables []string `mapstructure:"ignore_tables"`
}

type MigrationSettings struct {
	Source  string `mapstructure:"source"`
	Table   string `mapstructure:"table"`
	Target  uint   `mapstructure:"target"`
	LockKey string `mapstructure:"lock_key"`
}

type BackupSettings struct {
	Strategy string `mapstructure:"strategy"` // snapshot, pg_dump or none
	Dir      string `mapstructure:"dir"`
	Keep     int    `mapstructure:"keep"` // backups retained per namespace; 0 discards after success
}

type ReportSettings struct {
	Path          string `mapstructure:"path"`
	MigrationPath string `mapstructure:"migration_path"`
	ArchiveDir    string `mapstructure:"archive_dir"`
}

type MetricsSettings struct {
	Pushgateway string `mapstructure:"pushgateway"`
	Job         string `mapstructure:"job"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings is everything in tsdb-reconcile.yaml except the databases list.
type Settings struct {
	Catalog    CatalogSettings       `mapstructure:"catalog"`
	Migrations MigrationSettings     `mapstructure:"migrations"`
	Timescale  timescale.Config      `mapstructure:"timescale"`
	Indexes    []migration.IndexSpec `mapstructure:"indexes"`
	Backup     BackupSettings        `mapstructure:"backup"`
	Report     ReportSettings        `mapstructure:"report"`
	Metrics    MetricsSettings       `mapstructure:"metrics"`
	Log        LogSettings           `mapstructure:"log"`
}

func setDefaults() {
	viper.SetDefault("catalog.path", "models.yaml")
	viper.SetDefault("migrations.source", "file://migrations")
	viper.SetDefault("migrations.table", migration.DefaultVersionTable)
	viper.SetDefault("migrations.lock_key", migration.DefaultLockKey)
	viper.SetDefault("backup.strategy", "snapshot")
	viper.SetDefault("backup.dir", "backups")
	viper.SetDefault("report.path", "reports/consistency_report.json")
	viper.SetDefault("report.migration_path", "reports/migration_report.json")
	viper.SetDefault("report.archive_dir", "reports/archive")
	viper.SetDefault("metrics.job", "tsdb_reconcile")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// LoadSettings decodes the configuration sections.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	switch s.Backup.Strategy {
	case "snapshot", "pg_dump", "none":
	default:
		return nil, fmt.Errorf("unknown backup.strategy %q (snapshot, pg_dump, none)", s.Backup.Strategy)
	}
	if s.Backup.Keep < 0 {
		return nil, fmt.Errorf("backup.keep must not be negative, got %d", s.Backup.Keep)
	}
	return &s, nil
}
