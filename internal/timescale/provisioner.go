// Package timescale provisions TimescaleDB structures on top of the relational schema:
// hypertables, retention policies and continuous aggregates.
package timescale

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultChunkInterval = "7 days"

var intervalRe = regexp.MustCompile(`^\d+\s*(microseconds?|milliseconds?|seconds?|minutes?|hours?|days?|weeks?|months?|years?)$`)

// Execer is the online handle the provisioner runs statements on. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Hypertable turns a plain table into a hypertable partitioned on TimeColumn.
type Hypertable struct {
	Table           string `mapstructure:"table"`
	TimeColumn      string `mapstructure:"time_column"`
	ChunkInterval   string `mapstructure:"chunk_interval"`
	RetentionPeriod string `mapstructure:"retention_period"`
}

// Policy is the refresh policy of a continuous aggregate.
type Policy struct {
	StartOffset      string `mapstructure:"start_offset"`
	EndOffset        string `mapstructure:"end_offset"`
	ScheduleInterval string `mapstructure:"schedule_interval"`
}

// ContinuousAggregate is a materialized rollup of a hypertable in fixed time buckets.
type ContinuousAggregate struct {
	Name        string   `mapstructure:"name"`
	Source      string   `mapstructure:"source"`
	TimeColumn  string   `mapstructure:"time_column"`
	BucketWidth string   `mapstructure:"bucket_width"`
	Select      []string `mapstructure:"select"`
	GroupBy     []string `mapstructure:"group_by"`
	Policy      *Policy  `mapstructure:"policy"`
}

type Config struct {
	Hypertables          []Hypertable          `mapstructure:"hypertables"`
	ContinuousAggregates []ContinuousAggregate `mapstructure:"continuous_aggregates"`
}

// Statement is one SQL statement with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// String renders the statement with its arguments inlined, for previews only.
func (s Statement) String() string {
	out := s.SQL
	for i := len(s.Args); i >= 1; i-- {
		lit := "'" + strings.ReplaceAll(fmt.Sprint(s.Args[i-1]), "'", "''") + "'"
		out = strings.ReplaceAll(out, fmt.Sprintf("$%d", i), lit)
	}
	return out + ";"
}

type Provisioner struct {
	conn      Execer
	namespace string
	cfg       Config
	logger    *slog.Logger
}

func NewProvisioner(conn Execer, namespace string, cfg Config, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		conn:      conn,
		namespace: namespace,
		cfg:       cfg,
		logger:    logger.With("component", "timescale"),
	}
}

// Enabled reports whether any time-series object is configured.
func (p *Provisioner) Enabled() bool {
	return p != nil && (len(p.cfg.Hypertables) > 0 || len(p.cfg.ContinuousAggregates) > 0)
}

// Validate checks the configuration without touching the database.
func (p *Provisioner) Validate() error {
	hypertables := make(map[string]bool, len(p.cfg.Hypertables))
	for _, h := range p.cfg.Hypertables {
		if h.Table == "" || h.TimeColumn == "" {
			return fmt.Errorf("hypertable %q: table and time_column are required", h.Table)
		}
		if h.ChunkInterval != "" && !intervalRe.MatchString(h.ChunkInterval) {
			return fmt.Errorf("hypertable %s: invalid chunk_interval %q", h.Table, h.ChunkInterval)
		}
		if h.RetentionPeriod != "" && !intervalRe.MatchString(h.RetentionPeriod) {
			return fmt.Errorf("hypertable %s: invalid retention_period %q", h.Table, h.RetentionPeriod)
		}
		hypertables[strings.ToLower(h.Table)] = true
	}

	for _, ca := range p.cfg.ContinuousAggregates {
		if ca.Name == "" || ca.TimeColumn == "" {
			return fmt.Errorf("continuous aggregate %q: name and time_column are required", ca.Name)
		}
		if !hypertables[strings.ToLower(ca.Source)] {
			return fmt.Errorf("continuous aggregate %s: source %q is not a configured hypertable", ca.Name, ca.Source)
		}
		if !intervalRe.MatchString(ca.BucketWidth) {
			return fmt.Errorf("continuous aggregate %s: invalid bucket_width %q", ca.Name, ca.BucketWidth)
		}
		if len(ca.Select) == 0 {
			return fmt.Errorf("continuous aggregate %s: at least one select expression is required", ca.Name)
		}
		if ca.Policy != nil {
			for _, v := range []string{ca.Policy.StartOffset, ca.Policy.EndOffset, ca.Policy.ScheduleInterval} {
				if !intervalRe.MatchString(v) {
					return fmt.Errorf("continuous aggregate %s: invalid policy interval %q", ca.Name, v)
				}
			}
		}
	}
	return nil
}

// CheckExtension fails when the timescaledb extension is not installed.
func (p *Provisioner) CheckExtension(ctx context.Context) error {
	var installed bool
	err := p.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&installed)
	if err != nil {
		return fmt.Errorf("check timescaledb extension: %w", err)
	}
	if !installed {
		return fmt.Errorf("timescaledb extension is not installed")
	}
	return nil
}

func (p *Provisioner) qualified(name string) string {
	return pgx.Identifier{p.namespace, name}.Sanitize()
}

// PlanHypertables returns the statements SetupHypertables would run.
func (p *Provisioner) PlanHypertables() []Statement {
	var stmts []Statement
	for _, h := range p.cfg.Hypertables {
		chunk := h.ChunkInterval
		if chunk == "" {
			chunk = defaultChunkInterval
		}
		stmts = append(stmts, Statement{
			SQL:  `SELECT create_hypertable($1::regclass, $2::name, chunk_time_interval => $3::interval, if_not_exists => TRUE, migrate_data => TRUE)`,
			Args: []any{p.qualified(h.Table), h.TimeColumn, chunk},
		})
		if h.RetentionPeriod != "" {
			stmts = append(stmts, Statement{
				SQL:  `SELECT add_retention_policy($1::regclass, $2::interval, if_not_exists => TRUE)`,
				Args: []any{p.qualified(h.Table), h.RetentionPeriod},
			})
		}
	}
	return stmts
}

// PlanContinuousAggregates returns the statements SetupContinuousAggregates would run.
func (p *Provisioner) PlanContinuousAggregates() []Statement {
	var stmts []Statement
	for _, ca := range p.cfg.ContinuousAggregates {
		cols := append([]string{fmt.Sprintf("time_bucket(INTERVAL '%s', %s) AS bucket", ca.BucketWidth, pgx.Identifier{ca.TimeColumn}.Sanitize())}, ca.GroupBy...)
		cols = append(cols, ca.Select...)
		group := append([]string{"bucket"}, ca.GroupBy...)

		var sb strings.Builder
		fmt.Fprintf(&sb, "CREATE MATERIALIZED VIEW IF NOT EXISTS %s\nWITH (timescaledb.continuous) AS\n", p.qualified(ca.Name))
		fmt.Fprintf(&sb, "SELECT %s\nFROM %s\nGROUP BY %s\nWITH NO DATA", strings.Join(cols, ", "), p.qualified(ca.Source), strings.Join(group, ", "))
		stmts = append(stmts, Statement{SQL: sb.String()})

		if ca.Policy != nil {
			stmts = append(stmts, Statement{
				SQL:  `SELECT add_continuous_aggregate_policy($1::regclass, start_offset => $2::interval, end_offset => $3::interval, schedule_interval => $4::interval, if_not_exists => TRUE)`,
				Args: []any{p.qualified(ca.Name), ca.Policy.StartOffset, ca.Policy.EndOffset, ca.Policy.ScheduleInterval},
			})
		}
	}
	return stmts
}

// SetupHypertables converts the configured tables. Safe to re-run.
func (p *Provisioner) SetupHypertables(ctx context.Context) error {
	return p.run(ctx, "hypertable", p.PlanHypertables())
}

// SetupContinuousAggregates creates the aggregates and their policies. Statements run in
// autocommit mode: a continuous aggregate cannot be created inside a transaction block.
func (p *Provisioner) SetupContinuousAggregates(ctx context.Context) error {
	return p.run(ctx, "continuous aggregate", p.PlanContinuousAggregates())
}

func (p *Provisioner) run(ctx context.Context, what string, stmts []Statement) error {
	for _, s := range stmts {
		if _, err := p.conn.Exec(ctx, s.SQL, s.Args...); err != nil {
			return fmt.Errorf("%s setup failed: %w", what, err)
		}
	}
	if len(stmts) > 0 {
		p.logger.Info("provisioned "+what+"s", "statements", len(stmts))
	}
	return nil
}

// Verify checks that every configured hypertable is registered with TimescaleDB.
func (p *Provisioner) Verify(ctx context.Context) error {
	var missing []string
	for _, h := range p.cfg.Hypertables {
		var ok bool
		err := p.conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM timescaledb_information.hypertables WHERE hypertable_schema = $1 AND hypertable_name = $2)`,
			p.namespace, h.Table).Scan(&ok)
		if err != nil {
			return fmt.Errorf("verify hypertable %s: %w", h.Table, err)
		}
		if !ok {
			missing = append(missing, h.Table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("tables are not hypertables: %s", strings.Join(missing, ", "))
	}
	return nil
}
