package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection configuration. For sqlite, Database is
// the file path.
type Config struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the driver specific data source name
func (c *Config) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres, "":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		), nil
	case DriverSQLite:
		if c.Database == "" {
			return "", errors.New("sqlite database path is empty")
		}
		return c.Database + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// DB wraps sqlx.DB with monitoring and metrics
type DB struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config
	done    chan struct{}
}

// Open connects to the configured database and starts pool monitoring
func Open(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite allows one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "[DB_INIT] Database connection established", logging.Fields{
		"driver":            cfg.Driver,
		"host":              cfg.Host,
		"database":          cfg.Database,
		"max_open_conns":    cfg.MaxOpenConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		done:    make(chan struct{}),
	}

	go d.monitorConnectionPool()

	return d, nil
}

// Close stops pool monitoring and closes the connection
func (d *DB) Close() error {
	d.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"database": d.config.Database,
	})
	close(d.done)
	return d.db.Close()
}

// DB returns the underlying sqlx.DB instance
func (d *DB) DB() *sqlx.DB {
	return d.db
}

// Driver returns the driver name the connection was opened with
func (d *DB) Driver() string {
	return d.config.Driver
}

// Rebind converts a query written with ? placeholders to the driver's bindvars
func (d *DB) Rebind(query string) string {
	return d.db.Rebind(query)
}

func (d *DB) observe(ctx context.Context, queryType string, start time.Time) {
	duration := time.Since(start)
	d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	d.logger.Debug(ctx, "[DB_QUERY] Query executed", logging.Fields{
		"query_type":  queryType,
		"duration_ms": duration.Milliseconds(),
	})
}

// ExecContext executes a command with context and metrics
func (d *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	defer d.observe(ctx, queryType, time.Now())

	result, err := d.db.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		d.metrics.RecordDBError("exec_error")
		d.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}
	return result, nil
}

// GetContext executes a query that returns a single row. sql.ErrNoRows is
// returned unlogged.
func (d *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	defer d.observe(ctx, queryType, time.Now())

	err := d.db.GetContext(ctx, dest, d.Rebind(query), args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		d.metrics.RecordDBError("get_error")
		d.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}
	return err
}

// SelectContext executes a query that returns multiple rows
func (d *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	defer d.observe(ctx, queryType, time.Now())

	err := d.db.SelectContext(ctx, dest, d.Rebind(query), args...)
	if err != nil {
		d.metrics.RecordDBError("select_error")
		d.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}
	return nil
}

// BeginTx begins a new transaction. Postgres transactions are serializable;
// sqlite only knows its default isolation.
func (d *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	var opts *sql.TxOptions
	if d.config.Driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := d.db.BeginTxx(ctx, opts)
	if err != nil {
		d.metrics.RecordDBError("transaction_begin_error")
		d.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}
	return tx, nil
}

// monitorConnectionPool periodically updates connection pool metrics
func (d *DB) monitorConnectionPool() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
		}
		stats := d.db.Stats()
		d.metrics.UpdateDBConnectionPool(stats.InUse, stats.Idle, stats.OpenConnections)

		if stats.MaxOpenConnections <= 0 {
			continue
		}
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if utilization > 0.8 {
			d.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    stats.MaxOpenConnections,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
