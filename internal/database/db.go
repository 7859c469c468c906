package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

const pingTimeout = 5 * time.Second

// Config holds what is needed to open a connection pool.
type Config struct {
	Dialect         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Conn is an open database handle. Pool is only set for PostgreSQL, where
// sqlx runs on top of the pgx pool.
type Conn struct {
	DB      *sqlx.DB
	Dialect *Dialect
	Pool    *pgxpool.Pool

	logger *slog.Logger
}

// Connect opens and pings a connection pool for cfg.Dialect.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	d, err := Lookup(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	logger.Info("connecting to database", slog.String("dialect", d.Name), slog.String("dsn", RedactDSN(cfg.DSN)))

	connect := d.connect
	if connect == nil {
		connect = connectSQL
	}
	conn, err := connect(ctx, d, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w (dsn %s)", d.Name, err, RedactDSN(cfg.DSN))
	}
	conn.logger = logger

	logger.Info("database connection pool established", slog.String("dialect", d.Name))
	return conn, nil
}

// NewConn wraps an already opened handle. Used by tests and callers that
// manage their own *sql.DB.
func NewConn(db *sqlx.DB, d *Dialect) *Conn {
	return &Conn{DB: db, Dialect: d, logger: slog.New(slog.DiscardHandler)}
}

func connectSQL(ctx context.Context, d *Dialect, cfg Config) (*Conn, error) {
	db, err := sqlx.Open(d.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	applyPoolLimits(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Conn{DB: db, Dialect: d}, nil
}

func applyPoolLimits(db *sqlx.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// Close closes the sqlx handle and, for PostgreSQL, the underlying pool.
func (c *Conn) Close() error {
	var err error
	if c.DB != nil {
		err = c.DB.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.logger != nil {
		c.logger.Info("database connection pool closed")
	}
	return err
}

var (
	dsnPassword = regexp.MustCompile(`(?i)(password|pwd)=([^;\s&]*)`)
	dsnUserinfo = regexp.MustCompile(`^([^:@/]+):([^@]*)@`)
)

// RedactDSN hides the password of URL and key=value style DSNs.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	dsn = dsnPassword.ReplaceAllString(dsn, "$1=***")
	return dsnUserinfo.ReplaceAllString(dsn, "$1:***@")
}
