package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

var postgresTypes = mustTypeTable("postgres", []TypeConversion{
	entry("smallint", typeInt16, KindInt),
	entry("int2", typeInt16, KindInt),
	entry("integer", typeInt32, KindInt),
	entry("int", typeInt32, KindInt),
	entry("int4", typeInt32, KindInt),
	entry("serial", typeInt32, KindInt),
	entry("bigint", typeInt64, KindInt),
	entry("int8", typeInt64, KindInt),
	entry("bigserial", typeInt64, KindInt),
	entry("real", typeFloat32, KindFloat),
	entry("float4", typeFloat32, KindFloat),
	entry("double precision", typeFloat64, KindFloat),
	entry("float8", typeFloat64, KindFloat),
	entry("numeric", typeString, KindDecimal),
	entry("decimal", typeString, KindDecimal),
	entry("money", typeString, KindDecimal),
	entry("boolean", typeBool, KindBool),
	entry("bool", typeBool, KindBool),
	entry("text", typeString, KindString),
	entry("character varying", typeString, KindString),
	entry("varchar", typeString, KindString),
	entry("character", typeString, KindString),
	entry("char", typeString, KindString),
	entry("bpchar", typeString, KindString),
	entry("citext", typeString, KindString),
	entry("name", typeString, KindString),
	entry("json", typeString, KindString),
	entry("jsonb", typeString, KindString),
	entry("xml", typeString, KindString),
	entry("inet", typeString, KindString),
	entry("cidr", typeString, KindString),
	entry("interval", typeString, KindString),
	entry("time without time zone", typeString, KindString),
	entry("time with time zone", typeString, KindString),
	entry("uuid", typeString, KindUUID),
	entry("bytea", typeBytes, KindBytes),
	entry("date", typeTime, KindTime),
	entry("timestamp", typeTime, KindTime),
	entry("timestamp without time zone", typeTime, KindTime),
	entry("timestamp with time zone", typeTime, KindTime),
	entry("timestamptz", typeTime, KindTime),
}, nil)

func postgresDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// deadlock_detected, serialization_failure
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}
	return false
}

// connectPostgres opens a pgx pool and runs sqlx on top of it so the
// introspector can use the pool directly.
func connectPostgres(ctx context.Context, d *Dialect, cfg Config) (*Conn, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = 25
	poolCfg.MinConns = 2
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), d.DriverName)
	return &Conn{DB: db, Dialect: d, Pool: pool}, nil
}

func init() {
	Register(&Dialect{
		Name:          "postgres",
		DriverName:    "pgx",
		DefaultSchema: "public",
		QuoteOpen:     `"`,
		QuoteClose:    `"`,
		Returning:     ReturningClause,
		Limit:         LimitSuffix,
		Types:         postgresTypes,
		connect:       connectPostgres,
		deadlock:      postgresDeadlock,
	}, "postgresql", "pgx")
}
