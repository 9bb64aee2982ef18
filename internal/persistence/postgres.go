package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/config"
)

// ClientStoreTable holds the key-value rows of the postgres storage driver.
const ClientStoreTable = "client_kv"

const connectTimeout = 5 * time.Second

// ErrClientStoreMissing is returned when the client_kv table does not exist
// and migrations are disabled.
var ErrClientStoreMissing = errors.New("client_kv table missing; enable postgres.run_migrations")

// Postgres holds the pool backing the postgres storage driver. A zero value
// (no DSN configured) is valid and reports itself as not configured.
type Postgres struct {
	Pool          *pgxpool.Pool
	runMigrations bool
	logger        *zap.Logger
}

// clientStoreDB is the part of a pool the startup checks need. pgxmock pools satisfy it.
type clientStoreDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres opens the pool when a DSN is configured. Connecting and the
// first ping share one bounded window so a dead server fails startup quickly.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	logger = logger.Named("postgres")
	if cfg.DSN == "" {
		logger.Debug("postgres dsn not provided; skipping database connection")
		return &Postgres{logger: logger}, nil
	}

	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("connected to postgres",
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &Postgres{Pool: pool, runMigrations: cfg.RunMigrations, logger: logger}, nil
}

// poolConfig parses the DSN and applies the pool limits. A client device
// talks to its store from a handful of goroutines, so the pool stays small.
func poolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns
	}
	if cfg.ConnMaxIdleSec > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleSec) * time.Second
	}
	if cfg.ConnMaxLifeSec > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifeSec) * time.Second
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = "marshal-client"
	}
	return poolCfg, nil
}

// Prepare readies the client_kv table: it applies the migrations in dir when
// enabled, confirms the table exists and drops rows whose TTL has passed.
// Without a pool it does nothing.
func (p *Postgres) Prepare(ctx context.Context, dir string) error {
	if p == nil || p.Pool == nil {
		return nil
	}
	return prepareClientStore(ctx, p.Pool, p.runMigrations, dir, p.logger)
}

func prepareClientStore(ctx context.Context, db clientStoreDB, runMigrations bool, dir string, logger *zap.Logger) error {
	if runMigrations {
		if err := RunMigrations(ctx, db, dir, logger); err != nil {
			return err
		}
	} else {
		logger.Debug("postgres migrations disabled")
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ClientStoreTable).Scan(&exists); err != nil {
		return fmt.Errorf("inspect %s: %w", ClientStoreTable, err)
	}
	if !exists {
		return ErrClientStoreMissing
	}

	tag, err := db.Exec(ctx, `DELETE FROM client_kv WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("sweep expired rows: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		logger.Info("expired client rows removed", zap.Int64("rows", n))
	}
	return nil
}

// Close releases pool resources.
func (p *Postgres) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return errors.New("postgres pool not configured")
	}
	return p.Pool.Ping(ctx)
}

// PoolHandle returns the underlying pgx pool.
func (p *Postgres) PoolHandle() *pgxpool.Pool {
	if p == nil {
		return nil
	}
	return p.Pool
}
