package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExecutor is satisfied by *pgxpool.Pool and by pgxmock pools.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type postgresKVRepository struct {
	db  pgExecutor
	now func() time.Time
}

// NewPostgresKVRepository returns a store backed by the client_kv table.
func NewPostgresKVRepository(db pgExecutor) KeyValueRepository {
	return &postgresKVRepository{db: db, now: time.Now}
}

func (r *postgresKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `
        SELECT value FROM client_kv
        WHERE key=$1 AND (expires_at IS NULL OR expires_at > NOW())`

	var value []byte
	if err := r.db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

func (r *postgresKVRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const query = `
        INSERT INTO client_kv (key, value, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE
        SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at, updated_at=NOW()`

	_, err := r.db.Exec(ctx, query, key, value, r.expiry(ttl))
	return err
}

func (r *postgresKVRepository) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	const query = `
        INSERT INTO client_kv (key, value, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE
        SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at, updated_at=NOW()
        WHERE client_kv.expires_at IS NOT NULL AND client_kv.expires_at <= NOW()`

	cmd, err := r.db.Exec(ctx, query, key, value, r.expiry(ttl))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresKVRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const query = `DELETE FROM client_kv WHERE key = ANY($1)`

	_, err := r.db.Exec(ctx, query, keys)
	return err
}

func (r *postgresKVRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *postgresKVRepository) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := r.now().Add(ttl).UTC()
	return &at
}
