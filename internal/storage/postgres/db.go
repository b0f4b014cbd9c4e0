package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 包装 pgx 连接池。
type DB struct {
	Pool *pgxpool.Pool
}

// Connect 建立到 Postgres 的连接池。
func Connect(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ready 验证连接可用。
func (db *DB) Ready(ctx context.Context) error {
	var one int
	return db.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   text PRIMARY KEY,
	session_name text NOT NULL DEFAULT '',
	start_time   timestamptz NOT NULL,
	end_time     timestamptz,
	summary      jsonb
);

CREATE TABLE IF NOT EXISTS emotion_events (
	session_id     text NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	seq            bigint NOT NULL,
	participant_id text NOT NULL,
	emotion        text NOT NULL,
	confidence     double precision NOT NULL,
	ts             timestamptz NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// EnsureSchema 幂等地建表。seq 即写入顺序，进程重启后依然能还原时间线。
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
