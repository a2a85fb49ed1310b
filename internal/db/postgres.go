package db

import (
	"context"
	"time"

	"backend-ridecal/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	newPoolFn  = pgxpool.New
	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

func ConnectPostgres(cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Schema is applied idempotently at startup by EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS athletes (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id TEXT PRIMARY KEY,
	athlete_id TEXT NOT NULL REFERENCES athletes(id) ON DELETE CASCADE,
	token TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS planned_workouts (
	id TEXT PRIMARY KEY,
	athlete_id TEXT NOT NULL,
	title TEXT NOT NULL,
	workout_date DATE NOT NULL,
	intervals JSONB NOT NULL DEFAULT '[]',
	provider_plan_id BIGINT,
	provider_workout_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS planned_workouts_athlete_date ON planned_workouts (athlete_id, workout_date);

CREATE TABLE IF NOT EXISTS gym_workouts (
	id TEXT PRIMARY KEY,
	athlete_id TEXT NOT NULL,
	title TEXT NOT NULL,
	workout_date DATE NOT NULL,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS gym_workouts_athlete_date ON gym_workouts (athlete_id, workout_date);
`

func EnsureSchema(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, Schema)
	return err
}
