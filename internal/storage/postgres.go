package storage

import (
	"context"
	"fmt"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient archives readings for later analysis. It is optional; the
// instrument runs without a database.
type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id           UUID PRIMARY KEY,
	channel_type TEXT        NOT NULL,
	channel      INTEGER     NOT NULL,
	name         TEXT        NOT NULL DEFAULT '',
	sample       INTEGER     NOT NULL,
	code         INTEGER     NOT NULL,
	level        BOOLEAN     NOT NULL,
	taken_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_channel_idx ON readings (channel_type, channel, taken_at DESC);
`

// EnsureSchema creates the readings table if it does not exist yet.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Write archives one reading; PostgresClient is a sampling sink.
func (p *PostgresClient) Write(ctx context.Context, r sampling.Reading) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO readings (id, channel_type, channel, name, sample, code, level, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, string(r.Type), r.Number, r.Name, r.Sample, r.Code, r.Level, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// RecentReadings returns the newest readings of one channel, newest first.
func (p *PostgresClient) RecentReadings(ctx context.Context, typ channel.Type, number, limit int) ([]sampling.Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, channel_type, channel, name, sample, code, level, taken_at
		FROM readings
		WHERE channel_type = $1 AND channel = $2
		ORDER BY taken_at DESC
		LIMIT $3
	`, string(typ), number, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []sampling.Reading
	for rows.Next() {
		var r sampling.Reading
		var typ string
		if err := rows.Scan(&r.ID, &typ, &r.Number, &r.Name, &r.Sample, &r.Code, &r.Level, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Type = channel.Type(typ)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings: %w", err)
	}
	return out, nil
}
