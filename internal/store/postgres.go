package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

func NewPostgresStore(ctx context.Context, dsn, name string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, name: name}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*reservation.State, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM reservation_snapshots WHERE name = $1`, s.name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return Decode(raw)
}

func (s *PostgresStore) Save(ctx context.Context, state *reservation.State) error {
	raw, err := Encode(state)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO reservation_snapshots (name, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
`, s.name, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS reservation_snapshots (
	name TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("initialize snapshot schema: %w", err)
	}
	return nil
}
