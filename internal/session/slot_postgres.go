package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresSlot struct {
	db *sql.DB
}

func NewPostgresSlot(db *sql.DB) (*PostgresSlot, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresSlot{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSlot) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS client_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure client_state schema: %w", err)
	}
	return nil
}

func (s *PostgresSlot) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	const q = `SELECT value FROM client_state WHERE key = $1`
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query client state: %w", err)
	}
	return value, true, nil
}

func (s *PostgresSlot) Put(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO client_state (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value,
	updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("upsert client state: %w", err)
	}
	return nil
}

func (s *PostgresSlot) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete client state: %w", err)
	}
	return nil
}
