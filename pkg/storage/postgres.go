package storage

import (
	"database/sql"
	"fmt"

	"github.com/healthex/dlt-exchange/pkg/database"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS exchange_state (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres is a Postgres-backed key-value backend for deployments that need
// durable state outside a Fabric channel.
type Postgres struct {
	db *database.DB
}

// NewPostgres creates the backend and ensures its state table exists.
func NewPostgres(db *database.DB) (*Postgres, error) {
	if _, err := db.Exec(createStateTable); err != nil {
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Get returns the stored value or (nil, nil) when the key is absent.
func (p *Postgres) Get(key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(`SELECT value FROM exchange_state WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state key: %w", err)
	}
	return value, nil
}

// Put upserts the value under key.
func (p *Postgres) Put(key string, value []byte) error {
	_, err := p.db.Exec(`
		INSERT INTO exchange_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write state key: %w", err)
	}
	return nil
}

// Delete removes the key. Deleting an absent key succeeds.
func (p *Postgres) Delete(key string) error {
	if _, err := p.db.Exec(`DELETE FROM exchange_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete state key: %w", err)
	}
	return nil
}
