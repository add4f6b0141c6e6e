package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qgate/internal/ledger"
	"qgate/internal/migration"
)

// Schema creates the asset_migrations table.
const Schema = `
CREATE TABLE IF NOT EXISTS asset_migrations (
	asset_id    TEXT PRIMARY KEY,
	migrated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore persists migrations in PostgreSQL. The primary key makes
// the check-and-set atomic across gate instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed migration store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) State(ctx context.Context, id ledger.AssetID) (migration.State, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM asset_migrations WHERE asset_id = $1`, id.String(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return migration.StateEligible, nil
	}
	if err != nil {
		return migration.StateEligible, fmt.Errorf("read migration state: %w", err)
	}
	return migration.StateMigrated, nil
}

func (s *PostgresStore) MarkMigrated(ctx context.Context, id ledger.AssetID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_migrations (asset_id, migrated_at)
		VALUES ($1, $2)
		ON CONFLICT (asset_id) DO NOTHING
	`, id.String(), at)
	if err != nil {
		return false, fmt.Errorf("insert migration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert migration: %w", err)
	}
	return n == 1, nil
}
