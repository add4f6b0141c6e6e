// Package indexer reads ledger history and account state from an indexer
// database populated by a ledger ingestion pipeline.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qgate/internal/ledger"
	"qgate/pkg/platform/sentinel"
)

// Schema creates the tables the reader expects. The ingestion pipeline owns
// them in production; tests apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	id            TEXT PRIMARY KEY,
	account       TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	destination   TEXT NOT NULL DEFAULT '',
	amount        BIGINT NOT NULL DEFAULT 0,
	memo          TEXT NOT NULL DEFAULT '',
	paging_token  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_transactions_account_idx ON ledger_transactions (account, created_at DESC);
CREATE INDEX IF NOT EXISTS ledger_transactions_created_idx ON ledger_transactions (created_at DESC);

CREATE TABLE IF NOT EXISTS ledger_accounts (
	public_key  TEXT PRIMARY KEY,
	sequence    BIGINT NOT NULL
);
`

// DB is the subset of *pgxpool.Pool the reader uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reader implements ledger.HistoryReader and ledger.AccountLoader.
type Reader struct {
	db DB
}

func New(db DB) *Reader {
	return &Reader{db: db}
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open indexer pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping indexer: %w", err)
	}
	return pool, nil
}

func (r *Reader) QueryTransactions(ctx context.Context, account string, limit int) ([]ledger.TransactionRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	query := `
		SELECT id, account, source, destination, amount, memo, paging_token, created_at
		FROM ledger_transactions
		WHERE $1 = '' OR account = $1 OR source = $1 OR destination = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []ledger.TransactionRecord
	for rows.Next() {
		var rec ledger.TransactionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Account,
			&rec.Source,
			&rec.Destination,
			&rec.Amount,
			&rec.Memo,
			&rec.PagingToken,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *Reader) LoadAccount(ctx context.Context, publicKey string) (*ledger.Account, error) {
	acct := ledger.Account{PublicKey: publicKey}
	err := r.db.QueryRow(ctx,
		`SELECT sequence FROM ledger_accounts WHERE public_key = $1`,
		publicKey,
	).Scan(&acct.Sequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", publicKey, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w: %w", sentinel.ErrUnavailable, err)
	}
	return &acct, nil
}

// Ingest upserts a record. Replays of the same id are ignored.
func (r *Reader) Ingest(ctx context.Context, rec ledger.TransactionRecord) error {
	query := `
		INSERT INTO ledger_transactions (id, account, source, destination, amount, memo, paging_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query,
		rec.ID, rec.Account, rec.Source, rec.Destination,
		rec.Amount, rec.Memo, rec.PagingToken, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("ingest transaction: %w", err)
	}
	return nil
}

// SetSequence records the latest sequence of an account.
func (r *Reader) SetSequence(ctx context.Context, publicKey string, sequence int64) error {
	query := `
		INSERT INTO ledger_accounts (public_key, sequence)
		VALUES ($1, $2)
		ON CONFLICT (public_key) DO UPDATE SET sequence = GREATEST(ledger_accounts.sequence, EXCLUDED.sequence)
	`
	if _, err := r.db.Exec(ctx, query, publicKey, sequence); err != nil {
		return fmt.Errorf("set account sequence: %w", err)
	}
	return nil
}

var (
	_ ledger.HistoryReader = (*Reader)(nil)
	_ ledger.AccountLoader = (*Reader)(nil)
)
