package journal

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PostgresStore persists entries in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS transfer_journal (
    id TEXT PRIMARY KEY,
    client_request_id TEXT NOT NULL DEFAULT '',
    receiver TEXT NOT NULL,
    destination TEXT NOT NULL,
    token_id TEXT NOT NULL DEFAULT '',
    success BOOLEAN NOT NULL,
    state TEXT NOT NULL,
    step TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    mint_tx TEXT NOT NULL DEFAULT '',
    transfer_tx TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
`

// Tables created before client request ids were recorded gain the column here.
const addClientRequestIDSQL = `ALTER TABLE transfer_journal ADD COLUMN IF NOT EXISTS client_request_id TEXT NOT NULL DEFAULT ''`

const uniqueViolation = "23505"

// NewPostgresStore connects using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open journal pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping journal database")
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create journal table")
	}
	if _, err := pool.Exec(ctx, addClientRequestIDSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate journal table")
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Append(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO transfer_journal
    (id, client_request_id, receiver, destination, token_id, success, state, step, error, mint_tx, transfer_tx, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`, e.ID, e.ClientRequestID, e.Receiver, e.Destination, e.TokenID, e.Success, e.State, e.Step, e.Error, e.MintTx, e.TransferTx, e.StartedAt, e.FinishedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrap(ErrDuplicate, e.ID)
	}
	return errors.Wrap(err, "append journal entry")
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, client_request_id, receiver, destination, token_id, success, state, step, error, mint_tx, transfer_tx, started_at, finished_at
FROM transfer_journal
WHERE id = $1
`, id)

	var e Entry
	err := row.Scan(&e.ID, &e.ClientRequestID, &e.Receiver, &e.Destination, &e.TokenID, &e.Success, &e.State,
		&e.Step, &e.Error, &e.MintTx, &e.TransferTx, &e.StartedAt, &e.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read journal entry")
	}
	return &e, nil
}
