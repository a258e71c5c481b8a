package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// schema is applied on startup; the primary key on token is the
// authoritative uniqueness guard the allocator's pre-check defers to.
const schema = `
CREATE TABLE IF NOT EXISTS send_records (
	token               text PRIMARY KEY,
	provider_message_id text NOT NULL DEFAULT '',
	metadata            jsonb NOT NULL,
	created_at          timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS send_records_provider_message_id_idx
	ON send_records (provider_message_id) WHERE provider_message_id <> '';
`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the given DSN, verifies the connection, and
// ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) FindByToken(ctx context.Context, token string) (*SendRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT token, provider_message_id, metadata, created_at
		 FROM send_records WHERE token = $1`, token)
	return scanRecord(row)
}

func (p *Postgres) FindByProviderMessageID(ctx context.Context, id string) (*SendRecord, error) {
	if id == "" {
		return nil, nil
	}
	row := p.pool.QueryRow(ctx,
		`SELECT token, provider_message_id, metadata, created_at
		 FROM send_records WHERE provider_message_id = $1`, id)
	return scanRecord(row)
}

func (p *Postgres) Create(ctx context.Context, rec *SendRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO send_records (token, provider_message_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.Token, rec.ProviderMessageID, meta, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to insert send record: %w", err)
	}
	return nil
}

func (p *Postgres) SetProviderMessageID(ctx context.Context, token, id string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE send_records SET provider_message_id = $2 WHERE token = $1`,
		token, id)
	if err != nil {
		return fmt.Errorf("failed to set provider message id: %w", err)
	}
	return nil
}

// UpdateMetadata runs the mutator inside a row-locked transaction, the
// store's native single-row atomic update.
func (p *Postgres) UpdateMetadata(ctx context.Context, token string, mutate func(*Metadata)) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT metadata FROM send_records WHERE token = $1 FOR UPDATE`,
		token).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock send record: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mutate(&meta)

	updated, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE send_records SET metadata = $2 WHERE token = $1`,
		token, updated); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM send_records WHERE created_at < $1`,
		time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to purge send records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanRecord reads one record row, mapping the no-rows case to (nil, nil).
func scanRecord(row pgx.Row) (*SendRecord, error) {
	var (
		rec  SendRecord
		meta []byte
	)
	err := row.Scan(&rec.Token, &rec.ProviderMessageID, &meta, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan send record: %w", err)
	}
	if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &rec, nil
}
