package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// PostgresStore archives receipts in a single append-only table. The receipt
// body is stored as JSON; the indexed columns exist for audit queries.
type PostgresStore struct {
	db *sql.DB
}

const receiptsSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id         UUID PRIMARY KEY,
	quote_id   UUID NOT NULL,
	accepted   BOOLEAN NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	body       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	seq        BIGSERIAL
);
CREATE INDEX IF NOT EXISTS receipts_quote_idx ON receipts (quote_id, seq);`

// NewPostgresStore opens the database and ensures the receipts table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, receiptsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure receipts table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, receipt *rfq.Receipt) error {
	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, quote_id, accepted, reason, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		receipt.ID, receipt.QuoteID, receipt.IsAccepted(),
		string(receipt.RejectionCode()), body, receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, quoteID uuid.UUID) ([]*rfq.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM receipts WHERE quote_id = $1 ORDER BY seq`,
		quoteID,
	)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*rfq.Receipt
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		var r rfq.Receipt
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		receipts = append(receipts, &r)
	}
	return receipts, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
