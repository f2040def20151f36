package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog は pgx を使ったカタログ実装です。
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresPool は接続プールを作成し疎通を確認します。
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresCatalog は PostgresCatalog を作成します。
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    type       TEXT NOT NULL DEFAULT '',
    size       BIGINT NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'pending',
    url        TEXT NOT NULL DEFAULT '',
    user_id    TEXT NOT NULL DEFAULT '',
    metadata   JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at DESC);
`

// EnsureSchema は documents テーブルを作成します（存在する場合は何もしません）。
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, documentsSchema)
	return err
}

func (c *PostgresCatalog) Create(ctx context.Context, doc *Document) (*Document, error) {
	const q = `
INSERT INTO documents (id, name, type, size, status, url, user_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at;
`
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	stored := doc.Clone()
	if err := c.pool.QueryRow(ctx, q,
		stored.ID, stored.Name, stored.Type, stored.Size,
		string(stored.Status), stored.URL, stored.UserID, metadata,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, err
	}
	return stored, nil
}

func (c *PostgresCatalog) Get(ctx context.Context, id string) (*Document, error) {
	const q = `
SELECT id, name, type, size, status, url, user_id, metadata, created_at, updated_at
FROM documents
WHERE id = $1;
`
	doc, err := scanDocument(c.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (c *PostgresCatalog) Update(ctx context.Context, doc *Document) (*Document, error) {
	const q = `
UPDATE documents
SET name=$2, type=$3, size=$4, status=$5, url=$6, user_id=$7, metadata=$8, updated_at=now()
WHERE id=$1
RETURNING created_at, updated_at;
`
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	stored := doc.Clone()
	if err := c.pool.QueryRow(ctx, q,
		stored.ID, stored.Name, stored.Type, stored.Size,
		string(stored.Status), stored.URL, stored.UserID, metadata,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return stored, nil
}

func (c *PostgresCatalog) List(ctx context.Context, filter ListFilter) ([]*Document, error) {
	q := `
SELECT id, name, type, size, status, url, user_id, metadata, created_at, updated_at
FROM documents
`
	args := []any{}
	if filter.UserID != "" {
		q += "WHERE user_id = $1\n"
		args = append(args, filter.UserID)
	}
	q += "ORDER BY created_at DESC;"

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (c *PostgresCatalog) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	const q = `UPDATE documents SET status=$3, updated_at=now() WHERE id=$1 AND status=$2;`

	tag, err := c.pool.Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// 条件に合わなかった理由を区別する: 行がないのか、状態が違うのか
		if _, err := c.Get(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc           Document
		statusText    string
		metadataBytes []byte
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(
		&doc.ID,
		&doc.Name,
		&doc.Type,
		&doc.Size,
		&statusText,
		&doc.URL,
		&doc.UserID,
		&metadataBytes, // NULL => nil
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	doc.Status = Status(statusText)
	if metadataBytes != nil {
		if err := json.Unmarshal(metadataBytes, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode document metadata: %w", err)
		}
	}
	doc.CreatedAt = createdAt
	doc.UpdatedAt = updatedAt
	return &doc, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document metadata: %w", err)
	}
	return payload, nil
}
