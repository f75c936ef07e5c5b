package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore keeps blobs in the blobs table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, content_type, data, etag, size, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (key) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data,
			etag = EXCLUDED.etag,
			size = EXCLUDED.size,
			updated_at = NOW()
	`, key, contentType, body, computeETag(body), len(body))
	if err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Object, error) {
	obj := Object{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT content_type, data, etag, size
		FROM blobs
		WHERE key = $1
	`, key).Scan(&obj.ContentType, &obj.Body, &obj.ETag, &obj.Size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("get blob %s: %w", key, err)
	}
	return obj, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key
		FROM blobs
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key ASC
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan blob key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blob keys: %w", err)
	}

	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
