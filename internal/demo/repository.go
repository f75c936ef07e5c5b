package demo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

type Store interface {
	List(ctx context.Context, tabID string) ([]Demo, error)
	Get(ctx context.Context, id string) (Demo, error)
	Create(ctx context.Context, d Demo) (Demo, error)
	Update(ctx context.Context, id string, patch Patch) (Demo, error)
	// Delete removes the row and returns it so the caller can drop its blobs.
	Delete(ctx context.Context, id string) (Demo, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const demoColumns = `id, tab_id, model_name, model_key, file_r2_key, thumbnail_r2_key, demo_type, comment, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDemo(row rowScanner) (Demo, error) {
	var d Demo
	var thumb, comment sql.NullString
	err := row.Scan(&d.ID, &d.TabID, &d.ModelName, &d.ModelKey, &d.FileKey, &thumb, &d.DemoType, &comment, &d.CreatedAt)
	if err != nil {
		return Demo{}, err
	}
	if thumb.Valid {
		d.ThumbnailKey = &thumb.String
	}
	if comment.Valid {
		d.Comment = &comment.String
	}
	return d, nil
}

func (r *Repository) List(ctx context.Context, tabID string) ([]Demo, error) {
	query := `SELECT ` + demoColumns + ` FROM demos`
	args := []any{}
	if tabID != "" {
		query += ` WHERE tab_id = $1`
		args = append(args, tabID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query demos: %w", err)
	}
	defer rows.Close()

	demos := make([]Demo, 0)
	for rows.Next() {
		d, err := scanDemo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan demo: %w", err)
		}
		demos = append(demos, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate demos: %w", err)
	}

	return demos, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Demo, error) {
	d, err := scanDemo(r.db.QueryRowContext(ctx, `SELECT `+demoColumns+` FROM demos WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Demo{}, ErrNotFound
		}
		return Demo{}, fmt.Errorf("get demo: %w", err)
	}
	return d, nil
}

func (r *Repository) Create(ctx context.Context, d Demo) (Demo, error) {
	created, err := scanDemo(r.db.QueryRowContext(ctx, `
		INSERT INTO demos (id, tab_id, model_name, model_key, file_r2_key, thumbnail_r2_key, demo_type, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+demoColumns,
		d.ID, d.TabID, d.ModelName, d.ModelKey, d.FileKey, d.ThumbnailKey, d.DemoType, d.Comment,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return Demo{}, ErrUnknownTab
		}
		return Demo{}, fmt.Errorf("insert demo: %w", err)
	}
	return created, nil
}

func (r *Repository) Update(ctx context.Context, id string, patch Patch) (Demo, error) {
	if patch.Empty() {
		return r.Get(ctx, id)
	}

	sets := make([]string, 0, 5)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.TabID != nil {
		add("tab_id", *patch.TabID)
	}
	if patch.ModelKey != nil {
		add("model_key", *patch.ModelKey)
	}
	if patch.ModelName != nil {
		add("model_name", *patch.ModelName)
	}
	if patch.DemoType != nil {
		add("demo_type", *patch.DemoType)
	}
	if patch.Comment != nil {
		if *patch.Comment == "" {
			add("comment", nil)
		} else {
			add("comment", *patch.Comment)
		}
	}

	d, err := scanDemo(r.db.QueryRowContext(ctx, `
		UPDATE demos
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+demoColumns, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Demo{}, ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return Demo{}, ErrUnknownTab
		}
		return Demo{}, fmt.Errorf("update demo: %w", err)
	}
	return d, nil
}

func (r *Repository) Delete(ctx context.Context, id string) (Demo, error) {
	d, err := scanDemo(r.db.QueryRowContext(ctx, `DELETE FROM demos WHERE id = $1 RETURNING `+demoColumns, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Demo{}, ErrNotFound
		}
		return Demo{}, fmt.Errorf("delete demo: %w", err)
	}
	return d, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
