package tab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Store interface {
	List(ctx context.Context) ([]Tab, error)
	Create(ctx context.Context, input CreateInput) (Tab, error)
	Update(ctx context.Context, id string, patch Patch) (Tab, error)
	// Delete removes the tab and its demos, returning the blob keys the
	// demos referenced so the caller can remove them.
	Delete(ctx context.Context, id string) ([]string, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Tab, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name_cn, name_en, slug, sort_order, created_at
		FROM tabs
		ORDER BY sort_order ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	defer rows.Close()

	tabs := make([]Tab, 0)
	for rows.Next() {
		var t Tab
		if err := rows.Scan(&t.ID, &t.NameCN, &t.NameEN, &t.Slug, &t.SortOrder, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tabs = append(tabs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tabs: %w", err)
	}

	return tabs, nil
}

func (r *Repository) Create(ctx context.Context, input CreateInput) (Tab, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Tab{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	t := Tab{
		ID:        "tab-" + id.String(),
		NameCN:    input.NameCN,
		NameEN:    input.NameEN,
		Slug:      input.Slug,
		SortOrder: input.SortOrder,
		CreatedAt: time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tabs (id, name_cn, name_en, slug, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.NameCN, t.NameEN, t.Slug, t.SortOrder, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Tab{}, ErrSlugTaken
		}
		return Tab{}, fmt.Errorf("insert tab: %w", err)
	}

	return t, nil
}

func (r *Repository) Update(ctx context.Context, id string, patch Patch) (Tab, error) {
	sets := make([]string, 0, 4)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.NameCN != nil {
		add("name_cn", *patch.NameCN)
	}
	if patch.NameEN != nil {
		add("name_en", *patch.NameEN)
	}
	if patch.Slug != nil {
		add("slug", *patch.Slug)
	}
	if patch.SortOrder != nil {
		add("sort_order", *patch.SortOrder)
	}
	if len(sets) == 0 {
		return Tab{}, fmt.Errorf("update tab: no fields")
	}

	var t Tab
	err := r.db.QueryRowContext(ctx, `
		UPDATE tabs
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING id, name_cn, name_en, slug, sort_order, created_at
	`, args...).Scan(&t.ID, &t.NameCN, &t.NameEN, &t.Slug, &t.SortOrder, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tab{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return Tab{}, ErrSlugTaken
		}
		return Tab{}, fmt.Errorf("update tab: %w", err)
	}

	return t, nil
}

func (r *Repository) Delete(ctx context.Context, id string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM demos
		WHERE tab_id = $1
		RETURNING file_r2_key, thumbnail_r2_key
	`, id)
	if err != nil {
		return nil, fmt.Errorf("delete tab demos: %w", err)
	}

	keys := make([]string, 0)
	for rows.Next() {
		var fileKey string
		var thumbKey sql.NullString
		if err := rows.Scan(&fileKey, &thumbKey); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan demo keys: %w", err)
		}
		keys = append(keys, fileKey)
		if thumbKey.Valid && thumbKey.String != "" {
			keys = append(keys, thumbKey.String)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate demo keys: %w", err)
	}
	rows.Close()

	res, err := tx.ExecContext(ctx, `DELETE FROM tabs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete tab: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tab delete: %w", err)
	}
	return keys, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
