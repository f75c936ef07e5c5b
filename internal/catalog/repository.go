package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store is the persistence the catalog handlers and cache need.
type Store interface {
	ListModels(ctx context.Context) ([]Model, error)
	UpsertModel(ctx context.Context, model Model) (Model, error)
	DeleteModel(ctx context.Context, key string) error
	ListBrands(ctx context.Context) ([]Brand, error)
	GetBrand(ctx context.Context, key string) (Brand, error)
	CreateBrand(ctx context.Context, brand Brand) error
	DeleteBrand(ctx context.Context, key string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mr.key, mr.name, mr.brand_key, COALESCE(mb.name, ''), mr.logo_filename, mr.color
		FROM models_registry mr
		LEFT JOIN model_brands mb ON mb.key = mr.brand_key
		ORDER BY mr.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	models := make([]Model, 0)
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.Key, &m.Name, &m.BrandKey, &m.BrandName, &m.LogoFilename, &m.Color); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}

	return models, nil
}

func (r *Repository) UpsertModel(ctx context.Context, model Model) (Model, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO models_registry (key, name, brand_key, logo_filename, color)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			brand_key = EXCLUDED.brand_key,
			logo_filename = EXCLUDED.logo_filename,
			color = EXCLUDED.color
	`, model.Key, model.Name, model.BrandKey, model.LogoFilename, model.Color)
	if err != nil {
		return Model{}, fmt.Errorf("upsert model: %w", err)
	}

	return model, nil
}

func (r *Repository) DeleteModel(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM models_registry WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) ListBrands(ctx context.Context) ([]Brand, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, name, logo_filename
		FROM model_brands
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query brands: %w", err)
	}
	defer rows.Close()

	brands := make([]Brand, 0)
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.Key, &b.Name, &b.LogoFilename); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		brands = append(brands, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brands: %w", err)
	}

	return brands, nil
}

func (r *Repository) GetBrand(ctx context.Context, key string) (Brand, error) {
	var b Brand
	err := r.db.QueryRowContext(ctx, `
		SELECT key, name, logo_filename
		FROM model_brands
		WHERE key = $1
	`, key).Scan(&b.Key, &b.Name, &b.LogoFilename)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Brand{}, ErrNotFound
		}
		return Brand{}, fmt.Errorf("get brand: %w", err)
	}

	return b, nil
}

func (r *Repository) CreateBrand(ctx context.Context, brand Brand) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO model_brands (key, name, logo_filename)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, brand.Key, brand.Name, brand.LogoFilename)
	if err != nil {
		return fmt.Errorf("insert brand: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBrandExists
	}

	return nil
}

// DeleteBrand refuses while models reference the brand. The check and the
// delete share one transaction with the brand row locked.
func (r *Repository) DeleteBrand(ctx context.Context, key string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT key FROM model_brands WHERE key = $1 FOR UPDATE`, key).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock brand: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM models_registry WHERE brand_key = $1`, key).Scan(&count); err != nil {
		return fmt.Errorf("count brand models: %w", err)
	}
	if count > 0 {
		return ErrBrandInUse{Models: count}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_brands WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete brand: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit brand delete: %w", err)
	}
	return nil
}
