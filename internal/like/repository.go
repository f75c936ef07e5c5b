package like

import (
	"context"
	"database/sql"
	"fmt"
)

type Store interface {
	// Toggle likes the demo for ip, or removes the like if one exists.
	Toggle(ctx context.Context, demoID, ip string) (Status, error)
	Status(ctx context.Context, demoID, ip string) (Status, error)
	// ByTab returns the state of every liked demo, optionally limited to a tab.
	ByTab(ctx context.Context, tabID, ip string) (map[string]Status, error)
	Leaderboard(ctx context.Context, tabID string) ([]LeaderboardEntry, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Toggle runs in one transaction. Removing an existing like and inserting a
// new one are each single statements, so concurrent toggles from the same IP
// cannot create duplicate rows.
func (r *Repository) Toggle(ctx context.Context, demoID, ip string) (Status, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Status{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM demos WHERE id = $1)`, demoID).Scan(&exists); err != nil {
		return Status{}, fmt.Errorf("check demo: %w", err)
	}
	if !exists {
		return Status{}, ErrDemoNotFound
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM demo_likes WHERE demo_id = $1 AND ip = $2`, demoID, ip)
	if err != nil {
		return Status{}, fmt.Errorf("remove like: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return Status{}, fmt.Errorf("rows affected: %w", err)
	}

	liked := removed == 0
	if liked {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO demo_likes (demo_id, ip)
			VALUES ($1, $2)
			ON CONFLICT (demo_id, ip) DO NOTHING
		`, demoID, ip)
		if err != nil {
			return Status{}, fmt.Errorf("insert like: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM demo_likes WHERE demo_id = $1`, demoID).Scan(&count); err != nil {
		return Status{}, fmt.Errorf("count likes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Status{}, fmt.Errorf("commit like toggle: %w", err)
	}
	return Status{Count: count, Liked: liked}, nil
}

func (r *Repository) Status(ctx context.Context, demoID, ip string) (Status, error) {
	var s Status
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(BOOL_OR(ip = $2), FALSE)
		FROM demo_likes
		WHERE demo_id = $1
	`, demoID, ip).Scan(&s.Count, &s.Liked)
	if err != nil {
		return Status{}, fmt.Errorf("like status: %w", err)
	}
	return s, nil
}

func (r *Repository) ByTab(ctx context.Context, tabID, ip string) (map[string]Status, error) {
	query := `
		SELECT dl.demo_id, COUNT(*), BOOL_OR(dl.ip = $1)
		FROM demo_likes dl
		JOIN demos d ON d.id = dl.demo_id`
	args := []any{ip}
	if tabID != "" {
		query += ` WHERE d.tab_id = $2`
		args = append(args, tabID)
	}
	query += ` GROUP BY dl.demo_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Status)
	for rows.Next() {
		var id string
		var s Status
		if err := rows.Scan(&id, &s.Count, &s.Liked); err != nil {
			return nil, fmt.Errorf("scan likes: %w", err)
		}
		out[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate likes: %w", err)
	}
	return out, nil
}

func (r *Repository) Leaderboard(ctx context.Context, tabID string) ([]LeaderboardEntry, error) {
	query := `
		SELECT d.id, d.model_name, d.model_key, d.tab_id, mb.name, mr.color, COUNT(dl.id) AS like_count
		FROM demos d
		JOIN demo_likes dl ON dl.demo_id = d.id
		LEFT JOIN models_registry mr ON mr.key = d.model_key
		LEFT JOIN model_brands mb ON mb.key = mr.brand_key`
	args := []any{}
	if tabID != "" {
		query += ` WHERE d.tab_id = $1`
		args = append(args, tabID)
	}
	query += `
		GROUP BY d.id, d.model_name, d.model_key, d.tab_id, mb.name, mr.color
		HAVING COUNT(dl.id) > 0
		ORDER BY like_count DESC, d.created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0)
	for rows.Next() {
		var e LeaderboardEntry
		var brand, color sql.NullString
		if err := rows.Scan(&e.DemoID, &e.ModelName, &e.ModelKey, &e.TabID, &brand, &color, &e.LikeCount); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		if brand.Valid {
			e.BrandName = &brand.String
		}
		if color.Valid {
			e.Color = &color.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return entries, nil
}
