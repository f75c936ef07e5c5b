package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AttemptStore persists the per-IP failure counters behind the login guard.
// RegisterFailure must increment atomically: concurrent failures from one IP
// may not be lost.
type AttemptStore interface {
	GetAttempt(ctx context.Context, ip string) (Attempt, bool, error)
	RegisterFailure(ctx context.Context, ip string, maxAttempts int, lockDuration time.Duration, now time.Time) (Attempt, error)
	ResetAttempts(ctx context.Context, ip string) error
}

// AttemptSweeper is implemented by stores that need periodic cleanup.
type AttemptSweeper interface {
	DeleteStaleAttempts(ctx context.Context, cutoff time.Time, now time.Time, batchSize int) (int64, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAttempt(ctx context.Context, ip string) (Attempt, bool, error) {
	attempt := Attempt{IP: ip}

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT count, first_attempt, locked_until
		FROM login_attempts
		WHERE ip = $1
	`, ip).Scan(&attempt.Count, &attempt.FirstAttempt, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{IP: ip}, false, nil
		}
		return Attempt{}, false, fmt.Errorf("query login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, true, nil
}

// RegisterFailure is a single upsert so concurrent failures cannot under-count.
// An active lock is left untouched; an expired one restarts the counter.
func (r *Repository) RegisterFailure(ctx context.Context, ip string, maxAttempts int, lockDuration time.Duration, now time.Time) (Attempt, error) {
	now = now.UTC()
	lockUntil := now.Add(lockDuration)

	attempt := Attempt{IP: ip}
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO login_attempts AS la (ip, count, first_attempt, locked_until, updated_at)
		VALUES ($1, 1, $2::timestamptz, CASE WHEN 1 >= $3::integer THEN $4::timestamptz ELSE NULL END, $2::timestamptz)
		ON CONFLICT (ip) DO UPDATE SET
			count = CASE
				WHEN la.locked_until > $2::timestamptz THEN la.count
				WHEN la.locked_until IS NOT NULL THEN 1
				ELSE la.count + 1
			END,
			first_attempt = CASE
				WHEN la.locked_until <= $2::timestamptz THEN $2::timestamptz
				ELSE la.first_attempt
			END,
			locked_until = CASE
				WHEN la.locked_until > $2::timestamptz THEN la.locked_until
				WHEN la.locked_until IS NOT NULL THEN CASE WHEN 1 >= $3::integer THEN $4::timestamptz ELSE NULL END
				WHEN la.count + 1 >= $3::integer THEN $4::timestamptz
				ELSE NULL
			END,
			updated_at = $2::timestamptz
		RETURNING count, first_attempt, locked_until
	`, ip, now, maxAttempts, lockUntil).Scan(&attempt.Count, &attempt.FirstAttempt, &lockedUntil)
	if err != nil {
		return Attempt{}, fmt.Errorf("upsert failed login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

func (r *Repository) ResetAttempts(ctx context.Context, ip string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	return nil
}

func (r *Repository) DeleteStaleAttempts(ctx context.Context, cutoff time.Time, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < $2)
			ORDER BY updated_at ASC
			LIMIT $3
		)
		DELETE FROM login_attempts t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff.UTC(), now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return affected, nil
}
