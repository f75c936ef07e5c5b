package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"arena-serverless/internal/auth"
	"arena-serverless/internal/demo"
	"arena-serverless/internal/media"
	"arena-serverless/internal/observability"
)

// DemoLookup resolves demo rows by id.
type DemoLookup interface {
	Get(ctx context.Context, id string) (demo.Demo, error)
}

type Result struct {
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	ScannedDemoBlobs     int   `json:"scanned_demo_blobs"`
	DeletedOrphanBlobs   int   `json:"deleted_orphan_blobs"`
}

// Cleaner removes login attempt records nobody has touched within the
// retention window and demo blobs whose row no longer exists.
type Cleaner struct {
	attempts  auth.AttemptSweeper
	blobs     media.Store
	demos     DemoLookup
	logger    *observability.Logger
	retention time.Duration
	batchSize int
	// Blobs of demos younger than this are skipped; an upload stores its
	// blobs before the row is inserted.
	uploadGrace time.Duration
	now         func() time.Time
}

// NewCleaner builds a cleaner. attempts may be nil for stores that expire
// records on their own.
func NewCleaner(
	attempts auth.AttemptSweeper,
	blobs media.Store,
	demos DemoLookup,
	logger *observability.Logger,
	retention time.Duration,
	batchSize int,
) *Cleaner {
	return &Cleaner{
		attempts:    attempts,
		blobs:       blobs,
		demos:       demos,
		logger:      logger,
		retention:   retention,
		batchSize:   batchSize,
		uploadGrace: 15 * time.Minute,
		now:         time.Now,
	}
}

func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	var result Result
	now := c.now().UTC()

	if c.attempts != nil {
		deleted, err := c.attempts.DeleteStaleAttempts(ctx, now.Add(-c.retention), now, c.batchSize)
		if err != nil {
			return result, fmt.Errorf("sweep login attempts: %w", err)
		}
		result.DeletedLoginAttempts = deleted
	}

	scanned, removed, err := c.sweepOrphanBlobs(ctx, now)
	result.ScannedDemoBlobs = scanned
	result.DeletedOrphanBlobs = removed
	if err != nil {
		return result, fmt.Errorf("sweep demo blobs: %w", err)
	}

	c.logger.Info("maintenance_cleanup_completed", map[string]any{
		"deleted_login_attempts": result.DeletedLoginAttempts,
		"scanned_demo_blobs":     result.ScannedDemoBlobs,
		"deleted_orphan_blobs":   result.DeletedOrphanBlobs,
	})
	return result, nil
}

func (c *Cleaner) sweepOrphanBlobs(ctx context.Context, now time.Time) (int, int, error) {
	keys, err := c.blobs.List(ctx, media.DemoPrefix)
	if err != nil {
		return 0, 0, err
	}

	keysByDemo := make(map[string][]string)
	order := make([]string, 0)
	for _, key := range keys {
		id, ok := media.DemoIDFromKey(key)
		if !ok {
			continue
		}
		if _, seen := keysByDemo[id]; !seen {
			order = append(order, id)
		}
		keysByDemo[id] = append(keysByDemo[id], key)
	}

	removed := 0
	for _, id := range order {
		if c.recentlyCreated(id, now) {
			continue
		}

		_, err := c.demos.Get(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, demo.ErrNotFound) {
			return len(keys), removed, err
		}

		for _, key := range keysByDemo[id] {
			if err := c.blobs.Delete(ctx, key); err != nil {
				c.logger.Warn("failed to delete orphan blob", map[string]any{"key": key, "error": err.Error()})
				continue
			}
			removed++
		}
		if c.batchSize > 0 && removed >= c.batchSize {
			break
		}
	}

	return len(keys), removed, nil
}

// recentlyCreated reads the creation time embedded in uuid v7 demo ids.
// Ids in any other format are treated as old.
func (c *Cleaner) recentlyCreated(id string, now time.Time) bool {
	parsed, err := uuid.Parse(strings.TrimPrefix(id, "demo-"))
	if err != nil || parsed.Version() != 7 {
		return false
	}
	sec, nsec := parsed.Time().UnixTime()
	return now.Sub(time.Unix(sec, nsec)) < c.uploadGrace
}
