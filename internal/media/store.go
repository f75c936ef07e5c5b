package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// Object is a stored blob. Blobs are small (html pages, thumbnails, svg icons)
// so bodies are held in memory.
type Object struct {
	Key         string
	ContentType string
	ETag        string
	Size        int64
	Body        []byte
}

// Store is a path-keyed blob store. Keys look like demos/<id>/index.html,
// demos/<id>/thumbnail.png and logos/<name>.svg.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

const (
	DemoPrefix = "demos/"
	LogoPrefix = "logos/"
)

func DemoFileKey(demoID string) string {
	return DemoPrefix + demoID + "/index.html"
}

func DemoThumbnailKey(demoID string) string {
	return DemoPrefix + demoID + "/thumbnail.png"
}

// DemoIDFromKey extracts <id> from demos/<id>/... keys.
func DemoIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, DemoPrefix)
	if !ok {
		return "", false
	}
	id, _, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}

func computeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
