package demo

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeHTML     = "html"
	TypePython   = "python"
	TypeMarkdown = "markdown"
)

var (
	ErrNotFound   = errors.New("demo not found")
	ErrUnknownTab = errors.New("tab does not exist")
)

type Demo struct {
	ID           string    `json:"id"`
	TabID        string    `json:"tab_id"`
	ModelName    string    `json:"model_name"`
	ModelKey     string    `json:"model_key"`
	FileKey      string    `json:"file_r2_key"`
	ThumbnailKey *string   `json:"thumbnail_r2_key"`
	DemoType     string    `json:"demo_type"`
	Comment      *string   `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
}

// UploadInput is the body of a demo upload.
type UploadInput struct {
	TabID     string `json:"tab_id"`
	ModelKey  string `json:"model_key"`
	ModelName string `json:"model_name"`
	DemoType  string `json:"demo_type"`
	Code      string `json:"code"`
	Thumbnail string `json:"thumbnail"`
	Comment   string `json:"comment"`
}

// UpdateInput carries only the fields present in the request body. Code is
// not a column: when set the stored page is re-rendered.
type UpdateInput struct {
	TabID     *string `json:"tab_id"`
	ModelKey  *string `json:"model_key"`
	ModelName *string `json:"model_name"`
	DemoType  *string `json:"demo_type"`
	Code      *string `json:"code"`
	Comment   *string `json:"comment"`
}

func (u UpdateInput) Empty() bool {
	return u.TabID == nil && u.ModelKey == nil && u.ModelName == nil &&
		u.DemoType == nil && u.Code == nil && u.Comment == nil
}

// Patch is the column-level subset of UpdateInput.
type Patch struct {
	TabID     *string
	ModelKey  *string
	ModelName *string
	DemoType  *string
	Comment   *string
}

func (p Patch) Empty() bool {
	return p.TabID == nil && p.ModelKey == nil && p.ModelName == nil && p.DemoType == nil && p.Comment == nil
}

func ValidType(t string) bool {
	switch t {
	case TypeHTML, TypePython, TypeMarkdown:
		return true
	}
	return false
}

// NewID returns a time-ordered demo id. Blob keys are derived from it, so it
// is assigned before anything is stored.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return "demo-" + id.String(), nil
}
