package tab

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("tab not found")
	ErrSlugTaken = errors.New("tab slug already exists")
)

type Tab struct {
	ID        string    `json:"id"`
	NameCN    string    `json:"name_cn"`
	NameEN    string    `json:"name_en"`
	Slug      string    `json:"slug"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateInput struct {
	NameCN    string `json:"name_cn"`
	NameEN    string `json:"name_en"`
	Slug      string `json:"slug"`
	SortOrder int    `json:"sort_order"`
}

// Patch carries only the fields present in the request body.
type Patch struct {
	NameCN    *string `json:"name_cn"`
	NameEN    *string `json:"name_en"`
	Slug      *string `json:"slug"`
	SortOrder *int    `json:"sort_order"`
}

func (p Patch) Empty() bool {
	return p.NameCN == nil && p.NameEN == nil && p.Slug == nil && p.SortOrder == nil
}
