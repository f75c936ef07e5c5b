package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const DefaultColor = "#6366f1"

var (
	ErrNotFound    = errors.New("catalog entry not found")
	ErrBrandExists = errors.New("brand key already exists")
)

var (
	nonKeyChars  = regexp.MustCompile(`[^a-z0-9]+`)
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{3}([0-9a-fA-F]{3})?$`)
)

// ErrBrandInUse is returned when models still reference a brand.
type ErrBrandInUse struct {
	Models int
}

func (e ErrBrandInUse) Error() string {
	return fmt.Sprintf("Cannot delete brand: %d model(s) still reference it", e.Models)
}

type Model struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	BrandKey     string `json:"brand_key"`
	BrandName    string `json:"brand_name"`
	LogoFilename string `json:"logo_filename"`
	Color        string `json:"color"`
}

type Brand struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	LogoFilename string `json:"logo_filename"`
}

type ModelInput struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	BrandKey     string `json:"brand_key"`
	LogoFilename string `json:"logo_filename"`
	Color        string `json:"color"`
}

// KeyFromName derives a stable model key: "GPT-4o mini" -> "gpt-4o-mini".
func KeyFromName(name string) string {
	key := nonKeyChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(key, "-")
}
