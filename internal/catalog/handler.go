package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"arena-serverless/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	store  Store
	cache  *Cache
	logger *observability.Logger
}

func NewHandler(store Store, cache *Cache, logger *observability.Logger) *Handler {
	return &Handler{store: store, cache: cache, logger: logger}
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.store.ListModels(r.Context())
	if err != nil {
		observability.ReportError(h.logger, "list_models", err, nil)
		writeError(w, http.StatusInternalServerError, "Failed to fetch models")
		return
	}

	writeJSON(w, http.StatusOK, models)
}

// UpsertModel creates or replaces a registry entry. The key is derived from
// the name when omitted; logo and brand name default from the brand.
func (h *Handler) UpsertModel(w http.ResponseWriter, r *http.Request) {
	var input ModelInput
	if !decodeBody(w, r, &input) {
		return
	}

	model, msg := normalizeModel(input)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	brand, err := h.store.GetBrand(r.Context(), model.BrandKey)
	switch {
	case err == nil:
		model.BrandName = brand.Name
		if model.LogoFilename == "" {
			model.LogoFilename = brand.LogoFilename
		}
	case errors.Is(err, ErrNotFound):
		// A brand-less model is its own brand, as seeded entries are.
		if input.BrandKey != "" {
			writeError(w, http.StatusBadRequest, "Unknown brand")
			return
		}
	default:
		observability.ReportError(h.logger, "upsert_model", err, map[string]any{"brand_key": model.BrandKey})
		writeError(w, http.StatusInternalServerError, "Failed to create model")
		return
	}

	saved, err := h.store.UpsertModel(r.Context(), model)
	if err != nil {
		observability.ReportError(h.logger, "upsert_model", err, map[string]any{"key": model.Key})
		writeError(w, http.StatusInternalServerError, "Failed to create model")
		return
	}

	h.reload(r)
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.store.DeleteModel(r.Context(), key); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		observability.ReportError(h.logger, "delete_model", err, map[string]any{"key": key})
		writeError(w, http.StatusInternalServerError, "Failed to delete model")
		return
	}

	h.reload(r)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.store.ListBrands(r.Context())
	if err != nil {
		observability.ReportError(h.logger, "list_brands", err, nil)
		writeError(w, http.StatusInternalServerError, "Failed to fetch brands")
		return
	}

	writeJSON(w, http.StatusOK, brands)
}

func (h *Handler) CreateBrand(w http.ResponseWriter, r *http.Request) {
	var brand Brand
	if !decodeBody(w, r, &brand) {
		return
	}

	brand.Key = strings.TrimSpace(brand.Key)
	brand.Name = strings.TrimSpace(brand.Name)
	brand.LogoFilename = strings.TrimSpace(brand.LogoFilename)
	if brand.Key == "" || brand.Name == "" || brand.LogoFilename == "" {
		writeError(w, http.StatusBadRequest, "Missing key, name, or logo_filename")
		return
	}

	if err := h.store.CreateBrand(r.Context(), brand); err != nil {
		if errors.Is(err, ErrBrandExists) {
			writeError(w, http.StatusConflict, "Brand key already exists")
			return
		}
		observability.ReportError(h.logger, "create_brand", err, map[string]any{"key": brand.Key})
		writeError(w, http.StatusInternalServerError, "Failed to create brand")
		return
	}

	h.reload(r)
	writeJSON(w, http.StatusCreated, brand)
}

func (h *Handler) DeleteBrand(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.store.DeleteBrand(r.Context(), key); err != nil {
		var inUse ErrBrandInUse
		switch {
		case errors.As(err, &inUse):
			writeError(w, http.StatusConflict, inUse.Error())
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "Brand not found")
		default:
			observability.ReportError(h.logger, "delete_brand", err, map[string]any{"key": key})
			writeError(w, http.StatusInternalServerError, "Failed to delete brand")
		}
		return
	}

	h.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": key})
}

// reload refreshes the cache after a committed mutation. A failure only
// leaves the snapshot stale, so it is logged rather than returned.
func (h *Handler) reload(r *http.Request) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Reload(r.Context()); err != nil {
		observability.ReportError(h.logger, "reload_catalog", err, nil)
	}
}

func normalizeModel(input ModelInput) (Model, string) {
	model := Model{
		Key:          strings.TrimSpace(input.Key),
		Name:         strings.TrimSpace(input.Name),
		BrandKey:     strings.TrimSpace(input.BrandKey),
		LogoFilename: strings.TrimSpace(input.LogoFilename),
		Color:        strings.TrimSpace(input.Color),
	}

	if model.Name == "" {
		return Model{}, "Missing name"
	}
	if model.Key == "" {
		model.Key = KeyFromName(model.Name)
	}
	if model.Key == "" {
		return Model{}, "Model name must contain letters or digits"
	}
	if model.BrandKey == "" {
		model.BrandKey = model.Key
	}
	if model.Color == "" {
		model.Color = DefaultColor
	}
	if !colorPattern.MatchString(model.Color) {
		return Model{}, "Invalid color"
	}

	return model, ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
