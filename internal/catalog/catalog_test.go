package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"arena-serverless/internal/observability"
)

type fakeStore struct {
	mu        sync.Mutex
	models    map[string]Model
	brands    map[string]Brand
	listCalls int
	failList  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		models: map[string]Model{
			"openai": {Key: "openai", Name: "OpenAI", BrandKey: "openai", LogoFilename: "openai.svg", Color: "#10a37f"},
		},
		brands: map[string]Brand{
			"openai":    {Key: "openai", Name: "OpenAI", LogoFilename: "openai.svg"},
			"anthropic": {Key: "anthropic", Name: "Anthropic", LogoFilename: "anthropic.svg"},
		},
	}
}

func (s *fakeStore) ListModels(context.Context) ([]Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.failList != nil {
		return nil, s.failList
	}
	out := make([]Model, 0, len(s.models))
	for _, m := range s.models {
		if b, ok := s.brands[m.BrandKey]; ok {
			m.BrandName = b.Name
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) UpsertModel(_ context.Context, m Model) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.Key] = m
	return m, nil
}

func (s *fakeStore) DeleteModel(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[key]; !ok {
		return ErrNotFound
	}
	delete(s.models, key)
	return nil
}

func (s *fakeStore) ListBrands(context.Context) ([]Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Brand, 0, len(s.brands))
	for _, b := range s.brands {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) GetBrand(_ context.Context, key string) (Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brands[key]
	if !ok {
		return Brand{}, ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) CreateBrand(_ context.Context, b Brand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.brands[b.Key]; ok {
		return ErrBrandExists
	}
	s.brands[b.Key] = b
	return nil
}

func (s *fakeStore) DeleteBrand(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.brands[key]; !ok {
		return ErrNotFound
	}
	count := 0
	for _, m := range s.models {
		if m.BrandKey == key {
			count++
		}
	}
	if count > 0 {
		return ErrBrandInUse{Models: count}
	}
	delete(s.brands, key)
	return nil
}

func newTestRouter(store Store, cache *Cache) http.Handler {
	h := NewHandler(store, cache, observability.NewLoggerTo(io.Discard, "error"))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", h.ListModels)
	mux.HandleFunc("POST /models", h.UpsertModel)
	mux.HandleFunc("DELETE /models/{key}", h.DeleteModel)
	mux.HandleFunc("GET /brands", h.ListBrands)
	mux.HandleFunc("POST /brands", h.CreateBrand)
	mux.HandleFunc("DELETE /brands/{key}", h.DeleteBrand)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestKeyFromName(t *testing.T) {
	cases := map[string]string{
		"GPT-4o mini":       "gpt-4o-mini",
		"  Claude 3.5  ":    "claude-3-5",
		"Qwen2.5-Coder-32B": "qwen2-5-coder-32b",
		"!!!":               "",
	}
	for in, want := range cases {
		if got := KeyFromName(in); got != want {
			t.Fatalf("KeyFromName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUpsertModel_DefaultsFromBrand(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	router := newTestRouter(store, cache)

	rec := do(t, router, http.MethodPost, "/models", `{"brand_key":"anthropic","name":"Claude Sonnet 4"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var got Model
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Model{
		Key:          "claude-sonnet-4",
		Name:         "Claude Sonnet 4",
		BrandKey:     "anthropic",
		BrandName:    "Anthropic",
		LogoFilename: "anthropic.svg",
		Color:        DefaultColor,
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	cached, ok, err := cache.Model(context.Background(), "claude-sonnet-4")
	if err != nil || !ok || cached.BrandName != "Anthropic" {
		t.Fatalf("expected cache to be reloaded, got %+v %v %v", cached, ok, err)
	}
}

func TestUpsertModel_Validation(t *testing.T) {
	router := newTestRouter(newFakeStore(), nil)

	cases := map[string]string{
		"missing name":  `{"brand_key":"openai"}`,
		"unusable name": `{"name":"???"}`,
		"unknown brand": `{"name":"X","brand_key":"nope"}`,
		"bad color":     `{"name":"X","brand_key":"openai","color":"red"}`,
		"bad json":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := do(t, router, http.MethodPost, "/models", body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestDeleteModel(t *testing.T) {
	router := newTestRouter(newFakeStore(), nil)

	if rec := do(t, router, http.MethodDelete, "/models/openai", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, router, http.MethodDelete, "/models/openai", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBrands(t *testing.T) {
	router := newTestRouter(newFakeStore(), nil)

	rec := do(t, router, http.MethodPost, "/brands", `{"key":"mistral","name":"Mistral","logo_filename":"mistral.svg"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/brands", `{"key":"mistral","name":"Mistral","logo_filename":"mistral.svg"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/brands", `{"key":"x","name":"X"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing logo, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodDelete, "/brands/openai", "")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "1 model(s) still reference it") {
		t.Fatalf("expected 409 for referenced brand, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodDelete, "/brands/mistral", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":"mistral"`) {
		t.Fatalf("unexpected delete response %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/brands", "")
	var brands []Brand
	_ = json.Unmarshal(rec.Body.Bytes(), &brands)
	if len(brands) != 2 || brands[0].Key != "anthropic" {
		t.Fatalf("unexpected brands %+v", brands)
	}
}

func TestCache_LazyLoadAndErrors(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()

	if _, ok, err := cache.Model(ctx, "openai"); err != nil || !ok {
		t.Fatalf("expected lazy load to find openai, got %v %v", ok, err)
	}
	if _, ok, _ := cache.Brand(ctx, "anthropic"); !ok {
		t.Fatal("expected brand lookup to hit")
	}
	if _, ok, _ := cache.Model(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
	if store.listCalls != 1 {
		t.Fatalf("expected a single load, got %d", store.listCalls)
	}

	store.failList = errors.New("db down")
	if err := cache.Reload(ctx); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok, err := cache.Model(ctx, "openai"); err != nil || !ok {
		t.Fatal("a failed reload must keep the previous snapshot")
	}
}
