package demo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arena-serverless/internal/catalog"
	"arena-serverless/internal/media"
	"arena-serverless/internal/observability"
)

type fakeStore struct {
	demos     map[string]Demo
	tabs      map[string]bool
	lastPatch Patch
}

func newFakeStore() *fakeStore {
	return &fakeStore{demos: map[string]Demo{}, tabs: map[string]bool{"tab-1": true, "tab-2": true}}
}

func (s *fakeStore) List(_ context.Context, tabID string) ([]Demo, error) {
	out := make([]Demo, 0)
	for _, d := range s.demos {
		if tabID == "" || d.TabID == tabID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (Demo, error) {
	d, ok := s.demos[id]
	if !ok {
		return Demo{}, ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) Create(_ context.Context, d Demo) (Demo, error) {
	if !s.tabs[d.TabID] {
		return Demo{}, ErrUnknownTab
	}
	d.CreatedAt = time.Now().UTC()
	s.demos[d.ID] = d
	return d, nil
}

func (s *fakeStore) Update(_ context.Context, id string, patch Patch) (Demo, error) {
	s.lastPatch = patch
	d, ok := s.demos[id]
	if !ok {
		return Demo{}, ErrNotFound
	}
	if patch.TabID != nil {
		if !s.tabs[*patch.TabID] {
			return Demo{}, ErrUnknownTab
		}
		d.TabID = *patch.TabID
	}
	if patch.ModelName != nil {
		d.ModelName = *patch.ModelName
	}
	if patch.DemoType != nil {
		d.DemoType = *patch.DemoType
	}
	if patch.Comment != nil {
		d.Comment = patch.Comment
	}
	s.demos[id] = d
	return d, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) (Demo, error) {
	d, ok := s.demos[id]
	if !ok {
		return Demo{}, ErrNotFound
	}
	delete(s.demos, id)
	return d, nil
}

type fakeModels map[string]catalog.Model

func (m fakeModels) Model(_ context.Context, key string) (catalog.Model, bool, error) {
	if key == "broken" {
		return catalog.Model{}, false, errors.New("registry unavailable")
	}
	model, ok := m[key]
	return model, ok, nil
}

type failingBlobs struct {
	media.Store
}

func (failingBlobs) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func newRouter(store Store, blobs media.Store) http.Handler {
	models := fakeModels{"claude-opus": {Key: "claude-opus", Name: "Claude Opus"}}
	h := NewHandler(store, blobs, models, observability.NewLoggerTo(io.Discard, "error"))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /demos", h.List)
	mux.HandleFunc("GET /demos/{id}", h.Get)
	mux.HandleFunc("POST /demos", h.Upload)
	mux.HandleFunc("PUT /demos/{id}", h.Update)
	mux.HandleFunc("DELETE /demos/{id}", h.Delete)
	return mux
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func upload(t *testing.T, router http.Handler, body map[string]any) Demo {
	t.Helper()
	raw, _ := json.Marshal(body)
	rec := serve(router, http.MethodPost, "/demos", string(raw))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d Demo
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode demo: %v", err)
	}
	return d
}

func TestUpload_PythonWithThumbnail(t *testing.T) {
	store := newFakeStore()
	blobs := media.NewMemoryStore()
	router := newRouter(store, blobs)

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	d := upload(t, router, map[string]any{
		"tab_id":    "tab-1",
		"model_key": "claude-opus",
		"demo_type": "python",
		"code":      "import pygame\nprint('hi')",
		"thumbnail": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"comment":   "first try",
	})

	if !strings.HasPrefix(d.ID, "demo-") {
		t.Fatalf("expected demo- id, got %q", d.ID)
	}
	if d.ModelName != "Claude Opus" {
		t.Fatalf("expected model name resolved from registry, got %q", d.ModelName)
	}
	if d.FileKey != media.DemoFileKey(d.ID) {
		t.Fatalf("unexpected file key %q", d.FileKey)
	}
	if d.ThumbnailKey == nil || *d.ThumbnailKey != media.DemoThumbnailKey(d.ID) {
		t.Fatalf("unexpected thumbnail key %v", d.ThumbnailKey)
	}
	if d.Comment == nil || *d.Comment != "first try" {
		t.Fatalf("unexpected comment %v", d.Comment)
	}

	page, err := blobs.Get(context.Background(), d.FileKey)
	if err != nil {
		t.Fatalf("expected stored page: %v", err)
	}
	if page.ContentType != "text/html" || !strings.Contains(string(page.Body), "loadPyodide") {
		t.Fatalf("expected wrapped python page, got %s", page.ContentType)
	}

	thumb, err := blobs.Get(context.Background(), *d.ThumbnailKey)
	if err != nil {
		t.Fatalf("expected stored thumbnail: %v", err)
	}
	if string(thumb.Body) != string(png) || thumb.ContentType != "image/png" {
		t.Fatalf("unexpected thumbnail %q %s", thumb.Body, thumb.ContentType)
	}
}

func TestUpload_Validation(t *testing.T) {
	router := newRouter(newFakeStore(), media.NewMemoryStore())

	cases := map[string]struct {
		body   string
		status int
	}{
		"missing code":      {`{"tab_id":"tab-1","model_key":"claude-opus","demo_type":"html"}`, http.StatusBadRequest},
		"bad type":          {`{"tab_id":"tab-1","model_key":"claude-opus","demo_type":"jsx","code":"x"}`, http.StatusBadRequest},
		"unknown model":     {`{"tab_id":"tab-1","model_key":"nope","demo_type":"html","code":"x"}`, http.StatusBadRequest},
		"unknown tab":       {`{"tab_id":"tab-9","model_key":"claude-opus","demo_type":"html","code":"x"}`, http.StatusBadRequest},
		"bad thumbnail":     {`{"tab_id":"tab-1","model_key":"claude-opus","demo_type":"html","code":"x","thumbnail":"%%%"}`, http.StatusBadRequest},
		"registry down":     {`{"tab_id":"tab-1","model_key":"broken","demo_type":"html","code":"x"}`, http.StatusInternalServerError},
		"explicit name":     {`{"tab_id":"tab-1","model_key":"nope","model_name":"Custom","demo_type":"html","code":"x"}`, http.StatusCreated},
		"malformed payload": {`{`, http.StatusBadRequest},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(router, http.MethodPost, "/demos", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUpload_UnknownTabLeavesNoBlobs(t *testing.T) {
	blobs := media.NewMemoryStore()
	router := newRouter(newFakeStore(), blobs)

	rec := serve(router, http.MethodPost, "/demos", `{"tab_id":"tab-9","model_key":"claude-opus","demo_type":"markdown","code":"# hi","thumbnail":"aGk="}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	keys, _ := blobs.List(context.Background(), media.DemoPrefix)
	if len(keys) != 0 {
		t.Fatalf("expected stored blobs to be discarded, got %v", keys)
	}
}

func TestUpload_BlobFailure(t *testing.T) {
	store := newFakeStore()
	router := newRouter(store, failingBlobs{Store: media.NewMemoryStore()})

	rec := serve(router, http.MethodPost, "/demos", `{"tab_id":"tab-1","model_key":"claude-opus","demo_type":"html","code":"<p>x</p>"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "bucket") {
		t.Fatal("internal error must not leak to the client")
	}
	if len(store.demos) != 0 {
		t.Fatal("no row expected when the page could not be stored")
	}
}

func TestGetAndList(t *testing.T) {
	store := newFakeStore()
	router := newRouter(store, media.NewMemoryStore())
	d := upload(t, router, map[string]any{"tab_id": "tab-1", "model_key": "claude-opus", "demo_type": "html", "code": "<p>1</p>"})
	upload(t, router, map[string]any{"tab_id": "tab-2", "model_key": "claude-opus", "demo_type": "html", "code": "<p>2</p>"})

	rec := serve(router, http.MethodGet, "/demos?tab=tab-1", "")
	var listed []Demo
	_ = json.Unmarshal(rec.Body.Bytes(), &listed)
	if rec.Code != http.StatusOK || len(listed) != 1 || listed[0].ID != d.ID {
		t.Fatalf("expected only the tab-1 demo, got %d %v", rec.Code, listed)
	}

	if rec := serve(router, http.MethodGet, "/demos/"+d.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := serve(router, http.MethodGet, "/demos/demo-missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdate_RewrapsCode(t *testing.T) {
	store := newFakeStore()
	blobs := media.NewMemoryStore()
	router := newRouter(store, blobs)
	d := upload(t, router, map[string]any{"tab_id": "tab-1", "model_key": "claude-opus", "demo_type": "html", "code": "<p>old</p>"})

	rec := serve(router, http.MethodPut, "/demos/"+d.ID, `{"demo_type":"markdown","code":"# new"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page, _ := blobs.Get(context.Background(), d.FileKey)
	if !strings.Contains(string(page.Body), markdownCDN) {
		t.Fatal("expected page re-rendered as markdown")
	}
	if store.lastPatch.DemoType == nil || *store.lastPatch.DemoType != TypeMarkdown {
		t.Fatalf("expected demo_type in patch, got %+v", store.lastPatch)
	}

	if rec := serve(router, http.MethodPut, "/demos/"+d.ID, `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", rec.Code)
	}
	if rec := serve(router, http.MethodPut, "/demos/demo-missing", `{"comment":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := serve(router, http.MethodPut, "/demos/"+d.ID, `{"tab_id":"tab-9"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tab, got %d", rec.Code)
	}
}

func TestUpdate_TypeChangeRequiresCode(t *testing.T) {
	store := newFakeStore()
	blobs := media.NewMemoryStore()
	router := newRouter(store, blobs)
	d := upload(t, router, map[string]any{"tab_id": "tab-1", "model_key": "claude-opus", "demo_type": "python", "code": "print(1)"})

	rec := serve(router, http.MethodPut, "/demos/"+d.ID, `{"demo_type":"html"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := store.demos[d.ID].DemoType; got != TypePython {
		t.Fatalf("expected demo_type to stay python, got %q", got)
	}
	page, _ := blobs.Get(context.Background(), d.FileKey)
	if !strings.Contains(string(page.Body), pyodideIndexURL) {
		t.Fatal("expected stored page to remain the python wrapper")
	}
}

func TestUpdate_RejectedPatchKeepsPage(t *testing.T) {
	store := newFakeStore()
	blobs := media.NewMemoryStore()
	router := newRouter(store, blobs)
	d := upload(t, router, map[string]any{"tab_id": "tab-1", "model_key": "claude-opus", "demo_type": "html", "code": "<p>old</p>"})

	rec := serve(router, http.MethodPut, "/demos/"+d.ID, `{"tab_id":"tab-9","code":"<p>new</p>"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tab, got %d", rec.Code)
	}
	page, err := blobs.Get(context.Background(), d.FileKey)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if string(page.Body) != "<p>old</p>" {
		t.Fatalf("expected page untouched, got %q", page.Body)
	}
	if got := store.demos[d.ID].TabID; got != "tab-1" {
		t.Fatalf("expected tab to stay tab-1, got %q", got)
	}
}

func TestDelete_RemovesRowAndBlobs(t *testing.T) {
	store := newFakeStore()
	blobs := media.NewMemoryStore()
	router := newRouter(store, blobs)
	d := upload(t, router, map[string]any{
		"tab_id": "tab-1", "model_key": "claude-opus", "demo_type": "html", "code": "<p>x</p>",
		"thumbnail": base64.StdEncoding.EncodeToString([]byte("png")),
	})

	rec := serve(router, http.MethodDelete, "/demos/"+d.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, err := blobs.Get(context.Background(), d.FileKey); !errors.Is(err, media.ErrNotFound) {
		t.Fatalf("expected page blob removed, got %v", err)
	}
	if _, err := blobs.Get(context.Background(), *d.ThumbnailKey); !errors.Is(err, media.ErrNotFound) {
		t.Fatalf("expected thumbnail blob removed, got %v", err)
	}
	if rec := serve(router, http.MethodDelete, "/demos/"+d.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}
