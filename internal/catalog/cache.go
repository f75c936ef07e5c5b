package catalog

import (
	"context"
	"sync"
)

// Cache is an in-process snapshot of the models registry and brands.
// Handlers that mutate either call Reload; readers load lazily on first use.
type Cache struct {
	store Store

	mu     sync.RWMutex
	loaded bool
	models map[string]Model
	brands map[string]Brand
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:  store,
		models: make(map[string]Model),
		brands: make(map[string]Brand),
	}
}

func (c *Cache) Reload(ctx context.Context) error {
	models, err := c.store.ListModels(ctx)
	if err != nil {
		return err
	}
	brands, err := c.store.ListBrands(ctx)
	if err != nil {
		return err
	}

	modelByKey := make(map[string]Model, len(models))
	for _, m := range models {
		modelByKey[m.Key] = m
	}
	brandByKey := make(map[string]Brand, len(brands))
	for _, b := range brands {
		brandByKey[b.Key] = b
	}

	c.mu.Lock()
	c.models = modelByKey
	c.brands = brandByKey
	c.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *Cache) Model(ctx context.Context, key string) (Model, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Model{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[key]
	return m, ok, nil
}

func (c *Cache) Brand(ctx context.Context, key string) (Brand, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Brand{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.brands[key]
	return b, ok, nil
}

func (c *Cache) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Reload(ctx)
}
