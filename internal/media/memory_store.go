package media

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	data := make([]byte, len(body))
	copy(data, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{
		Key:         key,
		ContentType: contentType,
		ETag:        computeETag(data),
		Size:        int64(len(data)),
		Body:        data,
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
