package blob

import (
	"context"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in a map. Used by tests and single-process
// deployments that serve assets straight from memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// BaseURL prefixes returned URLs, default "/assets".
	BaseURL string
}

type memoryObject struct {
	data     []byte
	mimeType string
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject), BaseURL: "/assets"}
}

// SaveBytes implements Storage.
func (s *MemoryStorage) SaveBytes(_ context.Context, key string, data []byte, mimeType string) (string, error) {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.objects[key] = memoryObject{data: cp, mimeType: mimeType}
	s.mu.Unlock()

	return strings.TrimSuffix(s.BaseURL, "/") + "/" + key, nil
}

// Get returns a stored object. Second return reports presence.
func (s *MemoryStorage) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return obj.data, obj.mimeType, true
}

// Len reports the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
