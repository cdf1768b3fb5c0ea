package blob

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used in tests and local development
// without MinIO.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[id] = memoryBlob{data: buf, contentType: contentType}
	return id, nil
}

// PutWithKey stores data under a caller-chosen key. Used to seed blobs for
// images whose ids are already fixed.
func (s *MemoryStore) PutWithKey(key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = memoryBlob{data: buf, contentType: contentType}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	return b.data, b.contentType, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

// Len reports how many blobs are stored; used by tests asserting cleanup.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
