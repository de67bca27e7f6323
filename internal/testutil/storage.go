package testutil

import (
	"sync"

	"github.com/calyptra/planrun/internal/engine"
)

// MemStorage is an in-memory storage collaborator keyed by path.
type MemStorage struct {
	mu    sync.Mutex
	files map[string][]byte
	reads int
}

// NewMemStorage creates an empty in-memory storage.
func NewMemStorage() *MemStorage {
	return &MemStorage{files: make(map[string][]byte)}
}

// Read implements engine.Storage. Missing paths return engine.ErrNotFound.
func (s *MemStorage) Read(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	data, ok := s.files[path]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write implements engine.Storage.
func (s *MemStorage) Write(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.files[path] = stored
	return nil
}

// Reads returns how many Read calls were made, successful or not.
func (s *MemStorage) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
