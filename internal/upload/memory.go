package upload

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; production uses SQLiteRepository.
type MemoryRepository struct {
	mu      sync.RWMutex
	uploads map[string]*Upload
}

// NewMemoryRepository creates a new in-memory upload repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		uploads: make(map[string]*Upload),
	}
}

// Save persists an upload to the in-memory storage.
// Creates a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, upload *Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[upload.ID] = upload.Clone()
	return nil
}

// FindByID retrieves an upload by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.uploads[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return u.Clone(), nil
}

// List returns uploads newest first, bounded by limit and offset.
func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]*Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Upload, 0, len(r.uploads))
	for _, u := range r.uploads {
		all = append(all, u.Clone())
	}
	sort.Slice(all, func(i, k int) bool {
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})

	if offset >= len(all) {
		return []*Upload{}, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
