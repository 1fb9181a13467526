package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/aevon-lab/project-lattice/internal/schema"
)

// MemoryRepository is an in-memory implementation of Repository.
// Useful for testing and development.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]*schema.Document
}

// NewMemoryRepository creates a new in-memory schema repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[string]*schema.Document),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, doc *schema.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[doc.Name]; exists {
		return schema.ErrAlreadyExists
	}

	// Store a copy to prevent external modification
	copy := *doc
	r.docs[doc.Name] = &copy
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, name string) (*schema.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.docs[name]
	if !exists {
		return nil, schema.ErrNotFound
	}

	copy := *doc
	return &copy, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*schema.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*schema.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		copy := *doc
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[name]; !exists {
		return schema.ErrNotFound
	}

	delete(r.docs, name)
	return nil
}

var _ schema.Repository = (*MemoryRepository)(nil)
