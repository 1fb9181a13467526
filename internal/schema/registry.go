package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity is the default number of compiled schemas to cache.
const DefaultCacheCapacity = 64

// Registry provides schema lookup: documents come from a Repository,
// compiled schemas are cached.
type Registry struct {
	repo    Repository
	formats *FormatRegistry
	cache   *Cache

	compileGroup singleflight.Group // Dedupe concurrent compilation
}

// NewRegistry creates a new schema registry.
func NewRegistry(repo Repository, formats *FormatRegistry) *Registry {
	return NewRegistryWithCache(repo, formats, DefaultCacheCapacity)
}

// NewRegistryWithCache creates a registry with a custom cache capacity.
func NewRegistryWithCache(repo Repository, formats *FormatRegistry, cacheCapacity int) *Registry {
	return &Registry{
		repo:    repo,
		formats: formats,
		cache:   NewCache(cacheCapacity),
	}
}

// Close stops the cache's background goroutines. The registry still loads
// after Close but compiles on every call.
func (r *Registry) Close() {
	r.cache.Close()
}

// Get returns the raw document registered under name.
func (r *Registry) Get(ctx context.Context, name string) (*Document, error) {
	doc, err := r.repo.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("schema %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// Load returns the compiled schema registered under name, compiling the
// document on a cache miss. Concurrent loads of the same document compile once.
func (r *Registry) Load(ctx context.Context, name string) (*Schema, error) {
	if s := r.cache.Get(name); s != nil {
		return s, nil
	}

	doc, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.compile(ctx, doc)
}

// compile compiles doc through its format compiler and caches the result.
func (r *Registry) compile(ctx context.Context, doc *Document) (*Schema, error) {
	key := fmt.Sprintf("%s:%s", doc.Name, doc.Fingerprint)

	result, err, _ := r.compileGroup.Do(key, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		if s := r.cache.Get(doc.Name); s != nil && s.Fingerprint == doc.Fingerprint {
			return s, nil
		}

		compiler, err := r.formats.GetCompiler(doc.Format)
		if err != nil {
			return nil, fmt.Errorf("compilation failed: %w", err)
		}

		start := time.Now()
		s, err := compiler.Compile(ctx, doc)
		if err != nil {
			return nil, err
		}
		s.Fingerprint = doc.Fingerprint

		r.cache.Put(s)
		slog.Info("[Schema] Compiled schema",
			"name", s.Name,
			"entities", len(s.Entities),
			"edges", len(s.Edges),
			"duration", time.Since(start))
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Schema), nil
}

// Register validates and stores a new document, returning its compiled form.
// Nothing is stored when the document does not compile.
func (r *Registry) Register(ctx context.Context, name string, format Format, definition []byte) (*Schema, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	if len(definition) == 0 {
		return nil, errors.New("definition is required")
	}

	doc := &Document{
		Name:        name,
		Format:      format,
		Definition:  definition,
		Fingerprint: ComputeFingerprint(definition),
		CreatedAt:   time.Now().UTC(),
	}

	s, err := r.compile(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := r.repo.Create(ctx, doc); err != nil {
		r.cache.Invalidate(name)
		return nil, err
	}
	return s, nil
}

// Invalidate drops the compiled schema for name from the cache.
func (r *Registry) Invalidate(name string) {
	r.cache.Invalidate(name)
}

// List returns all registered documents.
func (r *Registry) List(ctx context.Context) ([]*Document, error) {
	return r.repo.List(ctx)
}
