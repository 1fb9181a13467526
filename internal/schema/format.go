package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FormatCompiler compiles schema documents into schemas.
// Each document format (YAML, JSON) implements this interface.
type FormatCompiler interface {
	// Compile parses the document and returns a validated schema.
	// Returns error if the definition is malformed or invalid.
	Compile(ctx context.Context, doc *Document) (*Schema, error)
}

// FormatRegistry manages compiler implementations for each document format.
type FormatRegistry struct {
	mu        sync.RWMutex
	compilers map[Format]FormatCompiler
}

// NewFormatRegistry creates a new format registry.
func NewFormatRegistry() *FormatRegistry {
	return &FormatRegistry{
		compilers: make(map[Format]FormatCompiler),
	}
}

// RegisterFormat registers the compiler for a document format.
func (r *FormatRegistry) RegisterFormat(format Format, compiler FormatCompiler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.compilers[format] = compiler
}

// GetCompiler retrieves the compiler for a given format.
// Returns error if the format is not registered.
func (r *FormatRegistry) GetCompiler(format Format) (FormatCompiler, error) {
	r.mu.RLock()
	compiler, exists := r.compilers[format]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported schema format: %s (registered: %v)", format, r.SupportedFormats())
	}
	return compiler, nil
}

// IsFormatSupported checks if a format has been registered.
func (r *FormatRegistry) IsFormatSupported(format Format) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.compilers[format]
	return exists
}

// SupportedFormats returns the registered formats, sorted.
func (r *FormatRegistry) SupportedFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]Format, 0, len(r.compilers))
	for format := range r.compilers {
		formats = append(formats, format)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}
