package schema

import (
	"context"
)

// Repository defines the interface for schema document storage.
type Repository interface {
	// Create stores a new document. Returns ErrAlreadyExists if a document
	// with the same name exists.
	Create(ctx context.Context, doc *Document) error

	// Get retrieves a document by name. Returns ErrNotFound if not found.
	Get(ctx context.Context, name string) (*Document, error)

	// List returns every stored document, sorted by name.
	List(ctx context.Context) ([]*Document, error)

	// Delete removes a document.
	Delete(ctx context.Context, name string) error
}
