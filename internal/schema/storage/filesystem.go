package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aevon-lab/project-lattice/internal/schema"
)

// extensions in precedence order.
var extensions = []struct {
	ext    string
	format schema.Format
}{
	{".yaml", schema.FormatYaml},
	{".yml", schema.FormatYaml},
	{".json", schema.FormatJSON},
}

// FileSystemRepository implements Repository using the local file system.
// It expects a flat directory: root/{name}.[yaml|yml|json].
// YAML files take precedence over JSON files if both exist.
type FileSystemRepository struct {
	rootDir string
}

// NewFileSystemRepository creates a new file system backed repository.
func NewFileSystemRepository(rootDir string) *FileSystemRepository {
	return &FileSystemRepository{
		rootDir: rootDir,
	}
}

// Create is not supported in read-only file system mode.
// Add the document file directly to the root directory instead.
func (r *FileSystemRepository) Create(ctx context.Context, doc *schema.Document) error {
	ext := ".yaml"
	if doc.Format == schema.FormatJSON {
		ext = ".json"
	}
	return fmt.Errorf("%w: add %s directly", schema.ErrReadOnly, filepath.Join(r.rootDir, doc.Name+ext))
}

// Get reads the document for name from the file system.
func (r *FileSystemRepository) Get(ctx context.Context, name string) (*schema.Document, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid schema name %q", name)
	}

	var found []string
	var doc *schema.Document
	for _, e := range extensions {
		path := filepath.Join(r.rootDir, name+e.ext)
		if !fileExists(path) {
			continue
		}
		found = append(found, path)
		if doc != nil {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema document: %w", err)
		}
		doc = buildDocument(name, content, e.format, path)
	}

	if len(found) > 1 {
		slog.Warn("[Schema] Multiple documents exist for schema - using first by precedence",
			"name", name, "files", found)
	}
	if doc == nil {
		return nil, schema.ErrNotFound
	}
	return doc, nil
}

// buildDocument constructs a schema.Document from file content.
func buildDocument(name string, content []byte, format schema.Format, path string) *schema.Document {
	doc := &schema.Document{
		Name:        name,
		Format:      format,
		Definition:  content,
		Fingerprint: schema.ComputeFingerprint(content),
	}
	if info, err := os.Stat(path); err == nil {
		doc.CreatedAt = info.ModTime().UTC()
	}
	return doc
}

// fileExists checks if a regular file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// List scans the root directory for schema documents.
func (r *FileSystemRepository) List(ctx context.Context) ([]*schema.Document, error) {
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*schema.Document{}, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, e := range extensions {
			if strings.HasSuffix(entry.Name(), e.ext) {
				name := strings.TrimSuffix(entry.Name(), e.ext)
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
				break
			}
		}
	}
	sort.Strings(names)

	docs := make([]*schema.Document, 0, len(names))
	for _, name := range names {
		doc, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete is not supported in read-only mode.
func (r *FileSystemRepository) Delete(ctx context.Context, name string) error {
	return fmt.Errorf("%w: remove the file for %s", schema.ErrReadOnly, name)
}

var _ schema.Repository = (*FileSystemRepository)(nil)
