package yaml

import (
	"bytes"
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/project-lattice/internal/schema"
)

// Compiler compiles YAML and JSON schema documents. JSON documents are
// parsed by the YAML decoder.
type Compiler struct{}

// NewCompiler creates a new YAML compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Register installs the compiler for both document formats.
func Register(formats *schema.FormatRegistry) {
	c := NewCompiler()
	formats.RegisterFormat(schema.FormatYaml, c)
	formats.RegisterFormat(schema.FormatJSON, c)
}

// Compile parses a schema document and returns the compiled schema.
func (c *Compiler) Compile(ctx context.Context, doc *schema.Document) (*schema.Schema, error) {
	if doc.Format != schema.FormatYaml && doc.Format != schema.FormatJSON {
		return nil, fmt.Errorf("expected yaml or json format, got %s", doc.Format)
	}

	spec, err := Parse(doc.Definition)
	if err != nil {
		return nil, err
	}

	if spec.Name != doc.Name {
		return nil, fmt.Errorf("schema name %q does not match document name %q", spec.Name, doc.Name)
	}

	s, err := spec.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	s.Fingerprint = doc.Fingerprint
	return s, nil
}

// Parse decodes a schema document. Unknown keys are rejected.
func Parse(definition []byte) (*SchemaSpec, error) {
	var spec SchemaSpec
	dec := yaml.NewDecoder(bytes.NewReader(definition))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}
	return &spec, nil
}

var _ schema.FormatCompiler = (*Compiler)(nil)
