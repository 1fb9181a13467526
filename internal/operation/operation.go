// Package operation defines the closed set of operation kinds a chain is
// built from, their input and output types and static chain validation.
package operation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/export"
	"github.com/aevon-lab/project-lattice/internal/view"
)

// Kind tags an operation variant. The executor dispatches on it.
type Kind string

const (
	KindAddElements            Kind = "add_elements"
	KindGetElements            Kind = "get_elements"
	KindGetAdjacentEntitySeeds Kind = "get_adjacent_entity_seeds"
	KindGenerateElements       Kind = "generate_elements"
	KindGenerateObjects        Kind = "generate_objects"
	KindInitialiseExport       Kind = "initialise_export"
	KindUpdateExport           Kind = "update_export"
	KindFetchExport            Kind = "fetch_export"
	KindLimit                  Kind = "limit"
)

// Kinds lists the built-in kinds in declaration order.
var Kinds = []Kind{
	KindAddElements,
	KindGetElements,
	KindGetAdjacentEntitySeeds,
	KindGenerateElements,
	KindGenerateObjects,
	KindInitialiseExport,
	KindUpdateExport,
	KindFetchExport,
	KindLimit,
}

// IOType is the static type of the items flowing between two steps.
type IOType string

const (
	TypeVoid     IOType = "void"
	TypeObjects  IOType = "objects"
	TypeElements IOType = "elements"
	TypeSeeds    IOType = "seeds"
	// TypeAny accepts, or stands for, any type.
	TypeAny IOType = "any"
	// TypeInput as an output type means the step passes its input type through.
	TypeInput IOType = "input"
)

// AssignableTo reports whether output type t can feed an input of type in.
func (t IOType) AssignableTo(in IOType) bool {
	return in == TypeAny || t == TypeAny || t == in
}

// Signature declares the types an operation consumes and produces.
type Signature struct {
	Input  IOType
	Output IOType
	// Explicit is true when the operation carries its own input. The
	// previous step's output is then discarded and not type-checked.
	Explicit bool
}

// Operation is an immutable unit of work.
type Operation interface {
	Kind() Kind
	Signature() Signature
	// Validate checks the operation's own parameters.
	Validate() error
}

// Viewed is implemented by operations that read through a view.
type Viewed interface {
	GetView() *view.View
}

// Include selects which element kinds a read returns.
type Include string

const (
	IncludeAll      Include = "all"
	IncludeEntities Include = "entities"
	IncludeEdges    Include = "edges"
)

// ParseInclude parses an include name (case-insensitive). Empty means all.
func ParseInclude(s string) (Include, error) {
	switch Include(strings.ToLower(strings.TrimSpace(s))) {
	case "", IncludeAll:
		return IncludeAll, nil
	case IncludeEntities:
		return IncludeEntities, nil
	case IncludeEdges:
		return IncludeEdges, nil
	}
	return "", fmt.Errorf("unknown include %q (must be all, entities or edges)", s)
}

// AddElements writes elements to the backend. Elements come from the
// operation itself or from the previous step.
type AddElements struct {
	Elements []element.Element
	// SkipInvalid drops elements that fail schema validation instead of
	// failing the step.
	SkipInvalid bool
}

func (o *AddElements) Kind() Kind { return KindAddElements }

func (o *AddElements) Signature() Signature {
	return Signature{Input: TypeElements, Output: TypeVoid, Explicit: o.Elements != nil}
}

func (o *AddElements) Validate() error {
	for i, el := range o.Elements {
		if el == nil {
			return fmt.Errorf("elements[%d] is nil", i)
		}
	}
	return nil
}

// GetElements returns the elements related to seeds, through View.
type GetElements struct {
	Seeds     []element.Seed
	Direction element.Direction
	Include   Include
	View      *view.View
}

func (o *GetElements) Kind() Kind { return KindGetElements }

func (o *GetElements) Signature() Signature {
	return Signature{Input: TypeSeeds, Output: TypeElements, Explicit: o.Seeds != nil}
}

func (o *GetElements) Validate() error {
	if err := validateSeeds(o.Seeds); err != nil {
		return err
	}
	if _, err := element.ParseDirection(string(o.Direction)); err != nil {
		return err
	}
	_, err := ParseInclude(string(o.Include))
	return err
}

func (o *GetElements) GetView() *view.View { return o.View }

// RelatedOptions converts the operation parameters to backend options.
func (o *GetElements) RelatedOptions() storage.RelatedOptions {
	dir, _ := element.ParseDirection(string(o.Direction))
	inc, _ := ParseInclude(string(o.Include))
	return storage.RelatedOptions{
		Direction:       dir,
		IncludeEntities: inc != IncludeEdges,
		IncludeEdges:    inc != IncludeEntities,
	}
}

// GetAdjacentEntitySeeds returns an EntitySeed for the far end of every edge
// related to seeds, one per edge surviving View.
type GetAdjacentEntitySeeds struct {
	Seeds     []element.Seed
	Direction element.Direction
	View      *view.View
}

func (o *GetAdjacentEntitySeeds) Kind() Kind { return KindGetAdjacentEntitySeeds }

func (o *GetAdjacentEntitySeeds) Signature() Signature {
	return Signature{Input: TypeSeeds, Output: TypeSeeds, Explicit: o.Seeds != nil}
}

func (o *GetAdjacentEntitySeeds) Validate() error {
	if err := validateSeeds(o.Seeds); err != nil {
		return err
	}
	_, err := element.ParseDirection(string(o.Direction))
	return err
}

func (o *GetAdjacentEntitySeeds) GetView() *view.View { return o.View }

// RelatedOptions converts the operation parameters to backend options.
func (o *GetAdjacentEntitySeeds) RelatedOptions() storage.RelatedOptions {
	dir, _ := element.ParseDirection(string(o.Direction))
	return storage.RelatedOptions{Direction: dir, IncludeEdges: true}
}

// GenerateElements converts domain objects to elements.
type GenerateElements struct {
	Generator Generator
	// Objects, when set, replaces the previous step's output.
	Objects []interface{}
}

func (o *GenerateElements) Kind() Kind { return KindGenerateElements }

func (o *GenerateElements) Signature() Signature {
	return Signature{Input: TypeObjects, Output: TypeElements, Explicit: o.Objects != nil}
}

func (o *GenerateElements) Validate() error {
	if o.Generator == nil {
		return errors.New("generator is required")
	}
	return nil
}

// GenerateObjects converts elements to seeds or domain objects. The output
// type is the extractor's.
type GenerateObjects struct {
	Extractor Extractor
}

func (o *GenerateObjects) Kind() Kind { return KindGenerateObjects }

func (o *GenerateObjects) Signature() Signature {
	out := TypeObjects
	if o.Extractor != nil {
		out = o.Extractor.Output()
	}
	return Signature{Input: TypeElements, Output: out}
}

func (o *GenerateObjects) Validate() error {
	if o.Extractor == nil {
		return errors.New("extractor is required")
	}
	return nil
}

// InitialiseExport creates or empties an export set and passes its input
// through.
type InitialiseExport struct {
	Name string
}

func (o *InitialiseExport) Kind() Kind { return KindInitialiseExport }

func (o *InitialiseExport) Signature() Signature {
	return Signature{Input: TypeAny, Output: TypeInput}
}

func (o *InitialiseExport) Validate() error { return nil }

// ExportName returns the resolved set name.
func (o *InitialiseExport) ExportName() string { return export.ResolveName(o.Name) }

// UpdateExport adds its input to an export set and passes it through.
type UpdateExport struct {
	Name string
}

func (o *UpdateExport) Kind() Kind { return KindUpdateExport }

func (o *UpdateExport) Signature() Signature {
	return Signature{Input: TypeAny, Output: TypeInput}
}

func (o *UpdateExport) Validate() error { return nil }

// ExportName returns the resolved set name.
func (o *UpdateExport) ExportName() string { return export.ResolveName(o.Name) }

// FetchExport replaces its input with the contents of an export set. Its
// output type is inferred from the updates earlier in the chain.
type FetchExport struct {
	Name string
}

func (o *FetchExport) Kind() Kind { return KindFetchExport }

func (o *FetchExport) Signature() Signature {
	return Signature{Input: TypeAny, Output: TypeAny, Explicit: true}
}

func (o *FetchExport) Validate() error { return nil }

// ExportName returns the resolved set name.
func (o *FetchExport) ExportName() string { return export.ResolveName(o.Name) }

// Limit passes through at most Count items.
type Limit struct {
	Count int
	// Strict fails the step when the input holds more than Count items
	// instead of truncating.
	Strict bool
}

func (o *Limit) Kind() Kind { return KindLimit }

func (o *Limit) Signature() Signature {
	return Signature{Input: TypeAny, Output: TypeInput}
}

func (o *Limit) Validate() error {
	if o.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", o.Count)
	}
	return nil
}

func validateSeeds(seeds []element.Seed) error {
	for i, s := range seeds {
		if s == nil {
			return fmt.Errorf("seeds[%d] is nil", i)
		}
	}
	return nil
}
