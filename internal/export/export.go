// Package export holds the named result sets a single chain execution
// accumulates between steps.
package export

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aevon-lab/project-lattice/internal/core/element"
)

// DefaultName is used when an export operation names no set.
const DefaultName = "ALL"

// ErrExportNotInitialised is returned when fetching a set that was never
// initialised or updated.
var ErrExportNotInitialised = errors.New("export not initialised")

// ResolveName maps the empty name to DefaultName.
func ResolveName(name string) string {
	if name == "" {
		return DefaultName
	}
	return name
}

// Identity returns the set identity of an exported item. Seeds collapse by
// seed identity (role ignored), elements by aggregation key.
func Identity(item interface{}) string {
	switch v := item.(type) {
	case element.Seed:
		return "seed:" + v.Identity()
	case element.Element:
		return "element:" + v.Key().String()
	}
	return fmt.Sprintf("%T:%v", item, item)
}

type set struct {
	index map[string]struct{}
	items []interface{}
}

func newSet() *set {
	return &set{index: make(map[string]struct{})}
}

// Context is the export state of one chain execution. It is created empty
// when the chain starts and discarded when it finishes; it is never shared
// between executions.
type Context struct {
	mu   sync.Mutex
	sets map[string]*set
}

// New creates an empty context.
func New() *Context {
	return &Context{sets: make(map[string]*set)}
}

// Initialise creates the named set, emptying it if it already exists.
func (c *Context) Initialise(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[ResolveName(name)] = newSet()
}

// Update adds items to the named set, creating it if needed. Items already
// present by identity are skipped. It returns the number of items added.
func (c *Context) Update(name string, items []interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	name = ResolveName(name)
	s, ok := c.sets[name]
	if !ok {
		s = newSet()
		c.sets[name] = s
	}
	added := 0
	for _, item := range items {
		id := Identity(item)
		if _, dup := s.index[id]; dup {
			continue
		}
		s.index[id] = struct{}{}
		s.items = append(s.items, item)
		added++
	}
	return added
}

// Fetch returns a snapshot of the named set in first-insertion order.
func (c *Context) Fetch(name string) ([]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name = ResolveName(name)
	s, ok := c.sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExportNotInitialised, name)
	}
	return append([]interface{}(nil), s.items...), nil
}

// Len returns the size of the named set, or 0 if it does not exist.
func (c *Context) Len(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sets[ResolveName(name)]; ok {
		return len(s.items)
	}
	return 0
}

// Names returns the initialised set names, sorted.
func (c *Context) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.sets))
	for name := range c.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
