// Package mocks holds testify mocks for the storage contracts.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
)

// MockBackend mocks the storage.Backend interface.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetElementsRelatedTo(ctx context.Context, seeds []element.Seed, opts storage.RelatedOptions) (stream.Iterator[element.Element], error) {
	args := m.Called(ctx, seeds, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(stream.Iterator[element.Element]), args.Error(1)
}

func (m *MockBackend) AddElements(ctx context.Context, elements []element.Element) error {
	return m.Called(ctx, elements).Error(0)
}

// Locality returns grouped unless an expectation is set.
func (m *MockBackend) Locality() storage.Locality {
	for _, c := range m.ExpectedCalls {
		if c.Method == "Locality" {
			return m.Called().Get(0).(storage.Locality)
		}
	}
	return storage.LocalityGrouped
}

var _ storage.Backend = (*MockBackend)(nil)
