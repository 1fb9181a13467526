package postgres

import (
	"database/sql"
	"fmt"

	"github.com/aevon-lab/project-lattice/internal/core/element"
)

// elementRow is the column set of the elements table, in insert order.
type elementRow struct {
	Kind        element.Kind
	Group       string
	Vertex      sql.NullString
	Source      sql.NullString
	Destination sql.NullString
	Directed    bool
	AggKey      string
	Properties  []byte
}

// toRow flattens an element for insertion.
func toRow(el element.Element) (elementRow, error) {
	props, err := element.EncodeProperties(el.GetProperties())
	if err != nil {
		return elementRow{}, fmt.Errorf("failed to marshal properties: %w", err)
	}
	row := elementRow{
		Kind:       el.Kind(),
		Group:      el.GetGroup(),
		AggKey:     el.Key().String(),
		Properties: props,
	}
	switch e := el.(type) {
	case *element.Entity:
		row.Vertex = sql.NullString{String: e.Vertex, Valid: true}
	case *element.Edge:
		row.Source = sql.NullString{String: e.Source, Valid: true}
		row.Destination = sql.NullString{String: e.Destination, Valid: true}
		row.Directed = e.Directed
	}
	return row, nil
}

func (r elementRow) args() []interface{} {
	return []interface{}{
		int(r.Kind), r.Group, r.Vertex, r.Source, r.Destination, r.Directed, r.AggKey, r.Properties,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanElementRow scans a row selected by querySelectRelated.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanElementRow(row scanner) (int64, element.Element, error) {
	var (
		id          int64
		kind        int
		group       string
		vertex      sql.NullString
		source      sql.NullString
		destination sql.NullString
		directed    bool
		propsJSON   []byte
	)
	if err := row.Scan(&id, &kind, &group, &vertex, &source, &destination, &directed, &propsJSON); err != nil {
		return 0, nil, fmt.Errorf("failed to scan element row: %w", err)
	}

	props, err := element.DecodeProperties(propsJSON)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to unmarshal properties of row %d: %w", id, err)
	}

	switch element.Kind(kind) {
	case element.KindEntity:
		return id, element.NewEntity(group, vertex.String, props), nil
	case element.KindEdge:
		// Stored endpoints are already normalised.
		return id, &element.Edge{
			Source:      source.String,
			Destination: destination.String,
			Directed:    directed,
			Group:       group,
			Properties:  props,
		}, nil
	default:
		return 0, nil, fmt.Errorf("row %d has unknown element kind %d", id, kind)
	}
}
