package postgres

// SQL queries for raw element storage.

const (
	// queryInsertElement appends one raw element. Rows are never merged on
	// write; aggregation happens at read time.
	queryInsertElement = `
		INSERT INTO elements (
			kind, grp, vertex, source, destination, directed, agg_key, properties
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	// querySelectRelated fetches candidate rows for a seed set. Edge rows are
	// over-fetched (direction and exact edge-seed matching happen in Go); the
	// ORDER BY keeps rows of one aggregation key adjacent for streaming merge.
	//
	// $1 include entities, $2 entity vertices, $3 include edges,
	// $4 entity-seed vertices, $5 edge-seed sources.
	querySelectRelated = `
		SELECT id, kind, grp, vertex, source, destination, directed, properties
		FROM elements
		WHERE (kind = 1 AND $1::boolean AND vertex = ANY($2))
		   OR (kind = 2 AND $3::boolean AND (
		          source = ANY($4) OR destination = ANY($4) OR source = ANY($5)))
		ORDER BY agg_key ASC, id ASC
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'elements'
		)
	`
)
