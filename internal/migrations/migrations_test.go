package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_PairedUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(MigrationFiles, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestMigrationFiles_CreateElementsTable(t *testing.T) {
	data, err := fs.ReadFile(MigrationFiles, "001_create_elements_table.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS elements")
	require.Contains(t, string(data), "agg_key")
}
