package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreOrderedAndEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])

	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, ".sql"), name)
	}
}

func TestInitialSchemaRejectsOverlaps(t *testing.T) {
	sql, err := migrations.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)

	schema := string(sql)
	assert.Contains(t, schema, "btree_gist")
	assert.Contains(t, schema, "EXCLUDE USING gist")
	assert.Contains(t, schema, "WHERE (status <> 'CANCELLED')")
}
