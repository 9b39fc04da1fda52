package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	for _, in := range []string{
		"postgres://store:secret@db:5432/store?sslmode=disable",
		"postgresql://store:secret@db:5432/store?sslmode=disable",
	} {
		got, err := migrateURL(in)
		require.NoError(t, err)
		assert.Equal(t, "pgx5://store:secret@db:5432/store?sslmode=disable", got)
	}

	_, err := migrateURL("mysql://root@db/store")
	require.Error(t, err)
}
