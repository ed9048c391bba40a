package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/bo?sslmode=disable", migrationURL("postgres://u:p@db:5432/bo?sslmode=disable"))
	require.Equal(t, "pgx5://db/bo", migrationURL("postgresql://db/bo"))
	require.Equal(t, "pgx5://db/bo", migrationURL("pgx5://db/bo"))
}

func TestParseDirection(t *testing.T) {
	dir, err := ParseDirection(" UP ")
	require.NoError(t, err)
	require.Equal(t, Up, dir)

	_, err = ParseDirection("sideways")
	require.Error(t, err)
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := MigrationSource()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	require.Equal(t, uint(2), next)

	last, err := src.Next(next)
	require.NoError(t, err)
	require.Equal(t, uint(3), last)
}
