package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLMigrations_HaveGooseDirectives(t *testing.T) {
	dir := repoMigrationsDir(t)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		s := string(b)

		up := strings.Index(s, "-- +goose Up")
		down := strings.Index(s, "-- +goose Down")
		assert.GreaterOrEqual(t, up, 0, "%s missing '-- +goose Up'", e.Name())
		assert.Greater(t, down, up, "%s: Down must follow Up", e.Name())
	}
}
