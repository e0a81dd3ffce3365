package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoMigrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	// this file lives in cmd/migrate/, so repo root is ../..
	return filepath.Join(filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..")), "db", "migrations")
}

func TestCollectMigrations_ParsesMigrationsDir(t *testing.T) {
	migrations, err := goose.CollectMigrations(repoMigrationsDir(t), 0, goose.MaxVersion)
	require.NoError(t, err)
	require.Len(t, migrations, 5)
	for i, m := range migrations {
		assert.EqualValues(t, i+1, m.Version)
	}
}

func TestMigrations_CreateEveryTable(t *testing.T) {
	dir := repoMigrationsDir(t)
	var all strings.Builder
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		all.Write(b)
	}
	for _, table := range []string{"import_batches", "pipeline_runs", "batch_items", "catalog_books", "catalog_sources"} {
		assert.Contains(t, all.String(), "CREATE TABLE "+table, table)
		assert.Contains(t, all.String(), "DROP TABLE IF EXISTS "+table, table)
	}
}
