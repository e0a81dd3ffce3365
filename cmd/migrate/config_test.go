package main

import (
	"os"
	"path/filepath"
	"testing"

	"bookpipeline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsDir(t *testing.T) {
	t.Setenv("MIGRATIONS_DIR", "")
	assert.Equal(t, "db/migrations", migrationsDir())

	t.Setenv("MIGRATIONS_DIR", "/custom/migrations")
	assert.Equal(t, "/custom/migrations", migrationsDir())
}

func TestDatabaseDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	assert.Equal(t, defaultDSN, databaseDSN())

	t.Setenv("DB_DSN", "postgres://u:p@db/books")
	assert.Equal(t, "postgres://u:p@db/books", databaseDSN())
	assert.Equal(t, "postgres://***@db/books", redactDSN(databaseDSN()))
}

func TestLoadEnvFiles_DoesNotOverrideExistingEnv(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".env"), []byte("DB_DSN=from_file\nMIGRATIONS_DIR=from_file\n"), 0o644))

	t.Setenv("DB_DSN", "from_env")
	t.Setenv("MIGRATIONS_DIR", "")
	require.NoError(t, os.Unsetenv("MIGRATIONS_DIR"))

	t.Chdir(tmp)
	loadEnvFiles()

	assert.Equal(t, "from_env", os.Getenv("DB_DSN"))
	assert.Equal(t, "from_file", os.Getenv("MIGRATIONS_DIR"))
}

func TestRun_RejectsBadInput(t *testing.T) {
	logger := testutil.DiscardLogger()
	assert.ErrorContains(t, run("create", "", logger), "name is required")
	assert.ErrorContains(t, run("sideways", "", logger), "unknown command")
}
