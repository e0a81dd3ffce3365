package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bookpipeline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneRule = `rules:
  - name: errors
    metric: error_rate
    op: gt
    threshold: 1
    severity: critical
`

const twoRules = `rules:
  - name: errors
    metric: error_rate
    op: gt
    threshold: 1
    severity: critical
  - name: backlog
    metric: pending_batches
    op: gte
    threshold: 1
    severity: info
`

func TestRuleSet_DefaultsWithoutFile(t *testing.T) {
	rs, err := NewRuleSet("", testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rs.Rules())
	assert.NoError(t, rs.Reload())
	assert.NoError(t, rs.Watch(context.Background()))
}

func TestRuleSet_BadFileAtStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))
	_, err := NewRuleSet(path, testutil.DiscardLogger())
	assert.Error(t, err)
}

func TestRuleSet_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(oneRule), 0o644))

	rs, err := NewRuleSet(path, testutil.DiscardLogger())
	require.NoError(t, err)
	require.Len(t, rs.Rules(), 1)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - {name: x, metric: nope, op: gt, threshold: 1, severity: info}\n"), 0o644))
	assert.Error(t, rs.Reload())
	assert.Len(t, rs.Rules(), 1)
}

func TestRuleSet_WatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(oneRule), 0o644))

	rs, err := NewRuleSet(path, testutil.DiscardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rs.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(twoRules), 0o644))
	require.Eventually(t, func() bool { return len(rs.Rules()) == 2 }, 5*time.Second, 20*time.Millisecond)
}
