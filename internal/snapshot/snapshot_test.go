package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoadEvict(t *testing.T) {
	s := openStore(t, "")
	defer s.Close()

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(Snapshot{RunID: "r-1", BatchID: "b-1", Status: "running", Percent: 40, SavedAt: t0}))
	require.NoError(t, s.Save(Snapshot{RunID: "r-2", BatchID: "b-2", Status: "submitted", SavedAt: t0.Add(time.Minute)}))

	cur, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "r-2", cur.RunID)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r-2", all[0].RunID)

	require.NoError(t, s.Evict("r-2"))
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)
	old, err := s.Get("r-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, old.Percent)

	require.NoError(t, s.Evict(""))
	all, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.Save(Snapshot{RunID: "r-9", Status: "running", Stage: "persist"}))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()
	cur, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "persist", cur.Stage)
	assert.False(t, cur.SavedAt.IsZero())
}

func TestStore_RejectsEmptyRunID(t *testing.T) {
	s := openStore(t, "")
	defer s.Close()
	assert.Error(t, s.Save(Snapshot{}))
}
