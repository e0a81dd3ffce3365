package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"bookpipeline/internal/debuglog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_NonTerminalDefaultsToJSON(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "auto"}, &out)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("run submitted", "run_id", "r-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "run submitted", rec["msg"])
	assert.Equal(t, "r-1", rec["run_id"])
}

func TestNew_TextFormat(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(Config{Format: "text"}, &out)
	require.NoError(t, err)
	logger.Warn("executor slow", "target", "books-staging")
	assert.Contains(t, out.String(), "level=WARN")
	assert.Contains(t, out.String(), "target=books-staging")
}

func TestNew_FansOutToDebugBuffer(t *testing.T) {
	var out bytes.Buffer
	buf := debuglog.NewBuffer(10)
	logger, err := New(Config{Level: "warn", Format: "json"}, &out, debuglog.NewHandler(buf, slog.LevelDebug))
	require.NoError(t, err)

	logger.With("component", "run").Debug("poll", "run_id", "r-1")
	logger.Error("dispatch failed")

	assert.NotContains(t, out.String(), "poll")
	entries := buf.Entries(0, slog.LevelDebug)
	require.Len(t, entries, 2)
	assert.Equal(t, "poll", entries[0].Message)
	assert.Equal(t, "run", entries[0].Attrs["component"])
	assert.Equal(t, "ERROR", entries[1].Level)
}
