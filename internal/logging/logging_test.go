package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: slog.LevelInfo, Console: &buf, Prefix: "host-a"})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("Application mounted", "app", "foo")

	out := buf.String()
	assert.Contains(t, out, "Application mounted")
	assert.Contains(t, out, "foo")
	assert.NotContains(t, out, "hidden")
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "microapp.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: slog.LevelDebug, Console: &buf, File: path})
	require.NoError(t, err)

	logger.Debug("Loading source", "app", "bar")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `msg="Loading source"`)
	assert.Contains(t, string(data), "app=bar")
	assert.Contains(t, buf.String(), "Loading source")
}

func TestNewBadFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, _, err := New(Options{File: filepath.Join(blocker, "nested", "x.log")})
	assert.Error(t, err)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := slog.New(slog.DiscardHandler)
	assert.Same(t, l, OrDiscard(l))
	Discard().Info("dropped")
}
