package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MODELS_ROOT", root)
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestModelsListCommand(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "singer1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "rmvpe.pt"), []byte("x"), 0644))

	out, err := runCommand(t, root, "models", "list", "--json")
	require.NoError(t, err)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Equal(t, []string{"singer1"}, names)
}

func TestModelsShowCommand(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "singer1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "singer1", "singer1.pth"), []byte("weights"), 0644))

	out, err := runCommand(t, root, "models", "show", "singer1")
	require.NoError(t, err)
	assert.Contains(t, out, "singer1.pth")

	_, err = runCommand(t, root, "models", "show", "missing")
	assert.Error(t, err)
}

func TestSweepCommand(t *testing.T) {
	root := t.TempDir()
	orphan := filepath.Join(root, storage.StagingDirName, "orphan")
	require.NoError(t, os.MkdirAll(orphan, 0755))
	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	out, err := runCommand(t, root, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 transient entries")
	assert.NoDirExists(t, orphan)
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")
	_, err := runCommand(t, t.TempDir(), "models", "list")
	assert.Error(t, err)
}
