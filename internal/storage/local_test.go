package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(afero.NewOsFs(), t.TempDir(), config.DefaultReservedNames)
	require.NoError(t, err)
	return store
}

// stageFiles creates a staging directory populated with the given files
func stageFiles(t *testing.T, store *LocalStore, files map[string]string) string {
	t.Helper()
	staging, err := store.NewStaging(context.Background())
	require.NoError(t, err)
	for name, content := range files {
		path := filepath.Join(staging, filepath.FromSlash(name))
		require.NoError(t, store.Fs().MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, afero.WriteFile(store.Fs(), path, []byte(content), 0644))
	}
	return staging
}

func TestNewLocalStore(t *testing.T) {
	tests := []struct {
		name        string
		root        func(t *testing.T) string
		shouldError bool
	}{
		{
			name:        "existing directory",
			root:        func(t *testing.T) string { return t.TempDir() },
			shouldError: false,
		},
		{
			name:        "nested path",
			root:        func(t *testing.T) string { return filepath.Join(t.TempDir(), "nested", "rvc_models") },
			shouldError: false,
		},
		{
			name: "file instead of directory",
			root: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "file")
				require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
				return path
			},
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.root(t)
			store, err := NewLocalStore(afero.NewOsFs(), root, nil)

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, store)
				return
			}

			require.NoError(t, err)
			for _, area := range []string{StagingDirName, DownloadsDirName} {
				info, err := os.Stat(filepath.Join(root, area))
				require.NoError(t, err)
				assert.True(t, info.IsDir())
			}
		})
	}
}

func TestLocalStore_Commit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	staging := stageFiles(t, store, map[string]string{
		"singer1.pth":   "weights",
		"added.index":   "index",
		"extra/cfg.txt": "cfg",
	})

	require.NoError(t, store.Commit(ctx, staging, "singer1"))

	exists, err := store.Exists(ctx, "singer1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err), "staging directory should be gone after rename")

	content, err := os.ReadFile(filepath.Join(store.Root(), "singer1", "extra", "cfg.txt"))
	require.NoError(t, err)
	assert.Equal(t, "cfg", string(content))
}

func TestLocalStore_CommitCollision(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := stageFiles(t, store, map[string]string{"a.pth": "original"})
	require.NoError(t, store.Commit(ctx, first, "singer1"))

	second := stageFiles(t, store, map[string]string{"a.pth": "replacement"})
	err := store.Commit(ctx, second, "singer1")
	assert.ErrorIs(t, err, types.ErrNameCollision)

	content, err := os.ReadFile(filepath.Join(store.Root(), "singer1", "a.pth"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))

	// the loser's staging area is still the caller's to clean up
	assert.NoError(t, store.RemoveTransient(second))
}

func TestLocalStore_CommitRejectsForeignSource(t *testing.T) {
	store := setupTestStore(t)
	outside := t.TempDir()

	err := store.Commit(context.Background(), outside, "singer1")
	assert.ErrorIs(t, err, types.ErrDisk)

	err = store.Commit(context.Background(), filepath.Join(store.Root(), StagingDirName), "singer1")
	assert.ErrorIs(t, err, types.ErrDisk)
}

func TestLocalStore_ConcurrentCommits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const attempts = 8
	stagings := make([]string, attempts)
	for i := range stagings {
		stagings[i] = stageFiles(t, store, map[string]string{"model.pth": "data"})
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range stagings {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Commit(ctx, stagings[i], "contested")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, types.ErrNameCollision)
	}
	assert.Equal(t, 1, succeeded)
}

func TestLocalStore_ExistsInvalidName(t *testing.T) {
	store := setupTestStore(t)

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.Exists(context.Background(), name)
		assert.ErrorIs(t, err, types.ErrInvalidName, "name %q", name)
	}
}

func TestLocalStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "singer1"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "singer2"), 0755))
	for _, reserved := range config.DefaultReservedNames {
		require.NoError(t, os.WriteFile(filepath.Join(store.Root(), reserved), []byte("x"), 0644))
	}
	_ = stageFiles(t, store, map[string]string{"in-flight.pth": "x"})

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"singer1", "singer2"}, names)
}

func TestLocalStore_Members(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	staging := stageFiles(t, store, map[string]string{
		"a.txt":     "aaa",
		"sub/b.txt": "bb",
	})
	require.NoError(t, store.Commit(ctx, staging, "X"))

	files, err := store.Members(ctx, "X")
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.ModelFile{
		{Path: "a.txt", Size: 3},
		{Path: "sub/b.txt", Size: 2},
	}, files)

	_, err = store.Members(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrModelNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "rmvpe.pt"), []byte("x"), 0644))
	_, err = store.Members(ctx, "rmvpe.pt")
	assert.ErrorIs(t, err, types.ErrModelNotFound)
}

func TestLocalStore_RemoveTransient(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	staging := stageFiles(t, store, map[string]string{"a": "b"})
	require.NoError(t, store.RemoveTransient(staging))
	_, err := os.Stat(staging)
	assert.True(t, os.IsNotExist(err))

	tmp, err := store.TempFile(ctx)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	require.NoError(t, store.RemoveTransient(tmp.Name()))
	_, err = os.Stat(tmp.Name())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "singer1"), 0755))
	assert.Error(t, store.RemoveTransient(filepath.Join(store.Root(), "singer1")))
	assert.Error(t, store.RemoveTransient(filepath.Join(store.Root(), StagingDirName)))
	assert.Error(t, store.RemoveTransient(filepath.Join(store.Root(), StagingDirName, "..", "singer1")))
	assert.DirExists(t, filepath.Join(store.Root(), "singer1"))
}

func TestLocalStore_SweepTransient(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	stale := stageFiles(t, store, map[string]string{"a": "b"})
	fresh := stageFiles(t, store, map[string]string{"a": "b"})
	tmp, err := store.TempFile(ctx)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(tmp.Name(), old, old))

	removed, err := store.SweepTransient(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoDirExists(t, stale)
	assert.NoFileExists(t, tmp.Name())
	assert.DirExists(t, fresh)
}

// failingFs fails every file creation, simulating a full or read-only disk
type failingFs struct {
	afero.Fs
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		return nil, errors.New("no space left on device")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestLocalStore_TempFileDiskError(t *testing.T) {
	store, err := NewLocalStore(failingFs{afero.NewOsFs()}, t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.TempFile(context.Background())
	assert.ErrorIs(t, err, types.ErrDisk)
}
