package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	// StagingDirName holds in-flight extractions. It lives inside the root so
	// that committing is a same-filesystem rename.
	StagingDirName = ".staging"

	// DownloadsDirName holds remote archives while they stream in.
	DownloadsDirName = ".downloads"
)

// LocalStore implements ArchiveStore on top of an afero filesystem
type LocalStore struct {
	fs       afero.Fs
	root     string
	reserved map[string]struct{}
	mutex    sync.RWMutex // commits take the write lock
}

// NewLocalStore creates the store root and its transient areas
func NewLocalStore(fs afero.Fs, root string, reservedNames []string) (*LocalStore, error) {
	root = filepath.Clean(root)

	for _, dir := range []string{root, filepath.Join(root, StagingDirName), filepath.Join(root, DownloadsDirName)} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			log.Error().Err(err).Str("path", dir).Msg("failed to create store directory")
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	reserved := map[string]struct{}{
		StagingDirName:   {},
		DownloadsDirName: {},
	}
	for _, name := range reservedNames {
		reserved[name] = struct{}{}
	}

	log.Info().Str("path", root).Int("reserved", len(reserved)).Msg("archive store initialized")
	return &LocalStore{
		fs:       fs,
		root:     root,
		reserved: reserved,
	}, nil
}

// Root returns the store's root directory
func (ls *LocalStore) Root() string {
	return ls.root
}

// Fs returns the filesystem the store lives on
func (ls *LocalStore) Fs() afero.Fs {
	return ls.fs
}

// IsReserved reports whether name is a reserved support file or transient area
func (ls *LocalStore) IsReserved(name string) bool {
	_, ok := ls.reserved[name]
	return ok
}

func (ls *LocalStore) modelPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidName, name)
	}
	return filepath.Join(ls.root, name), nil
}

// Exists checks whether a model directory is visible under name
func (ls *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullPath, err := ls.modelPath(name)
	if err != nil {
		return false, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	return ls.existsLocked(fullPath)
}

func (ls *LocalStore) existsLocked(fullPath string) (bool, error) {
	_, err := ls.fs.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("path", fullPath).Msg("failed to check model existence")
		return false, fmt.Errorf("%w: failed to check model existence: %w", types.ErrDisk, err)
	}
	return true, nil
}

// Commit renames stagingPath to the model directory for name. The target is
// re-checked under the write lock so a commit never replaces an existing model.
func (ls *LocalStore) Commit(ctx context.Context, stagingPath, name string) error {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	target, err := ls.modelPath(name)
	if err != nil {
		return err
	}
	if !ls.isTransient(stagingPath, StagingDirName) {
		return fmt.Errorf("%w: commit source %s is not a staging directory", types.ErrDisk, stagingPath)
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	exists, err := ls.existsLocked(target)
	if err != nil {
		return err
	}
	if exists {
		log.Warn().Str("model", name).Str("staging_path", stagingPath).Msg("commit rejected, model already exists")
		return fmt.Errorf("%w: %s", types.ErrNameCollision, name)
	}

	if err := ls.fs.Rename(stagingPath, target); err != nil {
		log.Error().Err(err).Str("model", name).Str("staging_path", stagingPath).Msg("failed to move staging directory into place")
		return fmt.Errorf("%w: failed to commit model %s: %w", types.ErrDisk, name, err)
	}

	log.Info().
		Str("model", name).
		Str("path", target).
		Dur("duration", time.Since(startTime)).
		Msg("model committed")

	return nil
}

// NewStaging creates a fresh staging directory owned by the caller
func (ls *LocalStore) NewStaging(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	stagingPath := filepath.Join(ls.root, StagingDirName, uuid.NewString())
	if err := ls.fs.MkdirAll(stagingPath, 0755); err != nil {
		log.Error().Err(err).Str("staging_path", stagingPath).Msg("failed to create staging directory")
		return "", fmt.Errorf("%w: failed to create staging directory: %w", types.ErrDisk, err)
	}

	log.Debug().Str("staging_path", stagingPath).Msg("staging directory created")
	return stagingPath, nil
}

// TempFile creates a temp file for a streaming download
func (ls *LocalStore) TempFile(ctx context.Context) (afero.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := afero.TempFile(ls.fs, filepath.Join(ls.root, DownloadsDirName), "archive-*.zip")
	if err != nil {
		log.Error().Err(err).Msg("failed to create download temp file")
		return nil, fmt.Errorf("%w: failed to create temp file: %w", types.ErrDisk, err)
	}
	return file, nil
}

// RemoveTransient deletes a staging directory or download temp file
func (ls *LocalStore) RemoveTransient(path string) error {
	if !ls.isTransient(path, StagingDirName) && !ls.isTransient(path, DownloadsDirName) {
		return fmt.Errorf("refusing to remove non-transient path %s", path)
	}

	if err := ls.fs.RemoveAll(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to remove transient path")
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("transient path removed")
	return nil
}

// isTransient reports whether path is strictly inside the named transient area
func (ls *LocalStore) isTransient(path, area string) bool {
	rel, err := filepath.Rel(filepath.Join(ls.root, area), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SweepTransient removes staging directories and temp files last modified
// before now-maxAge. In-flight acquisitions are younger than any sane maxAge.
func (ls *LocalStore) SweepTransient(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var result *multierror.Error

	for _, area := range []string{StagingDirName, DownloadsDirName} {
		dir := filepath.Join(ls.root, area)
		entries, err := afero.ReadDir(ls.fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("failed to read %s: %w", dir, err))
			continue
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !entry.ModTime().Before(cutoff) {
				continue
			}
			if err := ls.RemoveTransient(filepath.Join(dir, entry.Name())); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("swept orphaned transient files")
	}
	return removed, result.ErrorOrNil()
}

// List returns the store's immediate children minus reserved names
func (ls *LocalStore) List(ctx context.Context) ([]string, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	entries, err := afero.ReadDir(ls.fs, ls.root)
	if err != nil {
		log.Error().Err(err).Str("path", ls.root).Msg("failed to read archive store")
		return nil, fmt.Errorf("failed to read archive store: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if ls.IsReserved(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}

	log.Debug().
		Int("count", len(names)).
		Dur("duration", time.Since(startTime)).
		Msg("models listed")

	return names, nil
}

// Members walks a model directory and returns its regular files with
// slash-separated paths relative to the model root.
func (ls *LocalStore) Members(ctx context.Context, name string) ([]types.ModelFile, error) {
	modelDir, err := ls.modelPath(name)
	if err != nil {
		return nil, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	info, err := ls.fs.Stat(modelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrModelNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat model %s: %w", name, err)
	}
	if !info.IsDir() || ls.IsReserved(name) {
		return nil, fmt.Errorf("%w: %s", types.ErrModelNotFound, name)
	}

	var files []types.ModelFile
	err = afero.Walk(ls.fs, modelDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(modelDir, path)
		if err != nil {
			return err
		}
		files = append(files, types.ModelFile{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.Error().Err(err).Str("model", name).Msg("failed to walk model directory")
		return nil, fmt.Errorf("failed to list model files: %w", err)
	}

	return files, nil
}
