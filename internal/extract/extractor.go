// Package extract unpacks model archives into a private staging directory
// and commits them into the archive store in one rename.
package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/lgulliver/rvcstore/pkg/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// macOS archivers add this resource-fork folder next to the real content
const macResourceDir = "__MACOSX"

// Archive is a seekable zip source
type Archive interface {
	io.ReaderAt
	Size() int64
}

// Result summarizes a committed extraction
type Result struct {
	Files     int
	Bytes     int64
	Flattened bool
}

// Extractor unpacks archives for one archive store
type Extractor struct {
	store      storage.ArchiveStore
	fs         afero.Fs
	maxBytes   int64
	maxEntries int
	flatten    bool
}

// New creates an Extractor bounded by cfg
func New(store storage.ArchiveStore, cfg config.ExtractConfig) *Extractor {
	return &Extractor{
		store:      store,
		fs:         store.Fs(),
		maxBytes:   cfg.MaxBytes,
		maxEntries: cfg.MaxEntries,
		flatten:    cfg.FlattenSingleRoot,
	}
}

// Extract unpacks archive and commits it as model name. Either the model
// directory ends up fully populated, or nothing under name is created; the
// staging directory is removed on every path.
func (e *Extractor) Extract(ctx context.Context, archive Archive, name string) (*Result, error) {
	startTime := time.Now()

	exists, err := e.store.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", types.ErrNameCollision, name)
	}

	reader, err := zip.NewReader(archive, archive.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCorruptArchive, err)
	}
	if e.maxEntries > 0 && len(reader.File) > e.maxEntries {
		return nil, fmt.Errorf("%w: %d entries exceeds limit of %d", types.ErrCorruptArchive, len(reader.File), e.maxEntries)
	}

	staging, err := e.store.NewStaging(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := e.store.RemoveTransient(staging); rmErr != nil {
			log.Error().Err(rmErr).Str("model", name).Str("staging_path", staging).Msg("failed to remove staging directory")
		}
	}()

	result := &Result{}
	layout := entryLayout{}
	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", err)
		}
		if err := e.extractEntry(ctx, staging, file, layout, result); err != nil {
			log.Error().Err(err).Str("model", name).Str("entry", file.Name).Msg("failed to extract archive entry")
			return nil, err
		}
	}
	if result.Files == 0 {
		return nil, fmt.Errorf("%w: archive contains no files", types.ErrCorruptArchive)
	}

	commitPath := staging
	if e.flatten {
		root, ok, err := singleRootDir(e.fs, staging)
		if err != nil {
			return nil, err
		}
		if ok {
			commitPath = root
			result.Flattened = true
		}
	}

	if err := e.store.Commit(ctx, commitPath, name); err != nil {
		return nil, err
	}

	log.Info().
		Str("model", name).
		Int("files", result.Files).
		Int64("bytes", result.Bytes).
		Bool("flattened", result.Flattened).
		Dur("duration", time.Since(startTime)).
		Msg("archive extracted")

	return result, nil
}

func (e *Extractor) extractEntry(ctx context.Context, staging string, file *zip.File, layout entryLayout, result *Result) error {
	rel, err := EntryPath(file.Name)
	if err != nil {
		return err
	}
	if rel == "" || isMacResource(rel) {
		return nil
	}
	if file.Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("%w: symlink entry %q", types.ErrUnsafeEntry, file.Name)
	}

	target := filepath.Join(staging, rel)
	if !within(staging, target) {
		return fmt.Errorf("%w: %q resolves outside the staging area", types.ErrUnsafeEntry, file.Name)
	}
	if err := layout.claim(rel, file.FileInfo().IsDir()); err != nil {
		return fmt.Errorf("%w: %q %w", types.ErrCorruptArchive, file.Name, err)
	}

	if file.FileInfo().IsDir() {
		if err := e.fs.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("%w: %w", types.ErrDisk, err)
		}
		return nil
	}

	if err := e.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: %w", types.ErrDisk, err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrCorruptArchive, file.Name, err)
	}
	defer src.Close()

	dst, err := e.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrDisk, err)
	}

	var body io.Reader = &contextReader{ctx: ctx, r: src}
	remaining := int64(-1)
	if e.maxBytes > 0 {
		remaining = e.maxBytes - result.Bytes
		body = io.LimitReader(body, remaining+1)
	}

	written, copyErr := utils.CopyClassified(dst, body, types.ErrCorruptArchive, types.ErrDisk)
	closeErr := dst.Close()
	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("extraction cancelled: %w", ctxErr)
		}
		return copyErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %w", types.ErrDisk, closeErr)
	}
	if remaining >= 0 && written > remaining {
		return fmt.Errorf("%w: extracted size exceeds limit of %d bytes", types.ErrCorruptArchive, e.maxBytes)
	}

	result.Files++
	result.Bytes += written
	return nil
}

// EntryPath sanitizes a zip entry name into a relative OS path. Absolute
// paths, drive letters and any ".." element are rejected rather than
// stripped. An empty result means the entry names the archive root.
func EntryPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || hasDriveLetter(slashed) {
		return "", fmt.Errorf("%w: absolute path %q", types.ErrUnsafeEntry, name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: parent traversal in %q", types.ErrUnsafeEntry, name)
		}
	}

	cleaned := path.Clean(slashed)
	if cleaned == "." {
		return "", nil
	}
	return filepath.FromSlash(cleaned), nil
}

// hasDriveLetter matches "C:" and "C:/..." but not names like "x:y.pth"
func hasDriveLetter(slashed string) bool {
	if len(slashed) < 2 || slashed[1] != ':' {
		return false
	}
	c := slashed[0]
	if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
		return false
	}
	return len(slashed) == 2 || slashed[2] == '/'
}

// entryLayout records what each extracted path is, true for directories
type entryLayout map[string]bool

// claim registers rel and its parent directories. A file may appear once and
// never share a path with a directory.
func (l entryLayout) claim(rel string, isDir bool) error {
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if wasDir, seen := l[dir]; seen && !wasDir {
			return fmt.Errorf("is nested under file %q", filepath.ToSlash(dir))
		}
		l[dir] = true
	}

	wasDir, seen := l[rel]
	switch {
	case !seen:
		l[rel] = isDir
		return nil
	case isDir && wasDir:
		return nil
	case wasDir || isDir:
		return fmt.Errorf("names both a file and a directory")
	default:
		return fmt.Errorf("is a duplicate entry")
	}
}

func isMacResource(rel string) bool {
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	return first == macResourceDir
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// singleRootDir reports the only child of staging when it is a directory
func singleRootDir(fsys afero.Fs, staging string) (string, bool, error) {
	entries, err := afero.ReadDir(fsys, staging)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", types.ErrDisk, err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", false, nil
	}
	return filepath.Join(staging, entries[0].Name()), true, nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
