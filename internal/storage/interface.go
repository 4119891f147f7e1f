package storage

import (
	"context"
	"time"

	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/spf13/afero"
)

// ArchiveStore is the single authority over the model directory tree.
// Final model directories are only ever created by Commit.
type ArchiveStore interface {
	// Exists reports whether a model directory with the given name is visible
	Exists(ctx context.Context, name string) (bool, error)

	// Commit moves a fully populated staging directory into place as model name
	Commit(ctx context.Context, stagingPath, name string) error

	// NewStaging creates an empty, private staging directory on the store's filesystem
	NewStaging(ctx context.Context) (string, error)

	// TempFile creates a download temp file on the store's filesystem
	TempFile(ctx context.Context) (afero.File, error)

	// RemoveTransient deletes a staging directory or download temp file.
	// It refuses paths outside the transient areas.
	RemoveTransient(path string) error

	// SweepTransient removes staging directories and temp files older than maxAge
	SweepTransient(ctx context.Context, maxAge time.Duration) (int, error)

	// List returns the names of the store's immediate children, minus reserved names
	List(ctx context.Context) ([]string, error)

	// Members returns the regular files of a model
	Members(ctx context.Context, name string) ([]types.ModelFile, error)

	// IsReserved reports whether name is a support file that is never a model
	IsReserved(name string) bool

	// Fs exposes the filesystem the store lives on, for writing into staging directories
	Fs() afero.Fs
}
