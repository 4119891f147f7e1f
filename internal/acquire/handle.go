package acquire

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/spf13/afero"
)

// Handle is a seekable archive owned by one acquisition. Close releases the
// underlying upload or removes the download temp file; it is safe to call
// more than once.
type Handle struct {
	reader  io.ReaderAt
	size    int64
	sha256  string
	release func() error

	once     sync.Once
	closeErr error
}

// ReadAt implements io.ReaderAt
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.reader.ReadAt(p, off)
}

// Size returns the archive length in bytes
func (h *Handle) Size() int64 {
	return h.size
}

// SHA256 returns the hex checksum of the archive bytes
func (h *Handle) SHA256() string {
	return h.sha256
}

// Close releases the archive bytes
func (h *Handle) Close() error {
	h.once.Do(func() {
		if h.release != nil {
			h.closeErr = h.release()
		}
	})
	return h.closeErr
}

func closeAndRemove(store storage.ArchiveStore, file afero.File) error {
	var result *multierror.Error
	result = multierror.Append(result, file.Close())
	result = multierror.Append(result, store.RemoveTransient(file.Name()))
	return result.ErrorOrNil()
}
