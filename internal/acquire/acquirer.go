// Package acquire obtains model archive bytes from a remote URL or an upload
// and hands them on as a seekable Handle.
package acquire

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/lgulliver/rvcstore/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Upload is an already-received archive. multipart.File satisfies it.
type Upload interface {
	io.ReaderAt
	io.Closer
}

// Source is the tagged archive source of one acquisition
type Source struct {
	Kind     types.SourceKind
	URL      string
	Upload   Upload
	Size     int64
	Filename string
}

// Remote returns a source that streams the archive from url
func Remote(url string) Source {
	return Source{Kind: types.SourceRemote, URL: url, Filename: utils.ArchiveFilename(url)}
}

// Local returns a source backed by an uploaded file. upload may be nil when
// the request carried no file.
func Local(upload Upload, size int64, filename string) Source {
	return Source{Kind: types.SourceLocal, Upload: upload, Size: size, Filename: filename}
}

// Ref describes the source for logs and acquisition records
func (s Source) Ref() string {
	if s.Kind == types.SourceRemote {
		return s.URL
	}
	return s.Filename
}

// Release closes the upload of a source that never reached Acquire
func (s Source) Release() error {
	if s.Upload == nil {
		return nil
	}
	return s.Upload.Close()
}

// Acquirer turns a Source into a Handle
type Acquirer struct {
	store     storage.ArchiveStore
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// New creates an Acquirer with a pooled HTTP client bounded by cfg.Timeout
func New(store storage.ArchiveStore, cfg config.FetchConfig) *Acquirer {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = cfg.Timeout
	return NewWithClient(store, client, cfg)
}

// NewWithClient creates an Acquirer that fetches with the given client
func NewWithClient(store storage.ArchiveStore, client *http.Client, cfg config.FetchConfig) *Acquirer {
	return &Acquirer{
		store:     store,
		client:    client,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
	}
}

// Acquire checks that name is free and obtains the archive bytes for src.
// It takes ownership of src.Upload: on error the upload is already closed,
// on success it is closed with the returned Handle.
func (a *Acquirer) Acquire(ctx context.Context, src Source, name string) (*Handle, error) {
	handle, err := a.acquire(ctx, src, name)
	if err != nil {
		if src.Kind == types.SourceLocal {
			if closeErr := src.Release(); closeErr != nil {
				log.Warn().Err(closeErr).Str("model", name).Msg("failed to close rejected upload")
			}
		}
		return nil, err
	}
	return handle, nil
}

func (a *Acquirer) acquire(ctx context.Context, src Source, name string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exists, err := a.store.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", types.ErrNameCollision, name)
	}

	switch src.Kind {
	case types.SourceRemote:
		if err := utils.ValidateArchiveURL(src.URL); err != nil {
			return nil, fmt.Errorf("%w: url %s", types.ErrFetch, err.Error())
		}
		return a.fetch(ctx, src.URL, name)
	case types.SourceLocal:
		return a.accept(src, name)
	default:
		return nil, fmt.Errorf("unknown archive source kind %q", src.Kind)
	}
}

// fetch streams url into a download temp file while hashing it
func (a *Acquirer) fetch(ctx context.Context, url, name string) (*Handle, error) {
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request: %w", types.ErrFetch, err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("model", name).Str("url", url).Msg("archive request failed")
		return nil, fmt.Errorf("%w: %w", types.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Int("status", resp.StatusCode).Str("model", name).Str("url", url).Msg("archive request returned non-success status")
		return nil, fmt.Errorf("%w: unexpected status %s", types.ErrFetch, resp.Status)
	}
	if a.maxBytes > 0 && resp.ContentLength > a.maxBytes {
		return nil, fmt.Errorf("%w: archive size %d exceeds limit %d", types.ErrFetch, resp.ContentLength, a.maxBytes)
	}

	tempFile, err := a.store.TempFile(ctx)
	if err != nil {
		return nil, err
	}
	handle := &Handle{
		reader: tempFile,
		release: func() error {
			return closeAndRemove(a.store, tempFile)
		},
	}

	body := io.Reader(resp.Body)
	if a.maxBytes > 0 {
		body = io.LimitReader(resp.Body, a.maxBytes+1)
	}

	hasher := sha256.New()
	written, err := utils.CopyClassified(io.MultiWriter(tempFile, hasher), body, types.ErrFetch, types.ErrDisk)
	if err != nil {
		handle.Close()
		log.Error().Err(err).Str("model", name).Int64("bytes_written", written).Msg("failed to stream archive")
		return nil, err
	}
	if a.maxBytes > 0 && written > a.maxBytes {
		handle.Close()
		return nil, fmt.Errorf("%w: archive exceeds limit of %d bytes", types.ErrFetch, a.maxBytes)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		handle.Close()
		return nil, fmt.Errorf("%w: truncated archive, got %d of %d bytes", types.ErrFetch, written, resp.ContentLength)
	}
	if err := tempFile.Sync(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: failed to sync temp file: %w", types.ErrDisk, err)
	}

	handle.size = written
	handle.sha256 = hex.EncodeToString(hasher.Sum(nil))

	log.Info().
		Str("model", name).
		Str("url", url).
		Int64("bytes_written", written).
		Str("checksum", handle.sha256).
		Dur("duration", time.Since(startTime)).
		Msg("archive downloaded")

	return handle, nil
}

// accept wraps an uploaded file in a Handle
func (a *Acquirer) accept(src Source, name string) (*Handle, error) {
	if src.Upload == nil {
		return nil, fmt.Errorf("%w: no archive file attached", types.ErrInvalidUpload)
	}
	if src.Size <= 0 {
		return nil, fmt.Errorf("%w: uploaded archive is empty", types.ErrInvalidUpload)
	}

	checksum, err := utils.ComputeSHA256FromReader(io.NewSectionReader(src.Upload, 0, src.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload: %w", types.ErrDisk, err)
	}

	log.Info().
		Str("model", name).
		Str("filename", src.Filename).
		Int64("size", src.Size).
		Str("checksum", checksum).
		Msg("archive upload accepted")

	return &Handle{
		reader:  src.Upload,
		size:    src.Size,
		sha256:  checksum,
		release: src.Upload.Close,
	}, nil
}
