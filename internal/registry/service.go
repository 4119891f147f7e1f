// Package registry sequences model acquisitions and answers queries about
// the models in the archive store.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/lgulliver/rvcstore/internal/acquire"
	"github.com/lgulliver/rvcstore/internal/common"
	"github.com/lgulliver/rvcstore/internal/events"
	"github.com/lgulliver/rvcstore/internal/extract"
	"github.com/lgulliver/rvcstore/internal/metrics"
	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/lgulliver/rvcstore/pkg/utils"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

const listCacheKey = "models"

// Service handles model registry operations
type Service struct {
	Store storage.ArchiveStore

	history   HistoryRepository
	publisher events.Publisher
	acquirer  *acquire.Acquirer
	extractor *extract.Extractor
	locker    common.NameLocker
	listCache *cache.Cache
}

// Options carries the optional collaborators of a Service. Nil fields fall
// back to an in-process locker, no history and no events.
type Options struct {
	Locker       common.NameLocker
	History      HistoryRepository
	Publisher    events.Publisher
	ListCacheTTL time.Duration
}

// NewService creates a new registry service
func NewService(store storage.ArchiveStore, acquirer *acquire.Acquirer, extractor *extract.Extractor, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = common.NewLocalLocker()
	}
	if opts.History == nil {
		opts.History = NoopHistory{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}

	var listCache *cache.Cache
	if opts.ListCacheTTL > 0 {
		listCache = cache.New(opts.ListCacheTTL, 2*opts.ListCacheTTL)
	}

	return &Service{
		Store:     store,
		history:   opts.History,
		publisher: opts.Publisher,
		acquirer:  acquirer,
		extractor: extractor,
		locker:    opts.Locker,
		listCache: listCache,
	}
}

// ValidateName checks that name is a usable, non-reserved model name
func (s *Service) ValidateName(name string) error {
	if err := utils.ValidateModelName(name); err != nil {
		return fmt.Errorf("%w: %q %s", types.ErrInvalidName, name, err.Error())
	}
	if s.Store.IsReserved(name) {
		return fmt.Errorf("%w: %q is reserved", types.ErrInvalidName, name)
	}
	return nil
}

// Download fetches the archive at url and installs it as model name
func (s *Service) Download(ctx context.Context, url, name string) (*types.Acquisition, error) {
	return s.acquireModel(ctx, acquire.Remote(url), name)
}

// Upload installs an already-received archive as model name. The service
// takes ownership of upload and closes it on every path; upload may be nil
// when the request carried no file.
func (s *Service) Upload(ctx context.Context, upload acquire.Upload, size int64, filename, name string) (*types.Acquisition, error) {
	return s.acquireModel(ctx, acquire.Local(upload, size, filename), name)
}

func (s *Service) acquireModel(ctx context.Context, src acquire.Source, name string) (*types.Acquisition, error) {
	startedAt := time.Now()

	log.Info().
		Str("model", name).
		Str("source", string(src.Kind)).
		Str("source_ref", src.Ref()).
		Msg("starting model acquisition")

	if err := s.ValidateName(name); err != nil {
		s.releaseSource(src, name)
		return s.finish(ctx, src, name, startedAt, nil, nil, err)
	}

	release, ok, err := s.locker.TryLock(ctx, name)
	if err != nil {
		s.releaseSource(src, name)
		return s.finish(ctx, src, name, startedAt, nil, nil, fmt.Errorf("failed to lock model name: %w", err))
	}
	if !ok {
		s.releaseSource(src, name)
		return s.finish(ctx, src, name, startedAt, nil, nil,
			fmt.Errorf("%w: %s is already being acquired", types.ErrNameCollision, name))
	}
	defer release()

	handle, err := s.acquirer.Acquire(ctx, src, name)
	if err != nil {
		return s.finish(ctx, src, name, startedAt, nil, nil, err)
	}
	defer func() {
		if closeErr := handle.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("model", name).Msg("failed to release archive")
		}
	}()

	result, err := s.extractor.Extract(ctx, handle, name)
	return s.finish(ctx, src, name, startedAt, handle, result, err)
}

func (s *Service) releaseSource(src acquire.Source, name string) {
	if err := src.Release(); err != nil {
		log.Warn().Err(err).Str("model", name).Msg("failed to close rejected upload")
	}
}

// finish records the outcome of one attempt and notifies on success
func (s *Service) finish(ctx context.Context, src acquire.Source, name string, startedAt time.Time,
	handle *acquire.Handle, result *extract.Result, acqErr error) (*types.Acquisition, error) {
	finishedAt := time.Now()
	elapsed := finishedAt.Sub(startedAt)

	record := &types.Acquisition{
		ModelName:  name,
		Source:     src.Kind,
		SourceRef:  src.Ref(),
		Status:     types.StatusSucceeded,
		DurationMS: elapsed.Milliseconds(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if handle != nil {
		record.ArchiveSize = handle.Size()
		record.SHA256 = handle.SHA256()
	}
	if result != nil {
		record.FileCount = result.Files
	}
	if acqErr != nil {
		record.Status = types.StatusFailed
		record.ErrorKind = types.ErrorKind(acqErr)
		record.Error = acqErr.Error()
	}

	metrics.ObserveAcquisition(src.Kind, acqErr, record.ArchiveSize, elapsed)

	// the outcome is recorded even when the request was cancelled
	recordCtx := context.WithoutCancel(ctx)
	if err := s.history.Record(recordCtx, record); err != nil {
		log.Error().Err(err).Str("model", name).Msg("failed to record acquisition")
	}

	if acqErr != nil {
		log.Error().
			Err(acqErr).
			Str("model", name).
			Str("source", string(src.Kind)).
			Str("error_kind", record.ErrorKind).
			Dur("duration", elapsed).
			Msg("model acquisition failed")
		return record, acqErr
	}

	s.invalidateList()

	event := events.ModelAdded{
		Name:       name,
		Source:     src.Kind,
		SourceRef:  src.Ref(),
		SHA256:     record.SHA256,
		FileCount:  record.FileCount,
		Bytes:      record.ArchiveSize,
		AcquiredAt: finishedAt,
	}
	if err := s.publisher.PublishModelAdded(recordCtx, event); err != nil {
		log.Error().Err(err).Str("model", name).Msg("failed to publish model event")
	}

	log.Info().
		Str("model", name).
		Str("source", string(src.Kind)).
		Int("files", record.FileCount).
		Int64("archive_size", record.ArchiveSize).
		Dur("duration", elapsed).
		Msg("model acquisition completed")

	return record, nil
}

// List returns the names of the models in the store, excluding reserved names
func (s *Service) List(ctx context.Context) ([]string, error) {
	if s.listCache != nil {
		if cached, found := s.listCache.Get(listCacheKey); found {
			return cached.([]string), nil
		}
	}

	names, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}

	if s.listCache != nil {
		s.listCache.SetDefault(listCacheKey, names)
	}
	return names, nil
}

func (s *Service) invalidateList() {
	if s.listCache != nil {
		s.listCache.Delete(listCacheKey)
	}
}

// Model returns one model with its member files
func (s *Service) Model(ctx context.Context, name string) (*types.Model, error) {
	if err := s.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrModelNotFound, name)
	}

	files, err := s.Store.Members(ctx, name)
	if err != nil {
		return nil, err
	}

	model := &types.Model{Name: name, Files: files}
	if model.Files == nil {
		model.Files = []types.ModelFile{}
	}
	for _, f := range files {
		model.TotalSize += f.Size
	}
	return model, nil
}

// History returns recent acquisition records for name, newest first
func (s *Service) History(ctx context.Context, name string, limit int) ([]types.Acquisition, error) {
	return s.history.List(ctx, name, limit)
}
