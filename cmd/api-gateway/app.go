package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/lgulliver/rvcstore/internal/acquire"
	"github.com/lgulliver/rvcstore/internal/common"
	"github.com/lgulliver/rvcstore/internal/events"
	"github.com/lgulliver/rvcstore/internal/extract"
	"github.com/lgulliver/rvcstore/internal/janitor"
	"github.com/lgulliver/rvcstore/internal/registry"
	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/rs/zerolog/log"
)

// app holds the wired services of one process
type app struct {
	cfg     *config.Config
	store   storage.ArchiveStore
	service *registry.Service
	janitor *janitor.Janitor
	closers []func() error
}

// newApp connects the optional backends and builds the registry service.
// Backends left unconfigured fall back to their in-process equivalents.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := storage.NewStoreFactory(&cfg.Storage).CreateStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive store: %w", err)
	}
	a.store = store

	opts := registry.Options{ListCacheTTL: cfg.Storage.ListCacheTTL}

	if cfg.Database.Enabled() {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		opts.History = registry.NewGormHistory(db)
		log.Info().Str("driver", cfg.Database.Driver).Msg("acquisition history enabled")
	}

	locker := common.ChainLocker{common.NewLocalLocker()}
	if cfg.Redis.Enabled() {
		cache, err := common.NewCache(&cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		locker = append(locker, common.NewRedisLocker(cache, cfg.Redis.LockTTL))
		log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("distributed model name leases enabled")
	}
	opts.Locker = locker

	if cfg.NATS.URL != "" {
		publisher, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, publisher.Close)
		opts.Publisher = publisher
		log.Info().Str("subject", cfg.NATS.Subject).Msg("model events enabled")
	}

	a.service = registry.NewService(store,
		acquire.New(store, cfg.Fetch),
		extract.New(store, cfg.Extract),
		opts,
	)
	a.janitor = janitor.New(store, cfg.Janitor)

	return a, nil
}

// startBackground starts the janitor when it is enabled
func (a *app) startBackground(ctx context.Context) error {
	if !a.cfg.Janitor.Enabled {
		return nil
	}
	if err := a.janitor.Start(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		a.janitor.Stop()
		return nil
	})
	return nil
}

// Close releases backends in reverse order of creation
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		result = multierror.Append(result, a.closers[i]())
	}
	a.closers = nil
	return result.ErrorOrNil()
}
