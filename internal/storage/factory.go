package storage

import (
	"fmt"

	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/spf13/afero"
)

// StoreFactory creates archive stores based on configuration
type StoreFactory struct {
	config *config.StorageConfig
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(config *config.StorageConfig) *StoreFactory {
	return &StoreFactory{config: config}
}

// CreateStore creates an archive store for the configured filesystem type
func (sf *StoreFactory) CreateStore() (ArchiveStore, error) {
	switch sf.config.Type {
	case "local":
		return NewLocalStore(afero.NewOsFs(), sf.config.RootPath, sf.config.ReservedNames)
	case "memory":
		return NewLocalStore(afero.NewMemMapFs(), sf.config.RootPath, sf.config.ReservedNames)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sf.config.Type)
	}
}
