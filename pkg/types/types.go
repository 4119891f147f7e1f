package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SourceKind identifies where an archive came from
type SourceKind string

const (
	SourceRemote SourceKind = "remote"
	SourceLocal  SourceKind = "local"
)

// AcquisitionStatus is the terminal state of an acquisition attempt
type AcquisitionStatus string

const (
	StatusSucceeded AcquisitionStatus = "succeeded"
	StatusFailed    AcquisitionStatus = "failed"
)

// Model is a named voice model bundle living in the archive store
type Model struct {
	Name      string      `json:"name"`
	Files     []ModelFile `json:"files"`
	TotalSize int64       `json:"total_size"`
}

// ModelFile is a single member file of a model, relative to the model directory
type ModelFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Acquisition records one attempt to materialize a model, successful or not
type Acquisition struct {
	ID          uuid.UUID         `json:"id" gorm:"primaryKey"`
	ModelName   string            `json:"model_name" gorm:"index;not null"`
	Source      SourceKind        `json:"source" gorm:"not null"`
	SourceRef   string            `json:"source_ref"`
	Status      AcquisitionStatus `json:"status" gorm:"not null"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	ArchiveSize int64             `json:"archive_size"`
	SHA256      string            `json:"sha256,omitempty"`
	FileCount   int               `json:"file_count"`
	DurationMS  int64             `json:"duration_ms"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// BeforeCreate generates a UUID for the acquisition ID
func (a *Acquisition) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Succeeded reports whether the acquisition produced a model
func (a *Acquisition) Succeeded() bool {
	return a.Status == StatusSucceeded
}
