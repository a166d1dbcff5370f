package filepicker

import (
	"slices"

	"github.com/ondrasimku/filepicker-go/internal/domain"
)

const bytesPerMB = 1024 * 1024

// Restrictions is the uploader's rule set. A nil field means unrestricted.
type Restrictions struct {
	MaxFileSize      *int64   `json:"maxFileSize"`
	MaxNumberOfFiles *int     `json:"maxNumberOfFiles"`
	AllowedFileTypes []string `json:"allowedFileTypes"`
}

// UploaderOptions is the configuration object handed to the embedded uploader.
type UploaderOptions struct {
	ID                   string       `json:"id"`
	AutoProceed          bool         `json:"autoProceed"`
	AllowMultipleUploads bool         `json:"allowMultipleUploads"`
	Restrictions         Restrictions `json:"restrictions"`
}

func DeriveRestrictions(cfg Config) Restrictions {
	var r Restrictions

	if cfg.MaxFileSize != nil && *cfg.MaxFileSize > 0 {
		limit := int64(*cfg.MaxFileSize * bytesPerMB)
		r.MaxFileSize = &limit
	}
	if cfg.MaxNumFiles != nil {
		n := *cfg.MaxNumFiles
		r.MaxNumberOfFiles = &n
	}
	if len(cfg.AllowedFileTypes) > 0 && !slices.Contains(cfg.AllowedFileTypes, "*") {
		r.AllowedFileTypes = slices.Clone(cfg.AllowedFileTypes)
	}
	return r
}

func OptionsFor(cfg Config) UploaderOptions {
	return UploaderOptions{
		ID:                   cfg.WidgetID,
		AutoProceed:          false,
		AllowMultipleUploads: true,
		Restrictions:         DeriveRestrictions(cfg),
	}
}

// Uploader is the embedded uploader as the controller sees it. The
// interaction methods stand in for what a user does in the upload dialog;
// the uploader reports their effect through the subscribed handler.
type Uploader interface {
	ID() string
	SetOptions(opts UploaderOptions)
	Subscribe(handler func(Event)) error

	AddFiles(files []domain.RawFile) error
	RemoveFile(id string) error
	CancelAll()
	Upload() error

	// Reset drops the uploader's selection without emitting removal events.
	Reset()
	// Forget drops the given files without emitting removal events.
	Forget(ids ...string)
	Close() error
}

type UploaderFactory func(opts UploaderOptions) (Uploader, error)
