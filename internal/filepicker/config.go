package filepicker

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/ondrasimku/filepicker-go/internal/domain"
)

const (
	DefaultLabel       = "Select Files"
	DefaultMaxNumFiles = 1
	DefaultMaxFileSize = 5.0
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the widget properties a host sets through the property pane.
// A Config is treated as immutable once handed to a Controller; changes go
// through Controller.Update.
type Config struct {
	WidgetID         string            `json:"widgetId" yaml:"widgetId" validate:"required,max=128"`
	Label            string            `json:"label" yaml:"label"`
	MaxNumFiles      *int              `json:"maxNumFiles,omitempty" yaml:"maxNumFiles" validate:"omitempty,min=1"`
	MaxFileSize      *float64          `json:"maxFileSize,omitempty" yaml:"maxFileSize" validate:"omitempty,min=1,max=100"`
	AllowedFileTypes []string          `json:"allowedFileTypes" yaml:"allowedFileTypes" validate:"unique,dive,required"`
	FileDataType     domain.DataFormat `json:"fileDataType" yaml:"fileDataType" validate:"oneof=Base64 Binary Text"`
	IsRequired       bool              `json:"isRequired" yaml:"isRequired"`
	IsVisible        bool              `json:"isVisible" yaml:"isVisible"`
	IsDisabled       bool              `json:"isDisabled" yaml:"isDisabled"`
	OnFilesSelected  string            `json:"onFilesSelected,omitempty" yaml:"onFilesSelected"`
	ButtonColor      string            `json:"buttonColor,omitempty" yaml:"buttonColor"`
	BorderRadius     string            `json:"borderRadius,omitempty" yaml:"borderRadius"`
	BoxShadow        string            `json:"boxShadow,omitempty" yaml:"boxShadow"`
}

// DefaultConfig mirrors the values a freshly dropped widget starts with.
func DefaultConfig(widgetID string) Config {
	maxNum := DefaultMaxNumFiles
	maxSize := DefaultMaxFileSize
	return Config{
		WidgetID:         widgetID,
		Label:            DefaultLabel,
		MaxNumFiles:      &maxNum,
		MaxFileSize:      &maxSize,
		AllowedFileTypes: []string{},
		FileDataType:     domain.Base64,
		IsVisible:        true,
	}
}

// WithDefaults fills the fields a host left unset.
func (c Config) WithDefaults() Config {
	if c.Label == "" {
		c.Label = DefaultLabel
	}
	if c.FileDataType == "" {
		c.FileDataType = domain.Base64
	}
	if c.AllowedFileTypes == nil {
		c.AllowedFileTypes = []string{}
	}
	return c
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid widget config: %w", err)
	}
	return nil
}

// restrictionsChanged reports whether b differs from a in a field that feeds
// the uploader restrictions.
func restrictionsChanged(a, b Config) bool {
	return !slices.Equal(a.AllowedFileTypes, b.AllowedFileTypes) ||
		!equalPtr(a.MaxNumFiles, b.MaxNumFiles) ||
		!equalPtr(a.MaxFileSize, b.MaxFileSize)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c Config) clone() Config {
	c.AllowedFileTypes = slices.Clone(c.AllowedFileTypes)
	if c.MaxNumFiles != nil {
		v := *c.MaxNumFiles
		c.MaxNumFiles = &v
	}
	if c.MaxFileSize != nil {
		v := *c.MaxFileSize
		c.MaxFileSize = &v
	}
	return c
}
