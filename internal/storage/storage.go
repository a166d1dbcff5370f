package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("storage: object not found")

type SaveOptions struct {
	Directory    string
	ContentType  string
	OriginalName string
}

type FileInfo struct {
	ID          string
	Path        string
	ContentType string
	Size        int64
}

// Storage persists the payloads behind transient references.
type Storage interface {
	Save(ctx context.Context, r io.Reader, opts SaveOptions) (FileInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, FileInfo, error)
	Delete(ctx context.Context, id string) error
}
