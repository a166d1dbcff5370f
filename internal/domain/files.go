package domain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

type DataFormat string

const (
	Base64 DataFormat = "Base64"
	Binary DataFormat = "Binary"
	Text   DataFormat = "Text"
)

func (f DataFormat) Valid() bool {
	switch f {
	case Base64, Binary, Text:
		return true
	}
	return false
}

func ParseDataFormat(s string) (DataFormat, error) {
	f := DataFormat(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown data format %q", s)
	}
	return f, nil
}

// Source yields the payload of an acquired file. Open may be called more than once.
type Source interface {
	Open() (io.ReadCloser, error)
}

type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

type FileSource string

func (p FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(p))
}

// Releaser is implemented by sources that own their payload and must free
// it once the file has been materialized or discarded.
type Releaser interface {
	Release() error
}

// SpoolSource is a temporary file owned by the source; Release removes it.
type SpoolSource string

func (p SpoolSource) Open() (io.ReadCloser, error) {
	return os.Open(string(p))
}

func (p SpoolSource) Release() error {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ReleaseSources releases every owned source among files.
func ReleaseSources(files []RawFile) error {
	var errs []error
	for _, f := range files {
		if r, ok := f.Source.(Releaser); ok {
			if err := r.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release %s: %w", f.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RawFile is a file as the uploader acquired it. Name is empty when the
// acquisition carried no metadata name.
type RawFile struct {
	ID     string
	Name   string
	Type   string
	Size   int64
	Source Source
}

type SelectedFile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Size       int64      `json:"size"`
	Data       string     `json:"data"`
	DataFormat DataFormat `json:"dataFormat"`
}
