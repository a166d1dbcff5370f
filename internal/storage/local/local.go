package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ondrasimku/filepicker-go/internal/storage"
)

const metaSuffix = ".meta"

type LocalStorage struct {
	baseDir string
}

type objectMeta struct {
	Directory    string `json:"directory"`
	ContentType  string `json:"contentType"`
	OriginalName string `json:"originalName"`
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{baseDir: baseDir}, nil
}

func (s *LocalStorage) Save(ctx context.Context, r io.Reader, opts storage.SaveOptions) (storage.FileInfo, error) {
	id := uuid.New().String()

	dir := filepath.Join(s.baseDir, opts.Directory)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to create directory: %w", err)
	}

	filePath := filepath.Join(dir, id)
	file, err := os.Create(filePath)
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, contextReader{ctx: ctx, r: r})
	if err != nil {
		os.Remove(filePath)
		return storage.FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	meta, err := json.Marshal(objectMeta{
		Directory:    opts.Directory,
		ContentType:  opts.ContentType,
		OriginalName: opts.OriginalName,
	})
	if err != nil {
		os.Remove(filePath)
		return storage.FileInfo{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	// The sidecar lives at the base so Open and Delete resolve ids without a directory hint.
	if err := os.WriteFile(s.metaPath(id), meta, 0644); err != nil {
		os.Remove(filePath)
		return storage.FileInfo{}, fmt.Errorf("failed to write metadata: %w", err)
	}

	return storage.FileInfo{
		ID:          id,
		Path:        filePath,
		ContentType: opts.ContentType,
		Size:        size,
	}, nil
}

func (s *LocalStorage) Open(ctx context.Context, id string) (io.ReadCloser, storage.FileInfo, error) {
	meta, err := s.loadMeta(id)
	if err != nil {
		return nil, storage.FileInfo{}, err
	}

	filePath := filepath.Join(s.baseDir, meta.Directory, id)
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.FileInfo{}, storage.ErrNotFound
		}
		return nil, storage.FileInfo{}, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, storage.FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return file, storage.FileInfo{
		ID:          id,
		Path:        filePath,
		ContentType: contentType,
		Size:        stat.Size(),
	}, nil
}

func (s *LocalStorage) Delete(ctx context.Context, id string) error {
	meta, err := s.loadMeta(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.baseDir, meta.Directory, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove metadata: %w", err)
	}
	return nil
}

func (s *LocalStorage) metaPath(id string) string {
	return filepath.Join(s.baseDir, id+metaSuffix)
}

func (s *LocalStorage) loadMeta(id string) (objectMeta, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return objectMeta{}, storage.ErrNotFound
	}

	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objectMeta{}, storage.ErrNotFound
		}
		return objectMeta{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return objectMeta{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
