// Package blob manages transient references: revocable handles to payloads
// too large to inline into a widget's state. A reference has the form
//
//	blob:<public base URL>/blobs/<id>?type=<data format>
//
// and stays resolvable through Open until it is revoked. The query suffix
// annotates the data format and is not part of the reference identity.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"github.com/ondrasimku/filepicker-go/internal/storage"
)

const (
	Scheme    = "blob:"
	directory = "blobs"

	// revokedHistory bounds how many revoked ids are remembered to answer
	// a repeated revoke with ErrRevoked. Older ids answer ErrNotFound.
	revokedHistory = 4096
)

var (
	ErrNotFound         = errors.New("blob: reference not found")
	ErrRevoked          = errors.New("blob: reference already revoked")
	ErrInvalidReference = errors.New("blob: invalid reference")
)

type entry struct {
	format domain.DataFormat
	name   string
}

type Store struct {
	backend storage.Storage
	baseURL string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu           sync.Mutex
	live         map[string]entry
	revoked      map[string]struct{}
	revokedOrder []string
	revokedLimit int
}

func NewStore(backend storage.Storage, publicBaseURL string, m *metrics.Metrics, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		baseURL: strings.TrimSuffix(publicBaseURL, "/"),
		metrics: m,
		logger:  logger,
		live:    make(map[string]entry),
		revoked: make(map[string]struct{}),

		revokedLimit: revokedHistory,
	}
}

// IsReference reports whether data holds a transient reference rather than
// an inlined payload.
func IsReference(data string) bool {
	return strings.HasPrefix(data, Scheme)
}

// Base strips the query suffix from a reference.
func Base(ref string) string {
	base, _, _ := strings.Cut(ref, "?")
	return base
}

func ParseID(ref string) (string, error) {
	if !IsReference(ref) {
		return "", ErrInvalidReference
	}
	rest := strings.TrimPrefix(Base(ref), Scheme)
	dir, id := path.Split(rest)
	if id == "" || !strings.HasSuffix(dir, "/"+directory+"/") {
		return "", ErrInvalidReference
	}
	return id, nil
}

// Create streams r into the backend and returns a new reference annotated
// with format.
func (s *Store) Create(ctx context.Context, r io.Reader, contentType, name string, format domain.DataFormat) (string, error) {
	info, err := s.backend.Save(ctx, r, storage.SaveOptions{
		Directory:    directory,
		ContentType:  contentType,
		OriginalName: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	s.mu.Lock()
	s.live[info.ID] = entry{format: format, name: name}
	s.mu.Unlock()

	s.metrics.ReferencesCreated.Inc()
	s.metrics.ReferencesLive.Inc()

	return fmt.Sprintf("%s%s/%s/%s?type=%s", Scheme, s.baseURL, directory, info.ID, format), nil
}

// Revoke releases the payload behind ref. Revoking the same reference twice
// returns ErrRevoked and leaves the backend untouched.
func (s *Store) Revoke(ctx context.Context, ref string) error {
	id, err := ParseID(ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, done := s.revoked[id]; done {
		s.mu.Unlock()
		return ErrRevoked
	}
	if _, ok := s.live[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.live, id)
	s.rememberRevokedLocked(id)
	s.mu.Unlock()

	s.metrics.ReferencesRevoked.Inc()
	s.metrics.ReferencesLive.Dec()

	if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Failed to delete revoked blob", "blobId", id, "error", err)
	}
	return nil
}

func (s *Store) rememberRevokedLocked(id string) {
	s.revoked[id] = struct{}{}
	s.revokedOrder = append(s.revokedOrder, id)
	if len(s.revokedOrder) > s.revokedLimit {
		delete(s.revoked, s.revokedOrder[0])
		s.revokedOrder = slices.Delete(s.revokedOrder, 0, 1)
	}
}

// Open resolves a live reference id to its payload.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, storage.FileInfo, error) {
	s.mu.Lock()
	_, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return nil, storage.FileInfo{}, ErrNotFound
	}

	rc, info, err := s.backend.Open(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.FileInfo{}, ErrNotFound
		}
		return nil, storage.FileInfo{}, err
	}
	return rc, info, nil
}

func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
