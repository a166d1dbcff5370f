// Package uploader is an in-process embedded uploader. It holds the files a
// user picked, enforces the widget's restrictions, and reports changes as
// filepicker events.
package uploader

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
)

var (
	ErrClosed       = errors.New("uploader: closed")
	ErrFileNotFound = errors.New("uploader: file not found")
	ErrNoFiles      = errors.New("uploader: no files to upload")
)

type Session struct {
	metrics *metrics.Metrics

	mu       sync.Mutex
	opts     filepicker.UploaderOptions
	files    []domain.RawFile
	handlers []func(filepicker.Event)
	closed   bool
}

func New(opts filepicker.UploaderOptions, m *metrics.Metrics) *Session {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Session{opts: opts, metrics: m}
}

// Factory adapts New to filepicker.UploaderFactory.
func Factory(m *metrics.Metrics) filepicker.UploaderFactory {
	return func(opts filepicker.UploaderOptions) (filepicker.Uploader, error) {
		return New(opts, m), nil
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.ID
}

func (s *Session) Options() filepicker.UploaderOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetOptions replaces the options in place; files already held are kept.
func (s *Session) SetOptions(opts filepicker.UploaderOptions) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

func (s *Session) Subscribe(handler func(filepicker.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.handlers = append(s.handlers, handler)
	return nil
}

// AddFiles validates files against the current restrictions and, if all
// pass, holds them and emits one FilesAdded event. A rejected batch emits
// nothing.
func (s *Session) AddFiles(files []domain.RawFile) error {
	if len(files) == 0 {
		return nil
	}

	prepared := make([]domain.RawFile, len(files))
	for i, f := range files {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.Type == "" {
			f.Type = detectType(f)
		}
		prepared[i] = f
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.checkLocked(prepared); err != nil {
		s.mu.Unlock()
		var rerr *RestrictionError
		if errors.As(err, &rerr) {
			s.metrics.RestrictionRejects.WithLabelValues(rerr.Rule).Inc()
		}
		return err
	}
	s.files = append(s.files, prepared...)
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	emit(handlers, filepicker.FilesAdded{Files: slices.Clone(prepared)})
	return nil
}

func (s *Session) checkLocked(files []domain.RawFile) error {
	r := s.opts.Restrictions

	if r.MaxNumberOfFiles != nil && len(s.files)+len(files) > *r.MaxNumberOfFiles {
		return &RestrictionError{
			Rule:    RuleMaxNumberOfFiles,
			Message: fmt.Sprintf("you can only upload %d files", *r.MaxNumberOfFiles),
		}
	}

	for _, f := range files {
		if slices.ContainsFunc(s.files, func(held domain.RawFile) bool { return held.ID == f.ID }) {
			return &RestrictionError{
				Rule:    RuleDuplicate,
				File:    f.Name,
				Message: fmt.Sprintf("cannot add the duplicate file %q", f.Name),
			}
		}
		if r.MaxFileSize != nil && f.Size > *r.MaxFileSize {
			return &RestrictionError{
				Rule:    RuleMaxFileSize,
				File:    f.Name,
				Message: fmt.Sprintf("%q exceeds maximum allowed size of %d bytes", f.Name, *r.MaxFileSize),
			}
		}
		if !TypeAllowed(r.AllowedFileTypes, f.Name, f.Type) {
			return &RestrictionError{
				Rule:    RuleAllowedFileTypes,
				File:    f.Name,
				Message: fmt.Sprintf("%q is not an allowed file type", f.Name),
			}
		}
	}
	return nil
}

// RemoveFile drops a held file on the user's behalf.
func (s *Session) RemoveFile(id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	i := slices.IndexFunc(s.files, func(f domain.RawFile) bool { return f.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	removed := s.files[i]
	s.files = slices.Delete(s.files, i, i+1)
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	emit(handlers, filepicker.FileRemoved{File: removed, Reason: filepicker.RemovedByUser})
	return nil
}

// CancelAll drops every held file, emitting a cancel-all removal for each.
func (s *Session) CancelAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	removed := s.files
	s.files = nil
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	for _, f := range removed {
		emit(handlers, filepicker.FileRemoved{File: f, Reason: filepicker.CancelAll})
	}
}

func (s *Session) Upload() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if len(s.files) == 0 {
		s.mu.Unlock()
		return ErrNoFiles
	}
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	emit(handlers, filepicker.UploadTriggered{})
	return nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
}

// Forget silently drops held files, as when the widget could not
// materialize them. Unknown ids are ignored.
func (s *Session) Forget(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = slices.DeleteFunc(s.files, func(f domain.RawFile) bool {
		return slices.Contains(ids, f.ID)
	})
}

// Files returns the files currently held.
func (s *Session) Files() []domain.RawFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.files)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.files = nil
	s.handlers = nil
	return nil
}

func emit(handlers []func(filepicker.Event), ev filepicker.Event) {
	for _, h := range handlers {
		h(ev)
	}
}
