package filepicker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrWidgetNotFound = errors.New("filepicker: widget not found")
	ErrWidgetExists   = errors.New("filepicker: widget already exists")
)

// Registry owns the live widget controllers of a process.
type Registry struct {
	newUploader UploaderFactory
	deps        Deps

	mu      sync.RWMutex
	widgets map[string]*Controller
}

// NewRegistry returns an empty registry. Its widgets share one reference
// count, so a reference written from one widget into another stays live
// while either holds it.
func NewRegistry(newUploader UploaderFactory, deps Deps) *Registry {
	if deps.refs == nil {
		deps.refs = newRefCounts()
	}
	return &Registry{
		newUploader: newUploader,
		deps:        deps,
		widgets:     make(map[string]*Controller),
	}
}

// Create configures and mounts a new widget. An empty WidgetID gets a
// generated one.
func (r *Registry) Create(cfg Config) (*Controller, error) {
	if cfg.WidgetID == "" {
		cfg.WidgetID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.widgets[cfg.WidgetID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetExists, cfg.WidgetID)
	}

	c, err := NewController(cfg, r.newUploader, r.deps)
	if err != nil {
		return nil, err
	}
	c.Mount()

	r.widgets[cfg.WidgetID] = c
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveWidgets.Inc()
	}
	return c, nil
}

func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.widgets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, id)
	}
	return c, nil
}

// List returns snapshots of all widgets ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.widgets))
	for _, c := range r.widgets {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(controllers))
	for _, c := range controllers {
		snaps = append(snaps, c.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].WidgetID < snaps[j].WidgetID })
	return snaps
}

// Delete tears the widget down and forgets it.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	c, ok := r.widgets[id]
	if ok {
		delete(r.widgets, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrWidgetNotFound, id)
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveWidgets.Dec()
	}
	return c.Close()
}

func (r *Registry) CloseAll() error {
	r.mu.Lock()
	widgets := r.widgets
	r.widgets = make(map[string]*Controller)
	r.mu.Unlock()

	var errs []error
	for id, c := range widgets {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close widget %s: %w", id, err))
		}
		if r.deps.Metrics != nil {
			r.deps.Metrics.ActiveWidgets.Dec()
		}
	}
	return errors.Join(errs...)
}
