// Package filepicker implements the file picker widget controller: it
// configures an embedded uploader, turns the uploader's events into changes
// of the widget's selected files, and dispatches the bound action.
package filepicker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/ondrasimku/filepicker-go/internal/action"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
)

var ErrClosed = errors.New("filepicker: widget closed")

// Materializer converts a batch of acquired files. *materialize.Materializer implements it.
type Materializer interface {
	Batch(ctx context.Context, files []domain.RawFile, alreadySelected int, format domain.DataFormat) ([]domain.SelectedFile, error)
	Release(ctx context.Context, files []domain.SelectedFile)
}

type Deps struct {
	Materializer Materializer
	Revoker      Revoker
	Actions      action.Executor
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// refs is shared by the widgets of a Registry so that a reference
	// copied between widgets is revoked only once no selection holds it.
	refs *refCounts
}

// State holds the widget's meta properties.
type State struct {
	SelectedFiles    []domain.SelectedFile `json:"selectedFiles"`
	UploadedFileData map[string]any        `json:"uploadedFileData"`
	IsDirty          bool                  `json:"isDirty"`
	IsLoading        bool                  `json:"isLoading"`
}

// Snapshot is a point-in-time copy of a widget, including derived properties.
type Snapshot struct {
	WidgetID string          `json:"widgetId"`
	Version  uint64          `json:"version"`
	Config   Config          `json:"config"`
	Options  UploaderOptions `json:"uploaderOptions"`
	State
	IsValid bool                  `json:"isValid"`
	Files   []domain.SelectedFile `json:"files"`
}

type Controller struct {
	uploader     Uploader
	materializer Materializer
	revoker      Revoker
	refs         *refCounts
	actions      action.Executor
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu      sync.Mutex
	cfg     Config
	state   State
	version uint64
	closed  bool

	// generation changes whenever the selection is cancelled or reset;
	// batches started under an older generation are discarded on commit.
	generation uint64
	pending    map[string]struct{}
	tombstones map[string]struct{}

	// dispatching counts actions whose callback has not run yet.
	dispatching int

	inflight int
	idle     *sync.Cond

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewController builds the uploader for cfg and returns a controller that
// is not yet listening to it; call Mount to wire the events.
func NewController(cfg Config, newUploader UploaderFactory, deps Deps) (*Controller, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	up, err := newUploader(OptionsFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create uploader: %w", err)
	}

	actions := deps.Actions
	if actions == nil {
		actions = action.Noop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	refs := deps.refs
	if refs == nil {
		refs = newRefCounts()
	}

	c := &Controller{
		uploader:     up,
		materializer: deps.Materializer,
		revoker:      deps.Revoker,
		refs:         refs,
		actions:      actions,
		metrics:      m,
		logger:       logger.With("widgetId", cfg.WidgetID),
		cfg:          cfg.clone(),
		state: State{
			SelectedFiles:    []domain.SelectedFile{},
			UploadedFileData: map[string]any{},
		},
		pending:    make(map[string]struct{}),
		tombstones: make(map[string]struct{}),
		subs:       make(map[int]chan Snapshot),
	}
	c.idle = sync.NewCond(&c.mu)
	return c, nil
}

// Mount subscribes to the uploader's events. A failed subscription leaves
// the widget usable without event wiring.
func (c *Controller) Mount() {
	if err := c.uploader.Subscribe(c.HandleEvent); err != nil {
		c.logger.Warn("Failed to initialize uploader event listeners", "error", err)
	}
}

func (c *Controller) ID() string {
	return c.uploader.ID()
}

func (c *Controller) Uploader() Uploader {
	return c.uploader
}

// HandleEvent applies one uploader event.
func (c *Controller) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case FilesAdded:
		c.filesAdded(e.Files)
	case FileRemoved:
		c.fileRemoved(e.File, e.Reason)
	case UploadTriggered:
		c.dispatchFilesSelected()
	default:
		c.logger.Debug("Ignoring unknown uploader event", "event", fmt.Sprintf("%T", ev))
	}
}

func (c *Controller) filesAdded(files []domain.RawFile) {
	if len(files) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.releaseSources(files)
		return
	}
	gen := c.generation
	already := len(c.state.SelectedFiles)
	format := c.cfg.FileDataType
	for _, f := range files {
		c.pending[f.ID] = struct{}{}
	}
	c.inflight++
	c.mu.Unlock()

	go func() {
		defer c.batchDone()
		results, err := c.materializer.Batch(context.Background(), files, already, format)
		c.commit(gen, files, results, err)
		c.releaseSources(files)
	}()
}

// releaseSources frees the payloads of files whose batch has finished.
func (c *Controller) releaseSources(files []domain.RawFile) {
	if err := domain.ReleaseSources(files); err != nil {
		c.logger.Warn("Failed to release file sources", "error", err)
	}
}

// commit appends a finished batch to the selected files unless the
// selection was cancelled or reset since the batch started.
func (c *Controller) commit(gen uint64, raws []domain.RawFile, results []domain.SelectedFile, batchErr error) {
	c.mu.Lock()
	tombstoned := make(map[string]bool, len(raws))
	for _, raw := range raws {
		delete(c.pending, raw.ID)
		if _, ok := c.tombstones[raw.ID]; ok {
			tombstoned[raw.ID] = true
			delete(c.tombstones, raw.ID)
		}
	}

	if batchErr != nil {
		// The uploader still holds the failed files; a cancel or reset
		// since the batch started has cleared them already.
		var forget []string
		if !c.closed && gen == c.generation {
			for _, raw := range raws {
				if !tombstoned[raw.ID] {
					forget = append(forget, raw.ID)
				}
			}
		}
		c.mu.Unlock()
		c.metrics.BatchesDiscarded.WithLabelValues("error").Inc()
		c.logger.Error("Failed to materialize files", "files", len(raws), "error", batchErr)
		if len(forget) > 0 {
			c.uploader.Forget(forget...)
		}
		return
	}

	if c.closed || gen != c.generation {
		c.mu.Unlock()
		c.metrics.BatchesDiscarded.WithLabelValues("stale").Inc()
		c.logger.Debug("Discarding files materialized after the selection was cleared", "files", len(results))
		c.materializer.Release(context.Background(), results)
		return
	}

	kept := make([]domain.SelectedFile, 0, len(results))
	var dropped []domain.SelectedFile
	for _, f := range results {
		if tombstoned[f.ID] {
			dropped = append(dropped, f)
			continue
		}
		kept = append(kept, f)
	}

	c.refs.track(kept)
	prev := c.state.SelectedFiles
	c.state.SelectedFiles = append(slices.Clone(prev), kept...)
	c.refs.update(prev, c.state.SelectedFiles)
	c.state.IsDirty = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if len(dropped) > 0 {
		c.logger.Debug("Dropping files removed while materializing", "files", len(dropped))
		c.materializer.Release(context.Background(), dropped)
	}
	c.metrics.BatchesCommitted.Inc()
	c.metrics.BatchSize.Observe(float64(len(kept)))

	c.publish(snap)
}

func (c *Controller) fileRemoved(file domain.RawFile, reason RemovalReason) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	var next []domain.SelectedFile
	switch reason {
	case RemovedByUser:
		if _, ok := c.pending[file.ID]; ok {
			c.tombstones[file.ID] = struct{}{}
		}
		next = slices.Clone(c.state.SelectedFiles)
		if i := slices.IndexFunc(next, func(f domain.SelectedFile) bool { return f.ID == file.ID }); i >= 0 {
			next = slices.Delete(next, i, i+1)
		}
	case CancelAll:
		c.generation++
		clear(c.tombstones)
		next = []domain.SelectedFile{}
	default:
		c.mu.Unlock()
		c.logger.Debug("Ignoring file removal with unknown reason", "fileId", file.ID, "reason", reason)
		return
	}
	t := c.replaceLocked(next)
	c.mu.Unlock()

	c.finish(t)
}

// SetSelectedFiles replaces the selected files from outside the widget, as
// a host does when it resets the widget's meta properties.
func (c *Controller) SetSelectedFiles(files []domain.SelectedFile) error {
	next := slices.Clone(files)
	if next == nil {
		next = []domain.SelectedFile{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	t := c.replaceLocked(next)
	c.mu.Unlock()

	c.finish(t)
	return nil
}

type transition struct {
	release []domain.SelectedFile
	reset   bool
	snap    Snapshot
}

// replaceLocked installs next as the selected files. Going from some files
// to none starts a new generation so in-flight batches are discarded.
func (c *Controller) replaceLocked(next []domain.SelectedFile) transition {
	t := transition{
		release: c.refs.update(c.state.SelectedFiles, next),
		reset:   len(c.state.SelectedFiles) > 0 && len(next) == 0,
	}
	c.state.SelectedFiles = next
	if t.reset {
		c.generation++
		clear(c.tombstones)
	}
	t.snap = c.snapshotLocked()
	return t
}

// finish runs the side effects of a transition outside the lock.
func (c *Controller) finish(t transition) {
	if t.reset {
		c.Reset()
	}
	c.reclaim(t.release)
	c.publish(t.snap)
}

// Reset clears the uploader's selection without emitting removal events.
func (c *Controller) Reset() {
	c.uploader.Reset()
}

// Update applies a new configuration and reconfigures the uploader when a
// restriction-relevant field changed.
func (c *Controller) Update(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if cfg.WidgetID != c.cfg.WidgetID {
		c.mu.Unlock()
		return fmt.Errorf("widget id cannot change from %q to %q", c.cfg.WidgetID, cfg.WidgetID)
	}
	changed := restrictionsChanged(c.cfg, cfg)
	c.cfg = cfg.clone()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.Reconfigure(cfg)
	}
	c.publish(snap)
	return nil
}

// Reconfigure pushes the restrictions derived from cfg to the existing
// uploader instance.
func (c *Controller) Reconfigure(cfg Config) {
	c.uploader.SetOptions(OptionsFor(cfg))
}

func (c *Controller) dispatchFilesSelected() {
	c.mu.Lock()
	if c.closed || c.cfg.OnFilesSelected == "" {
		c.mu.Unlock()
		return
	}
	req := action.Request{
		WidgetID:            c.cfg.WidgetID,
		TriggerPropertyName: action.TriggerOnFilesSelected,
		DynamicString:       c.cfg.OnFilesSelected,
		Event: action.Event{
			Type:     action.EventOnFilesSelected,
			Callback: c.actionComplete,
		},
		Files: slices.Clone(c.state.SelectedFiles),
	}
	c.dispatching++
	c.state.IsLoading = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	c.actions.Execute(context.Background(), req)
}

// actionComplete clears the loading state once every outstanding dispatch
// has called back.
func (c *Controller) actionComplete(res action.Result) {
	c.mu.Lock()
	if c.dispatching > 0 {
		c.dispatching--
	}
	c.state.IsLoading = c.dispatching > 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !res.Success {
		c.logger.Warn("onFilesSelected action did not succeed", "error", res.Error)
	}
	c.publish(snap)
}

func (c *Controller) reclaim(release []domain.SelectedFile) {
	if c.revoker == nil || len(release) == 0 {
		return
	}
	if _, err := Reclaim(context.Background(), c.revoker, release, nil); err != nil {
		c.logger.Warn("Failed to reclaim transient references", "error", err)
	}
}

func (c *Controller) batchDone() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// Wait blocks until every in-flight batch has been committed or discarded.
func (c *Controller) Wait() {
	c.mu.Lock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Close tears the widget down: the uploader is closed, in-flight batches are
// drained, and the references still held by the selection are released.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	release := c.refs.update(c.state.SelectedFiles, nil)
	c.state.SelectedFiles = []domain.SelectedFile{}
	c.mu.Unlock()

	err := c.uploader.Close()
	c.Wait()
	c.reclaim(release)

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close uploader: %w", err)
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	c.version++
	files := slices.Clone(c.state.SelectedFiles)
	return Snapshot{
		WidgetID: c.cfg.WidgetID,
		Version:  c.version,
		Config:   c.cfg.clone(),
		Options:  OptionsFor(c.cfg),
		State: State{
			SelectedFiles:    files,
			UploadedFileData: maps.Clone(c.state.UploadedFileData),
			IsDirty:          c.state.IsDirty,
			IsLoading:        c.state.IsLoading,
		},
		IsValid: !c.cfg.IsRequired || len(files) > 0,
		Files:   files,
	}
}

// Subscribe returns a channel of snapshots published after every state
// change. A slow subscriber only sees the latest snapshot.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (c *Controller) publish(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
