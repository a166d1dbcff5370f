package filepicker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ondrasimku/filepicker-go/internal/action"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/materialize"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeUploader records the controller's calls; tests drive events through
// Controller.HandleEvent.
type fakeUploader struct {
	mu          sync.Mutex
	opts        UploaderOptions
	setOptions  int
	resets      int
	forgotten   []string
	closed      bool
	subscribeFn func(Event)
	subErr      error
}

func (u *fakeUploader) ID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.opts.ID
}

func (u *fakeUploader) SetOptions(opts UploaderOptions) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.opts = opts
	u.setOptions++
}

func (u *fakeUploader) Subscribe(h func(Event)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.subErr != nil {
		return u.subErr
	}
	u.subscribeFn = h
	return nil
}

func (u *fakeUploader) AddFiles(files []domain.RawFile) error {
	u.subscribeFn(FilesAdded{Files: files})
	return nil
}

func (u *fakeUploader) RemoveFile(id string) error {
	u.subscribeFn(FileRemoved{File: domain.RawFile{ID: id}, Reason: RemovedByUser})
	return nil
}

func (u *fakeUploader) CancelAll() {}

func (u *fakeUploader) Upload() error {
	u.subscribeFn(UploadTriggered{})
	return nil
}

func (u *fakeUploader) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resets++
}

func (u *fakeUploader) Forget(ids ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forgotten = append(u.forgotten, ids...)
}

func (u *fakeUploader) Forgotten() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return slices.Clone(u.forgotten)
}

func (u *fakeUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

func (u *fakeUploader) counts() (setOptions, resets int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.setOptions, u.resets
}

// gatedMaterializer holds every batch until release is closed.
type gatedMaterializer struct {
	release  chan struct{}
	err      error
	mu       sync.Mutex
	released [][]domain.SelectedFile
}

func newGatedMaterializer() *gatedMaterializer {
	return &gatedMaterializer{release: make(chan struct{})}
}

func (g *gatedMaterializer) Batch(_ context.Context, files []domain.RawFile, already int, format domain.DataFormat) ([]domain.SelectedFile, error) {
	<-g.release
	if g.err != nil {
		return nil, g.err
	}
	out := make([]domain.SelectedFile, len(files))
	for i, f := range files {
		name := f.Name
		if name == "" {
			name = materialize.FallbackName(i, already)
		}
		out[i] = domain.SelectedFile{
			ID:         f.ID,
			Name:       name,
			Type:       f.Type,
			Size:       f.Size,
			Data:       "blob:http://test/blobs/" + f.ID + "?type=" + string(format),
			DataFormat: format,
		}
	}
	return out, nil
}

func (g *gatedMaterializer) Release(_ context.Context, files []domain.SelectedFile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, files)
}

func (g *gatedMaterializer) Released() [][]domain.SelectedFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, req action.Request) {
	m.Called(ctx, req)
}

// memRefs is an in-memory transient reference store.
type memRefs struct {
	mu   sync.Mutex
	next int
	live map[string]bool
}

func newMemRefs() *memRefs {
	return &memRefs{live: make(map[string]bool)}
}

func (r *memRefs) Create(_ context.Context, rd io.Reader, _, _ string, format domain.DataFormat) (string, error) {
	if _, err := io.Copy(io.Discard, rd); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	base := fmt.Sprintf("blob:http://test/blobs/%d", r.next)
	r.live[base] = true
	return base + "?type=" + string(format), nil
}

func (r *memRefs) Revoke(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, _, _ := strings.Cut(ref, "?")
	if !r.live[base] {
		return errors.New("unknown reference")
	}
	delete(r.live, base)
	return nil
}

func (r *memRefs) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, cfg Config, deps Deps) (*Controller, *fakeUploader) {
	t.Helper()
	up := &fakeUploader{}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	c, err := NewController(cfg, func(opts UploaderOptions) (Uploader, error) {
		up.opts = opts
		return up, nil
	}, deps)
	require.NoError(t, err)
	c.Mount()
	t.Cleanup(func() { c.Close() })
	return c, up
}

func textFile(id, name string, size int) domain.RawFile {
	return domain.RawFile{
		ID:     id,
		Name:   name,
		Type:   "text/plain",
		Size:   int64(size),
		Source: domain.BytesSource(strings.Repeat("a", size)),
	}
}

func TestController_ConfiguresUploader(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.AllowedFileTypes = []string{"image/*"}
	cfg.MaxNumFiles = intPtr(3)

	_, up := newTestController(t, cfg, Deps{Materializer: newGatedMaterializer()})

	assert.Equal(t, "w1", up.opts.ID)
	assert.False(t, up.opts.AutoProceed)
	assert.True(t, up.opts.AllowMultipleUploads)
	assert.Equal(t, []string{"image/*"}, up.opts.Restrictions.AllowedFileTypes)
	assert.Equal(t, 3, *up.opts.Restrictions.MaxNumberOfFiles)
	assert.Equal(t, int64(5*1024*1024), *up.opts.Restrictions.MaxFileSize)
}

func TestController_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.MaxFileSize = floatPtr(500)

	_, err := NewController(cfg, func(UploaderOptions) (Uploader, error) {
		t.Fatal("uploader must not be created for an invalid config")
		return nil, nil
	}, Deps{})
	assert.Error(t, err)
}

func TestController_MountFailureIsNotFatal(t *testing.T) {
	up := &fakeUploader{subErr: errors.New("no listeners")}
	c, err := NewController(DefaultConfig("w1"), func(UploaderOptions) (Uploader, error) { return up, nil }, Deps{Logger: discardLogger()})
	require.NoError(t, err)

	c.Mount()
	assert.Empty(t, c.Snapshot().SelectedFiles)
}

func TestController_TextFileIsInlined(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.AllowedFileTypes = []string{"image/*"}
	cfg.FileDataType = domain.Text

	refs := newMemRefs()
	c, up := newTestController(t, cfg, Deps{Materializer: materialize.New(refs, metrics.NewNop()), Revoker: refs})
	assert.Equal(t, []string{"image/*"}, up.opts.Restrictions.AllowedFileTypes)

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("f1", "a.txt", 2000)}})
	c.Wait()

	snap := c.Snapshot()
	require.Len(t, snap.SelectedFiles, 1)
	f := snap.SelectedFiles[0]
	assert.Equal(t, "a.txt", f.Name)
	assert.Equal(t, domain.Text, f.DataFormat)
	assert.Equal(t, strings.Repeat("a", 2000), f.Data)
	assert.True(t, snap.IsDirty)
	assert.Equal(t, snap.SelectedFiles, snap.Files)
	assert.Zero(t, refs.Live())
}

func TestController_LargeFileBecomesReference(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.FileDataType = domain.Binary

	refs := newMemRefs()
	c, _ := newTestController(t, cfg, Deps{Materializer: materialize.New(refs, metrics.NewNop()), Revoker: refs})

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("big", "big.bin", materialize.Threshold)}})
	c.Wait()

	snap := c.Snapshot()
	require.Len(t, snap.SelectedFiles, 1)
	assert.True(t, strings.HasPrefix(snap.SelectedFiles[0].Data, "blob:"))
	assert.True(t, strings.HasSuffix(snap.SelectedFiles[0].Data, "?type=Binary"))
	assert.Equal(t, 1, refs.Live())

	// Removing the file drops its reference.
	c.HandleEvent(FileRemoved{File: domain.RawFile{ID: "big"}, Reason: RemovedByUser})
	assert.Zero(t, refs.Live())
}

func TestController_BatchesAppendInOrder(t *testing.T) {
	cfg := DefaultConfig("w1")
	g := newGatedMaterializer()
	close(g.release)
	c, _ := newTestController(t, cfg, Deps{Materializer: g})

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("1", "one", 1), textFile("2", "", 1)}})
	c.Wait()
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("3", "", 1)}})
	c.Wait()

	snap := c.Snapshot()
	require.Len(t, snap.SelectedFiles, 3)
	assert.Equal(t, "one", snap.SelectedFiles[0].Name)
	assert.Equal(t, "File-1", snap.SelectedFiles[1].Name)
	assert.Equal(t, "File-2", snap.SelectedFiles[2].Name)
}

func TestController_FailedBatchLeavesSelectionUnchanged(t *testing.T) {
	g := newGatedMaterializer()
	close(g.release)
	c, up := newTestController(t, DefaultConfig("w1"), Deps{Materializer: g})

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("1", "one", 1)}})
	c.Wait()

	g.err = errors.New("read failed")
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("2", "two", 1), textFile("3", "three", 1)}})
	c.Wait()

	snap := c.Snapshot()
	require.Len(t, snap.SelectedFiles, 1)
	assert.Equal(t, "1", snap.SelectedFiles[0].ID)
	assert.Equal(t, []string{"2", "3"}, up.Forgotten())
}

func TestController_CancelAllDiscardsInFlightBatch(t *testing.T) {
	g := newGatedMaterializer()
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: g})

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("1", "one", 1)}})
	c.HandleEvent(FileRemoved{File: domain.RawFile{ID: "1"}, Reason: CancelAll})
	close(g.release)
	c.Wait()

	assert.Empty(t, c.Snapshot().SelectedFiles)
	released := g.Released()
	require.Len(t, released, 1)
	assert.Equal(t, "1", released[0][0].ID)
}

func TestController_RemovalOfPendingFileIsDropped(t *testing.T) {
	g := newGatedMaterializer()
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: g})

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("a", "a", 1), textFile("b", "b", 1)}})
	c.HandleEvent(FileRemoved{File: domain.RawFile{ID: "a"}, Reason: RemovedByUser})
	close(g.release)
	c.Wait()

	snap := c.Snapshot()
	require.Len(t, snap.SelectedFiles, 1)
	assert.Equal(t, "b", snap.SelectedFiles[0].ID)

	released := g.Released()
	require.Len(t, released, 1)
	assert.Equal(t, "a", released[0][0].ID)
}

func TestController_ResetDiscardsInFlightBatch(t *testing.T) {
	g := newGatedMaterializer()
	c, up := newTestController(t, DefaultConfig("w1"), Deps{Materializer: g})

	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "x", Name: "x"}}))
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("1", "one", 1)}})
	require.NoError(t, c.SetSelectedFiles(nil))
	close(g.release)
	c.Wait()

	assert.Empty(t, c.Snapshot().SelectedFiles)
	_, resets := up.counts()
	assert.Equal(t, 1, resets)
}

func TestController_RemovalReasons(t *testing.T) {
	tests := []struct {
		name       string
		reason     RemovalReason
		remove     string
		wantIDs    []string
		wantResets int
	}{
		{name: "user removes one", reason: RemovedByUser, remove: "a", wantIDs: []string{"b"}},
		{name: "user removes unknown", reason: RemovedByUser, remove: "zzz", wantIDs: []string{"a", "b"}},
		{name: "cancel all", reason: CancelAll, remove: "a", wantIDs: []string{}, wantResets: 1},
		{name: "unknown reason", reason: "error", remove: "a", wantIDs: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, up := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer()})
			require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "a"}, {ID: "b"}}))

			c.HandleEvent(FileRemoved{File: domain.RawFile{ID: tt.remove}, Reason: tt.reason})

			ids := []string{}
			for _, f := range c.Snapshot().SelectedFiles {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			_, resets := up.counts()
			assert.Equal(t, tt.wantResets, resets)
		})
	}
}

func TestController_RemoveDuplicateIDRemovesFirstOnly(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer()})
	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{
		{ID: "a", Name: "first"},
		{ID: "a", Name: "second"},
	}))

	c.HandleEvent(FileRemoved{File: domain.RawFile{ID: "a"}, Reason: RemovedByUser})

	snap := c.Snapshot()
	require.Len(t, snap.SelectedFiles, 1)
	assert.Equal(t, "second", snap.SelectedFiles[0].Name)
}

func TestController_ResetOnlyOnTransitionToEmpty(t *testing.T) {
	c, up := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer()})

	require.NoError(t, c.SetSelectedFiles(nil))
	_, resets := up.counts()
	assert.Equal(t, 0, resets, "empty to empty")

	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "a"}}))
	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "b"}}))
	_, resets = up.counts()
	assert.Equal(t, 0, resets, "non-empty to non-empty")

	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{}))
	_, resets = up.counts()
	assert.Equal(t, 1, resets)
}

func TestController_UpdateReconfiguresOnRestrictionChange(t *testing.T) {
	c, up := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer()})

	cfg := c.Snapshot().Config
	cfg.Label = "Pick"
	require.NoError(t, c.Update(cfg))
	setOptions, _ := up.counts()
	assert.Equal(t, 0, setOptions)
	assert.Equal(t, "Pick", c.Snapshot().Config.Label)

	cfg.AllowedFileTypes = []string{".png"}
	require.NoError(t, c.Update(cfg))
	setOptions, _ = up.counts()
	assert.Equal(t, 1, setOptions)
	assert.Equal(t, []string{".png"}, up.opts.Restrictions.AllowedFileTypes)
	assert.Equal(t, "w1", up.opts.ID)
}

func TestController_UpdateRejectsIDChange(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer()})

	cfg := c.Snapshot().Config
	cfg.WidgetID = "w2"
	assert.Error(t, c.Update(cfg))
}

func TestController_DispatchesOnFilesSelected(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.OnFilesSelected = "{{ showAlert('done') }}"

	exec := &mockExecutor{}
	var captured action.Request
	exec.On("Execute", mock.Anything, mock.MatchedBy(func(req action.Request) bool {
		return req.TriggerPropertyName == action.TriggerOnFilesSelected &&
			req.Event.Type == action.EventOnFilesSelected
	})).Run(func(args mock.Arguments) {
		captured = args.Get(1).(action.Request)
	}).Return().Once()

	c, _ := newTestController(t, cfg, Deps{Materializer: newGatedMaterializer(), Actions: exec})
	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "a"}}))

	c.HandleEvent(UploadTriggered{})

	exec.AssertExpectations(t)
	assert.Equal(t, "w1", captured.WidgetID)
	assert.Equal(t, "{{ showAlert('done') }}", captured.DynamicString)
	assert.Len(t, captured.Files, 1)
	assert.True(t, c.Snapshot().IsLoading)

	require.NotNil(t, captured.Event.Callback)
	captured.Event.Callback(action.Result{Success: true})
	assert.False(t, c.Snapshot().IsLoading)
}

func TestController_NoActionWithoutBinding(t *testing.T) {
	exec := &mockExecutor{}
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer(), Actions: exec})

	c.HandleEvent(UploadTriggered{})

	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.False(t, c.Snapshot().IsLoading)
}

func TestController_IsValid(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.IsRequired = true
	c, _ := newTestController(t, cfg, Deps{Materializer: newGatedMaterializer()})

	assert.False(t, c.Snapshot().IsValid)
	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "a"}}))
	assert.True(t, c.Snapshot().IsValid)
}

func TestController_SubscribeReceivesChanges(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: newGatedMaterializer()})

	ch, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.SetSelectedFiles([]domain.SelectedFile{{ID: "a"}}))

	select {
	case snap := <-ch:
		require.Len(t, snap.SelectedFiles, 1)
		assert.Equal(t, "a", snap.SelectedFiles[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestController_CloseReleasesHeldReferences(t *testing.T) {
	refs := newMemRefs()
	up := &fakeUploader{}
	c, err := NewController(DefaultConfig("w1"), func(UploaderOptions) (Uploader, error) { return up, nil }, Deps{
		Materializer: materialize.New(refs, metrics.NewNop()),
		Revoker:      refs,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)
	c.Mount()

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("big", "big", materialize.Threshold)}})
	c.Wait()
	require.Equal(t, 1, refs.Live())

	ch, _ := c.Subscribe()
	require.NoError(t, c.Close())

	assert.Zero(t, refs.Live())
	assert.True(t, up.closed)
	_, open := <-ch
	assert.False(t, open)

	assert.ErrorIs(t, c.SetSelectedFiles(nil), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestController_FailedBatchAfterCancelForgetsNothing(t *testing.T) {
	g := newGatedMaterializer()
	g.err = errors.New("read failed")
	c, up := newTestController(t, DefaultConfig("w1"), Deps{Materializer: g})

	c.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("1", "one", 1)}})
	c.HandleEvent(FileRemoved{File: domain.RawFile{ID: "1"}, Reason: CancelAll})
	close(g.release)
	c.Wait()

	assert.Empty(t, up.Forgotten())
}

// releasingSource counts how often its payload was released.
type releasingSource struct {
	domain.BytesSource
	released *atomic.Int32
}

func (s releasingSource) Release() error {
	s.released.Add(1)
	return nil
}

func TestController_ReleasesSourcesWhenBatchFinishes(t *testing.T) {
	var released atomic.Int32
	src := func(id string) domain.RawFile {
		return domain.RawFile{ID: id, Name: id, Type: "text/plain", Size: 1, Source: releasingSource{BytesSource: domain.BytesSource("a"), released: &released}}
	}

	g := newGatedMaterializer()
	c, _ := newTestController(t, DefaultConfig("w1"), Deps{Materializer: g})

	// Discarded by a cancel while materializing.
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{src("1")}})
	c.HandleEvent(FileRemoved{File: domain.RawFile{ID: "1"}, Reason: CancelAll})
	close(g.release)
	c.Wait()
	assert.Equal(t, int32(1), released.Load())

	// Committed.
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{src("2"), src("3")}})
	c.Wait()
	assert.Equal(t, int32(3), released.Load())
	assert.Len(t, c.Snapshot().SelectedFiles, 2)

	// Failed.
	g.err = errors.New("read failed")
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{src("4")}})
	c.Wait()
	assert.Equal(t, int32(4), released.Load())

	// Arriving after teardown.
	require.NoError(t, c.Close())
	c.HandleEvent(FilesAdded{Files: []domain.RawFile{src("5")}})
	assert.Equal(t, int32(5), released.Load())
}

func TestController_SharedReferenceStaysLiveWhileHeld(t *testing.T) {
	refs := newMemRefs()
	reg := NewRegistry(func(opts UploaderOptions) (Uploader, error) {
		return &fakeUploader{opts: opts}, nil
	}, Deps{
		Materializer: materialize.New(refs, metrics.NewNop()),
		Revoker:      refs,
		Logger:       discardLogger(),
	})
	t.Cleanup(func() { reg.CloseAll() })

	w1, err := reg.Create(DefaultConfig("w1"))
	require.NoError(t, err)
	w2, err := reg.Create(DefaultConfig("w2"))
	require.NoError(t, err)

	w1.HandleEvent(FilesAdded{Files: []domain.RawFile{textFile("big", "big.bin", materialize.Threshold)}})
	w1.Wait()
	shared := w1.Snapshot().SelectedFiles
	require.Len(t, shared, 1)
	require.Equal(t, 1, refs.Live())

	// Clearing the widget that only borrowed the reference keeps it.
	require.NoError(t, w2.SetSelectedFiles(shared))
	require.NoError(t, w2.SetSelectedFiles(nil))
	assert.Equal(t, 1, refs.Live())

	// Neither does the creator revoke it while another widget holds it.
	require.NoError(t, w2.SetSelectedFiles(shared))
	w1.HandleEvent(FileRemoved{File: domain.RawFile{ID: "big"}, Reason: RemovedByUser})
	assert.Empty(t, w1.Snapshot().SelectedFiles)
	assert.Equal(t, 1, refs.Live())

	require.NoError(t, w2.SetSelectedFiles(nil))
	assert.Zero(t, refs.Live())
}

func TestController_LoadingUntilEveryDispatchCompletes(t *testing.T) {
	cfg := DefaultConfig("w1")
	cfg.OnFilesSelected = "{{ save.run() }}"

	exec := &mockExecutor{}
	var callbacks []func(action.Result)
	exec.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callbacks = append(callbacks, args.Get(1).(action.Request).Event.Callback)
	}).Return()

	c, _ := newTestController(t, cfg, Deps{Materializer: newGatedMaterializer(), Actions: exec})

	c.HandleEvent(UploadTriggered{})
	c.HandleEvent(UploadTriggered{})
	require.Len(t, callbacks, 2)
	assert.True(t, c.Snapshot().IsLoading)

	callbacks[0](action.Result{Success: true})
	assert.True(t, c.Snapshot().IsLoading)

	callbacks[1](action.Result{Success: false, Error: "boom"})
	assert.False(t, c.Snapshot().IsLoading)

	// A stray extra callback does not drive the count negative.
	callbacks[0](action.Result{Success: true})
	c.HandleEvent(UploadTriggered{})
	assert.True(t, c.Snapshot().IsLoading)
}
