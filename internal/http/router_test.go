package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ondrasimku/filepicker-go/internal/blob"
	"github.com/ondrasimku/filepicker-go/internal/config"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	"github.com/ondrasimku/filepicker-go/internal/http/handler"
	"github.com/ondrasimku/filepicker-go/internal/materialize"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"github.com/ondrasimku/filepicker-go/internal/storage/local"
	"github.com/ondrasimku/filepicker-go/internal/uploader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router   *gin.Engine
	registry *filepicker.Registry
	blobs    *blob.Store
	spoolDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := local.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	blobs := blob.NewStore(backend, "http://files.test", m, logger)
	registry := filepicker.NewRegistry(uploader.Factory(m), filepicker.Deps{
		Materializer: materialize.New(blobs, m),
		Revoker:      blobs,
		Metrics:      m,
		Logger:       logger,
	})
	t.Cleanup(func() { registry.CloseAll() })

	cfg := &config.Config{
		SpoolDir:      t.TempDir(),
		MaxUploadSize: 10 << 20,
	}
	return &testServer{
		router:   NewRouter(registry, blobs, cfg, reg, logger),
		registry: registry,
		blobs:    blobs,
		spoolDir: cfg.SpoolDir,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return s.do(t, method, path, r, "application/json")
}

func (s *testServer) addFiles(t *testing.T, widgetID string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/widgets/"+widgetID+"/files?wait=true", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_PublicRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/widgets/schema", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	schema := decode[filepicker.Schema](t, rec)
	assert.Equal(t, filepicker.WidgetType, schema.Type)

	rec = s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "filepicker_active_widgets")

	rec = s.do(t, http.MethodGet, "/blobs/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_WidgetLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"notes","allowedFileTypes":["text/*"],"fileDataType":"Text","maxNumFiles":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decode[filepicker.Snapshot](t, rec)
	assert.Equal(t, "notes", snap.WidgetID)
	assert.Equal(t, []string{"text/*"}, snap.Options.Restrictions.AllowedFileTypes)
	assert.Equal(t, filepicker.DefaultLabel, snap.Config.Label)

	rec = s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"notes"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"bad","fileDataType":"Hex"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.addFiles(t, "notes", map[string][]byte{"a.txt": []byte("\xef\xbb\xbfhello")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[handler.AddFilesResponse](t, rec)
	require.Len(t, added.FileIDs, 1)
	require.NotNil(t, added.Snapshot)
	require.Len(t, added.Snapshot.SelectedFiles, 1)
	file := added.Snapshot.SelectedFiles[0]
	assert.Equal(t, "a.txt", file.Name)
	assert.Equal(t, "hello", file.Data)
	assert.Equal(t, domain.Text, file.DataFormat)
	assert.True(t, added.Snapshot.IsDirty)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	rec = s.addFiles(t, "notes", map[string][]byte{"pixel.png": png})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = s.doJSON(t, http.MethodPut, "/widgets/notes/config", `{"label":"Attach notes","allowedFileTypes":["*"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[filepicker.Snapshot](t, rec)
	assert.Equal(t, "Attach notes", snap.Config.Label)
	assert.Nil(t, snap.Options.Restrictions.AllowedFileTypes)
	assert.Len(t, snap.SelectedFiles, 1)

	rec = s.doJSON(t, http.MethodGet, "/widgets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"widgetId":"notes"`)

	rec = s.do(t, http.MethodDelete, "/widgets/notes/files/"+added.FileIDs[0], nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[filepicker.Snapshot](t, rec).SelectedFiles)

	rec = s.do(t, http.MethodDelete, "/widgets/notes/files/"+added.FileIDs[0], nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/widgets/notes", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/widgets/notes", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_LargeFileReference(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"video","maxFileSize":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	payload := bytes.Repeat([]byte("a"), materialize.Threshold)
	rec = s.addFiles(t, "video", map[string][]byte{"clip.bin": payload})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[handler.AddFilesResponse](t, rec)
	require.Len(t, added.Snapshot.SelectedFiles, 1)

	ref := added.Snapshot.SelectedFiles[0].Data
	assert.True(t, strings.HasPrefix(ref, "blob:http://files.test/blobs/"), ref)
	assert.True(t, strings.HasSuffix(ref, "?type=Base64"), ref)

	id, err := blob.ParseID(ref)
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/blobs/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, len(payload), rec.Body.Len())

	rec = s.do(t, http.MethodPost, "/widgets/video/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[filepicker.Snapshot](t, rec).SelectedFiles)
	assert.Zero(t, s.blobs.Live())

	rec = s.do(t, http.MethodGet, "/blobs/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_UploadAndSelectedFiles(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"w","isRequired":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, decode[filepicker.Snapshot](t, rec).IsValid)

	rec = s.do(t, http.MethodPost, "/widgets/w/upload", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.addFiles(t, "w", map[string][]byte{"a.txt": []byte("hi")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[handler.AddFilesResponse](t, rec).Snapshot.IsValid)

	rec = s.do(t, http.MethodPost, "/widgets/w/upload", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.doJSON(t, http.MethodPut, "/widgets/w/selected-files", `{"selectedFiles":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[filepicker.Snapshot](t, rec)
	assert.Empty(t, snap.SelectedFiles)
	assert.False(t, snap.IsValid)

	// Reset cleared the uploader, so its single slot is free again.
	rec = s.addFiles(t, "w", map[string][]byte{"b.txt": []byte("again")})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.doJSON(t, http.MethodPut, "/widgets/w/selected-files", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/widgets/missing/upload", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_EventsStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	rec := s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"live"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/widgets/live/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial filepicker.Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "live", initial.WidgetID)
	assert.Empty(t, initial.SelectedFiles)

	rec = s.doJSON(t, http.MethodPut, "/widgets/live/selected-files", `{"selectedFiles":[{"id":"x","name":"x.txt","data":"hi","dataFormat":"Text"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var next filepicker.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	require.Len(t, next.SelectedFiles, 1)
	assert.Equal(t, "x", next.SelectedFiles[0].ID)
	assert.Greater(t, next.Version, initial.Version)

	require.NoError(t, s.registry.Delete("live"))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestRouter_SpoolIsEmptyAfterCancel(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"w","maxNumFiles":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for i := 0; i < 3; i++ {
		rec = s.addFiles(t, "w", map[string][]byte{"a.txt": []byte("hi"), "b.txt": []byte("there")})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, decode[handler.AddFilesResponse](t, rec).Snapshot.SelectedFiles, 2)

		rec = s.do(t, http.MethodPost, "/widgets/w/cancel", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	entries, err := os.ReadDir(filepath.Join(s.spoolDir, "w"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRouter_SharedReferenceSurvivesOtherWidget(t *testing.T) {
	s := newTestServer(t)

	for _, id := range []string{"w1", "w2"} {
		rec := s.doJSON(t, http.MethodPost, "/widgets", `{"widgetId":"`+id+`","maxFileSize":10}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	payload := bytes.Repeat([]byte("a"), materialize.Threshold)
	rec := s.addFiles(t, "w1", map[string][]byte{"clip.bin": payload})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	selected := decode[handler.AddFilesResponse](t, rec).Snapshot.SelectedFiles
	require.Len(t, selected, 1)

	body, err := json.Marshal(handler.SelectedFilesRequest{SelectedFiles: selected})
	require.NoError(t, err)
	rec = s.doJSON(t, http.MethodPut, "/widgets/w2/selected-files", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.doJSON(t, http.MethodPut, "/widgets/w2/selected-files", `{"selectedFiles":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	id, err := blob.ParseID(selected[0].Data)
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/blobs/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/widgets/w1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, selected, decode[filepicker.Snapshot](t, rec).SelectedFiles)

	rec = s.do(t, http.MethodPost, "/widgets/w1/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.blobs.Live())
}
