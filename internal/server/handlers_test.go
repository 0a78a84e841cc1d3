package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/semret/internal/config"
	"github.com/hyperjump/semret/internal/embedding"
	"github.com/hyperjump/semret/internal/indexer"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/search"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
)

const testDim = 32

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testEnv struct {
	dir     string
	cfg     *config.Config
	pair    *ingest.Transaction
	indexer *indexer.Indexer
	handler http.Handler
	srv     *Server
}

func newTestEnv(t *testing.T, watch WatchService, configPath string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "ledger.db")
	cfg.Storage.IndexPath = filepath.Join(dir, "vectors.idx")
	cfg.Embedding.Provider = embedding.ProviderMock
	cfg.Embedding.Dimensions = testDim

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.OpenFlat(testDim, cfg.Storage.IndexPath, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = index.Close() })

	pair := ingest.New(store, index)
	emb := embedding.NewMockEmbedder(testDim)
	idx := indexer.NewIndexer(pair, emb, nil)
	srv := NewServer(search.NewService(emb, pair), idx, pair, cfg, nil, watch, configPath)
	return &testEnv{dir: dir, cfg: cfg, pair: pair, indexer: idx, handler: srv.Router(), srv: srv}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, "docs", name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// expect fails the test unless w carries code.
func expect(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("status = %d, want %d: %s", w.Code, code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, nil, "")
	w := env.do(t, http.MethodGet, "/health", nil)
	expect(t, w, http.StatusOK)
	if w.Header().Get("Content-Type") == "" {
		t.Error("missing Content-Type")
	}
	var out map[string]string
	decode(t, w, &out)
	if !reflect.DeepEqual(out, map[string]string{"status": "ok"}) {
		t.Errorf("body = %v", out)
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t, nil, "")
	dogs := env.writeFile(t, "dog.txt", "dog")
	env.writeFile(t, "car.txt", "car")
	if _, err := env.indexer.IndexDirectory(context.Background(), filepath.Dir(dogs)); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": []string{"dog", "car"}, "k": 1})
	expect(t, w, http.StatusOK)

	var out searchResponse
	decode(t, w, &out)
	if len(out.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(out.Results))
	}
	first := out.Results[0]
	if first.Query != "dog" || len(first.Hits) != 1 {
		t.Fatalf("first result = %+v", first)
	}
	if first.Hits[0].Path != dogs {
		t.Errorf("hit path = %s, want %s", first.Hits[0].Path, dogs)
	}
	if score := first.Hits[0].Score; score < 1-1e-5 || score > 1+1e-5 {
		t.Errorf("score = %v, want 1", score)
	}
	if out.Results[1].Query != "car" {
		t.Errorf("second query = %q", out.Results[1].Query)
	}
}

func TestHandleSearch_SingleStringQuery(t *testing.T) {
	env := newTestEnv(t, nil, "")
	w := env.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": "anything"})
	expect(t, w, http.StatusOK)

	var out searchResponse
	decode(t, w, &out)
	if len(out.Results) != 1 || len(out.Results[0].Hits) != 0 {
		t.Errorf("results = %+v, want one empty list", out.Results)
	}
}

func TestHandleSearch_BadInput(t *testing.T) {
	env := newTestEnv(t, nil, "")

	if w := env.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": 42}); w.Code != http.StatusBadRequest {
		t.Errorf("numeric query: status %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": []any{"ok", 1}}); w.Code != http.StatusBadRequest {
		t.Errorf("mixed list: status %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d", rec.Code)
	}
}

func TestHandleIngestAndDelete(t *testing.T) {
	env := newTestEnv(t, nil, "")
	path := env.writeFile(t, "a.txt", "alpha\nbeta")

	w := env.do(t, http.MethodPost, "/api/v1/files", pathRequest{Path: path})
	expect(t, w, http.StatusOK)
	var summary models.RunSummary
	decode(t, w, &summary)
	if summary.RunID == "" || summary.Indexed != 1 || summary.Chunks != 1 {
		t.Errorf("summary = %+v, want 1 file with 1 chunk", summary)
	}

	// Second ingest of the same path is a skip, not an error.
	w = env.do(t, http.MethodPost, "/api/v1/files", pathRequest{Path: path})
	expect(t, w, http.StatusOK)
	decode(t, w, &summary)
	if summary.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", summary.Skipped)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/files?path="+url.QueryEscape(path), nil)
	expect(t, w, http.StatusOK)
	var del deleteResponse
	decode(t, w, &del)
	if del.Path != path || del.Chunks != 1 {
		t.Errorf("delete = %+v", del)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/files?path="+url.QueryEscape(path), nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d, want 404", w.Code)
	}
}

func TestHandleListFiles(t *testing.T) {
	env := newTestEnv(t, nil, "")
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		path := env.writeFile(t, name, "content of "+name)
		expect(t, env.do(t, http.MethodPost, "/api/v1/files", pathRequest{Path: path}), http.StatusOK)
	}

	w := env.do(t, http.MethodGet, "/api/v1/files?offset=1&limit=1", nil)
	expect(t, w, http.StatusOK)
	var resp filesResponse
	decode(t, w, &resp)
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.Files) != 1 || resp.Files[0].Name != "b.txt" {
		t.Fatalf("files = %+v, want b.txt only", resp.Files)
	}

	w = env.do(t, http.MethodGet, "/api/v1/files?offset=10", nil)
	expect(t, w, http.StatusOK)
	resp = filesResponse{}
	decode(t, w, &resp)
	if len(resp.Files) != 0 {
		t.Errorf("files past the end = %+v", resp.Files)
	}
	if resp.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", resp.Limit, defaultListLimit)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/files?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0: status %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/files?offset=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("offset=x: status %d", w.Code)
	}
}

func TestHandleIngest_BadInput(t *testing.T) {
	env := newTestEnv(t, nil, "")

	if w := env.do(t, http.MethodPost, "/api/v1/files", pathRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty path: status %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/files", pathRequest{Path: filepath.Join(env.dir, "missing")}); w.Code != http.StatusNotFound {
		t.Errorf("missing path: status %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/files", nil); w.Code != http.StatusBadRequest {
		t.Errorf("delete without path: status %d", w.Code)
	}
}

func TestHandleReconcileAndStatus(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.writeFile(t, "a.txt", "alpha")
	env.writeFile(t, "b.txt", "beta")
	if _, err := env.indexer.IndexDirectory(context.Background(), filepath.Join(env.dir, "docs")); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/reconcile", nil)
	expect(t, w, http.StatusOK)
	var report models.ReconcileReport
	decode(t, w, &report)
	if !report.Clean() {
		t.Errorf("report = %+v, want clean", report)
	}

	w = env.do(t, http.MethodGet, "/api/v1/status", nil)
	expect(t, w, http.StatusOK)
	var out struct {
		Files      int64  `json:"files"`
		Chunks     int64  `json:"chunks"`
		Vectors    int    `json:"vectors"`
		Aligned    bool   `json:"aligned"`
		Faulted    bool   `json:"faulted"`
		IndexType  string `json:"index_type"`
		Dimensions int    `json:"dimensions"`
		Disk       struct {
			TotalBytes int64 `json:"total_bytes"`
		} `json:"disk"`
	}
	decode(t, w, &out)
	if out.Files != 2 || out.Chunks != 2 || out.Vectors != 2 {
		t.Errorf("counts = %d files, %d chunks, %d vectors; want 2 each", out.Files, out.Chunks, out.Vectors)
	}
	if !out.Aligned || out.Faulted {
		t.Errorf("aligned = %v faulted = %v", out.Aligned, out.Faulted)
	}
	if out.IndexType != "flat" || out.Dimensions != testDim {
		t.Errorf("index = %s/%d, want flat/%d", out.IndexType, out.Dimensions, testDim)
	}
	if out.Disk.TotalBytes <= 0 {
		t.Errorf("disk total = %d, want positive", out.Disk.TotalBytes)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", search.ErrInvalidQuery), http.StatusBadRequest},
		{storage.ErrDuplicate, http.StatusConflict},
		{fmt.Errorf("delete: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: a.txt", ingest.ErrConsistencyFault), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleWatchDirectories(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	env := newTestEnv(t, mock, configPath)

	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	expect(t, w, http.StatusOK)
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	if !reflect.DeepEqual(out.Directories, []string{"/tmp/docs"}) {
		t.Errorf("directories = %v", out.Directories)
	}

	w = env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": env.dir})
	expect(t, w, http.StatusCreated)
	if n := len(mock.Directories()); n != 2 {
		t.Errorf("watching %d directories, want 2", n)
	}

	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"/tmp/docs", env.dir}; !reflect.DeepEqual(saved.Watch.Directories, want) {
		t.Errorf("saved directories = %v, want %v", saved.Watch.Directories, want)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(env.dir, "nope")}); w.Code != http.StatusNotFound {
		t.Errorf("missing directory: status %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(env.dir), nil)
	expect(t, w, http.StatusOK)
	if got := mock.Directories(); !reflect.DeepEqual(got, []string{"/tmp/docs"}) {
		t.Errorf("directories after delete = %v", got)
	}
}

func TestHandleWatchDirectories_NotEnabled(t *testing.T) {
	env := newTestEnv(t, nil, "")
	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
}
