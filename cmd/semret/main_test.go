package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/semret/internal/models"
)

func TestBuildQueries(t *testing.T) {
	tests := []struct {
		name     string
		flags    []string
		args     []string
		expected []string
	}{
		{"single word", nil, []string{"hyperjump"}, []string{"hyperjump"}},
		{"words are joined", nil, []string{"machine", "learning"}, []string{"machine learning"}},
		{"flag queries first", []string{"invoice", "receipt"}, []string{"tax"}, []string{"invoice", "receipt", "tax"}},
		{"blank flag dropped", []string{"  ", "dog"}, nil, []string{"dog"}},
		{"blank args dropped", nil, []string{" ", " "}, []string{}},
		{"nothing", nil, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQueries(tt.flags, tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("buildQueries(%v, %v) = %v, want %v", tt.flags, tt.args, got, tt.expected)
			}
		})
	}
}

func TestSearchViaHTTP(t *testing.T) {
	var got models.SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"query":"dog","hits":[{"file_id":1,"path":"/a/dog.txt","score":0.9}]}]}`))
	}))
	defer srv.Close()

	results, err := searchViaHTTP(context.Background(), srv.URL+"/", []string{"dog"}, 3)
	if err != nil {
		t.Fatalf("searchViaHTTP: %v", err)
	}
	if got.K != 3 {
		t.Errorf("request k = %d, want 3", got.K)
	}
	if len(results) != 1 || len(results[0].Hits) != 1 || results[0].Hits[0].Path != "/a/dog.txt" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestSearchViaHTTP_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"query must not be empty"}`))
	}))
	defer srv.Close()

	_, err := searchViaHTTP(context.Background(), srv.URL, []string{"x"}, 0)
	if err == nil || !strings.Contains(err.Error(), "query must not be empty") {
		t.Fatalf("expected server error message, got %v", err)
	}
}

// writeTestConfig writes a config using the mock embedder with all state
// under dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `storage:
  database_path: ./data/semret.db
  index_path: ./data/vectors.idx
embedding:
  provider: mock
  dimensions: 64
ingest:
  line_window: 5
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"dog.txt":  "a photo of a dog\nthe dog runs in the park\n",
		"boat.md":  "# Boats\n\na photo of a boat on the lake\n",
		"skip.bin": "not an allowed extension",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := run(t, "--config", configPath, "ingest", docs, "--json")
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	var summary models.RunSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Indexed != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 indexed", summary)
	}

	out, err = run(t, "--config", configPath, "ingest", docs)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !strings.Contains(out, "0 indexed, 2 skipped") {
		t.Errorf("second ingest should skip everything, got %q", out)
	}

	out, err = run(t, "--config", configPath, "search", "-q", "dog", "-q", "boat", "-k", "5", "--json")
	if err != nil {
		t.Fatalf("search: %v\n%s", err, out)
	}
	var resp struct {
		Results []*models.QueryResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode search: %v\n%s", err, out)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d query results, want 2", len(resp.Results))
	}
	for _, r := range resp.Results {
		if len(r.Hits) == 0 {
			t.Errorf("query %q returned no hits", r.Query)
		}
		seen := make(map[string]bool)
		for _, h := range r.Hits {
			if seen[h.Path] {
				t.Errorf("query %q lists %s twice", r.Query, h.Path)
			}
			seen[h.Path] = true
		}
	}

	out, err = run(t, "--config", configPath, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st models.Stats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if st.Files != 2 || !st.Aligned {
		t.Errorf("status = %+v, want 2 aligned files", st)
	}

	out, err = run(t, "--config", configPath, "delete", filepath.Join(docs, "dog.txt"))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.HasPrefix(out, "Deleted ") {
		t.Errorf("delete output = %q", out)
	}
	if _, err := run(t, "--config", configPath, "delete", filepath.Join(docs, "dog.txt")); err == nil {
		t.Error("deleting a missing path should fail")
	}

	out, err = run(t, "--config", configPath, "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out, "consistent") {
		t.Errorf("reconcile output = %q", out)
	}

	out, err = run(t, "--config", configPath, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	st = models.Stats{}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if st.Files != 1 {
		t.Errorf("files after delete = %d, want 1", st.Files)
	}
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())
	if _, err := run(t, "--config", configPath, "search"); err == nil {
		t.Fatal("expected error without a query")
	}
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	out, err := run(t, "--config", path, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("init output = %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := run(t, "--config", path, "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := run(t, "--config", path, "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("version output = %q", out)
	}
}
