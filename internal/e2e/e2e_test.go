package e2e

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/semret/internal/embedding"
	"github.com/hyperjump/semret/internal/extract"
	"github.com/hyperjump/semret/internal/indexer"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/search"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
)

const (
	e2eDimensions = 256
	e2eK          = 5
)

type env struct {
	store    *storage.SQLiteStorage
	index    vector.VectorIndex
	pair     *ingest.Transaction
	indexer  *indexer.Indexer
	search   *search.Service
	embedder embedding.Embedder
}

// open wires a ledger and flat index under dir, loading whatever is there.
func open(t *testing.T, dir string) *env {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "semret.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.OpenFlat(e2eDimensions, filepath.Join(dir, "vectors.idx"), false)
	if err != nil {
		store.Close()
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(e2eDimensions)
	pair := ingest.New(store, index)
	return &env{
		store:    store,
		index:    index,
		pair:     pair,
		indexer:  indexer.NewIndexer(pair, embedder, extract.NewExtractor(0), indexer.WithBatchSize(4)),
		search:   search.NewService(embedder, pair),
		embedder: embedder,
	}
}

func (e *env) close() {
	_ = e.index.Close()
	_ = e.store.Close()
}

func hitPaths(r *models.QueryResult) []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = filepath.Base(h.Path)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func queriesOf(c *Corpus) []string {
	out := make([]string, len(c.Cases))
	for i, tc := range c.Cases {
		out[i] = tc.Query
	}
	return out
}

func TestE2E_IngestAndSearchEveryFormat(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	corpus := BuildCorpus()
	if err := WriteCorpus(docs, corpus); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	e := open(t, filepath.Join(dir, "data"))
	summary, err := e.indexer.IndexDirectory(ctx, docs)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if summary.Indexed != len(corpus.Documents) || summary.Failed != 0 {
		for _, f := range summary.Files {
			if f.Error != "" {
				t.Logf("%s: %s", f.Path, f.Error)
			}
		}
		t.Fatalf("indexed %d failed %d, want %d indexed", summary.Indexed, summary.Failed, len(corpus.Documents))
	}

	results, err := e.search.SearchHits(ctx, queriesOf(corpus), e2eK)
	if err != nil {
		t.Fatalf("SearchHits: %v", err)
	}
	if len(results) != len(corpus.Cases) {
		t.Fatalf("got %d results for %d queries", len(results), len(corpus.Cases))
	}
	top := make([]string, len(results))
	for i, tc := range corpus.Cases {
		paths := hitPaths(results[i])
		if !contains(paths, tc.Expected) {
			t.Errorf("query %q: expected %s in %v", tc.Query, tc.Expected, paths)
		}
		seen := make(map[string]bool)
		for _, p := range paths {
			if seen[p] {
				t.Errorf("query %q: %s listed twice", tc.Query, p)
			}
			seen[p] = true
		}
		if len(paths) > 0 {
			top[i] = paths[0]
		}
	}

	stats, err := e.pair.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Aligned || stats.Files != int64(len(corpus.Documents)) {
		t.Errorf("stats after ingest = %+v", stats)
	}
	e.close()

	// Everything survives a restart.
	e = open(t, filepath.Join(dir, "data"))
	defer e.close()
	report, err := e.pair.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Errorf("reconcile after reopen = %+v, want clean", report)
	}
	again, err := e.search.SearchHits(ctx, queriesOf(corpus), e2eK)
	if err != nil {
		t.Fatal(err)
	}
	for i := range again {
		paths := hitPaths(again[i])
		if len(paths) == 0 || paths[0] != top[i] {
			t.Errorf("query %q: top hit after reopen %v, want %s", corpus.Cases[i].Query, paths, top[i])
		}
	}

	rerun, err := e.indexer.IndexDirectory(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if rerun.Skipped != len(corpus.Documents) || rerun.Indexed != 0 {
		t.Errorf("rerun indexed %d skipped %d, want all skipped", rerun.Indexed, rerun.Skipped)
	}

	// A deleted file no longer answers its query.
	gone := corpus.Cases[0]
	if _, err := e.indexer.DeleteFile(ctx, filepath.Join(docs, gone.Expected)); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	after, err := e.search.SearchHits(ctx, []string{gone.Query}, e2eK)
	if err != nil {
		t.Fatal(err)
	}
	if contains(hitPaths(after[0]), gone.Expected) {
		t.Errorf("deleted file %s still returned", gone.Expected)
	}
}
