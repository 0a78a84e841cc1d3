package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/semret/internal/embedding"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/search"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
)

const testDim = 64

func newTestPair(t *testing.T) *ingest.Transaction {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.OpenFlat(testDim, filepath.Join(dir, "vectors.idx"), true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = index.Close() })
	return ingest.New(store, index)
}

func newTestIndexer(t *testing.T, opts ...IndexerOption) (*Indexer, *ingest.Transaction) {
	t.Helper()
	pair := newTestPair(t)
	return NewIndexer(pair, embedding.NewMockEmbedder(testDim), nil, opts...), pair
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line number %d\n", i)
	}
	return b.String()
}

func stats(t *testing.T, pair *ingest.Transaction) *models.Stats {
	t.Helper()
	s, err := pair.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return s
}

// textOnlyEmbedder hides the mock's image support.
type textOnlyEmbedder struct {
	inner embedding.Embedder
	texts []string
}

func (e *textOnlyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.inner.Embed(ctx, text)
}

func (e *textOnlyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.texts = append(e.texts, texts...)
	return e.inner.EmbedBatch(ctx, texts)
}

func (e *textOnlyEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *textOnlyEmbedder) Close() error { return nil }

type failingEmbedder struct{ textOnlyEmbedder }

func (e *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func TestExtensionAllowed(t *testing.T) {
	set := extensionSet([]string{".txt", "md", ".RST"})
	tests := []struct {
		ext  string
		want bool
	}{
		{".txt", true},
		{".TXT", true},
		{".md", true},
		{".rst", true},
		{".go", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := extensionAllowed(tt.ext, set); got != tt.want {
			t.Errorf("extensionAllowed(%q) = %v, want %v", tt.ext, got, tt.want)
		}
	}
	if !extensionAllowed(".anything", extensionSet(nil)) {
		t.Error("empty extension list should allow everything")
	}
}

func TestIndexFile_TextWindows(t *testing.T) {
	idx, pair := newTestIndexer(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "notes.txt"), numberedLines(25))

	res, err := idx.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if res.Skipped || res.Chunks != 3 || res.FileID == 0 {
		t.Errorf("result = %+v, want 3 new chunks", res)
	}

	s := stats(t, pair)
	if s.Files != 1 || s.Chunks != 3 || s.Vectors != 3 || !s.Aligned {
		t.Errorf("stats = %+v, want 1 file with 3 aligned chunks", s)
	}

	f, err := pair.FileByPath(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "notes.txt" {
		t.Errorf("name = %s", f.Name)
	}
	if !strings.HasPrefix(f.Type, "text/plain") {
		t.Errorf("type = %s, want text/plain", f.Type)
	}
}

func TestIndexFile_SecondIngestIsSkipped(t *testing.T) {
	idx, pair := newTestIndexer(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "hello world")
	ctx := context.Background()

	first, err := idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	if !second.Skipped || second.FileID != first.FileID {
		t.Errorf("second = %+v, want a skip of file %d", second, first.FileID)
	}
	if n := stats(t, pair).Vectors; n != 1 {
		t.Errorf("vectors = %d, want 1", n)
	}
}

func TestIndexFile_RelativePathStoredAbsolute(t *testing.T) {
	idx, pair := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rel.txt"), "relative")
	t.Chdir(dir)

	res, err := idx.IndexFile(context.Background(), "rel.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(res.Path) {
		t.Errorf("path %s is not absolute", res.Path)
	}
	if _, err := pair.FileByPath(context.Background(), filepath.Join(dir, "rel.txt")); err != nil {
		t.Errorf("FileByPath: %v", err)
	}
}

func TestIndexFile_ZeroChunkFiles(t *testing.T) {
	idx, pair := newTestIndexer(t)
	dir := t.TempDir()
	ctx := context.Background()

	empty := writeFile(t, filepath.Join(dir, "empty.txt"), "")
	res, err := idx.IndexFile(ctx, empty)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 0 {
		t.Errorf("empty file has %d chunks", res.Chunks)
	}

	// Extraction failures are recorded with no chunks.
	broken := writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")
	res, err = idx.IndexFile(ctx, broken)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 0 || res.Skipped {
		t.Errorf("broken file = %+v, want recorded with no chunks", res)
	}

	s := stats(t, pair)
	if s.Files != 2 || s.Chunks != 0 || s.Vectors != 0 {
		t.Errorf("stats = %+v, want 2 files and nothing else", s)
	}
}

func TestIndexFile_Errors(t *testing.T) {
	idx, pair := newTestIndexer(t)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := idx.IndexFile(ctx, filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := idx.IndexFile(ctx, dir); err == nil {
		t.Error("expected error for a directory")
	}

	failing := NewIndexer(pair, &failingEmbedder{textOnlyEmbedder{inner: embedding.NewMockEmbedder(testDim)}}, nil)
	path := writeFile(t, filepath.Join(dir, "a.txt"), "some text")
	_, err := failing.IndexFile(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Fatalf("expected embedder error, got %v", err)
	}
	if n := stats(t, pair).Files; n != 0 {
		t.Errorf("files = %d, want 0", n)
	}
}

func TestIndexFile_WrongDimensionIsShapeError(t *testing.T) {
	pair := newTestPair(t)
	idx := NewIndexer(pair, embedding.NewMockEmbedder(testDim*2), nil)
	path := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "some text")

	_, err := idx.IndexFile(context.Background(), path)
	if !errors.Is(err, vector.ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}
	if n := stats(t, pair).Files; n != 0 {
		t.Errorf("files = %d, want 0", n)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIndexFile_ImageUsesImageEmbedder(t *testing.T) {
	idx, pair := newTestIndexer(t)
	content := pngBytes(t)
	path := filepath.Join(t.TempDir(), "dog_001.png")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	res, err := idx.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Fatalf("chunks = %d, want 1", res.Chunks)
	}

	want, err := embedding.NewMockEmbedder(testDim).EmbedImages(context.Background(), [][]byte{content})
	if err != nil {
		t.Fatal(err)
	}
	err = pair.View(func(_ storage.Storage, index vector.VectorIndex) error {
		ids := index.IDs()
		if len(ids) != 1 {
			return fmt.Errorf("index holds %d vectors, want 1", len(ids))
		}
		got, err := index.Get(ids[0])
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, want[0]) {
			return errors.New("stored vector is not the image embedding")
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
}

func TestIndexFile_ImageFallsBackToCaption(t *testing.T) {
	pair := newTestPair(t)
	emb := &textOnlyEmbedder{inner: embedding.NewMockEmbedder(testDim)}
	idx := NewIndexer(pair, emb, nil)
	path := filepath.Join(t.TempDir(), "airplane_002.png")
	if err := os.WriteFile(path, pngBytes(t), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := idx.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Errorf("chunks = %d, want 1", res.Chunks)
	}
	if want := []string{"a photo of airplane 002"}; !reflect.DeepEqual(emb.texts, want) {
		t.Errorf("embedded texts = %q, want %q", emb.texts, want)
	}
}

func TestIndexDirectory_BatchesAndFilters(t *testing.T) {
	idx, pair := newTestIndexer(t,
		WithBatchSize(2),
		WithExtensions([]string{".txt", ".md"}),
		WithIgnore([]string{"drafts/"}, ".semretignore"),
	)
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("doc%d.txt", i)), numberedLines(12))
	}
	writeFile(t, filepath.Join(root, "sub", "readme.md"), "# Title\n\nBody text.")
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, ".hidden", "secret.txt"), "hidden")
	writeFile(t, filepath.Join(root, "drafts", "wip.txt"), "draft")
	writeFile(t, filepath.Join(root, "skipme.txt"), "ignored by file")
	writeFile(t, filepath.Join(root, ".semretignore"), "skipme.txt\n")

	summary, err := idx.IndexDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if summary.RunID == "" {
		t.Error("summary has no run id")
	}
	if summary.Indexed != 6 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("indexed %d failed %d skipped %d, want 6/0/0", summary.Indexed, summary.Failed, summary.Skipped)
	}
	if summary.Chunks != 5*2+1 {
		t.Errorf("chunks = %d, want %d", summary.Chunks, 5*2+1)
	}

	if s := stats(t, pair); s.Files != 6 || !s.Aligned {
		t.Errorf("stats = %+v, want 6 aligned files", s)
	}

	for _, name := range []string{"main.go", ".hidden/secret.txt", "drafts/wip.txt", "skipme.txt"} {
		if _, err := pair.FileByPath(context.Background(), filepath.Join(root, name)); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("%s should not be ingested: %v", name, err)
		}
	}
}

func TestIndexDirectory_RerunSkipsEverything(t *testing.T) {
	idx, pair := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "b.txt"), "beta")
	ctx := context.Background()

	first, err := idx.IndexDirectory(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := idx.IndexDirectory(ctx, root)
	if err != nil {
		t.Fatal(err)
	}

	if first.Indexed != 2 {
		t.Errorf("first run indexed %d, want 2", first.Indexed)
	}
	if second.Indexed != 0 || second.Skipped != 2 {
		t.Errorf("second run indexed %d skipped %d, want 0/2", second.Indexed, second.Skipped)
	}
	if first.RunID == second.RunID {
		t.Error("runs share a run id")
	}
	if n := stats(t, pair).Vectors; n != 2 {
		t.Errorf("vectors = %d, want 2", n)
	}
}

func TestIndexDirectory_Canceled(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := idx.IndexDirectory(ctx, root); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIndexDirectory_NotADirectory(t *testing.T) {
	idx, _ := newTestIndexer(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "alpha")
	if _, err := idx.IndexDirectory(context.Background(), path); err == nil {
		t.Error("expected error for a regular file")
	}
}

func TestIndexPaths_MixedInputs(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dir", "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "dir", "b.txt"), "beta")
	single := writeFile(t, filepath.Join(root, "c.txt"), "gamma")

	summary, err := idx.IndexPaths(context.Background(), []string{
		filepath.Join(root, "dir"),
		single,
		filepath.Join(root, "nope.txt"),
	})
	if err != nil {
		t.Fatalf("IndexPaths: %v", err)
	}
	if summary.Indexed != 3 || summary.Failed != 1 || len(summary.Files) != 4 {
		t.Errorf("indexed %d failed %d files %d, want 3/1/4", summary.Indexed, summary.Failed, len(summary.Files))
	}
}

func TestDeleteFile(t *testing.T) {
	idx, pair := newTestIndexer(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), numberedLines(15))
	ctx := context.Background()

	if _, err := idx.IndexFile(ctx, path); err != nil {
		t.Fatal(err)
	}

	alloc, err := idx.DeleteFile(ctx, path)
	if err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if len(alloc.ChunkIDs) != 2 {
		t.Errorf("deleted %d chunks, want 2", len(alloc.ChunkIDs))
	}

	if s := stats(t, pair); s.Files != 0 || s.Vectors != 0 {
		t.Errorf("stats = %+v, want empty", s)
	}

	if _, err := idx.DeleteFile(ctx, path); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}

	// A deleted file can be ingested again.
	res, err := idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Error("re-ingest after delete was skipped")
	}
}

func TestAccepts(t *testing.T) {
	idx, _ := newTestIndexer(t, WithExtensions([]string{".txt"}))
	if !idx.Accepts("/x/a.TXT") {
		t.Error("upper case .TXT should be accepted")
	}
	if idx.Accepts("/x/a.md") {
		t.Error(".md should be rejected")
	}
}

// Each file holds one category word; a query for the word finds its file first.
func TestIngestThenSearch_Categories(t *testing.T) {
	pair := newTestPair(t)
	emb := embedding.NewMockEmbedder(testDim)
	idx := NewIndexer(pair, emb, nil)
	root := t.TempDir()
	categories := []string{"airplane", "dog", "car", "boat"}
	for _, c := range categories {
		writeFile(t, filepath.Join(root, c+".txt"), c)
	}
	if _, err := idx.IndexDirectory(context.Background(), root); err != nil {
		t.Fatal(err)
	}

	svc := search.NewService(emb, pair)
	results, err := svc.Search(context.Background(), categories, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(categories) {
		t.Fatalf("got %d lists, want %d", len(results), len(categories))
	}
	for i, c := range categories {
		if want := []string{filepath.Join(root, c+".txt")}; !reflect.DeepEqual(results[i], want) {
			t.Errorf("%s: got %v, want %v", c, results[i], want)
		}
	}
}
