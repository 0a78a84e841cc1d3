// Package indexer turns files on disk into committed file, chunk and vector
// records: extract units, embed them, and commit through the ingest transaction.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/embedding"
	"github.com/hyperjump/semret/internal/extract"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/storage"
)

// DefaultBatchSize is the number of files committed per CommitBatch call.
const DefaultBatchSize = 16

// fallbackMIME is recorded when a file's type could not be sniffed.
const fallbackMIME = "application/octet-stream"

// Indexer ingests files into a ledger/index pair.
type Indexer struct {
	pair       *ingest.Transaction
	embedder   embedding.Embedder
	extractor  *extract.Extractor
	batchSize  int
	extensions []string
	ignore     []string
	ignoreFile string
	logger     *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for per-file and per-run events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBatchSize sets how many prepared files are committed together.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithExtensions limits directory walks and watched files to these extensions.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) { idx.extensions = exts }
}

// WithIgnore adds gitignore-style patterns and the name of a per-root ignore file.
func WithIgnore(patterns []string, ignoreFile string) IndexerOption {
	return func(idx *Indexer) {
		idx.ignore = patterns
		idx.ignoreFile = ignoreFile
	}
}

// NewIndexer creates an indexer. extractor may be nil; a default one is used.
func NewIndexer(pair *ingest.Transaction, embedder embedding.Embedder, extractor *extract.Extractor, opts ...IndexerOption) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor(extract.DefaultLineWindow)
	}
	idx := &Indexer{
		pair:      pair,
		embedder:  embedder,
		extractor: extractor,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Accepts reports whether path has an extension this indexer ingests.
func (idx *Indexer) Accepts(path string) bool {
	return extensionAllowed(filepath.Ext(path), extensionSet(idx.extensions))
}

// IndexFile ingests a single file. A path that is already in the ledger is
// reported as skipped without being read.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	if skipped, err := idx.alreadyIngested(ctx, absPath); err != nil || skipped != nil {
		return skipped, err
	}
	item, err := idx.prepare(ctx, absPath)
	if err != nil {
		return nil, err
	}
	alloc, err := idx.pair.Commit(ctx, item.File, item.Embeddings)
	if errors.Is(err, storage.ErrDuplicate) {
		return &models.IngestResult{Path: absPath, Skipped: true}, nil
	}
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("file indexed",
		zap.String("path", absPath),
		zap.Int64("file_id", alloc.FileID),
		zap.Int("chunks", len(alloc.ChunkIDs)),
	)
	return &models.IngestResult{Path: absPath, FileID: alloc.FileID, Chunks: len(alloc.ChunkIDs)}, nil
}

// IndexDirectory walks root and ingests every accepted file, committing in
// batches. Per-file failures are recorded in the summary and do not stop the
// run; a consistency fault or a canceled context does.
func (idx *Indexer) IndexDirectory(ctx context.Context, root string) (*models.RunSummary, error) {
	walker, err := NewWalker(WalkOptions{
		Root:           root,
		Extensions:     idx.extensions,
		IgnorePatterns: idx.ignore,
		IgnoreFile:     idx.ignoreFile,
	}, idx.logger)
	if err != nil {
		return nil, err
	}

	summary := &models.RunSummary{RunID: uuid.New().String()}
	logger := idx.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("ingest run started", zap.String("root", walker.Root()))

	batch := make([]ingest.Item, 0, idx.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var fault error
		for _, o := range idx.pair.CommitBatch(ctx, batch) {
			summary.Add(outcomeResult(o))
			if errors.Is(o.Err, ingest.ErrConsistencyFault) && fault == nil {
				fault = o.Err
			}
		}
		logger.Debug("batch committed", zap.Int("files", len(batch)))
		batch = batch[:0]
		return fault
	}

	err = walker.Walk(ctx, func(path string) error {
		if skipped, err := idx.alreadyIngested(ctx, path); err != nil {
			summary.Add(&models.IngestResult{Path: path, Error: err.Error()})
			return nil
		} else if skipped != nil {
			summary.Add(skipped)
			return nil
		}
		item, err := idx.prepare(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("failed to prepare file", zap.String("path", path), zap.Error(err))
			summary.Add(&models.IngestResult{Path: path, Error: err.Error()})
			return nil
		}
		batch = append(batch, item)
		if len(batch) >= idx.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}

	stats := walker.Stats()
	logger.Info("ingest run finished",
		zap.Int("indexed", summary.Indexed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("chunks", summary.Chunks),
		zap.Int("files_filtered", stats.FilesSkipped),
		zap.Int("dirs_skipped", stats.DirsSkipped),
	)
	return summary, err
}

// IndexPaths ingests a mix of files and directories as one run.
func (idx *Indexer) IndexPaths(ctx context.Context, paths []string) (*models.RunSummary, error) {
	summary := &models.RunSummary{RunID: uuid.New().String()}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			summary.Add(&models.IngestResult{Path: p, Error: err.Error()})
			continue
		}
		if info.IsDir() {
			sub, err := idx.IndexDirectory(ctx, p)
			if sub != nil {
				for _, r := range sub.Files {
					summary.Add(r)
				}
			}
			if err != nil {
				return summary, err
			}
			continue
		}
		res, err := idx.IndexFile(ctx, p)
		if err != nil {
			if errors.Is(err, ingest.ErrConsistencyFault) || ctx.Err() != nil {
				return summary, err
			}
			summary.Add(&models.IngestResult{Path: p, Error: err.Error()})
			continue
		}
		summary.Add(res)
	}
	return summary, nil
}

// DeleteFile removes an ingested file, its chunk rows and its vectors.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) (*models.Allocation, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	alloc, err := idx.pair.Delete(ctx, absPath)
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("file deleted", zap.String("path", absPath), zap.Int("chunks", len(alloc.ChunkIDs)))
	return alloc, nil
}

func (idx *Indexer) alreadyIngested(ctx context.Context, absPath string) (*models.IngestResult, error) {
	f, err := idx.pair.FileByPath(ctx, absPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", absPath, err)
	}
	idx.logger.Debug("skipping already ingested file", zap.String("path", absPath))
	return &models.IngestResult{Path: absPath, FileID: f.ID, Skipped: true}, nil
}

// prepare extracts and embeds one file. An extraction failure is logged and
// the file is still recorded, with no chunks.
func (idx *Indexer) prepare(ctx context.Context, absPath string) (ingest.Item, error) {
	doc, err := idx.extractor.Extract(absPath)
	if err != nil {
		if doc == nil {
			return ingest.Item{}, err
		}
		idx.logger.Warn("extraction failed; recording file without chunks",
			zap.String("path", absPath),
			zap.String("kind", doc.Kind.String()),
			zap.Error(err),
		)
	}
	mime := doc.MIME
	if mime == "" {
		mime = fallbackMIME
	}
	in := models.FileInput{Name: filepath.Base(absPath), Type: mime, Path: absPath}

	vectors, err := idx.embedUnits(ctx, doc.Units)
	if err != nil {
		return ingest.Item{}, fmt.Errorf("embed %s: %w", absPath, err)
	}
	return ingest.Item{File: in, Embeddings: vectors}, nil
}

// embedUnits embeds text units in one batch and image units through the
// image embedder when there is one, falling back to their captions.
func (idx *Indexer) embedUnits(ctx context.Context, units []extract.Unit) ([][]float32, error) {
	out := make([][]float32, len(units))
	if len(units) == 0 {
		return out, nil
	}
	imageEmbedder, canSee := embedding.AsImageEmbedder(idx.embedder)

	var (
		texts   []string
		textIdx []int
		images  [][]byte
		imgIdx  []int
	)
	for i, u := range units {
		if u.IsImage() && canSee {
			images = append(images, u.Image)
			imgIdx = append(imgIdx, i)
			continue
		}
		texts = append(texts, Preprocess(u.Text))
		textIdx = append(textIdx, i)
	}

	if len(texts) > 0 {
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for j, i := range textIdx {
			out[i] = vecs[j]
		}
	}
	if len(images) > 0 {
		vecs, err := imageEmbedder.EmbedImages(ctx, images)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(images) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d images", len(vecs), len(images))
		}
		for j, i := range imgIdx {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

func outcomeResult(o ingest.Outcome) *models.IngestResult {
	switch {
	case errors.Is(o.Err, storage.ErrDuplicate):
		return &models.IngestResult{Path: o.Path, Skipped: true}
	case o.Err != nil:
		return &models.IngestResult{Path: o.Path, Error: o.Err.Error()}
	default:
		return &models.IngestResult{Path: o.Path, FileID: o.Allocation.FileID, Chunks: len(o.Allocation.ChunkIDs)}
	}
}
