// Package ingest couples the metadata ledger and the vector index so that a
// file's rows and its vectors are written, or discarded, together.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
)

// ErrConsistencyFault is returned once the ledger and the index have diverged.
// Every later write fails with it until Reconcile succeeds.
var ErrConsistencyFault = errors.New("ledger and vector index diverged")

// Transaction owns one ledger/index pair. Writes are serialized behind an
// exclusive lock; View holds the shared lock.
type Transaction struct {
	store  storage.Storage
	index  vector.VectorIndex
	logger *zap.Logger

	mu    sync.RWMutex
	fault error
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithLogger sets a logger for commits, skips and faults.
func WithLogger(l *zap.Logger) Option {
	return func(t *Transaction) { t.logger = l }
}

// New creates a Transaction over store and index.
func New(store storage.Storage, index vector.VectorIndex, opts ...Option) *Transaction {
	t := &Transaction{store: store, index: index, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Item is one file in a batch commit.
type Item struct {
	File       models.FileInput
	Embeddings [][]float32
}

// Outcome is the result of one Item. Err is storage.ErrDuplicate for skipped files.
type Outcome struct {
	Path       string
	Allocation *models.Allocation
	Err        error
}

// Dimensions returns the vector dimension of the index.
func (t *Transaction) Dimensions() int {
	return t.index.Dimensions()
}

// Fault returns the latched consistency fault, if any.
func (t *Transaction) Fault() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fault
}

// View runs fn with the pair locked against writers.
func (t *Transaction) View(fn func(store storage.Storage, index vector.VectorIndex) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fn(t.store, t.index)
}

// FileByPath returns the ledger row for path, or storage.ErrNotFound.
func (t *Transaction) FileByPath(ctx context.Context, path string) (*models.File, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.GetFileByPath(ctx, path)
}

// Commit records one file with one chunk per embedding row and stores the
// rows under the allocated chunk ids. A duplicate path returns
// storage.ErrDuplicate without touching the index.
func (t *Transaction) Commit(ctx context.Context, in models.FileInput, embeddings [][]float32) (*models.Allocation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commitLocked(ctx, in, embeddings)
}

// CommitBatch commits items in order. Duplicates are skipped and the batch
// continues; once a fault is latched the remaining items fail with it.
func (t *Transaction) CommitBatch(ctx context.Context, items []Item) []Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	outcomes := make([]Outcome, len(items))
	for i, it := range items {
		alloc, err := t.commitLocked(ctx, it.File, it.Embeddings)
		outcomes[i] = Outcome{Path: it.File.Path, Allocation: alloc, Err: err}
	}
	return outcomes
}

func (t *Transaction) commitLocked(ctx context.Context, in models.FileInput, embeddings [][]float32) (*models.Allocation, error) {
	if t.fault != nil {
		return nil, t.fault
	}
	if err := vector.ValidateRows(embeddings, t.index.Dimensions()); err != nil {
		return nil, fmt.Errorf("embeddings for %s: %w", in.Path, err)
	}

	p, err := t.store.BeginInsert(ctx, in, len(embeddings))
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			t.logger.Info("skipping already ingested file", zap.String("path", in.Path))
		}
		return nil, err
	}
	alloc := p.Allocation()

	if err := t.index.Add(ctx, embeddings, alloc.ChunkIDs); err != nil {
		if rbErr := p.Rollback(); rbErr != nil {
			t.logger.Warn("ledger rollback failed", zap.String("path", in.Path), zap.Error(rbErr))
		}
		return nil, fmt.Errorf("add vectors for %s: %w", in.Path, err)
	}

	if err := p.Commit(); err != nil {
		if rmErr := t.index.Remove(ctx, alloc.ChunkIDs); rmErr != nil {
			return nil, t.latch(in.Path, alloc.ChunkIDs, fmt.Errorf("ledger commit failed (%v) and vectors could not be removed: %w", err, rmErr))
		}
		return nil, fmt.Errorf("commit ledger for %s: %w", in.Path, err)
	}

	t.logger.Debug("committed file",
		zap.String("path", in.Path),
		zap.Int64("file_id", alloc.FileID),
		zap.Int("chunks", len(alloc.ChunkIDs)),
		zap.Int64("first_chunk", alloc.FirstChunkID()),
	)
	return &alloc, nil
}

// Delete removes the file at path, its chunk rows and their vectors.
func (t *Transaction) Delete(ctx context.Context, path string) (*models.Allocation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fault != nil {
		return nil, t.fault
	}

	p, err := t.store.BeginDelete(ctx, path)
	if err != nil {
		return nil, err
	}
	alloc := p.Allocation()

	// Keep the vectors so they can be restored if the ledger commit fails.
	present := make([]int64, 0, len(alloc.ChunkIDs))
	saved := make([][]float32, 0, len(alloc.ChunkIDs))
	for _, id := range alloc.ChunkIDs {
		vec, err := t.index.Get(id)
		if errors.Is(err, vector.ErrNotFound) {
			continue
		}
		if err != nil {
			_ = p.Rollback()
			return nil, fmt.Errorf("read vector %d: %w", id, err)
		}
		present = append(present, id)
		saved = append(saved, vec)
	}

	if err := t.index.Remove(ctx, present); err != nil {
		_ = p.Rollback()
		return nil, fmt.Errorf("remove vectors for %s: %w", path, err)
	}
	if err := p.Commit(); err != nil {
		if addErr := t.index.Add(ctx, saved, present); addErr != nil {
			return nil, t.latch(path, present, fmt.Errorf("ledger commit failed (%v) and vectors could not be restored: %w", err, addErr))
		}
		return nil, fmt.Errorf("commit ledger for %s: %w", path, err)
	}

	t.logger.Debug("deleted file",
		zap.String("path", path),
		zap.Int64("file_id", alloc.FileID),
		zap.Int("chunks", len(alloc.ChunkIDs)),
	)
	return &alloc, nil
}

func (t *Transaction) latch(path string, ids []int64, cause error) error {
	t.fault = fmt.Errorf("%w: %s: %v", ErrConsistencyFault, path, cause)
	t.logger.Error("ledger and vector index diverged; writes halted until reconcile",
		zap.String("path", path),
		zap.Int64s("chunk_ids", ids),
		zap.Error(cause),
	)
	return t.fault
}

// Reconcile removes vectors whose ids have no chunk row. A file with any
// chunk row lacking a vector is dropped from the ledger as a whole, along
// with the vectors of its other chunks, so the next ingest run can restore
// it. A clean pass clears any latched fault.
func (t *Transaction) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunkIDs, err := t.store.ChunkIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids: %w", err)
	}
	orphanChunks, orphanVectors := diffSorted(chunkIDs, t.index.IDs())
	report := &models.ReconcileReport{
		OrphanVectors: orphanVectors,
		OrphanChunks:  orphanChunks,
		RemovedFiles:  []string{},
	}

	stale := orphanVectors
	if len(orphanChunks) > 0 {
		files, owned, err := t.store.DeleteFilesOwning(ctx, orphanChunks)
		if err != nil {
			return report, fmt.Errorf("drop files with missing vectors: %w", err)
		}
		for _, f := range files {
			report.RemovedFiles = append(report.RemovedFiles, f.Path)
		}
		siblings, _ := diffSorted(owned, orphanChunks)
		stale = mergeSorted(orphanVectors, siblings)
	}
	if len(stale) > 0 {
		if err := t.index.Remove(ctx, stale); err != nil {
			return report, fmt.Errorf("remove stale vectors: %w", err)
		}
	}

	if !report.Clean() {
		t.logger.Warn("reconciled ledger and vector index",
			zap.Int("orphan_vectors", len(orphanVectors)),
			zap.Int("orphan_chunks", len(orphanChunks)),
			zap.Strings("removed_files", report.RemovedFiles),
			zap.Int("vectors_removed", len(stale)),
		)
	}
	if t.fault != nil {
		t.logger.Info("consistency fault cleared")
		t.fault = nil
	}
	return report, nil
}

// Stats reports counts for the pair and whether they line up.
func (t *Transaction) Stats(ctx context.Context) (*models.Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	files, err := t.store.CountFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	chunks, err := t.store.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	vectors := t.index.Size()
	return &models.Stats{
		Files:   files,
		Chunks:  chunks,
		Vectors: vectors,
		Aligned: chunks == int64(vectors),
		Faulted: t.fault != nil,
	}, nil
}

// diffSorted returns the elements only in a and only in b. Both inputs must be ascending.
func diffSorted(a, b []int64) (onlyA, onlyB []int64) {
	onlyA, onlyB = []int64{}, []int64{}
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case a[i] < b[j]:
			onlyA = append(onlyA, a[i])
			i++
		default:
			onlyB = append(onlyB, b[j])
			j++
		}
	}
	onlyA = append(onlyA, a[i:]...)
	onlyB = append(onlyB, b[j:]...)
	return onlyA, onlyB
}

// mergeSorted returns the ascending union of two ascending, disjoint lists.
func mergeSorted(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
