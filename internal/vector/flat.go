package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// FlatIndex is an exact brute-force inner-product index. Every mutation is
// written through to its file before returning.
type FlatIndex struct {
	dimensions int
	path       string
	ids        []int64
	vectors    [][]float32
	pos        map[int64]int
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty, unpersisted index.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		pos:        make(map[int64]int),
	}, nil
}

// OpenFlat loads the index at path when it exists and create is false.
// Otherwise it starts empty and persists immediately, replacing any file at path.
// A persisted index with another dimension fails with ErrConfig.
func OpenFlat(dimensions int, path string, create bool) (*FlatIndex, error) {
	idx, err := NewFlatIndex(dimensions)
	if err != nil {
		return nil, err
	}
	idx.path = path
	if path == "" {
		return idx, nil
	}
	if !create {
		if _, err := os.Stat(path); err == nil {
			if err := idx.load(); err != nil {
				return nil, err
			}
			return idx, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat index file: %w", err)
		}
	}
	if err := idx.Save(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (f *FlatIndex) load() error {
	ids, vectors, err := readIndexFile(f.path, f.dimensions)
	if err != nil {
		return err
	}
	pos := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; ok {
			return fmt.Errorf("%w: %d stored twice in %s", ErrDuplicateID, id, f.path)
		}
		pos[id] = i
	}
	f.ids, f.vectors, f.pos = ids, vectors, pos
	return nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Add appends vectors under ids. The batch is checked in full before anything
// is stored, and a failed persist undoes the append.
func (f *FlatIndex) Add(ctx context.Context, vectors [][]float32, ids []int64) error {
	if err := ValidateBatch(vectors, ids, f.dimensions); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if _, ok := f.pos[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
	}

	base := len(f.ids)
	for i, id := range ids {
		vec := make([]float32, f.dimensions)
		copy(vec, vectors[i])
		f.pos[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vec)
	}
	if err := f.saveLocked(); err != nil {
		for _, id := range ids {
			delete(f.pos, id)
		}
		f.ids = f.ids[:base]
		f.vectors = f.vectors[:base]
		return fmt.Errorf("persist after add: %w", err)
	}
	return nil
}

// Get returns a copy of the vector stored under id.
func (f *FlatIndex) Get(id int64) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.pos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	out := make([]float32, f.dimensions)
	copy(out, f.vectors[i])
	return out, nil
}

// Search scans every stored vector for each query row.
func (f *FlatIndex) Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error) {
	if err := ValidateRows(queries, f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	results := make([][]Hit, len(queries))
	for qi, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if k <= 0 || len(f.ids) == 0 {
			results[qi] = []Hit{}
			continue
		}
		hits := make([]Hit, len(f.ids))
		for i, vec := range f.vectors {
			hits[i] = Hit{ID: f.ids[i], Score: float32(InnerProduct(q, vec))}
		}
		results[qi] = rankHits(hits, k)
	}
	return results, nil
}

// Remove drops ids and persists. A failed persist restores the previous contents.
func (f *FlatIndex) Remove(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := f.pos[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}
	oldIDs, oldVectors, oldPos := f.ids, f.vectors, f.pos
	newIDs := make([]int64, 0, len(f.ids)-len(drop))
	newVectors := make([][]float32, 0, len(f.ids)-len(drop))
	newPos := make(map[int64]int, len(f.ids)-len(drop))
	for i, id := range f.ids {
		if drop[id] {
			continue
		}
		newPos[id] = len(newIDs)
		newIDs = append(newIDs, id)
		newVectors = append(newVectors, f.vectors[i])
	}
	f.ids, f.vectors, f.pos = newIDs, newVectors, newPos
	if err := f.saveLocked(); err != nil {
		f.ids, f.vectors, f.pos = oldIDs, oldVectors, oldPos
		return fmt.Errorf("persist after remove: %w", err)
	}
	return nil
}

// IDs returns the stored ids in ascending order.
func (f *FlatIndex) IDs() []int64 {
	f.mu.RLock()
	out := make([]int64, len(f.ids))
	copy(out, f.ids)
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dimensions returns the fixed vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Path returns the persistence path.
func (f *FlatIndex) Path() string {
	return f.path
}

// Save writes the whole index to its path. It is a no-op for in-memory indexes.
func (f *FlatIndex) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.saveLocked()
}

func (f *FlatIndex) saveLocked() error {
	if f.path == "" {
		return nil
	}
	return writeIndexFile(f.path, f.dimensions, f.ids, f.vectors)
}

// Close is a no-op; every mutation is already on disk.
func (f *FlatIndex) Close() error {
	return nil
}
