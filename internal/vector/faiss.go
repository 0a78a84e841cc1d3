//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/MetaIndexes_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex keeps vectors in a FAISS IndexIDMap2 wrapping an IndexFlatIP, so
// search stays exact and external ids can be reconstructed.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	path       string
	ids        map[int64]struct{}
	mu         sync.RWMutex
}

// OpenFAISS mirrors OpenFlat for the FAISS backend.
func OpenFAISS(dimensions int, path string, create bool) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	f := &FAISSIndex{dimensions: dimensions, path: path, ids: make(map[int64]struct{})}
	if path != "" && !create {
		if _, err := os.Stat(path); err == nil {
			if err := f.load(); err != nil {
				return nil, err
			}
			return f, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat index file: %w", err)
		}
	}
	if err := f.init(); err != nil {
		return nil, err
	}
	if err := f.saveLocked(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *FAISSIndex) init() error {
	var flat *C.FaissIndexFlatIP
	if C.faiss_IndexFlatIP_new_with(&flat, C.idx_t(f.dimensions)) != 0 {
		return fmt.Errorf("failed to create FAISS flat index: %s", faissLastError())
	}
	var idmap *C.FaissIndexIDMap2
	if C.faiss_IndexIDMap2_new(&idmap, (*C.FaissIndex)(unsafe.Pointer(flat))) != 0 {
		C.faiss_Index_free((*C.FaissIndex)(unsafe.Pointer(flat)))
		return fmt.Errorf("failed to create FAISS id map: %s", faissLastError())
	}
	C.faiss_IndexIDMap2_set_own_fields(idmap, 1)
	f.index = (*C.FaissIndex)(unsafe.Pointer(idmap))
	return nil
}

func (f *FAISSIndex) load() error {
	cPath := C.CString(f.path)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if C.faiss_read_index_fname(cPath, 0, &loaded) != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: %s has dimension %d, expected %d", ErrConfig, f.path, d, f.dimensions)
	}
	idmap := C.faiss_IndexIDMap2_cast(loaded)
	if idmap == nil {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%s does not hold an id-mapped FAISS index", f.path)
	}
	var idPtr *C.idx_t
	var n C.size_t
	C.faiss_IndexIDMap2_id_map(idmap, &idPtr, &n)
	if n > 0 {
		for _, id := range unsafe.Slice((*int64)(unsafe.Pointer(idPtr)), int(n)) {
			f.ids[id] = struct{}{}
		}
	}
	f.index = loaded
	return nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// Add appends vectors under ids and persists the index.
func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32, ids []int64) error {
	if err := ValidateBatch(vectors, ids, f.dimensions); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if _, ok := f.ids[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
	}

	flat := make([]float32, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		copy(flat[i*f.dimensions:], vec)
	}
	ret := C.faiss_Index_add_with_ids(
		f.index,
		C.idx_t(len(vectors)),
		(*C.float)(unsafe.Pointer(&flat[0])),
		(*C.idx_t)(unsafe.Pointer(&ids[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
	if err := f.saveLocked(); err != nil {
		if rmErr := f.removeLocked(ids); rmErr != nil {
			return fmt.Errorf("persist after add: %w (undo failed: %v)", err, rmErr)
		}
		return fmt.Errorf("persist after add: %w", err)
	}
	return nil
}

// Get reconstructs the vector stored under id.
func (f *FAISSIndex) Get(id int64) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.ids[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	out := make([]float32, f.dimensions)
	if C.faiss_Index_reconstruct(f.index, C.idx_t(id), (*C.float)(unsafe.Pointer(&out[0]))) != 0 {
		return nil, fmt.Errorf("failed to reconstruct %d: %s", id, faissLastError())
	}
	return out, nil
}

// Search runs every query row through FAISS and re-ranks ties by ascending id.
func (f *FAISSIndex) Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error) {
	if err := ValidateRows(queries, f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([][]Hit, len(queries))
	ntotal := len(f.ids)
	if k <= 0 || ntotal == 0 || len(queries) == 0 {
		for i := range results {
			results[i] = []Hit{}
		}
		return results, nil
	}
	// Fetch the whole index so ties at the k boundary can be broken by id.
	kk := ntotal
	m := len(queries)
	flat := make([]float32, m*f.dimensions)
	for i, q := range queries {
		copy(flat[i*f.dimensions:], q)
	}
	distances := make([]float32, m*kk)
	labels := make([]int64, m*kk)
	ret := C.faiss_Index_search(
		f.index,
		C.idx_t(m),
		(*C.float)(unsafe.Pointer(&flat[0])),
		C.idx_t(kk),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	for qi := 0; qi < m; qi++ {
		hits := make([]Hit, 0, kk)
		for j := 0; j < kk; j++ {
			label := labels[qi*kk+j]
			if label < 0 {
				continue
			}
			hits = append(hits, Hit{ID: label, Score: distances[qi*kk+j]})
		}
		results[qi] = rankHits(hits, k)
	}
	return results, nil
}

// Remove drops ids and persists.
func (f *FAISSIndex) Remove(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	present := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := f.ids[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := f.removeLocked(present); err != nil {
		return err
	}
	return f.saveLocked()
}

func (f *FAISSIndex) removeLocked(ids []int64) error {
	var sel *C.FaissIDSelectorBatch
	if C.faiss_IDSelectorBatch_new(&sel, C.size_t(len(ids)), (*C.idx_t)(unsafe.Pointer(&ids[0]))) != 0 {
		return fmt.Errorf("failed to build id selector: %s", faissLastError())
	}
	defer C.faiss_IDSelector_free((*C.FaissIDSelector)(unsafe.Pointer(sel)))
	var removed C.size_t
	if C.faiss_Index_remove_ids(f.index, (*C.FaissIDSelector)(unsafe.Pointer(sel)), &removed) != 0 {
		return fmt.Errorf("failed to remove ids: %s", faissLastError())
	}
	for _, id := range ids {
		delete(f.ids, id)
	}
	return nil
}

// IDs returns the stored ids in ascending order.
func (f *FAISSIndex) IDs() []int64 {
	f.mu.RLock()
	out := make([]int64, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dimensions returns the fixed vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of stored vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Path returns the persistence path.
func (f *FAISSIndex) Path() string {
	return f.path
}

// Save writes the index to its path.
func (f *FAISSIndex) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.saveLocked()
}

func (f *FAISSIndex) saveLocked() error {
	if f.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := f.path + ".tmp"
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if C.faiss_write_index_fname(f.index, cPath) != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
