// Package vector provides exact inner-product vector indexes addressed by integer ids.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrConfig is returned when an on-disk index does not match the requested configuration.
	ErrConfig = errors.New("index configuration mismatch")
	// ErrShape is returned for malformed vector batches or id lists.
	ErrShape = errors.New("invalid vector shape")
	// ErrDuplicateID is returned when an id is already present in the index.
	ErrDuplicateID = errors.New("duplicate vector id")
	// ErrNotFound is returned when an id has no stored vector.
	ErrNotFound = errors.New("vector not found")
	// ErrCorrupt is returned when an index file is not a well-formed snapshot.
	ErrCorrupt = errors.New("corrupt index file")
)

// VectorIndex stores float32 vectors under caller-supplied ids and answers
// top-k maximum inner-product queries. Mutations persist before returning.
type VectorIndex interface {
	// Add stores vectors[i] under ids[i]. Nothing is stored if any check fails.
	Add(ctx context.Context, vectors [][]float32, ids []int64) error
	// Get reconstructs the vector stored under id.
	Get(id int64) ([]float32, error)
	// Search returns one ranked hit list per query row.
	Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error)
	// Remove drops the given ids. Unknown ids are ignored.
	Remove(ctx context.Context, ids []int64) error
	// IDs returns every stored id in ascending order.
	IDs() []int64
	// Type names the backend: "flat" or "faiss".
	Type() string
	Dimensions() int
	Size() int
	// Path is the persistence location; empty for in-memory indexes.
	Path() string
	Save() error
	Close() error
}

// Hit is one search result. Score is the raw inner product.
type Hit struct {
	ID    int64   `json:"id"`
	Score float32 `json:"score"`
}

// SearchOne runs a single query vector as a batch of one.
func SearchOne(ctx context.Context, idx VectorIndex, query []float32, k int) ([]Hit, error) {
	res, err := idx.Search(ctx, [][]float32{query}, k)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// ValidateBatch checks a vector batch against an index dimension before any mutation.
func ValidateBatch(vectors [][]float32, ids []int64, dim int) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids for %d vectors", ErrShape, len(ids), len(vectors))
	}
	if err := ValidateRows(vectors, dim); err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %d repeated in batch", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ValidateRows checks that every row has exactly dim columns.
func ValidateRows(vectors [][]float32, dim int) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: row %d has %d columns, index expects %d", ErrShape, i, len(v), dim)
		}
	}
	return nil
}

// rankHits orders hits by descending score, then ascending id, and keeps the first k.
func rankHits(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
