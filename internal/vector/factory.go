package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat is the exact brute-force index with write-through persistence.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS stores vectors in a FAISS IndexIDMap2 over IndexFlatIP.
	// Requires the FAISS C library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// Open opens or creates an index of the given type at path.
// Supported types: "flat" (default), "faiss".
func Open(indexType string, dimensions int, path string, create bool) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return OpenFlat(dimensions, path, create)
	case IndexTypeFAISS:
		return OpenFAISS(dimensions, path, create)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := OpenFAISS(1, "", true)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
