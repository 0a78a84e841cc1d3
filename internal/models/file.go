// Package models defines the value types shared by the ledger, the index and the search surface.
package models

// File is one ingested file as recorded in the metadata ledger.
type File struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"file_name"`
	Type string `json:"type" db:"file_type"`
	Path string `json:"path" db:"path"`
}

// FileInput describes a file about to be ingested.
type FileInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// Allocation is the result of inserting a file row and its chunk rows.
// ChunkIDs is contiguous and ascending, one id per embedding row.
type Allocation struct {
	FileID   int64   `json:"file_id"`
	ChunkIDs []int64 `json:"chunk_ids"`
}

// FirstChunkID returns the first id of the range, or 0 for a zero-chunk file.
func (a *Allocation) FirstChunkID() int64 {
	if len(a.ChunkIDs) == 0 {
		return 0
	}
	return a.ChunkIDs[0]
}

// LastChunkID returns the last id of the range, or 0 for a zero-chunk file.
func (a *Allocation) LastChunkID() int64 {
	if len(a.ChunkIDs) == 0 {
		return 0
	}
	return a.ChunkIDs[len(a.ChunkIDs)-1]
}
