// Package storage defines the metadata ledger that records files and the chunk ids they own.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/semret/internal/models"
)

var (
	// ErrDuplicate is returned when a file path has already been ingested.
	ErrDuplicate = errors.New("file already ingested")
	// ErrNotFound is returned when a chunk, file or path is not in the ledger.
	ErrNotFound = errors.New("not found in ledger")
)

// Storage is the file/chunk ledger.
type Storage interface {
	// Initialize creates the file and chunk tables when absent. Safe on every startup.
	Initialize(ctx context.Context) error

	// InsertFileAndChunks inserts one file row and chunkCount chunk rows in one transaction.
	InsertFileAndChunks(ctx context.Context, in models.FileInput, chunkCount int) (*models.Allocation, error)
	// BeginInsert performs the same inserts but leaves the transaction open for the caller.
	BeginInsert(ctx context.Context, in models.FileInput, chunkCount int) (Pending, error)
	// BeginDelete deletes a file and its chunks in an open transaction.
	BeginDelete(ctx context.Context, path string) (Pending, error)

	ResolveFileID(ctx context.Context, chunkID int64) (int64, error)
	// ResolvePaths returns one path per distinct file id, in first-occurrence order.
	ResolvePaths(ctx context.Context, fileIDs []int64) ([]string, error)
	LookupPaths(ctx context.Context, fileIDs []int64) (map[int64]string, error)
	GetFileByPath(ctx context.Context, path string) (*models.File, error)
	ListFiles(ctx context.Context, offset, limit int) ([]*models.File, error)

	// Reconciliation support
	ChunkIDs(ctx context.Context) ([]int64, error)
	// DeleteFilesOwning removes the files owning chunkIDs and all of their chunks.
	DeleteFilesOwning(ctx context.Context, chunkIDs []int64) ([]*models.File, []int64, error)

	// Stats
	CountFiles(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// Pending is an open ledger transaction. The caller must call exactly one of
// Commit or Rollback; Rollback after Commit is a no-op.
type Pending interface {
	// File is the row being inserted or deleted.
	File() models.File
	// Allocation holds the chunk ids inserted or deleted, ascending.
	Allocation() models.Allocation
	Commit() error
	Rollback() error
}

