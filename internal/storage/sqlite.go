package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/semret/internal/models"
)

// maxINParams bounds the number of bound parameters in one IN (...) list.
const maxINParams = 500

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &SQLiteStorage{db: db, path: dbPath}
	if err := s.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Initialize creates the file and chunk tables if absent.
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS file (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		file_type VARCHAR(255) NOT NULL,
		path TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS chunk (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL,
		FOREIGN KEY (file_id) REFERENCES file(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunk_file_id ON chunk(file_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// sqlitePending is an open ledger transaction.
type sqlitePending struct {
	tx    *sql.Tx
	file  models.File
	alloc models.Allocation
	done  bool
}

func (p *sqlitePending) File() models.File             { return p.file }
func (p *sqlitePending) Allocation() models.Allocation { return p.alloc }

// Commit makes the pending rows durable.
func (p *sqlitePending) Commit() error {
	if p.done {
		return fmt.Errorf("ledger transaction already finished")
	}
	p.done = true
	if err := p.tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

// Rollback discards the pending rows.
func (p *sqlitePending) Rollback() error {
	if p.done {
		return nil
	}
	p.done = true
	if err := p.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback ledger transaction: %w", err)
	}
	return nil
}

// InsertFileAndChunks inserts a file and its chunk rows and commits.
func (s *SQLiteStorage) InsertFileAndChunks(ctx context.Context, in models.FileInput, chunkCount int) (*models.Allocation, error) {
	p, err := s.BeginInsert(ctx, in, chunkCount)
	if err != nil {
		return nil, err
	}
	if err := p.Commit(); err != nil {
		return nil, err
	}
	alloc := p.Allocation()
	return &alloc, nil
}

// BeginInsert inserts the file row and chunkCount chunk rows with explicit,
// contiguous ids starting after the highest id ever allocated.
func (s *SQLiteStorage) BeginInsert(ctx context.Context, in models.FileInput, chunkCount int) (Pending, error) {
	if chunkCount < 0 {
		return nil, fmt.Errorf("chunk count must not be negative: %d", chunkCount)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	p := &sqlitePending{tx: tx}
	ok := false
	defer func() {
		if !ok {
			_ = p.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO file (file_name, file_type, path) VALUES (?, ?, ?)`,
		in.Name, in.Type, in.Path,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, in.Path)
		}
		return nil, fmt.Errorf("insert file: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("file id: %w", err)
	}
	p.file = models.File{ID: fileID, Name: in.Name, Type: in.Type, Path: in.Path}
	p.alloc = models.Allocation{FileID: fileID, ChunkIDs: []int64{}}

	if chunkCount > 0 {
		// AUTOINCREMENT never hands out an id twice, so continue from the
		// sequence rather than from MAX(id).
		var last int64
		err := tx.QueryRowContext(ctx, `
			SELECT MAX(
				COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'chunk'), 0),
				COALESCE((SELECT MAX(id) FROM chunk), 0)
			)`).Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("read chunk sequence: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk (id, file_id) VALUES (?, ?)`)
		if err != nil {
			return nil, fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		ids := make([]int64, chunkCount)
		for i := range ids {
			ids[i] = last + 1 + int64(i)
			if _, err := stmt.ExecContext(ctx, ids[i], fileID); err != nil {
				return nil, fmt.Errorf("insert chunk %d: %w", ids[i], err)
			}
		}
		p.alloc.ChunkIDs = ids
	}

	ok = true
	return p, nil
}

// BeginDelete removes the file at path and its chunk rows inside an open
// transaction. Allocation().ChunkIDs lists the chunk ids being removed.
func (s *SQLiteStorage) BeginDelete(ctx context.Context, path string) (Pending, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	p := &sqlitePending{tx: tx}
	ok := false
	defer func() {
		if !ok {
			_ = p.Rollback()
		}
	}()

	f := &p.file
	err = tx.QueryRowContext(ctx,
		`SELECT id, file_name, file_type, path FROM file WHERE path = ?`, path,
	).Scan(&f.ID, &f.Name, &f.Type, &f.Path)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("look up file: %w", err)
	}

	ids, err := queryIDs(ctx, tx, `SELECT id FROM chunk WHERE file_id = ? ORDER BY id`, f.ID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file WHERE id = ?`, f.ID); err != nil {
		return nil, fmt.Errorf("delete file: %w", err)
	}
	p.alloc = models.Allocation{FileID: f.ID, ChunkIDs: ids}

	ok = true
	return p, nil
}

// ResolveFileID returns the file that owns chunkID.
func (s *SQLiteStorage) ResolveFileID(ctx context.Context, chunkID int64) (int64, error) {
	var fileID int64
	err := s.db.QueryRowContext(ctx, `SELECT file_id FROM chunk WHERE id = ?`, chunkID).Scan(&fileID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: chunk %d", ErrNotFound, chunkID)
	}
	if err != nil {
		return 0, err
	}
	return fileID, nil
}

// ResolvePaths de-duplicates fileIDs and returns their paths in first-occurrence order.
func (s *SQLiteStorage) ResolvePaths(ctx context.Context, fileIDs []int64) ([]string, error) {
	distinct := make([]int64, 0, len(fileIDs))
	seen := make(map[int64]bool, len(fileIDs))
	for _, id := range fileIDs {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	byID, err := s.LookupPaths(ctx, distinct)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(distinct))
	for _, id := range distinct {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: file %d", ErrNotFound, id)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// LookupPaths returns the paths of the files that exist among fileIDs.
func (s *SQLiteStorage) LookupPaths(ctx context.Context, fileIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(fileIDs))
	for start := 0; start < len(fileIDs); start += maxINParams {
		end := min(start+maxINParams, len(fileIDs))
		batch := fileIDs[start:end]
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, path FROM file WHERE id IN (`+placeholders(len(batch))+`)`,
			int64Args(batch)...,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			var path string
			if err := rows.Scan(&id, &path); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = path
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// GetFileByPath returns the file recorded for path.
func (s *SQLiteStorage) GetFileByPath(ctx context.Context, path string) (*models.File, error) {
	var f models.File
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, file_type, path FROM file WHERE path = ?`, path,
	).Scan(&f.ID, &f.Name, &f.Type, &f.Path)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFiles returns files ordered by id with offset and limit.
func (s *SQLiteStorage) ListFiles(ctx context.Context, offset, limit int) ([]*models.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, file_type, path FROM file ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Path); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// ChunkIDs returns every chunk id in ascending order.
func (s *SQLiteStorage) ChunkIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, s.db, `SELECT id FROM chunk ORDER BY id`)
}

// DeleteFilesOwning removes every file that owns one of chunkIDs together
// with all of its chunk rows, in one transaction. It returns the removed
// files and every chunk id they owned, ascending.
func (s *SQLiteStorage) DeleteFilesOwning(ctx context.Context, chunkIDs []int64) ([]*models.File, []int64, error) {
	if len(chunkIDs) == 0 {
		return []*models.File{}, []int64{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	seen := make(map[int64]bool)
	var fileIDs []int64
	for start := 0; start < len(chunkIDs); start += maxINParams {
		batch := chunkIDs[start:min(start+maxINParams, len(chunkIDs))]
		ids, err := queryIDs(ctx, tx,
			`SELECT DISTINCT file_id FROM chunk WHERE id IN (`+placeholders(len(batch))+`)`,
			int64Args(batch)...,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("find owning files: %w", err)
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				fileIDs = append(fileIDs, id)
			}
		}
	}

	files := []*models.File{}
	owned := []int64{}
	for start := 0; start < len(fileIDs); start += maxINParams {
		batch := fileIDs[start:min(start+maxINParams, len(fileIDs))]
		in := `(` + placeholders(len(batch)) + `)`
		args := int64Args(batch)

		rows, err := tx.QueryContext(ctx, `SELECT id, file_name, file_type, path FROM file WHERE id IN `+in+` ORDER BY id`, args...)
		if err != nil {
			return nil, nil, fmt.Errorf("read owning files: %w", err)
		}
		for rows.Next() {
			var f models.File
			if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Path); err != nil {
				rows.Close()
				return nil, nil, err
			}
			files = append(files, &f)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}

		ids, err := queryIDs(ctx, tx, `SELECT id FROM chunk WHERE file_id IN `+in+` ORDER BY id`, args...)
		if err != nil {
			return nil, nil, fmt.Errorf("list owned chunks: %w", err)
		}
		owned = append(owned, ids...)

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk WHERE file_id IN `+in, args...); err != nil {
			return nil, nil, fmt.Errorf("delete chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM file WHERE id IN `+in, args...); err != nil {
			return nil, nil, fmt.Errorf("delete files: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })
	return files, owned, nil
}

// CountFiles returns the total number of files.
func (s *SQLiteStorage) CountFiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

var _ Storage = (*SQLiteStorage)(nil)
