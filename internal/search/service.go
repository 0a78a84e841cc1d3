// Package search turns query strings into ranked lists of ingested file paths.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/embedding"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
)

// DefaultK is the number of chunks fetched per query when the caller does not say.
const DefaultK = 20

// Service embeds queries, searches the vector index and maps chunk hits back to files.
type Service struct {
	embedder embedding.Embedder
	pair     *ingest.Transaction
	defaultK int
	maxK     int
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for query timing.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLimits sets the default k and the cap applied to caller-supplied k (0 means no cap).
func WithLimits(defaultK, maxK int) Option {
	return func(s *Service) {
		if defaultK > 0 {
			s.defaultK = defaultK
		}
		s.maxK = maxK
	}
}

// NewService creates a search service over the ledger/index pair owned by pair.
func NewService(embedder embedding.Embedder, pair *ingest.Transaction, opts ...Option) *Service {
	s := &Service{
		embedder: embedder,
		pair:     pair,
		defaultK: DefaultK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns one ranked path list per query, in query order. A file that
// owns several of the top-k chunks appears once, at its best rank.
func (s *Service) Search(ctx context.Context, queries []string, k int) ([][]string, error) {
	results, err := s.SearchHits(ctx, queries, k)
	if err != nil {
		return nil, err
	}
	paths := make([][]string, len(results))
	for i, r := range results {
		paths[i] = r.Paths()
	}
	return paths, nil
}

// SearchAny accepts a string or a list of strings, as decoded from JSON.
func (s *Service) SearchAny(ctx context.Context, query any, k int) ([][]string, error) {
	queries, err := ParseQueries(query)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, queries, k)
}

// SearchHits is Search with file ids and best-chunk scores kept.
func (s *Service) SearchHits(ctx context.Context, queries []string, k int) ([]*models.QueryResult, error) {
	if len(queries) == 0 {
		return []*models.QueryResult{}, nil
	}
	k = s.limit(k)
	start := time.Now()

	vectors, err := s.embedder.EmbedBatch(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("failed to embed queries: %w", err)
	}
	if len(vectors) != len(queries) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d queries", len(vectors), len(queries))
	}

	results := make([]*models.QueryResult, len(queries))
	err = s.pair.View(func(store storage.Storage, index vector.VectorIndex) error {
		hits, err := index.Search(ctx, vectors, k)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		for i, q := range queries {
			files, err := resolveFiles(ctx, store, hits[i])
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = &models.QueryResult{Query: q, Hits: files}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search",
		zap.Int("queries", len(queries)),
		zap.Int("k", k),
		zap.Duration("took", time.Since(start)),
	)
	return results, nil
}

func (s *Service) limit(k int) int {
	if k <= 0 {
		k = s.defaultK
	}
	if s.maxK > 0 && k > s.maxK {
		k = s.maxK
	}
	return k
}

// resolveFiles maps ranked chunk hits to ranked files.
func resolveFiles(ctx context.Context, store storage.Storage, hits []vector.Hit) ([]*models.FileHit, error) {
	fileIDs := make([]int64, len(hits))
	best := make(map[int64]float32, len(hits))
	for i, h := range hits {
		fileID, err := store.ResolveFileID(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve chunk %d: %w", h.ID, err)
		}
		fileIDs[i] = fileID
		if _, ok := best[fileID]; !ok {
			best[fileID] = h.Score
		}
	}
	ranked := firstOccurrence(fileIDs)

	paths, err := store.LookupPaths(ctx, ranked)
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	out := make([]*models.FileHit, 0, len(ranked))
	for _, id := range ranked {
		p, ok := paths[id]
		if !ok {
			return nil, fmt.Errorf("%w: file %d", storage.ErrNotFound, id)
		}
		out = append(out, &models.FileHit{FileID: id, Path: p, Score: best[id]})
	}
	return out, nil
}
