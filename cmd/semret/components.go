package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/config"
	"github.com/hyperjump/semret/internal/embedding"
	"github.com/hyperjump/semret/internal/extract"
	"github.com/hyperjump/semret/internal/indexer"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/search"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
	"github.com/hyperjump/semret/internal/watcher"
)

// loadConfig loads the config at path. When path is the default and a
// config.yaml exists in the working directory, that file is used instead.
// A missing default config yields the built-in defaults. It returns the path
// that was actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" || path == config.DefaultPath() {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				return cfg, local, err
			}
		}
		path = config.DefaultPath()
		cfg, err := config.LoadOrDefault(path)
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// Components is the wired ledger, index, embedder and services for one run.
type Components struct {
	Config   *config.Config
	Store    *storage.SQLiteStorage
	Index    vector.VectorIndex
	Embedder embedding.Embedder
	Pair     *ingest.Transaction
	Indexer  *indexer.Indexer
	Search   *search.Service
}

// Close releases the embedder, the index and the database.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// initializeComponents opens the ledger and the index, builds the embedder
// and runs a reconcile pass so the pair starts aligned.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Config: cfg, Store: store}

	c.Index, err = vector.Open(cfg.Index.Type, cfg.Embedding.Dimensions, cfg.Storage.IndexPath, false)
	if err != nil {
		c.Close()
		if errors.Is(err, vector.ErrConfig) {
			return nil, fmt.Errorf("vector index at %s does not match embedding.dimensions=%d: %w",
				cfg.Storage.IndexPath, cfg.Embedding.Dimensions, err)
		}
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	logger.Info("vector index opened",
		zap.String("type", c.Index.Type()),
		zap.String("path", c.Index.Path()),
		zap.Int("vectors", c.Index.Size()),
	)

	c.Embedder, err = embedding.New(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		ModelPath:  cfg.Embedding.ModelPath,
		VocabPath:  cfg.Embedding.VocabPath,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
		BatchSize:  cfg.Embedding.BatchSize,
	}, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	if got := c.Embedder.Dimensions(); got != c.Index.Dimensions() {
		c.Close()
		return nil, fmt.Errorf("embedder produces %d dimensions, index expects %d", got, c.Index.Dimensions())
	}

	c.Pair = ingest.New(store, c.Index, ingest.WithLogger(logger))
	report, err := c.Pair.Reconcile(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("startup reconcile: %w", err)
	}
	if !report.Clean() {
		logger.Warn("startup reconcile repaired the index",
			zap.Int("orphan_vectors", len(report.OrphanVectors)),
			zap.Int("orphan_chunks", len(report.OrphanChunks)),
			zap.Strings("removed_files", report.RemovedFiles),
		)
	}

	c.Indexer = indexer.NewIndexer(c.Pair, c.Embedder, extract.NewExtractor(cfg.Ingest.LineWindow),
		indexer.WithLogger(logger),
		indexer.WithBatchSize(cfg.Ingest.BatchSize),
		indexer.WithExtensions(cfg.Ingest.Extensions),
		indexer.WithIgnore(cfg.Ingest.Ignore, cfg.Ingest.IgnoreFile),
	)
	c.Search = search.NewService(c.Embedder, c.Pair,
		search.WithLogger(logger),
		search.WithLimits(cfg.Search.DefaultK, cfg.Search.MaxK),
	)
	return c, nil
}

// newWatcher builds the directory watcher for serve.
func newWatcher(c *Components, logger *zap.Logger) *watcher.Watcher {
	w := c.Config.Watch
	return watcher.NewWatcher(c.Indexer, w.Directories,
		watcher.WithLogger(logger),
		watcher.WithRecursive(w.RecursiveOrDefault()),
		watcher.WithDebounce(time.Duration(w.DebounceMS)*time.Millisecond),
	)
}
