// Package embedding turns text, and for some providers images, into unit vectors.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ImageEmbedder is implemented by embedders that can embed raw image bytes
// into the same space as text.
type ImageEmbedder interface {
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
}

// AsImageEmbedder returns e, or the embedder it wraps, as an ImageEmbedder.
func AsImageEmbedder(e Embedder) (ImageEmbedder, bool) {
	for e != nil {
		if ie, ok := e.(ImageEmbedder); ok {
			return ie, true
		}
		w, ok := e.(interface{ Unwrap() Embedder })
		if !ok {
			return nil, false
		}
		e = w.Unwrap()
	}
	return nil, false
}

const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string
	Dimensions int
	ModelPath  string
	VocabPath  string
	Model      string
	BaseURL    string
	APIKey     string
	MaxTokens  int
	CacheSize  int
	BatchSize  int
}

// New builds the configured provider, wrapped in a Cached layer when
// CacheSize is positive.
func New(cfg Config, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "", ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	case ProviderONNX:
		e, err = NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			VocabPath:  cfg.VocabPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(OpenAIOptions{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.Provider, err)
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", e.Dimensions()),
	)
	if cfg.CacheSize > 0 {
		return NewCached(e, cfg.CacheSize), nil
	}
	return e, nil
}
