package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/hyperjump/semret/pkg/utils"
)

const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultBatchSize   = 32
)

// OpenAIOptions configures an OpenAIEmbedder.
type OpenAIOptions struct {
	APIKey     string // falls back to OPENAI_API_KEY
	BaseURL    string // any OpenAI-compatible /embeddings endpoint
	Model      string
	Dimensions int
	BatchSize  int
	Logger     *zap.Logger

	// Retry bounds for 429 and 5xx responses.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. Requests are
// split into batches and retried with exponential backoff on rate limits and
// server errors.
type OpenAIEmbedder struct {
	client openai.Client
	opts   OpenAIOptions
	logger *zap.Logger
}

// NewOpenAIEmbedder creates an embedder for the configured model.
func NewOpenAIEmbedder(opts OpenAIOptions) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, errors.New("OpenAI API key is required (embedding.api_key or OPENAI_API_KEY)")
	}
	if opts.Dimensions <= 0 {
		return nil, errors.New("embedding dimensions must be set for the openai provider")
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Retries are handled here so they share one backoff policy.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
		logger: logger,
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in batches of BatchSize, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.opts.BatchSize {
		end := min(i+e.opts.BatchSize, len(texts))
		batch, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.opts.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if strings.HasPrefix(e.opts.Model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.opts.Dimensions))
	}

	var embeddings [][]float32
	attempt := 0
	operation := func() error {
		attempt++
		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRetryable(err) {
				e.logger.Warn("embedding request failed, retrying",
					zap.Int("attempt", attempt),
					zap.Int("texts", len(texts)),
					zap.Error(err),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		out, err := e.collect(resp, len(texts))
		if err != nil {
			return backoff.Permanent(err)
		}
		embeddings = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialInterval
	b.MaxInterval = e.opts.MaxInterval
	b.MaxElapsedTime = e.opts.MaxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	return embeddings, nil
}

// collect orders the response rows by index and normalizes them.
func (e *OpenAIEmbedder) collect(resp *openai.CreateEmbeddingResponse, n int) ([][]float32, error) {
	out := make([][]float32, n)
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("response index %d out of range for %d inputs", idx, n)
		}
		if len(d.Embedding) != e.opts.Dimensions {
			return nil, fmt.Errorf("model returned %d dimensions, configured %d", len(d.Embedding), e.opts.Dimensions)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		utils.NormalizeL2(vec)
		out[idx] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return out, nil
}

// isRetryable reports rate limit (429) and server (5xx) errors.
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
