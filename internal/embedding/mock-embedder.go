package embedding

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/semret/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. A text
// embeds as the normalized sum of per-word hash vectors, so texts sharing
// words score higher than unrelated texts.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit vector for text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := basicTokens(text)
	if len(words) == 0 {
		return hashVector(xxhash.Sum64String(text), e.dimensions), nil
	}
	emb := make([]float32, e.dimensions)
	for _, w := range words {
		for i, v := range hashVector(xxhash.Sum64String(w), e.dimensions) {
			emb[i] += v
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// EmbedImages hashes the image bytes.
func (e *MockEmbedder) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = hashVector(xxhash.Sum64(img), e.dimensions)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// hashVector expands seed into a unit vector with splitmix64.
func hashVector(seed uint64, dim int) []float32 {
	v := make([]float32, dim)
	x := seed
	for i := range v {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		v[i] = float32(float64(z>>11)/(1<<53)*2 - 1)
	}
	utils.NormalizeL2(v)
	return v
}
