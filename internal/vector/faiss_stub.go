//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"fmt"
)

var errFAISSUnavailable = fmt.Errorf("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a placeholder when FAISS is not compiled in.
type FAISSIndex struct{}

// OpenFAISS returns an error because FAISS is not available.
func OpenFAISS(dimensions int, path string, create bool) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32, ids []int64) error {
	return errFAISSUnavailable
}

func (f *FAISSIndex) Get(id int64) ([]float32, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Remove(ctx context.Context, ids []int64) error {
	return errFAISSUnavailable
}

func (f *FAISSIndex) IDs() []int64 { return nil }
func (f *FAISSIndex) Dimensions() int { return 0 }
func (f *FAISSIndex) Size() int { return 0 }
func (f *FAISSIndex) Path() string { return "" }
func (f *FAISSIndex) Save() error { return errFAISSUnavailable }
func (f *FAISSIndex) Close() error { return nil }
func (f *FAISSIndex) Type() string { return string(IndexTypeFAISS) }
