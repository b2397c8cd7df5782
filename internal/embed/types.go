// Package embed wraps the embedding and reranking model endpoints.
//
// The bi-encoder maps texts to normalized fixed-length vectors so cosine
// similarity is a dot product. The cross-encoder scores (query, passage)
// pairs for re-ranking small candidate lists.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// Embedder generates vector embeddings for text.
// Vectors are normalized to unit length.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// CrossEncoder scores (query, passage) pairs. Scores are unbounded;
// higher is better.
type CrossEncoder interface {
	// Score returns one relevance score per passage, in input order.
	Score(ctx context.Context, query string, passages []string) ([]float64, error)

	// Available checks if the reranker service is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// Similarity computes dot products between a query vector and each row of
// the matrix. With normalized vectors this equals cosine similarity.
func Similarity(query []float32, matrix [][]float32) []float32 {
	scores := make([]float32, len(matrix))
	for i, row := range matrix {
		var dot float32
		n := len(row)
		if len(query) < n {
			n = len(query)
		}
		for j := 0; j < n; j++ {
			dot += query[j] * row[j]
		}
		scores[i] = dot
	}
	return scores
}
