package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/smallnest/agentgraphgo/storage"
)

// Embedder turns text into a fixed-dimension vector. The model identity is a
// deploy-time constant: all observations within a stream must share one
// dimension, so swapping embedders requires migrating stored vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder is a deterministic, dependency-free embedder: each lowercase
// token is hashed into a bucket and the resulting bag-of-words vector is
// L2-normalised. Identical texts always produce identical vectors and texts
// sharing tokens have positive similarity, which is enough for offline use
// and tests.
type HashEmbedder struct {
	dim int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder with the standard dimension.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dim: storage.EmbeddingDim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return false
		}
		return true
	})
}
