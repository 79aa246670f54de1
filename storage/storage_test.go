package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	dup := NewError(KindDuplicateEntity, "entity %q already exists", "Alice")
	assert.True(t, IsDuplicateEntity(dup))
	assert.False(t, IsEntityNotFound(dup))
	assert.Contains(t, dup.Error(), "duplicate entity")
	assert.Contains(t, dup.Error(), `"Alice"`)

	wrapped := fmt.Errorf("tool failed: %w", dup)
	assert.True(t, IsDuplicateEntity(wrapped))

	k, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, KindInternal, k)
}

func TestWrapInternalUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapInternal("save project", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "internal storage error")
	k, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindInternal, k)
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	blob := EncodeVector(vec)
	assert.Len(t, blob, 16)
	assert.Equal(t, vec, DecodeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}
	assert.InDelta(t, 1.0, CosineSimilarity32(a, b), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity32(a, c), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity32(a, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity32([]float32{0, 0}, []float32{0, 0}))
}
