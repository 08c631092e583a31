package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndGetVector(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{3, 4}, Metadata{Topic: "t"}))

	v, ok := s.GetVector("1")
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestAddVectorAlreadyExists(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{1, 0}, Metadata{}))

	err := s.AddVector("1", []float32{0, 1}, Metadata{})
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
}

func TestUpdateVectorNotFound(t *testing.T) {
	s := NewInMemoryStore()
	err := s.UpdateVector("missing", []float32{1, 0}, Metadata{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUpdateVectorPreservesInsertionOrder(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{1, 0}, Metadata{}))
	require.NoError(t, s.AddVector("2", []float32{0, 1}, Metadata{}))
	require.NoError(t, s.UpdateVector("1", []float32{1, 0}, Metadata{Topic: "updated"}))

	assert.Equal(t, []string{"1", "2"}, s.GetAllIDs())
}

func TestGetVectorMiss(t *testing.T) {
	s := NewInMemoryStore()
	_, ok := s.GetVector("missing")
	assert.False(t, ok)
}

func TestDeleteVector(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{1, 0}, Metadata{}))

	assert.True(t, s.DeleteVector("1"))
	assert.False(t, s.DeleteVector("1"))

	_, ok := s.GetVector("1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
}

func TestSearchByVectorOrdersByCosineSimilarity(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("exact", []float32{1, 0}, Metadata{}))
	require.NoError(t, s.AddVector("orthogonal", []float32{0, 1}, Metadata{}))
	require.NoError(t, s.AddVector("opposite", []float32{-1, 0}, Metadata{}))

	results := s.SearchByVector([]float32{1, 0}, 10)
	require.Len(t, results, 3)
	assert.Equal(t, "exact", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "orthogonal", results[1].ID)
	assert.InDelta(t, 0.0, results[1].Score, 1e-6)
	assert.Equal(t, "opposite", results[2].ID)
	assert.InDelta(t, -1.0, results[2].Score, 1e-6)
}

func TestSearchByVectorStableTieBreakByInsertionOrder(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("first", []float32{1, 0}, Metadata{}))
	require.NoError(t, s.AddVector("second", []float32{1, 0}, Metadata{}))

	results := s.SearchByVector([]float32{1, 0}, 10)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].ID)
	assert.Equal(t, "second", results[1].ID)
}

func TestSearchByVectorRespectsLimit(t *testing.T) {
	s := NewInMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddVector(id, []float32{1, 0}, Metadata{}))
	}
	results := s.SearchByVector([]float32{1, 0}, 2)
	assert.Len(t, results, 2)
}

func TestSearchByVectorDefaultsLimitWhenNonPositive(t *testing.T) {
	s := NewInMemoryStore()
	for i := 0; i < 15; i++ {
		require.NoError(t, s.AddVector(string(rune('a'+i)), []float32{1, 0}, Metadata{}))
	}
	results := s.SearchByVector([]float32{1, 0}, 0)
	assert.Len(t, results, 10)
}

func TestSearchByIDExcludesSelf(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("self", []float32{1, 0}, Metadata{}))
	require.NoError(t, s.AddVector("other", []float32{1, 0}, Metadata{}))

	results, err := s.SearchByID("self", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "other", results[0].ID)
}

func TestSearchByIDNotFound(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.SearchByID("missing", 10)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetAllIDsPreservesInsertionOrderAfterDelete(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{1}, Metadata{}))
	require.NoError(t, s.AddVector("2", []float32{1}, Metadata{}))
	require.NoError(t, s.AddVector("3", []float32{1}, Metadata{}))
	require.True(t, s.DeleteVector("2"))

	assert.Equal(t, []string{"1", "3"}, s.GetAllIDs())
}

func TestCountAndClear(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{1}, Metadata{}))
	require.NoError(t, s.AddVector("2", []float32{1}, Metadata{}))
	assert.Equal(t, 2, s.Count())

	s.Clear()
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.GetAllIDs())
}

func TestZeroVectorNormalizeDoesNotPanic(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AddVector("1", []float32{0, 0}, Metadata{}))
	v, ok := s.GetVector("1")
	require.True(t, ok)
	assert.False(t, math.IsNaN(float64(v[0])))
}
