package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankResults_SimilarityDescending(t *testing.T) {
	memories := []*Memory{
		{ID: 1, Score: 0.6},
		{ID: 2, Score: 0.9},
		{ID: 3, Score: 0.7},
	}

	rankResults(memories)

	assert.Equal(t, int64(2), memories[0].ID)
	assert.Equal(t, int64(3), memories[1].ID)
	assert.Equal(t, int64(1), memories[2].ID)
}

func TestRankResults_ImportanceBreaksTies(t *testing.T) {
	memories := []*Memory{
		{ID: 1, Score: 0.8, Importance: 0.3},
		{ID: 2, Score: 0.8, Importance: 0.9},
	}

	rankResults(memories)

	assert.Equal(t, int64(2), memories[0].ID)
	assert.Equal(t, int64(1), memories[1].ID)
}

func TestRankResults_RealDifferenceBeatsImportance(t *testing.T) {
	memories := []*Memory{
		{ID: 1, Score: 0.7, Importance: 1.0},
		{ID: 2, Score: 0.8, Importance: 0.0},
	}

	rankResults(memories)

	assert.Equal(t, int64(2), memories[0].ID)
}

func TestHashContent_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, hashContent("content"), hashContent("  content \n"))
	assert.NotEqual(t, hashContent("content"), hashContent("other"))
	assert.Len(t, hashContent("content"), 64)
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 0.0, clampImportance(-1))
	assert.Equal(t, 1.0, clampImportance(2))
	assert.Equal(t, 0.5, clampImportance(0.5))
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, validateMetadata(nil))
	assert.NoError(t, validateMetadata(map[string]interface{}{
		"str":  "value",
		"num":  42,
		"flt":  1.5,
		"bool": true,
		"nil":  nil,
	}))

	assert.ErrorIs(t, validateMetadata(map[string]interface{}{
		"nested": map[string]interface{}{"x": 1},
	}), ErrInvalidInput)
	assert.ErrorIs(t, validateMetadata(map[string]interface{}{
		"list": []string{"a"},
	}), ErrInvalidInput)
}

func TestDedupeIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, dedupeIDs([]int64{1, 2, 1, 3, 2}))
}
