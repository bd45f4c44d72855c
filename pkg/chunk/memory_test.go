package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juicedata/lizardmeta/pkg/meta"
)

func TestMemoryNewChunkAssignsIncreasingIDs(t *testing.T) {
	m := NewMemory()
	id1, st := m.NewChunk(10, 0, 1)
	require.Equal(t, meta.StatusOK, st)
	id2, _ := m.NewChunk(10, 1, 1)
	assert.NotEqual(t, id1, id2)
}

func TestMemoryAddRefUnknownChunkIsNoSuchChunk(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, meta.StatusNoSuchChunk, m.AddRef(999, 1, 1))
}

func TestMemoryDelRefDropsEntryWhenLastRefGone(t *testing.T) {
	m := NewMemory()
	id, _ := m.NewChunk(10, 0, 1)
	assert.Equal(t, meta.StatusOK, m.DelRef(id, 10))
	assert.Equal(t, meta.StatusNoSuchChunk, m.ChangeGoal(id, 1, 2), "deleting the last ref reclaims the chunk entry")
}

func TestMemoryDelRefIsIdempotent(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, meta.StatusOK, m.DelRef(999, 1), "DelRef on an already-reclaimed chunk is not an error")
}

func TestMemoryChangeGoalOnlyAffectsMatchingRefs(t *testing.T) {
	m := NewMemory()
	id, _ := m.NewChunk(10, 0, 1)
	m.AddRef(id, 11, 3)

	require.Equal(t, meta.StatusOK, m.ChangeGoal(id, 1, 5))
	assert.Equal(t, meta.StatusOK, m.AddRef(id, 10, 5))
}

func TestMemoryTruncateSetsLength(t *testing.T) {
	m := NewMemory()
	id, _ := m.NewChunk(10, 0, 1)
	assert.Equal(t, meta.StatusOK, m.Truncate(id, 4096))
}

func TestMemoryTruncateUnknownChunkIsNoSuchChunk(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, meta.StatusNoSuchChunk, m.Truncate(999, 0))
}
