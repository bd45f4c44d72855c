package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrowForBoundaries(t *testing.T) {
	cases := []struct {
		index uint32
		want  uint32
	}{
		{0, 1}, {7, 8}, {8, 16}, {63, 64}, {64, 128}, {127, 128}, {128, 192},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, growFor(c.index), "growFor(%d)", c.index)
	}
}

func TestChunkTableSetGetEnsuresCapacity(t *testing.T) {
	var c chunkTable
	c.set(10, ChunkID(42))
	assert.Equal(t, ChunkID(42), c.get(10))
	assert.Equal(t, ChunkID(0), c.get(9), "unset slots are holes")
	assert.Equal(t, growFor(10), c.length())
}

func TestChunkTableTruncateToReleasesTrailingChunks(t *testing.T) {
	var c chunkTable
	c.set(0, 1)
	c.set(1, 2)
	c.set(2, 3)
	released := c.truncateTo(1)
	assert.ElementsMatch(t, []ChunkID{2, 3}, released)
	assert.Equal(t, uint32(1), c.length())
}

func TestChunkTableFirstLast(t *testing.T) {
	var c chunkTable
	first, last := c.firstLast()
	assert.Equal(t, ChunkID(0), first)
	assert.Equal(t, ChunkID(0), last)

	c.set(0, 5)
	c.set(3, 9)
	first, last = c.firstLast()
	assert.Equal(t, ChunkID(5), first)
	assert.Equal(t, ChunkID(9), last)
}

func TestChunkTableClone(t *testing.T) {
	var c chunkTable
	c.set(0, 7)
	clone := c.clone()
	clone.set(0, 99)
	assert.Equal(t, ChunkID(7), c.get(0), "clone must not alias the original backing array")
}
