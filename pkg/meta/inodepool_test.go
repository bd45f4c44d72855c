package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInodePoolAllocateIsMonotonicAndUnique(t *testing.T) {
	p := newInodePool(24 * time.Hour)
	seen := map[Ino]bool{RootInode: true}
	for i := 0; i < 100; i++ {
		id := p.allocate(1000)
		require.False(t, seen[id], "allocate must never repeat a live id")
		seen[id] = true
		assert.True(t, p.isLive(id))
	}
}

func TestInodePoolReleaseQuarantinesBeforeReuse(t *testing.T) {
	p := newInodePool(100 * time.Second)
	id := p.allocate(0)
	p.release(id, 0)
	assert.False(t, p.isLive(id))
	assert.Equal(t, 1, p.count())

	// Too soon: reuseDelay hasn't elapsed, a fresh id is minted instead.
	again := p.allocate(50)
	assert.NotEqual(t, id, again)

	// After reuseDelay, the quarantined id becomes eligible again.
	reused := p.allocate(101)
	assert.Equal(t, id, reused)
	assert.Equal(t, 0, p.count())
}

func TestInodePoolMarkUsedAdvancesMaxIssued(t *testing.T) {
	p := newInodePool(24 * time.Hour)
	p.markUsed(Ino(500))
	next := p.allocate(0)
	assert.Equal(t, Ino(501), next)
}

func TestInodePoolIterateYieldsQuarantineOrder(t *testing.T) {
	p := newInodePool(24 * time.Hour)
	a := p.allocate(0)
	b := p.allocate(0)
	p.release(b, 20)
	p.release(a, 10)

	var order []Ino
	p.iterate(func(id Ino, freeTS uint32) { order = append(order, id) })
	assert.Equal(t, []Ino{a, b}, order)
}
