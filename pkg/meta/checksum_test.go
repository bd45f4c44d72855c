package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeHashDependsOnIdentityAndAttrs(t *testing.T) {
	a := newNode(1, TypeFile, 0644, 0, 0, 0)
	b := newNode(2, TypeFile, 0644, 0, 0, 0)
	assert.NotEqual(t, nodeHash(a), nodeHash(b), "distinct inode ids must hash differently")

	c := newNode(1, TypeFile, 0755, 0, 0, 0)
	assert.NotEqual(t, nodeHash(a), nodeHash(c), "distinct mode must hash differently")
}

func TestEdgeHashDependsOnAllComponents(t *testing.T) {
	a := edgeHash(1, "foo", 2)
	b := edgeHash(1, "bar", 2)
	c := edgeHash(1, "foo", 3)
	d := edgeHash(5, "foo", 2)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestXorHashUnxorHashCancelsOut(t *testing.T) {
	e := newTestMasterEngine(t)
	before := e.checksum.nodes

	n := newNode(100, TypeFile, 0644, 0, 0, 0)
	e.xorHash(n)
	assert.NotEqual(t, before, e.checksum.nodes)

	e.unxorHash(n)
	assert.Equal(t, before, e.checksum.nodes, "xor then unxor must restore the prior digest")
}

func TestXorEdgeUnxorEdgeCancelsOut(t *testing.T) {
	e := newTestMasterEngine(t)
	before := e.checksum.edges

	e.xorEdge(1, 2, "foo")
	assert.NotEqual(t, before, e.checksum.edges)

	e.unxorEdge(1, 2, "foo")
	assert.Equal(t, before, e.checksum.edges)
}

func TestBackgroundChecksumRunsToCompletion(t *testing.T) {
	e := newTestMasterEngine(t)
	e.bgChecksum.start()
	assert.True(t, e.bgChecksum.inProgress())

	for i := 0; i < 10 && !e.tickChecksumRecalculation(); i++ {
	}
	assert.Equal(t, stepDone, e.bgChecksum.step)
}

func TestFinishChecksumRecalculationDetectsMismatch(t *testing.T) {
	e := newTestMasterEngine(t)
	e.bgChecksum.step = stepDone
	e.bgChecksum.nodes = e.checksum.nodes + 1

	mismatch := e.finishChecksumRecalculation()
	assert.True(t, mismatch)
	assert.Equal(t, e.bgChecksum.nodes, e.checksum.nodes)
	assert.Equal(t, stepNone, e.bgChecksum.step, "finishing always resets step back to none")
}

func TestFinishChecksumRecalculationNoMismatch(t *testing.T) {
	e := newTestMasterEngine(t)
	e.bgChecksum.step = stepDone
	e.bgChecksum.nodes = e.checksum.nodes
	e.bgChecksum.xattrs = e.checksum.xattrs

	mismatch := e.finishChecksumRecalculation()
	assert.False(t, mismatch)
}

func TestChecksumForceRecomputesFromScratch(t *testing.T) {
	e := newTestMasterEngine(t)
	digest1 := e.Checksum(true)
	digest2 := e.Checksum(false)
	assert.Equal(t, digest1, digest2, "forced recompute must agree with the live incrementally-updated digest")
}

func TestSortInosOrdersAscending(t *testing.T) {
	ids := []Ino{5, 1, 3, 2, 4}
	sortInos(ids)
	assert.Equal(t, []Ino{1, 2, 3, 4, 5}, ids)
}
