/*
 * JuiceFS, Copyright 2020 Juicedata, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package meta

import (
	"github.com/juju/ratelimit"
)

const checksumSeed uint64 = 0x1234567890ABCDEF

// nodeHash computes the per-entity digest for n (spec §4.8): a 64-bit
// seed mixed with type, id, mode, uid, gid, times, trashtime, goal, and a
// type-specific tail.
func nodeHash(n *node) uint64 {
	h := checksumSeed
	mix := func(v uint64) { h = (h*0x100000001b3 + 1) ^ v }
	mix(uint64(n.id))
	mix(uint64(n.attr.Typ))
	mix(uint64(n.attr.Mode))
	mix(uint64(n.attr.Uid))
	mix(uint64(n.attr.Gid))
	mix(uint64(n.attr.Atime))
	mix(uint64(n.attr.Mtime))
	mix(uint64(n.attr.Ctime))
	mix(uint64(n.attr.Trashtime))
	mix(uint64(n.attr.Goal))
	switch n.attr.Typ {
	case TypeBlockDev, TypeCharDev:
		mix(uint64(n.attr.Rdev))
	case TypeSymlink:
		for _, b := range n.target {
			mix(uint64(b))
		}
	case TypeFile:
		mix(n.attr.Length)
		first, last := n.chunks.firstLast()
		mix(uint64(first))
		mix(uint64(last))
	}
	return h
}

// edgeHash computes the per-edge digest used in the global digest's edge
// term.
func edgeHash(parent Ino, name string, child Ino) uint64 {
	h := checksumSeed ^ 0xEDEE0000
	mix := func(v uint64) { h = (h*0x100000001b3 + 1) ^ v }
	mix(uint64(parent))
	mix(uint64(child))
	for i := 0; i < len(name); i++ {
		mix(uint64(name[i]))
	}
	return h
}

// xorHash XORs n's entity hash into the live global digest and stores it
// on the node so a later removal can XOR it back out (invariant I7).
func (e *Engine) xorHash(n *node) {
	n.hash = nodeHash(n)
	e.checksum.nodes ^= n.hash
	if e.bgChecksum.inProgress() && e.bgChecksum.nodeIncluded(n.id) {
		e.bgChecksum.nodes ^= n.hash
	}
}

func (e *Engine) unxorHash(n *node) {
	e.checksum.nodes ^= n.hash
	if e.bgChecksum.inProgress() && e.bgChecksum.nodeIncluded(n.id) {
		e.bgChecksum.nodes ^= n.hash
	}
	n.hash = 0
}

func (e *Engine) xorEdge(parent, child Ino, name string) {
	h := edgeHash(parent, name, child)
	e.checksum.edges ^= h
	if e.bgChecksum.inProgress() {
		e.bgChecksum.edges ^= h
	}
}

func (e *Engine) unxorEdge(parent, child Ino, name string) {
	h := edgeHash(parent, name, child)
	e.checksum.edges ^= h
	if e.bgChecksum.inProgress() {
		e.bgChecksum.edges ^= h
	}
}

func (e *Engine) xorXattr(inode Ino, name string, value []byte) {
	h := xattrHash(inode, name, value)
	e.checksum.xattrs ^= h
	if e.bgChecksum.inProgress() {
		e.bgChecksum.xattrs ^= h
	}
}

// checksumState holds the live, O(1)-updatable global digest (spec §4.8
// "Digest composition").
type checksumState struct {
	metaCounters uint64
	nodes        uint64
	edges        uint64
	xattrs       uint64
	quota        uint64
	chunks       uint64
}

func (c *checksumState) global() uint64 {
	return checksumSeed ^ c.metaCounters ^ c.nodes ^ c.edges ^ c.xattrs ^ c.quota ^ c.chunks
}

// checksumStep is the background recomputation's position in the fixed
// state machine (spec §4.8, supplemented from
// filesystem_checksum_background_updater.h).
type checksumStep uint8

const (
	stepNone checksumStep = iota
	stepNodes
	stepXattrs
	stepChunks
	stepDone
)

// backgroundChecksum recomputes the digest from scratch while mutations
// continue to update both the live and shadow digest (spec §4.8).
type backgroundChecksum struct {
	step     checksumStep
	position int // how many entities of the current step have been visited
	nodes    uint64
	edges    uint64
	xattrs   uint64

	bucket *ratelimit.Bucket // bounds entities processed per tick (speed_limit)
}

func newBackgroundChecksum(speedLimit uint32) *backgroundChecksum {
	if speedLimit == 0 {
		speedLimit = 1
	}
	return &backgroundChecksum{
		step:   stepNone,
		bucket: ratelimit.NewBucketWithRate(float64(speedLimit), int64(speedLimit)),
	}
}

func (b *backgroundChecksum) inProgress() bool {
	return b.step != stepNone && b.step != stepDone
}

func (b *backgroundChecksum) nodeIncluded(id Ino) bool {
	return b.step > stepNodes || (b.step == stepNodes && uint64(b.position) > uint64(id))
}

// start begins a new recomputation pass from scratch.
func (b *backgroundChecksum) start() {
	b.step = stepNodes
	b.position = 0
	b.nodes, b.edges, b.xattrs = 0, 0, 0
}

// tick advances the recomputation by up to speed_limit entities (bounded
// by the token bucket), returning true once the whole pass is Done.
func (e *Engine) tickChecksumRecalculation() bool {
	b := e.bgChecksum
	if !b.inProgress() {
		return true
	}
	budget := b.bucket.TakeAvailable(int64(e.checksumSpeedLimit()))
	switch b.step {
	case stepNodes:
		ids := e.sortedNodeIDs()
		for ; int64(b.position) < int64(len(ids)) && budget > 0; budget-- {
			n := e.nodes[ids[b.position]]
			b.nodes ^= nodeHash(n)
			b.position++
		}
		if int64(b.position) >= int64(len(ids)) {
			b.step = stepXattrs
			b.position = 0
		}
	case stepXattrs:
		// xattrs are unordered; a single pass suffices since the table is
		// not expected to be large enough to need sub-stepping in practice.
		e.xattrs.forEach(func(inode Ino, name string, ent *xattrEntry) {
			b.xattrs ^= ent.checksum
		})
		b.step = stepChunks
		b.position = 0
	case stepChunks:
		// chunk checksums are owned by the external chunk module (spec
		// §4.8 "ChunksChecksum is recalculated externally"); nothing to do
		// here beyond advancing past this step.
		b.step = stepDone
	}
	return b.step == stepDone
}

func (e *Engine) checksumSpeedLimit() uint32 {
	if e.config.ChecksumRecalculationSpeed == 0 {
		return 5000
	}
	return e.config.ChecksumRecalculationSpeed
}

func (e *Engine) sortedNodeIDs() []Ino {
	ids := make([]Ino, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sortInos(ids)
	return ids
}

func sortInos(ids []Ino) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// finishChecksumRecalculation compares the freshly computed digest
// against the live one; on mismatch the live digest is replaced (spec
// S5, §4.8 "at Done the engine checks equality").
func (e *Engine) finishChecksumRecalculation() (mismatch bool) {
	b := e.bgChecksum
	if b.step != stepDone {
		return false
	}
	if b.nodes != e.checksum.nodes || b.xattrs != e.checksum.xattrs {
		mismatch = true
		e.checksum.nodes = b.nodes
		e.checksum.xattrs = b.xattrs
		e.logger.Warnf("checksum mismatch detected during background recalculation; live digest replaced")
		checksumMismatches.Inc()
	}
	b.step = stepNone
	return mismatch
}

// TickChecksum drives the background recomputation one step forward,
// starting a fresh pass once ChecksumInterval versions have elapsed
// since the last one completed, and appending a periodic CHECKSUM
// changelog record on Master when a pass finishes (spec §4.8, §4.9
// "every period mutations"). Called from the daemon's tick loop
// alongside TickTasks/EmptyTrash.
func (e *Engine) TickChecksum(ts int64) {
	if !e.bgChecksum.inProgress() {
		if e.metaversion < e.lastChecksumVersion+uint64(e.checksumInterval()) {
			return
		}
		e.bgChecksum.start()
	}
	if !e.tickChecksumRecalculation() {
		return
	}
	e.finishChecksumRecalculation()
	e.lastChecksumVersion = e.metaversion
	if e.config.Personality == Master {
		if err := e.changelog.emitChecksum(ts, e.metaversion, e.Checksum(false)); err != nil {
			e.logger.Errorf("emit checksum: %s", err)
		}
	}
}

func (e *Engine) checksumInterval() uint32 {
	if e.config.ChecksumInterval == 0 {
		return 1000
	}
	return e.config.ChecksumInterval
}

// Checksum returns the current global digest. force first recomputes
// every node hash and the node and xattr terms from scratch (used by
// tests and P4/P5 properties); the other terms are used as maintained.
func (e *Engine) Checksum(force bool) uint64 {
	if force {
		for _, n := range e.nodes {
			n.hash = nodeHash(n)
		}
		var nodesSum uint64
		for _, n := range e.nodes {
			nodesSum ^= n.hash
		}
		e.checksum.nodes = nodesSum
		var xattrSum uint64
		e.xattrs.forEach(func(inode Ino, name string, ent *xattrEntry) { xattrSum ^= ent.checksum })
		e.checksum.xattrs = xattrSum
	}
	return e.checksum.global()
}
