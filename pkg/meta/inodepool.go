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
	"time"

	"github.com/google/btree"
)

// freeRecord is a quarantined inode awaiting reuse (spec §3 Free-inode
// record), grounded on the original's freenode bucket allocator
// (filesystem_freenode.h) which this replaces with a single ordered index.
type freeRecord struct {
	id     Ino
	freeTS uint32
}

// Less orders freeRecords by free timestamp then id, so the btree yields
// the oldest-quarantined inode first.
func (f freeRecord) Less(than btree.Item) bool {
	o := than.(freeRecord)
	if f.freeTS != o.freeTS {
		return f.freeTS < o.freeTS
	}
	return f.id < o.id
}

// inodePool hands out unique inode numbers and quarantines freed ones for
// at least reuseDelay before they become eligible again (spec §4.1).
type inodePool struct {
	reuseDelay uint32 // seconds

	maxIssued Ino
	live      map[Ino]bool
	byID      map[Ino]uint32 // id -> freeTS, for O(1) membership/removal
	free      *btree.BTree   // ordered by (freeTS, id)
}

func newInodePool(reuseDelay time.Duration) *inodePool {
	return &inodePool{
		reuseDelay: uint32(reuseDelay / time.Second),
		maxIssued:  RootInode,
		live:       make(map[Ino]bool),
		byID:       make(map[Ino]uint32),
		free:       btree.New(32),
	}
}

// markUsed reserves id at load time (spec §4.1 "used at load time").
func (p *inodePool) markUsed(id Ino) {
	p.live[id] = true
	if id > p.maxIssued {
		p.maxIssued = id
	}
}

// allocate returns an unused inode, preferring one quarantined for at
// least reuseDelay seconds; otherwise a brand-new number is minted.
// Never returns 0 or a number currently live (spec §4.1).
func (p *inodePool) allocate(ts uint32) Ino {
	var chosen Ino
	if p.free.Len() > 0 {
		item := p.free.Min().(freeRecord)
		if ts >= item.freeTS+p.reuseDelay {
			p.free.Delete(item)
			delete(p.byID, item.id)
			chosen = item.id
		}
	}
	if chosen == 0 {
		p.maxIssued++
		chosen = p.maxIssued
	}
	p.live[chosen] = true
	return chosen
}

// release enqueues id for quarantine; it becomes eligible again at
// ts+reuseDelay.
func (p *inodePool) release(id Ino, ts uint32) {
	delete(p.live, id)
	rec := freeRecord{id: id, freeTS: ts}
	p.free.ReplaceOrInsert(rec)
	p.byID[id] = ts
}

func (p *inodePool) isLive(id Ino) bool {
	return p.live[id]
}

// iterate yields every quarantined record in (freeTS, id) order, for
// persistence (spec §4.1 "Iteration yields quarantined ids").
func (p *inodePool) iterate(fn func(id Ino, freeTS uint32)) {
	p.free.Ascend(func(item btree.Item) bool {
		r := item.(freeRecord)
		fn(r.id, r.freeTS)
		return true
	})
}

func (p *inodePool) count() int {
	return p.free.Len()
}
