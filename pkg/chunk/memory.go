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

// Package chunk provides an in-process stand-in for the chunk/tape-server
// coordinator the core namespace calls out to through meta.ChunkCoordinator.
// Real chunk placement, replication and tape archival are explicitly out
// of scope for this module (spec §1 Non-goals); this implementation exists
// only so cmd/master has a concrete coordinator to wire the namespace to,
// the way a real deployment would wire in matocsserv/matotsserv instead.
package chunk

import (
	"sync"

	"github.com/juicedata/lizardmeta/pkg/meta"
)

type entry struct {
	refs map[meta.Ino]uint8 // inode -> goal, mirrors AddRef/DelRef bookkeeping
	size uint32
}

// Memory is a trivial, process-local meta.ChunkCoordinator: it hands out
// monotonically increasing chunk ids and tracks reference counts, without
// ever moving an actual byte. Useful for a standalone master or for tests
// that need a coordinator but not real storage.
type Memory struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[meta.ChunkID]*entry
}

// NewMemory constructs an empty in-memory coordinator.
func NewMemory() *Memory {
	return &Memory{nextID: 1, entries: make(map[meta.ChunkID]*entry)}
}

func (m *Memory) NewChunk(inode meta.Ino, index uint32, goal uint8) (meta.ChunkID, meta.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := meta.ChunkID(m.nextID)
	m.nextID++
	m.entries[id] = &entry{refs: map[meta.Ino]uint8{inode: goal}}
	return id, meta.StatusOK
}

func (m *Memory) AddRef(id meta.ChunkID, inode meta.Ino, goal uint8) meta.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return meta.StatusNoSuchChunk
	}
	e.refs[inode] = goal
	return meta.StatusOK
}

func (m *Memory) DelRef(id meta.ChunkID, inode meta.Ino) meta.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return meta.StatusOK // already reclaimed; DelRef is idempotent
	}
	delete(e.refs, inode)
	if len(e.refs) == 0 {
		delete(m.entries, id)
	}
	return meta.StatusOK
}

func (m *Memory) ChangeGoal(id meta.ChunkID, oldGoal, newGoal uint8) meta.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return meta.StatusNoSuchChunk
	}
	for inode, g := range e.refs {
		if g == oldGoal {
			e.refs[inode] = newGoal
		}
	}
	return meta.StatusOK
}

func (m *Memory) Truncate(id meta.ChunkID, length uint32) meta.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return meta.StatusNoSuchChunk
	}
	e.size = length
	return meta.StatusOK
}

// Repair is a no-op here: this stand-in never tracks per-copy validity, so
// every chunk it holds a reference for is by definition "already fine".
// A real coordinator backed by matocsserv_* would drive the
// has-only-invalid-copies/erase/repair decision described in spec §4.2.
func (m *Memory) Repair(id meta.ChunkID, goal uint8) (uint64, bool, meta.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return 0, false, meta.StatusNoSuchChunk
	}
	return 0, false, meta.StatusOK
}
