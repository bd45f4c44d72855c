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

import "github.com/google/btree"

// trashKey orders trash entries by (deadline, inode) (spec §3 "Trash
// entry").
type trashKey struct {
	deadline uint32
	inode    Ino
}

func (k trashKey) Less(than btree.Item) bool {
	o := than.(trashKey)
	if k.deadline != o.deadline {
		return k.deadline < o.deadline
	}
	return k.inode < o.inode
}

// trashTable holds deleted-but-not-yet-expired files, ordered by expiry
// deadline for O(log n) periodic scanning — this is the resolution to
// SPEC_FULL.md §13 open question 2: a forward B-tree iterator collects a
// batch of expired keys and only then deletes them, avoiding the
// original's quadratic re-`begin()`-after-erase pattern
// (filesystem_periodic.cc).
type trashTable struct {
	byDeadline *btree.BTree
	byInode    map[Ino]trashKey
	paths      map[Ino]string
}

func newTrashTable() *trashTable {
	return &trashTable{
		byDeadline: btree.New(32),
		byInode:    make(map[Ino]trashKey),
		paths:      make(map[Ino]string),
	}
}

func (t *trashTable) add(inode Ino, deadline uint32, path string) {
	key := trashKey{deadline, inode}
	t.byDeadline.ReplaceOrInsert(key)
	t.byInode[inode] = key
	t.paths[inode] = path
}

func (t *trashTable) remove(inode Ino) (path string, ok bool) {
	key, ok := t.byInode[inode]
	if !ok {
		return "", false
	}
	t.byDeadline.Delete(key)
	delete(t.byInode, inode)
	path = t.paths[inode]
	delete(t.paths, inode)
	return path, true
}

func (t *trashTable) contains(inode Ino) bool {
	_, ok := t.byInode[inode]
	return ok
}

// updateDeadline re-keys inode's entry, used when ctime changes while an
// entry sits in trash (mirrors fsnodes_update_ctime's trash re-keying in
// filesystem_node.h).
func (t *trashTable) updateDeadline(inode Ino, newDeadline uint32) {
	path, ok := t.remove(inode)
	if !ok {
		return
	}
	t.add(inode, newDeadline, path)
}

// expired collects up to limit entries whose deadline < now, without
// mutating the tree during iteration.
func (t *trashTable) expired(now uint32, limit int) []Ino {
	var out []Ino
	t.byDeadline.AscendLessThan(trashKey{deadline: now, inode: 0}, func(item btree.Item) bool {
		out = append(out, item.(trashKey).inode)
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (t *trashTable) count() int { return t.byDeadline.Len() }

// reservedTable maps an inode that was deleted while still open to the
// path it had at deletion time (spec §3 "Reserved entry").
type reservedTable struct {
	paths map[Ino]string
}

func newReservedTable() *reservedTable {
	return &reservedTable{paths: make(map[Ino]string)}
}

func (r *reservedTable) add(inode Ino, path string) { r.paths[inode] = path }
func (r *reservedTable) remove(inode Ino)           { delete(r.paths, inode) }
func (r *reservedTable) contains(inode Ino) bool    { _, ok := r.paths[inode]; return ok }
func (r *reservedTable) count() int                 { return len(r.paths) }

// EmptyTrash scans trash for expired entries; open files become Reserved
// instead of being purged (invariant I9, P7, spec §4.2 "Trash/Reserved
// transitions"). Returns the number of entries purged.
func (e *Engine) EmptyTrash(ts int64) int {
	now := uint32(ts)
	ids := e.trash.expired(now, 10000)
	purged := 0
	for _, id := range ids {
		n := e.getNode(id)
		if n == nil {
			e.trash.remove(id)
			continue
		}
		if n.open() {
			path, _ := e.trash.remove(id)
			n.state = stateReserved
			e.reserved.add(id, path)
			continue
		}
		path, _ := e.trash.remove(id)
		_ = path
		e.removeNode(ts, n)
		e.emitMaster(ts, "PURGE", []string{itoa(uint64(id))}, "", false)
		purged++
	}
	return purged
}

// EmptyReservedInodes destroys reserved entries whose originating
// session set has gone empty but were never explicitly released (e.g.
// a crashed client); it is a belt-and-suspenders sweep alongside the
// normal release-triggered destruction path.
func (e *Engine) EmptyReservedInodes(ts int64) int {
	destroyed := 0
	for id := range e.reserved.paths {
		n := e.getNode(id)
		if n == nil {
			e.reserved.remove(id)
			continue
		}
		if !n.open() {
			e.reserved.remove(id)
			e.removeNode(ts, n)
			e.emitMaster(ts, "PURGE", []string{itoa(uint64(id))}, "", false)
			destroyed++
		}
	}
	return destroyed
}

// FreeExpiredInodes advances the inode pool's own quarantine bookkeeping;
// the pool itself already refuses premature reuse (§4.1), this hook
// exists for parity with the original's periodic fs_periodic_freeinodes
// and is a no-op beyond giving callers a tick to hang logging/metrics on.
func (e *Engine) FreeExpiredInodes(ts int64) {
	_ = ts
}
