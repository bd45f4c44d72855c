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

import "strings"

// nameCheck rejects names the namespace graph must never accept (spec §4.2
// "Tie-breaks and edge cases" / B2).
func nameCheck(name string) Status {
	if len(name) == 0 || len(name) > 255 {
		return StatusInvalidArgument
	}
	if name == "." || name == ".." {
		return StatusInvalidArgument
	}
	if strings.ContainsAny(name, "/\x00") {
		return StatusInvalidArgument
	}
	return StatusOK
}

// getNode looks up a live inode by id.
func (e *Engine) getNode(id Ino) *node {
	return e.nodes[id]
}

// mustDir returns n as a directory node, or a status if it isn't one.
func mustDir(n *node) (*node, Status) {
	if n == nil {
		return nil, StatusNotFound
	}
	if !n.isDir() {
		return nil, StatusNotDirectory
	}
	return n, StatusOK
}

// lookupChild resolves name inside directory parent.
func (e *Engine) lookupChild(parent *node, name string) (*node, Status) {
	id, ok := parent.children[name]
	if !ok {
		return nil, StatusNotFound
	}
	return e.getNode(id), StatusOK
}

// createNode allocates a new inode, links it into parent under name, and
// propagates the one-entry stats delta up the tree (spec §3 Lifecycle
// "created by create_node", invariant I3).
func (e *Engine) createNode(ts int64, parent *node, name string, typ NodeType, mode uint16, uid, gid uint32) *node {
	id := e.inodes.allocate(uint32(ts))
	return e.createNodeWithID(ts, id, parent, name, typ, mode, uid, gid)
}

// createNodeWithID is createNode with the inode id supplied explicitly,
// used by changelog replay so a shadow's allocation pointer never needs
// to (and cannot safely) re-derive the master's choice independently
// (spec §4.9 "MISMATCH ... diverges from the value embedded in the
// record").
func (e *Engine) createNodeWithID(ts int64, id Ino, parent *node, name string, typ NodeType, mode uint16, uid, gid uint32) *node {
	e.inodes.markUsed(id)
	n := newNode(id, typ, mode, uid, gid, ts)
	n.addParent(parent.id, name)
	e.nodes[id] = n
	parent.insertChild(name, id)
	if typ == TypeDirectory {
		parent.attr.Nlink++ // invariant I2: 2 + subdirectory count
	}
	e.addStatsUp(parent, n.selfStats())
	e.quotas.registerInode(uid, gid, 1)
	e.xorHash(n)
	return n
}

// removeNode destroys an inode: releases its chunks, erases xattrs/ACLs,
// drops quota accounting, and enqueues its number into the inode pool
// (spec §3 Lifecycle).
func (e *Engine) removeNode(ts int64, n *node) {
	e.unxorHash(n)
	if n.isFile() {
		for _, id := range n.chunks.chunks {
			if id != 0 && e.chunks != nil {
				e.chunks.DelRef(id, n.id)
			}
		}
	}
	e.xattrs.removeInode(n.id)
	e.acls.removeInode(n.id)
	e.locks.unlockAll(n.id)
	e.quotas.registerInode(n.attr.Uid, n.attr.Gid, -1)
	if n.isFile() {
		e.quotas.updateSize(n.attr.Uid, n.attr.Gid, -int64(realSize(n.attr.Length)))
	}
	delete(e.nodes, n.id)
	e.inodes.release(n.id, uint32(ts))
}

// addStatsUp applies a positive Summary delta to dir and every ancestor
// up to the root (invariant I3).
func (e *Engine) addStatsUp(dir *node, delta Summary) {
	for d := dir; d != nil; {
		d.stats.add(delta)
		parentID, _, ok := d.firstParent()
		if !ok || d.id == RootInode {
			break
		}
		d = e.getNode(parentID)
	}
}

// subStatsUp applies a negative Summary delta up the tree.
func (e *Engine) subStatsUp(dir *node, delta Summary) {
	for d := dir; d != nil; {
		d.stats.sub(delta)
		parentID, _, ok := d.firstParent()
		if !ok || d.id == RootInode {
			break
		}
		d = e.getNode(parentID)
	}
}

// link creates an edge from parent to an existing child under name
// (hard link; spec §4.2 `link`).
func (e *Engine) link(ts int64, parent, child *node, name string) {
	child.addParent(parent.id, name)
	parent.insertChild(name, child.id)
	if child.isDir() {
		parent.attr.Nlink++
	}
	e.unxorHash(child)
	child.attr.Ctime = ts
	e.xorHash(child)
	e.addStatsUp(parent, child.selfStats())
}

// unlinkEdge removes the (parent,name) edge to child, decrementing
// Nlink; caller decides trash/reserved/destroy disposition.
func (e *Engine) unlinkEdge(ts int64, parent, child *node, name string) (stillLinked bool) {
	parent.removeChild(name)
	stillLinked = child.removeParent(parent.id, name)
	if child.isDir() && parent.attr.Nlink > 0 {
		parent.attr.Nlink--
	}
	e.subStatsUp(parent, child.selfStats())
	return stillLinked
}

// access checks modemask (rwx, as the low 3 bits) against node for the
// caller in ctx, consulting an extended ACL first if present (spec §4.2,
// §4.7).
func (e *Engine) access(ctx Context, n *node, modemask uint8) Status {
	if ctx.Uid() == 0 {
		return StatusOK
	}
	if e.acls.hasExtended(n.id) {
		acl, _ := e.acls.get(n.id, AclAccess)
		if acl.checkAccess(ctx.Uid(), ctx.Gids(), n.attr.Uid, n.attr.Gid, modemask) {
			return StatusOK
		}
		return StatusAccessDenied
	}
	var perm uint16
	switch {
	case ctx.Uid() == n.attr.Uid:
		perm = (n.attr.Mode >> 6) & 7
	case isInGroup(ctx, n.attr.Gid):
		perm = (n.attr.Mode >> 3) & 7
	default:
		perm = n.attr.Mode & 7
	}
	if uint16(modemask)&perm == uint16(modemask) {
		return StatusOK
	}
	return StatusAccessDenied
}

func isInGroup(ctx Context, gid uint32) bool {
	if ctx.Gid() == gid {
		return true
	}
	for _, g := range ctx.Gids() {
		if g == gid {
			return true
		}
	}
	return false
}

// stickyCheck enforces the 't' bit: only root, the directory owner, or
// the entry owner may unlink/rename within a sticky directory (spec §4.2,
// S3).
func stickyCheck(parent, target *node, uid uint32) Status {
	if uid == 0 {
		return StatusOK
	}
	if parent.attr.Mode&01000 == 0 {
		return StatusOK
	}
	if uid == parent.attr.Uid || uid == target.attr.Uid {
		return StatusOK
	}
	return StatusNotPermitted
}

// clearSugid applies the configured sugid-clear policy to mode on an
// ownership change (spec §4.2). isDir describes the node being changed,
// whose group-exec bit is read from mode; changingGID reports whether gid
// is actually being modified.
func clearSugid(policy SugidClearMode, mode uint16, isDir bool, uid uint32, changingGID bool) uint16 {
	const (
		setuid = 04000
		setgid = 02000
		groupX = 0010
	)
	switch policy {
	case SugidClearNever:
		return mode
	case SugidClearAlways:
		return mode &^ (setuid | setgid)
	case SugidClearOSX:
		if uid != 0 {
			return mode &^ (setuid | setgid)
		}
		return mode
	case SugidClearBSD:
		if changingGID && uid != 0 {
			return mode &^ (setuid | setgid)
		}
		return mode
	case SugidClearExt:
		if !isDir && mode&groupX != 0 {
			return mode &^ (setuid | setgid)
		}
		return mode &^ setuid
	case SugidClearXFS:
		if !isDir {
			if mode&groupX != 0 {
				return mode &^ (setuid | setgid)
			}
			return mode &^ setuid
		}
		if uid != 0 {
			return mode &^ (setuid | setgid)
		}
		return mode
	default:
		return mode
	}
}

// isAncestor reports whether candidate is p or an ancestor of p, used to
// refuse moving a directory into its own subtree (spec §4.2 "Moving a
// directory into its own subtree is refused").
func (e *Engine) isAncestor(candidate *node, p *node) bool {
	for cur := p; cur != nil; {
		if cur.id == candidate.id {
			return true
		}
		parentID, _, ok := cur.firstParent()
		if !ok || cur.id == RootInode {
			return false
		}
		cur = e.getNode(parentID)
	}
	return false
}
