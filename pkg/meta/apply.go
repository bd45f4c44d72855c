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

// apply.go holds every operation's shadow-side replay function (the
// teacher's and original_source's fs_apply_* counterpart to ops.go's
// request-handling path, spec §4.9). These run with root's authority:
// the master already performed every permission/quota check before
// emitting the record, so a replay only has to reproduce the mutation
// deterministically — any field it independently recomputes (the
// allocated inode id, a chunk id) must match what travelled in args, or
// it returns StatusMismatch.
package meta

import "strconv"

func mustU32(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}

func mustU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func mustI64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func mustU8(s string) uint8 {
	v, _ := strconv.ParseUint(s, 10, 8)
	return uint8(v)
}

func mustBool(s string) bool { return s == "1" }

func init() {
	RegisterApply("SESSION", applySession)
	RegisterApply("CLOSESESSION", applyCloseSession)
	RegisterApply("PURGE", applyPurge)
	RegisterApply("SETATTR", applySetAttr)
	RegisterApply("MKNOD", applyMknod)
	RegisterApply("SYMLINK", applySymlink)
	RegisterApply("LINK", applyLink)
	RegisterApply("UNLINK", applyUnlink)
	RegisterApply("RMDIR", applyRmdir)
	RegisterApply("RENAME", applyRename)
	RegisterApply("WRITECHUNK", applyWriteChunk)
	RegisterApply("SETXATTR", applySetXattr)
	RegisterApply("REMOVEXATTR", applyRemoveXattr)
	RegisterApply("SETACL", applySetAcl)
	RegisterApply("SETLK", applySetLk)
	RegisterApply("SETQUOTA", applySetQuota)
	RegisterApply("UNDEL", applyUndel)
	RegisterApply("APPEND", applyAppend)
	RegisterApply("REPAIR", applyRepair)
	RegisterApply("SETTRASHPATH", applySetTrashPath)
}

func applySession(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	sid := mustU32(args[0])
	s := &Session{Sid: sid, SessionInfo: SessionInfo{Hostname: args[1], MountPoint: args[2]}}
	e.sessions[sid] = s
	if sid >= e.nextSessionID {
		e.nextSessionID = sid + 1
	}
	return StatusOK
}

func applyCloseSession(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	sid := mustU32(args[0])
	if _, ok := e.sessions[sid]; !ok {
		return StatusOK
	}
	for _, n := range e.nodes {
		if n.sessions != nil && n.sessions[sid] {
			delete(n.sessions, sid)
			if n.state == stateReserved && !n.open() {
				e.reserved.remove(n.id)
				e.removeNode(ts, n)
			}
		}
	}
	for inode := range e.locks.active {
		e.unlockSessionOwners(inode, sid)
	}
	for inode := range e.locks.pending {
		e.locks.removePending(inode, func(o LockOwner) bool { return o.Session == sid })
	}
	delete(e.sessions, sid)
	return StatusOK
}

func applyPurge(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	n := e.getNode(inode)
	if n == nil {
		return StatusOK // already converged, e.g. via CLOSESESSION's own purge
	}
	switch n.state {
	case stateTrash:
		e.trash.remove(inode)
	case stateReserved:
		e.reserved.remove(inode)
	}
	e.removeNode(ts, n)
	return StatusOK
}

func applySetAttr(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	mask := uint32(mustU64(args[1]))
	n := e.getNode(inode)
	if n == nil {
		return StatusMismatch
	}
	e.unxorHash(n)
	if mask&SetAttrUID != 0 {
		n.attr.Uid = mustU32(args[2])
	}
	if mask&SetAttrGID != 0 {
		n.attr.Gid = mustU32(args[3])
	}
	if mask&(SetAttrMode|SetAttrUID|SetAttrGID) != 0 {
		n.attr.Mode = uint16(mustU64(args[4]))
	}
	if mask&SetAttrSize != 0 {
		newLength := mustU64(args[5])
		oldStats := n.selfStats()
		oldLength := n.attr.Length
		n.attr.Length = newLength
		const chunkSize = uint64(1) << 26
		newChunkCount := uint32((newLength + chunkSize - 1) / chunkSize)
		if newLength == 0 {
			newChunkCount = 0
		}
		if newChunkCount < n.chunks.length() {
			released := n.chunks.truncateTo(newChunkCount)
			if e.chunks != nil {
				for _, id := range released {
					e.chunks.DelRef(id, n.id)
				}
			}
		}
		delta := int64(realSize(newLength)) - int64(realSize(oldLength))
		e.quotas.updateSize(n.attr.Uid, n.attr.Gid, delta)
		newStats := n.selfStats()
		if parentID, _, ok := n.firstParent(); ok {
			if parent := e.getNode(parentID); parent != nil {
				newStats.sub(oldStats)
				e.addStatsUp(parent, newStats)
			}
		}
	}
	if mask&(SetAttrAtime|SetAttrAtimeNow) != 0 {
		n.attr.Atime = mustI64(args[6])
	}
	if mask&(SetAttrMtime|SetAttrMtimeNow) != 0 {
		n.attr.Mtime = mustI64(args[7])
	}
	n.attr.Ctime = ts
	e.xorHash(n)
	return StatusOK
}

func applyMknod(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	parent := Ino(mustU32(args[0]))
	name := args[1]
	id := Ino(mustU32(args[2]))
	typ := NodeType(mustU8(args[3]))
	mode := uint16(mustU64(args[4]))
	rdev := mustU32(args[5])
	uid := mustU32(args[6])
	gid := mustU32(args[7])
	p := e.getNode(parent)
	if p == nil {
		return StatusMismatch
	}
	n := e.createNodeWithID(ts, id, p, name, typ, mode, uid, gid)
	n.attr.Rdev = rdev
	n.attr.Trashtime = p.attr.Trashtime
	n.attr.Goal = p.attr.Goal
	return StatusOK
}

func applySymlink(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	parent := Ino(mustU32(args[0]))
	name := args[1]
	id := Ino(mustU32(args[2]))
	target := args[3]
	uid := mustU32(args[4])
	gid := mustU32(args[5])
	p := e.getNode(parent)
	if p == nil {
		return StatusMismatch
	}
	n := e.createNodeWithID(ts, id, p, name, TypeSymlink, 0777, uid, gid)
	n.attr.Trashtime = p.attr.Trashtime
	n.attr.Goal = p.attr.Goal
	e.unxorHash(n)
	n.target = []byte(target)
	e.xorHash(n)
	return StatusOK
}

func applyLink(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	newParent := Ino(mustU32(args[1]))
	newName := args[2]
	child := e.getNode(inode)
	parent := e.getNode(newParent)
	if child == nil || parent == nil {
		return StatusMismatch
	}
	e.link(ts, parent, child, newName)
	return StatusOK
}

func applyUnlink(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	parent := Ino(mustU32(args[0]))
	name := args[1]
	p := e.getNode(parent)
	if p == nil {
		return StatusMismatch
	}
	child := e.getNode(p.children[name])
	if child == nil {
		return StatusMismatch
	}
	e.unlinkAndDispose(ts, p, child, name)
	return StatusOK
}

func applyRmdir(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	parent := Ino(mustU32(args[0]))
	name := args[1]
	p := e.getNode(parent)
	if p == nil {
		return StatusMismatch
	}
	child := e.getNode(p.children[name])
	if child == nil {
		return StatusMismatch
	}
	e.unlinkEdge(ts, p, child, name)
	e.removeNode(ts, child)
	return StatusOK
}

func applyRename(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	srcParent := Ino(mustU32(args[0]))
	srcName := args[1]
	dstParent := Ino(mustU32(args[2]))
	dstName := args[3]
	flags := uint32(mustU64(args[4]))
	sp := e.getNode(srcParent)
	dp := e.getNode(dstParent)
	if sp == nil || dp == nil {
		return StatusMismatch
	}
	src := e.getNode(sp.children[srcName])
	if src == nil {
		return StatusMismatch
	}
	if existingID, ok := dp.children[dstName]; ok {
		dst := e.getNode(existingID)
		if flags&RenameExchange != 0 {
			e.unlinkEdge(ts, dp, dst, dstName)
			e.unlinkEdge(ts, sp, src, srcName)
			e.link(ts, dp, src, dstName)
			e.link(ts, sp, dst, srcName)
			return StatusOK
		}
		e.unlinkAndDispose(ts, dp, dst, dstName)
	}
	e.unlinkEdge(ts, sp, src, srcName)
	e.link(ts, dp, src, dstName)
	return StatusOK
}

func applyWriteChunk(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	index := mustU32(args[1])
	id := ChunkID(mustU64(args[2]))
	n := e.getNode(inode)
	if n == nil {
		return StatusMismatch
	}
	existing := n.chunks.get(index)
	if existing != 0 {
		if e.chunks != nil {
			e.chunks.AddRef(existing, n.id, n.attr.Goal)
		}
		return StatusOK
	}
	n.chunks.set(index, id)
	return StatusOK
}

func applySetXattr(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	name := args[1]
	value := []byte(args[2])
	mode := XattrSetMode(mustU8(args[3]))
	if e.getNode(inode) == nil {
		return StatusMismatch
	}
	if old, ok := e.xattrs.get(inode, name); ok {
		e.xorXattr(inode, name, old)
	}
	if st := e.xattrs.set(inode, name, value, mode); !st.OK() {
		return StatusOK // master already validated this write; a stale CreateOnly conflict here is not a divergence
	}
	e.xorXattr(inode, name, value)
	return StatusOK
}

func applyRemoveXattr(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	name := args[1]
	if old, ok := e.xattrs.get(inode, name); ok {
		e.xorXattr(inode, name, old)
	}
	e.xattrs.set(inode, name, nil, XattrRemove)
	return StatusOK
}

func applySetAcl(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	typ := AclType(mustU8(args[1]))
	acl := parseAcl(args[2])
	if e.getNode(inode) == nil {
		return StatusMismatch
	}
	e.acls.set(inode, typ, acl)
	return StatusOK
}

func applySetLk(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	r := LockRange{
		Type:  LockType(mustU8(args[1])),
		Start: mustU64(args[2]),
		End:   mustU64(args[3]),
	}
	for i := 4; i+1 < len(args); i += 2 {
		r.Owners = append(r.Owners, LockOwner{Session: mustU32(args[i]), Owner: mustU64(args[i+1])})
	}
	if e.getNode(inode) == nil {
		return StatusMismatch
	}
	if r.Type == LockUnlock {
		e.locks.insert(inode, r)
		for _, cand := range e.locks.gatherCandidates(inode, r.Start, r.End) {
			if !e.locks.apply(inode, cand, true) {
				e.locks.enqueue(inode, cand)
			}
		}
		return StatusOK
	}
	e.locks.apply(inode, r, true)
	return StatusOK
}

func applySetQuota(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	kind := OwnerKind(mustU8(args[0]))
	id := mustU32(args[1])
	e.quotas.setQuota(kind, id, mustU64(args[2]), mustU64(args[3]), mustU64(args[4]), mustU64(args[5]))
	return StatusOK
}

func applyUndel(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	newParent := Ino(mustU32(args[1]))
	newName := args[2]
	n := e.getNode(inode)
	parent := e.getNode(newParent)
	if n == nil || parent == nil {
		return StatusMismatch
	}
	e.trash.remove(inode)
	n.state = stateNormal
	e.link(ts, parent, n, newName)
	return StatusOK
}

// applyAppend replays Append by recomputing the identical mutation from
// (dst, src)'s current chunk tables, the same way applySetAttr
// recomputes setLength's mutation instead of trusting a transmitted
// result.
func applyAppend(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	dst := Ino(mustU32(args[0]))
	src := Ino(mustU32(args[1]))
	d := e.getNode(dst)
	s := e.getNode(src)
	if d == nil || s == nil {
		return StatusMismatch
	}
	const chunkSize = uint64(1) << 26
	dstChunkCount := d.chunks.length()
	newLength := uint64(dstChunkCount)*chunkSize + s.attr.Length
	e.appendChunks(ts, d, s, dstChunkCount, newLength)
	return StatusOK
}

// applyRepair replays a REPAIR record's (index, newVersion) pairs:
// newVersion == 0 means the chunk was erased, newVersion > 0 means it
// was repaired in place and the chunk id itself is unchanged.
func applyRepair(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	n := e.getNode(inode)
	if n == nil {
		return StatusMismatch
	}
	for i := 1; i+1 < len(args); i += 2 {
		index := mustU32(args[i])
		newVersion := mustU64(args[i+1])
		if newVersion == 0 {
			n.chunks.set(index, 0)
		}
	}
	return StatusOK
}

func applySetTrashPath(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
	inode := Ino(mustU32(args[0]))
	path := args[1]
	if e.getNode(inode) == nil {
		return StatusMismatch
	}
	e.trash.paths[inode] = path
	return StatusOK
}
