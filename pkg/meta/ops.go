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

// Package meta's ops.go is the Operation layer (spec §4.2, "public entry
// points"): the façade every wire-protocol handler calls into. Each
// exported method here validates input and permissions, mutates the
// graph through namespace.go/chunk.go/lock.go/quota.go, times itself in
// opDist, and — only on success and only when acting as Master — emits
// exactly one changelog record via emitMaster.
package meta

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func timeOp(name string) func() {
	timer := prometheus.NewTimer(opDist.WithLabelValues(name))
	return func() { timer.ObserveDuration() }
}

// Lookup resolves name inside parent (spec §4.2 "lookup").
func (e *Engine) Lookup(ctx Context, parent Ino, name string) (Ino, Attr, Status) {
	defer timeOp("lookup")()
	if st := nameCheck(name); !st.OK() {
		return 0, Attr{}, st
	}
	p, st := mustDir(e.getNode(parent))
	if !st.OK() {
		return 0, Attr{}, st
	}
	if st := e.access(ctx, p, 1); !st.OK() {
		return 0, Attr{}, st
	}
	child, st := e.lookupChild(p, name)
	if !st.OK() {
		return 0, Attr{}, st
	}
	return child.id, child.attr, StatusOK
}

// GetAttr returns an inode's attributes.
func (e *Engine) GetAttr(ctx Context, inode Ino) (Attr, Status) {
	defer timeOp("getattr")()
	n := e.getNode(inode)
	if n == nil {
		return Attr{}, StatusNotFound
	}
	return n.attr, StatusOK
}

// Access checks modemask against inode for ctx's caller (spec §4.2
// "access").
func (e *Engine) Access(ctx Context, inode Ino, modemask uint8) Status {
	defer timeOp("access")()
	n := e.getNode(inode)
	if n == nil {
		return StatusNotFound
	}
	return e.access(ctx, n, modemask)
}

// SetAttr applies the fields selected by mask to inode (spec §4.2
// "setattr"), clearing sugid bits per the configured policy on an
// ownership change.
func (e *Engine) SetAttr(ctx Context, ts int64, inode Ino, mask uint32, attr Attr) (Attr, Status) {
	defer timeOp("setattr")()
	n := e.getNode(inode)
	if n == nil {
		return Attr{}, StatusNotFound
	}
	if ctx.Uid() != 0 && ctx.Uid() != n.attr.Uid {
		return Attr{}, StatusAccessDenied
	}
	e.unxorHash(n)
	changingGID := mask&SetAttrGID != 0 && attr.Gid != n.attr.Gid
	if mask&SetAttrUID != 0 {
		n.attr.Uid = attr.Uid
	}
	if mask&SetAttrGID != 0 {
		n.attr.Gid = attr.Gid
	}
	if mask&SetAttrMode != 0 {
		mode := clearSugid(e.config.SugidClearMode, attr.Mode, n.isDir(), ctx.Uid(), changingGID)
		n.attr.Mode = mode
	} else if mask&(SetAttrUID|SetAttrGID) != 0 {
		n.attr.Mode = clearSugid(e.config.SugidClearMode, n.attr.Mode, n.isDir(), ctx.Uid(), changingGID)
	}
	if mask&SetAttrSize != 0 {
		if st := e.setLength(ts, n, attr.Length); !st.OK() {
			e.xorHash(n)
			return Attr{}, st
		}
	}
	if mask&SetAttrAtime != 0 {
		n.attr.Atime = attr.Atime
	}
	if mask&SetAttrMtime != 0 {
		n.attr.Mtime = attr.Mtime
	}
	if mask&SetAttrAtimeNow != 0 {
		n.attr.Atime = ts
	}
	if mask&SetAttrMtimeNow != 0 {
		n.attr.Mtime = ts
	}
	n.attr.Ctime = ts
	e.xorHash(n)
	// The replayed fields are the node's resulting values, not the
	// request's, so a shadow applies the same post-clearSugid mode and
	// post-quota-checked length the master actually committed.
	e.emitMaster(ts, "SETATTR", []string{
		itoa(uint64(inode)), itoa(uint64(mask)),
		itoa(uint64(n.attr.Uid)), itoa(uint64(n.attr.Gid)), itoa(uint64(n.attr.Mode)),
		itoa(n.attr.Length), itoaSigned(n.attr.Atime), itoaSigned(n.attr.Mtime),
	}, "", false)
	return n.attr, StatusOK
}

// setLength resizes a file's logical length, growing/shrinking its chunk
// table and propagating the stats delta up the tree (spec §4.3 "truncate
// (try_setlength + do_setlength + end)").
func (e *Engine) setLength(ts int64, n *node, newLength uint64) Status {
	if !n.isFile() {
		return StatusInvalidArgument
	}
	if e.quotas.sizeQuotaExceeded(n.attr.Uid, n.attr.Gid) && newLength > n.attr.Length {
		return StatusQuotaExceeded
	}
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
	return StatusOK
}

// Mknod creates a non-directory inode (regular file, device, fifo,
// socket) under parent (spec §4.2 "mknod").
func (e *Engine) Mknod(ctx Context, ts int64, parent Ino, name string, typ NodeType, mode uint16, rdev uint32) (Ino, Attr, Status) {
	defer timeOp("mknod")()
	p, st := mustDir(e.getNode(parent))
	if !st.OK() {
		return 0, Attr{}, st
	}
	if st := nameCheck(name); !st.OK() {
		return 0, Attr{}, st
	}
	if _, ok := p.children[name]; ok {
		return 0, Attr{}, StatusAlreadyExists
	}
	if st := e.access(ctx, p, 3); !st.OK() {
		return 0, Attr{}, st
	}
	if e.quotas.inodeQuotaExceeded(ctx.Uid(), ctx.Gid()) {
		return 0, Attr{}, StatusQuotaExceeded
	}
	n := e.createNode(ts, p, name, typ, mode, ctx.Uid(), ctx.Gid())
	n.attr.Rdev = rdev
	n.attr.Trashtime = p.attr.Trashtime
	n.attr.Goal = p.attr.Goal
	e.emitMaster(ts, "MKNOD", []string{
		itoa(uint64(parent)), name, itoa(uint64(n.id)), itoa(uint64(typ)), itoa(uint64(mode)), itoa(uint64(rdev)),
		itoa(uint64(ctx.Uid())), itoa(uint64(ctx.Gid())),
	}, "", false)
	return n.id, n.attr, StatusOK
}

// Mkdir creates a directory under parent (spec §4.2 "mkdir").
func (e *Engine) Mkdir(ctx Context, ts int64, parent Ino, name string, mode uint16) (Ino, Attr, Status) {
	defer timeOp("mkdir")()
	id, attr, st := e.Mknod(ctx, ts, parent, name, TypeDirectory, mode, 0)
	return id, attr, st
}

// Symlink creates a symlink under parent pointing at target (spec §4.2
// "symlink"). Kept independent of Mknod, rather than delegating to it,
// so the target bytes travel inside the same changelog record as the
// node creation instead of a second untracked mutation afterward.
func (e *Engine) Symlink(ctx Context, ts int64, parent Ino, name string, target []byte) (Ino, Attr, Status) {
	defer timeOp("symlink")()
	p, st := mustDir(e.getNode(parent))
	if !st.OK() {
		return 0, Attr{}, st
	}
	if st := nameCheck(name); !st.OK() {
		return 0, Attr{}, st
	}
	if _, ok := p.children[name]; ok {
		return 0, Attr{}, StatusAlreadyExists
	}
	if st := e.access(ctx, p, 3); !st.OK() {
		return 0, Attr{}, st
	}
	if e.quotas.inodeQuotaExceeded(ctx.Uid(), ctx.Gid()) {
		return 0, Attr{}, StatusQuotaExceeded
	}
	n := e.createNode(ts, p, name, TypeSymlink, 0777, ctx.Uid(), ctx.Gid())
	n.attr.Trashtime = p.attr.Trashtime
	n.attr.Goal = p.attr.Goal
	e.unxorHash(n)
	n.target = append([]byte(nil), target...)
	e.xorHash(n)
	e.emitMaster(ts, "SYMLINK", []string{
		itoa(uint64(parent)), name, itoa(uint64(n.id)), string(target),
		itoa(uint64(ctx.Uid())), itoa(uint64(ctx.Gid())),
	}, "", false)
	return n.id, n.attr, StatusOK
}

// Readlink returns a symlink's raw target bytes.
func (e *Engine) Readlink(inode Ino) ([]byte, Status) {
	defer timeOp("readlink")()
	n := e.getNode(inode)
	if n == nil {
		return nil, StatusNotFound
	}
	if !n.isSymlink() {
		return nil, StatusInvalidArgument
	}
	return n.target, StatusOK
}

// Link creates a hard link to an existing inode under newparent/newname
// (spec §4.2 "link").
func (e *Engine) Link(ctx Context, ts int64, inode, newParent Ino, newName string) (Attr, Status) {
	defer timeOp("link")()
	if st := nameCheck(newName); !st.OK() {
		return Attr{}, st
	}
	child := e.getNode(inode)
	if child == nil {
		return Attr{}, StatusNotFound
	}
	if child.isDir() {
		return Attr{}, StatusNotPermitted
	}
	parent, st := mustDir(e.getNode(newParent))
	if !st.OK() {
		return Attr{}, st
	}
	if _, ok := parent.children[newName]; ok {
		return Attr{}, StatusAlreadyExists
	}
	if st := e.access(ctx, parent, 3); !st.OK() {
		return Attr{}, st
	}
	e.link(ts, parent, child, newName)
	e.emitMaster(ts, "LINK", []string{itoa(uint64(inode)), itoa(uint64(newParent)), newName}, "", false)
	return child.attr, StatusOK
}

// Unlink removes a non-directory edge, applying trash/reserved/destroy
// disposition per invariant I9 (spec §4.2 "Trash/Reserved transitions").
func (e *Engine) Unlink(ctx Context, ts int64, parent Ino, name string) Status {
	defer timeOp("unlink")()
	p, st := mustDir(e.getNode(parent))
	if !st.OK() {
		return st
	}
	child, st := e.lookupChild(p, name)
	if !st.OK() {
		return st
	}
	if child.isDir() {
		return StatusIsADirectory
	}
	if st := e.access(ctx, p, 3); !st.OK() {
		return st
	}
	if st := stickyCheck(p, child, ctx.Uid()); !st.OK() {
		return st
	}
	e.unlinkAndDispose(ts, p, child, name)
	e.emitMaster(ts, "UNLINK", []string{itoa(uint64(parent)), name}, "", false)
	return StatusOK
}

// unlinkAndDispose removes the (parent,name) edge and, once the child has
// no remaining links, applies the trash/reserved/destroy decision tree
// (spec §4.2, invariant I1/I9).
func (e *Engine) unlinkAndDispose(ts int64, parent, child *node, name string) {
	stillLinked := e.unlinkEdge(ts, parent, child, name)
	if stillLinked {
		return
	}
	switch {
	case child.attr.Trashtime > 0:
		child.state = stateTrash
		deadline := uint32(child.attr.Ctime) + child.attr.Trashtime
		e.trash.add(child.id, deadline, name)
	case child.open():
		child.state = stateReserved
		e.reserved.add(child.id, name)
	default:
		e.removeNode(ts, child)
	}
}

// Rmdir removes an empty directory edge.
func (e *Engine) Rmdir(ctx Context, ts int64, parent Ino, name string) Status {
	defer timeOp("rmdir")()
	p, st := mustDir(e.getNode(parent))
	if !st.OK() {
		return st
	}
	child, st := e.lookupChild(p, name)
	if !st.OK() {
		return st
	}
	if !child.isDir() {
		return StatusNotDirectory
	}
	if len(child.children) > 0 {
		return StatusNotEmpty
	}
	if st := e.access(ctx, p, 3); !st.OK() {
		return st
	}
	if st := stickyCheck(p, child, ctx.Uid()); !st.OK() {
		return st
	}
	e.unlinkEdge(ts, p, child, name)
	e.removeNode(ts, child)
	e.emitMaster(ts, "RMDIR", []string{itoa(uint64(parent)), name}, "", false)
	return StatusOK
}

// Rename moves/replaces srcName under srcParent to dstName under
// dstParent (spec §4.2 "rename", edge cases: non-empty dir destination,
// self-subtree moves, sticky bit).
func (e *Engine) Rename(ctx Context, ts int64, srcParent Ino, srcName string, dstParent Ino, dstName string, flags uint32) Status {
	defer timeOp("rename")()
	sp, st := mustDir(e.getNode(srcParent))
	if !st.OK() {
		return st
	}
	dp, st := mustDir(e.getNode(dstParent))
	if !st.OK() {
		return st
	}
	if st := nameCheck(dstName); !st.OK() {
		return st
	}
	src, st := e.lookupChild(sp, srcName)
	if !st.OK() {
		return st
	}
	if st := e.access(ctx, sp, 3); !st.OK() {
		return st
	}
	if st := e.access(ctx, dp, 3); !st.OK() {
		return st
	}
	if st := stickyCheck(sp, src, ctx.Uid()); !st.OK() {
		return st
	}
	if src.isDir() && e.isAncestor(src, dp) {
		return StatusInvalidArgument
	}
	if dst, st := e.lookupChild(dp, dstName); st.OK() {
		if flags&RenameNoReplace != 0 {
			return StatusAlreadyExists
		}
		if dst.isDir() && len(dst.children) > 0 {
			return StatusNotEmpty
		}
		if flags&RenameExchange != 0 {
			e.unlinkEdge(ts, dp, dst, dstName)
			e.unlinkEdge(ts, sp, src, srcName)
			e.link(ts, dp, src, dstName)
			e.link(ts, sp, dst, srcName)
			e.emitMaster(ts, "RENAME", []string{itoa(uint64(srcParent)), srcName, itoa(uint64(dstParent)), dstName, itoa(uint64(flags))}, "", false)
			return StatusOK
		}
		if st := stickyCheck(dp, dst, ctx.Uid()); !st.OK() {
			return st
		}
		e.unlinkAndDispose(ts, dp, dst, dstName)
	}
	e.unlinkEdge(ts, sp, src, srcName)
	e.link(ts, dp, src, dstName)
	e.emitMaster(ts, "RENAME", []string{itoa(uint64(srcParent)), srcName, itoa(uint64(dstParent)), dstName, itoa(uint64(flags))}, "", false)
	return StatusOK
}

// Readdir lists parent's children starting after cookie entries
// (spec §4.2 "readdir(cookie)").
func (e *Engine) Readdir(ctx Context, parent Ino, cookie int, limit int) ([]Entry, Status) {
	defer timeOp("readdir")()
	p, st := mustDir(e.getNode(parent))
	if !st.OK() {
		return nil, st
	}
	if st := e.access(ctx, p, 1); !st.OK() {
		return nil, st
	}
	var out []Entry
	for i := cookie; i < len(p.childOrd); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		name := p.childOrd[i]
		child := e.getNode(p.children[name])
		if child == nil {
			continue
		}
		out = append(out, Entry{Inode: child.id, Name: []byte(name), Attr: child.attr})
	}
	return out, StatusOK
}

// Open registers sid as holding inode open (spec §4.2 "open/acquire").
func (e *Engine) Open(ctx Context, inode Ino, sid uint32) (Attr, Status) {
	defer timeOp("open")()
	n := e.getNode(inode)
	if n == nil {
		return Attr{}, StatusNotFound
	}
	if st := e.OpenFile(inode, sid); !st.OK() {
		return Attr{}, st
	}
	if !e.config.NoAtime {
		n.attr.Atime = time.Now().Unix()
	}
	return n.attr, StatusOK
}

// Release drops sid's hold on inode (spec §4.2 "release").
func (e *Engine) Release(ts int64, inode Ino, sid uint32) Status {
	defer timeOp("release")()
	return e.CloseFile(ts, inode, sid)
}

// ReadChunk resolves the chunk id backing inode's index'th chunk (spec
// §4.2 "read_chunk"). When MagicAutoFileRepair is enabled, a chunk the
// coordinator reports as having only invalid copies is repaired inline
// before the id is returned, mirroring fs_auto_repair_if_needed, which
// fires from the read path instead of waiting for an explicit repair()
// call.
func (e *Engine) ReadChunk(ts int64, inode Ino, index uint32) (ChunkID, uint64, Status) {
	defer timeOp("readchunk")()
	n := e.getNode(inode)
	if n == nil || !n.isFile() {
		return 0, 0, StatusNotFound
	}
	id := n.chunks.get(index)
	if e.config.MagicAutoFileRepair && id != 0 && e.chunks != nil {
		if newVersion, changed, st := e.chunks.Repair(id, n.attr.Goal); st.OK() && changed {
			if newVersion == 0 {
				n.chunks.set(index, 0)
				id = 0
			}
			e.emitMaster(ts, "REPAIR", []string{itoa(uint64(inode)), itoa(uint64(index)), itoa(newVersion)}, "", false)
		}
	}
	return id, n.attr.Length, StatusOK
}

// WriteChunk allocates or extends a chunk at index, enforcing the quota
// check and growth policy (spec §4.2 "write_chunk", §4.3 growth policy).
func (e *Engine) WriteChunk(ctx Context, ts int64, inode Ino, index uint32) (ChunkID, Status) {
	defer timeOp("writechunk")()
	n := e.getNode(inode)
	if n == nil || !n.isFile() {
		return 0, StatusNotFound
	}
	if e.quotas.sizeQuotaExceeded(n.attr.Uid, n.attr.Gid) {
		return 0, StatusQuotaExceeded
	}
	existing := n.chunks.get(index)
	if existing != 0 {
		if e.chunks != nil {
			if st := e.chunks.AddRef(existing, n.id, n.attr.Goal); !st.OK() {
				return 0, st
			}
		}
		e.emitMaster(ts, "WRITECHUNK", []string{itoa(uint64(inode)), itoa(uint64(index)), itoa(uint64(existing))}, "", false)
		return existing, StatusOK
	}
	var id ChunkID = ChunkID(index) + 1 // deterministic placeholder id absent a live coordinator
	if e.chunks != nil {
		var st Status
		id, st = e.chunks.NewChunk(n.id, index, n.attr.Goal)
		if !st.OK() {
			return 0, st
		}
	}
	n.chunks.set(index, id)
	e.emitMaster(ts, "WRITECHUNK", []string{itoa(uint64(inode)), itoa(uint64(index)), itoa(uint64(id))}, "", false)
	return id, StatusOK
}

// Append concatenates src's chunk table onto dst's tail as whole chunks
// (spec §4.2 "append(dst, src) -> ok", fsnodes_appendchunks): dst's
// existing last chunk slot is treated as full-size and src's chunks are
// placed starting at dst's chunk count. src itself is left untouched.
func (e *Engine) Append(ctx Context, ts int64, dst, src Ino) Status {
	defer timeOp("append")()
	if dst == src {
		return StatusInvalidArgument
	}
	d := e.getNode(dst)
	s := e.getNode(src)
	if d == nil || s == nil {
		return StatusNotFound
	}
	if !d.isFile() || !s.isFile() {
		return StatusInvalidArgument
	}
	if st := e.access(ctx, d, 2); !st.OK() {
		return st
	}
	if st := e.access(ctx, s, 4); !st.OK() {
		return st
	}
	const chunkSize = uint64(1) << 26
	dstChunkCount := d.chunks.length()
	newLength := uint64(dstChunkCount)*chunkSize + s.attr.Length
	if e.quotas.sizeQuotaExceeded(d.attr.Uid, d.attr.Gid) && newLength > d.attr.Length {
		return StatusQuotaExceeded
	}
	e.appendChunks(ts, d, s, dstChunkCount, newLength)
	e.emitMaster(ts, "APPEND", []string{itoa(uint64(dst)), itoa(uint64(src))}, "", false)
	return StatusOK
}

// appendChunks performs Append's mutation; shared between the Master
// request path and the Shadow replay path (applyAppend) so both
// recompute the identical result from (dst, src).
func (e *Engine) appendChunks(ts int64, d, s *node, dstChunkCount uint32, newLength uint64) {
	oldStats := d.selfStats()
	oldLength := d.attr.Length
	e.unxorHash(d)
	for i := uint32(0); i < s.chunks.length(); i++ {
		if id := s.chunks.get(i); id != 0 {
			d.chunks.set(dstChunkCount+i, id)
			if e.chunks != nil {
				e.chunks.AddRef(id, d.id, d.attr.Goal)
			}
		}
	}
	d.attr.Length = newLength
	d.attr.Mtime = ts
	d.attr.Ctime = ts
	e.xorHash(d)
	delta := int64(realSize(newLength)) - int64(realSize(oldLength))
	e.quotas.updateSize(d.attr.Uid, d.attr.Gid, delta)
	newStats := d.selfStats()
	if parentID, _, ok := d.firstParent(); ok {
		if parent := e.getNode(parentID); parent != nil {
			newStats.sub(oldStats)
			e.addStatsUp(parent, newStats)
		}
	}
}

// Repair walks inode's chunk table and asks the coordinator to validate
// each chunk against goal, erasing or fixing what it can (spec §4.2
// "repair(inode) -> (notchanged, erased, repaired)", fs_repair/
// fs_apply_repair). Every changed chunk travels in a single REPAIR
// changelog record as (index, newVersion) pairs, consistent with this
// engine's one-record-per-operation rule.
func (e *Engine) Repair(ts int64, inode Ino) (notChanged, erased, repaired int, st Status) {
	defer timeOp("repair")()
	n := e.getNode(inode)
	if n == nil {
		return 0, 0, 0, StatusNotFound
	}
	if !n.isFile() {
		return 0, 0, 0, StatusInvalidArgument
	}
	args := []string{itoa(uint64(inode))}
	if e.chunks == nil {
		notChanged = int(n.chunks.length())
	} else {
		for i := uint32(0); i < n.chunks.length(); i++ {
			id := n.chunks.get(i)
			if id == 0 {
				continue
			}
			newVersion, changed, cst := e.chunks.Repair(id, n.attr.Goal)
			if !cst.OK() {
				return notChanged, erased, repaired, cst
			}
			if !changed {
				notChanged++
				continue
			}
			if newVersion == 0 {
				n.chunks.set(i, 0)
				erased++
			} else {
				repaired++
			}
			args = append(args, itoa(uint64(i)), itoa(newVersion))
		}
	}
	e.emitMaster(ts, "REPAIR", args, "", false)
	return notChanged, erased, repaired, StatusOK
}

// SetTrashPath renames the stored path of a trash entry (spec §4.2
// "settrashpath", fs_settrashpath).
func (e *Engine) SetTrashPath(ts int64, inode Ino, path string) Status {
	defer timeOp("settrashpath")()
	n := e.getNode(inode)
	if n == nil || n.state != stateTrash {
		return StatusNotFound
	}
	if path == "" || strings.ContainsRune(path, 0) {
		return StatusInvalidArgument
	}
	e.trash.paths[inode] = path
	e.emitMaster(ts, "SETTRASHPATH", []string{itoa(uint64(inode)), path}, "", false)
	return StatusOK
}

// ListTrash encodes every trash entry as a (namelen byte, name bytes
// with '/' replaced by '|', big-endian uint32 inode) record per entry
// (spec §4.2 "trash/reserved listing -> bytes", fsnodes_getdetacheddata).
func (e *Engine) ListTrash() ([]byte, Status) {
	defer timeOp("listtrash")()
	return encodeDetached(e.trash.paths), StatusOK
}

// ListReserved is ListTrash's counterpart over still-open, deleted
// entries parked in Reserved.
func (e *Engine) ListReserved() ([]byte, Status) {
	defer timeOp("listreserved")()
	return encodeDetached(e.reserved.paths), StatusOK
}

func encodeDetached(paths map[Ino]string) []byte {
	ids := make([]Ino, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sortInos(ids)
	var buf []byte
	w := newByteWriter(&buf)
	for _, id := range ids {
		name := strings.ReplaceAll(paths[id], "/", "|")
		if len(name) > 255 {
			name = name[:255]
		}
		w.u8(uint8(len(name)))
		w.bytes([]byte(name))
		w.u32(uint32(id))
	}
	return buf
}

// GetXattr returns a single extended attribute's value.
func (e *Engine) GetXattr(inode Ino, name string) ([]byte, Status) {
	defer timeOp("getxattr")()
	v, ok := e.xattrs.get(inode, name)
	if !ok {
		return nil, StatusNotFound
	}
	return v, StatusOK
}

// ListXattr lists every attribute name set on inode.
func (e *Engine) ListXattr(inode Ino) ([]string, Status) {
	defer timeOp("listxattr")()
	return e.xattrs.list(inode), StatusOK
}

// SetXattr sets/creates/replaces/removes one extended attribute
// (spec §4.6).
func (e *Engine) SetXattr(ts int64, inode Ino, name string, value []byte, mode XattrSetMode) Status {
	defer timeOp("setxattr")()
	if e.getNode(inode) == nil {
		return StatusNotFound
	}
	if mode != XattrRemove {
		if old, ok := e.xattrs.get(inode, name); ok {
			e.xorXattr(inode, name, old)
		}
	} else if old, ok := e.xattrs.get(inode, name); ok {
		e.xorXattr(inode, name, old)
	}
	st := e.xattrs.set(inode, name, value, mode)
	if !st.OK() {
		return st
	}
	if mode != XattrRemove {
		e.xorXattr(inode, name, value)
	}
	if mode == XattrRemove {
		e.emitMaster(ts, "REMOVEXATTR", []string{itoa(uint64(inode)), name}, "", false)
	} else {
		e.emitMaster(ts, "SETXATTR", []string{itoa(uint64(inode)), name, string(value), itoa(uint64(mode))}, "", false)
	}
	return StatusOK
}

// GetFacl returns inode's access or default ACL.
func (e *Engine) GetFacl(inode Ino, typ AclType) (Acl, Status) {
	defer timeOp("getfacl")()
	a, ok := e.acls.get(inode, typ)
	if !ok {
		return Acl{}, StatusNotFound
	}
	return a, StatusOK
}

// SetFacl installs inode's access or default ACL (spec §4.7 "SETACL").
func (e *Engine) SetFacl(ts int64, inode Ino, typ AclType, acl Acl) Status {
	defer timeOp("setfacl")()
	if e.getNode(inode) == nil {
		return StatusNotFound
	}
	e.acls.set(inode, typ, acl)
	e.emitMaster(ts, "SETACL", []string{itoa(uint64(inode)), itoa(uint64(typ)), acl.serialize()}, "", false)
	return StatusOK
}

// GetLock probes whether range would conflict, without acquiring it.
func (e *Engine) GetLock(inode Ino, r LockRange) (LockRange, bool) {
	defer timeOp("getlk")()
	if e.locks.fits(inode, r) {
		return LockRange{Type: LockUnlock}, false
	}
	for _, other := range e.locks.active[inode] {
		if other.overlaps(r) {
			return other, true
		}
	}
	return LockRange{Type: LockUnlock}, false
}

// SetLock applies or releases a byte-range lock (spec §4.2 "acquire",
// §4.4).
func (e *Engine) SetLock(ts int64, inode Ino, r LockRange, nonblocking bool) Status {
	defer timeOp("setlk")()
	if e.getNode(inode) == nil {
		return StatusNotFound
	}
	if r.Type == LockUnlock {
		e.locks.insert(inode, r)
		for _, cand := range e.locks.gatherCandidates(inode, r.Start, r.End) {
			if !e.locks.apply(inode, cand, true) {
				e.locks.enqueue(inode, cand)
			}
		}
		e.emitMaster(ts, "SETLK", lockArgs(inode, r), "", false)
		return StatusOK
	}
	ok := e.locks.apply(inode, r, nonblocking)
	if !ok {
		if nonblocking {
			return StatusTempNotPossible
		}
		return StatusWaiting
	}
	e.emitMaster(ts, "SETLK", lockArgs(inode, r), "", false)
	return StatusOK
}

// lockArgs renders a lock request as changelog args: inode, type,
// start, end, then one (session,owner) pair per owner (empty for an
// unlock request spanning the whole range).
func lockArgs(inode Ino, r LockRange) []string {
	args := []string{itoa(uint64(inode)), itoa(uint64(r.Type)), itoa(r.Start), itoa(r.End)}
	for _, o := range r.Owners {
		args = append(args, itoa(uint64(o.Session)), itoa(o.Owner))
	}
	return args
}

// GetQuota returns the quota entry for (kind,id).
func (e *Engine) GetQuota(kind OwnerKind, id uint32) (Quota, Status) {
	defer timeOp("getquota")()
	q := e.quotas.get(kind, id)
	if q == nil {
		return Quota{}, StatusNotFound
	}
	return *q, StatusOK
}

// SetQuota installs/updates a quota entry (spec §4.5 "Setting a quota
// emits SETQUOTA").
func (e *Engine) SetQuota(ts int64, kind OwnerKind, id uint32, softInodes, hardInodes, softSize, hardSize uint64) Status {
	defer timeOp("setquota")()
	e.quotas.setQuota(kind, id, softInodes, hardInodes, softSize, hardSize)
	e.emitMaster(ts, "SETQUOTA", []string{
		itoa(uint64(kind)), itoa(uint64(id)),
		itoa(softInodes), itoa(hardInodes), itoa(softSize), itoa(hardSize),
	}, "", false)
	return StatusOK
}

// GetSummary returns a directory's cached recursive Summary (invariant
// I3).
func (e *Engine) GetSummary(inode Ino) (Summary, Status) {
	defer timeOp("getsummary")()
	n, st := mustDir(e.getNode(inode))
	if !st.OK() {
		return Summary{}, st
	}
	return n.stats, StatusOK
}

// SetGoal submits a (possibly recursive) goal change as a task (spec
// §4.11, GLOSSARY "Goal"). onDone, if non-nil, fires exactly once with
// the job's final status once it retires — immediately, if done is
// already true, or later from a TickTasks call.
func (e *Engine) SetGoal(ts int64, inode Ino, goal uint8, recursive bool, onDone TaskCallback) (jobID uint32, done bool, st Status) {
	defer timeOp("setgoal")()
	if e.getNode(inode) == nil {
		return 0, false, StatusNotFound
	}
	id, done := e.SubmitTask(ts, NewSetGoalTask(inode, goal, recursive), onDone)
	e.emitMaster(ts, "SETGOAL", []string{itoa(uint64(inode)), itoa(uint64(goal)), boolArg(recursive)}, "", false)
	return id, done, StatusOK
}

// SetTrashTime submits a (possibly recursive) trashtime change. onDone
// behaves as in SetGoal.
func (e *Engine) SetTrashTime(ts int64, inode Ino, trashtime uint32, recursive bool, onDone TaskCallback) (jobID uint32, done bool, st Status) {
	defer timeOp("settrashtime")()
	if e.getNode(inode) == nil {
		return 0, false, StatusNotFound
	}
	id, done := e.SubmitTask(ts, NewSetTrashTimeTask(inode, trashtime, recursive), onDone)
	e.emitMaster(ts, "SETTRASHTIME", []string{itoa(uint64(inode)), itoa(uint64(trashtime)), boolArg(recursive)}, "", false)
	return id, done, StatusOK
}

// Snapshot submits a recursive deep-copy task (spec §4.2 "snapshot(src,
// dstp, dstn, overwrite)"). onDone behaves as in SetGoal.
func (e *Engine) Snapshot(ctx Context, ts int64, src, dstParent Ino, dstName string, overwrite bool, onDone TaskCallback) (jobID uint32, done bool, st Status) {
	defer timeOp("snapshot")()
	if e.getNode(src) == nil {
		return 0, false, StatusNotFound
	}
	dp, dst := mustDir(e.getNode(dstParent))
	if !dst.OK() {
		return 0, false, dst
	}
	if existing, ok := dp.children[dstName]; ok {
		if !overwrite {
			return 0, false, StatusAlreadyExists
		}
		if child := e.getNode(existing); child != nil {
			e.unlinkAndDispose(ts, dp, child, dstName)
		}
	}
	id, done := e.SubmitTask(ts, NewSnapshotTask(src, dstParent, dstName, ctx.Uid(), ctx.Gid()), onDone)
	e.emitMaster(ts, "SNAPSHOT", []string{
		itoa(uint64(src)), itoa(uint64(dstParent)), dstName, boolArg(overwrite),
		itoa(uint64(ctx.Uid())), itoa(uint64(ctx.Gid())),
	}, "", false)
	return id, done, StatusOK
}

// Purge permanently destroys a trash or reserved entry before its
// deadline (spec §4.2 "settrashpath/undel/purge").
func (e *Engine) Purge(ts int64, inode Ino) Status {
	defer timeOp("purge")()
	n := e.getNode(inode)
	if n == nil {
		return StatusNotFound
	}
	if n.state == stateTrash {
		e.trash.remove(inode)
	} else if n.state == stateReserved {
		if n.open() {
			return StatusNotPermitted
		}
		e.reserved.remove(inode)
	} else {
		return StatusInvalidArgument
	}
	e.removeNode(ts, n)
	e.emitMaster(ts, "PURGE", []string{itoa(uint64(inode))}, "", false)
	return StatusOK
}

// Undel restores a trash entry to name under newParent (spec §4.2
// "undel").
func (e *Engine) Undel(ts int64, inode Ino, newParent Ino, newName string) Status {
	defer timeOp("undel")()
	n := e.getNode(inode)
	if n == nil || n.state != stateTrash {
		return StatusNotFound
	}
	parent, st := mustDir(e.getNode(newParent))
	if !st.OK() {
		return st
	}
	if st := nameCheck(newName); !st.OK() {
		return st
	}
	if _, ok := parent.children[newName]; ok {
		return StatusAlreadyExists
	}
	e.trash.remove(inode)
	n.state = stateNormal
	e.link(ts, parent, n, newName)
	e.emitMaster(ts, "UNDEL", []string{itoa(uint64(inode)), itoa(uint64(newParent)), newName}, "", false)
	return StatusOK
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
