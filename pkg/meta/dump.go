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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	imageFileName = "metadata.mfs"
	imageTmpName  = "metadata.mfs.tmp"
)

// DumpToDataDir performs the synchronous half of the dump lifecycle (spec
// §4.10 steps 2-4): write metadata.mfs.tmp, then atomically rename over the
// live image, rotating up to keepBackups previous copies. The
// fork-a-child step for non-blocking background dumps is a process-model
// concern left to cmd/master's scheduler (spec §5 "delegated to
// short-lived helper processes").
func (e *Engine) DumpToDataDir(dir string, keepBackups int) (err error) {
	defer func() {
		if err != nil {
			dumpResult.WithLabelValues("failure").Inc()
		} else {
			dumpResult.WithLabelValues("success").Inc()
		}
	}()
	tmpPath := filepath.Join(dir, imageTmpName)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "create tmp image")
	}
	if err = e.SaveImage(f); err != nil {
		f.Close()
		return errors.Wrap(err, "write tmp image")
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync tmp image")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close tmp image")
	}
	finalPath := filepath.Join(dir, imageFileName)
	rotateBackups(dir, keepBackups)
	if err = os.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrap(err, "rename tmp image")
	}
	return nil
}

// rotateBackups shifts metadata.mfs.(N-1)->metadata.mfs.N ... metadata.mfs->metadata.mfs.1,
// keeping at most keepBackups generations (spec §6 "metadata.mfs.1..N").
func rotateBackups(dir string, keepBackups int) {
	if keepBackups <= 0 {
		return
	}
	oldest := filepath.Join(dir, fmt.Sprintf("%s.%d", imageFileName, keepBackups))
	os.Remove(oldest)
	for n := keepBackups - 1; n >= 1; n-- {
		from := filepath.Join(dir, fmt.Sprintf("%s.%d", imageFileName, n))
		to := filepath.Join(dir, fmt.Sprintf("%s.%d", imageFileName, n+1))
		os.Rename(from, to)
	}
	live := filepath.Join(dir, imageFileName)
	if _, statErr := os.Stat(live); statErr == nil {
		os.Rename(live, filepath.Join(dir, fmt.Sprintf("%s.1", imageFileName)))
	}
}

// LoadFromDataDir reads metadata.mfs from dir, if present.
func (e *Engine) LoadFromDataDir(dir string) error {
	path := filepath.Join(dir, imageFileName)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open image")
	}
	defer f.Close()
	return e.LoadImage(f)
}

// Header magics, oldest first. Only "MFSM 2.0" and "LIZM 2.9" carry
// section framing; the two legacy forms are upgraded in place on load
// and never written back out (resolves SPEC_FULL.md open question 3).
const (
	magicLegacy15    = "MFSM 1.5"
	magicLegacy16    = "MFSM 1.6"
	magicSectioned20 = "MFSM 2.0"
	magicCurrent     = "LIZM 2.9"
)

const eofMarker = "[MFS EOF MARKER]" // 16 bytes

var sectionTags = []string{"NODE 1.0", "EDGE 1.0", "FREE 1.0", "XATR 1.0", "ACLS 1.0", "QUOT 1.1", "FLCK 1.0", "CHNK 1.0"}

// SaveImage writes the current namespace as a section-framed image to w,
// always in the current format (spec §4.10, §6 "Binary on-disk layout").
func (e *Engine) SaveImage(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magicCurrent); err != nil {
		return err
	}
	if err := writePreamble(bw, e); err != nil {
		return err
	}
	for _, tag := range sectionTags {
		body, err := e.encodeSection(tag)
		if err != nil {
			return errors.Wrapf(err, "encode section %s", tag)
		}
		if err := writeSection(bw, tag, body); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString(eofMarker); err != nil {
		return err
	}
	return bw.Flush()
}

func writePreamble(w io.Writer, e *Engine) error {
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.inodes.maxIssued))
	binary.BigEndian.PutUint64(buf[4:12], e.metaversion)
	binary.BigEndian.PutUint32(buf[12:16], e.nextSessionID)
	_, err := w.Write(buf[:])
	return err
}

func writeSection(w *bufio.Writer, tag string, body []byte) error {
	if _, err := w.WriteString(tag); err != nil {
		return err
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func (e *Engine) encodeSection(tag string) ([]byte, error) {
	switch tag {
	case "NODE 1.0":
		return e.encodeNodes()
	case "EDGE 1.0":
		return e.encodeEdges()
	case "FREE 1.0":
		return e.encodeFree()
	case "XATR 1.0":
		return e.encodeXattrs()
	case "ACLS 1.0":
		return e.encodeAcls()
	case "QUOT 1.1":
		return e.encodeQuotas()
	case "FLCK 1.0":
		return e.encodeLocks()
	case "CHNK 1.0":
		return nil, nil // opaque, owned by the external chunk module
	default:
		return nil, nil
	}
}

func (e *Engine) encodeNodes() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	for _, n := range e.nodes {
		w.u8(uint8(n.attr.Typ))
		w.u32(uint32(n.id))
		w.u8(n.attr.Goal)
		w.u16(n.attr.Mode)
		w.u32(n.attr.Uid)
		w.u32(n.attr.Gid)
		w.u32(uint32(n.attr.Atime))
		w.u32(uint32(n.attr.Mtime))
		w.u32(uint32(n.attr.Ctime))
		w.u32(n.attr.Trashtime)
		switch n.attr.Typ {
		case TypeFile:
			w.u64(n.attr.Length)
			w.u32(n.chunks.length())
			w.u16(uint16(len(n.sessions)))
			for _, id := range n.chunks.chunks {
				w.u64(uint64(id))
			}
			for sid := range n.sessions {
				w.u32(sid)
			}
		case TypeSymlink:
			w.u16(uint16(len(n.target)))
			w.bytes(n.target)
		case TypeBlockDev, TypeCharDev:
			w.u32(n.attr.Rdev)
		}
	}
	w.u8(0) // type=0 terminator
	return buf, w.err
}

func (e *Engine) encodeEdges() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	for _, n := range e.nodes {
		for _, p := range n.parents {
			w.u32(uint32(p.parent))
			w.u32(uint32(n.id))
			w.u16(uint16(len(p.name)))
			w.bytes([]byte(p.name))
		}
	}
	w.u32(0)
	w.u32(0)
	w.u16(0)
	return buf, w.err
}

func (e *Engine) encodeFree() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	w.u32(uint32(e.inodes.count()))
	e.inodes.iterate(func(id Ino, freeTS uint32) {
		w.u32(uint32(id))
		w.u32(freeTS)
	})
	return buf, w.err
}

func (e *Engine) encodeXattrs() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	e.xattrs.forEach(func(inode Ino, name string, ent *xattrEntry) {
		w.u32(uint32(inode))
		w.u8(uint8(len(name)))
		w.u32(uint32(len(ent.value)))
		w.bytes([]byte(name))
		w.bytes(ent.value)
	})
	w.u32(0)
	w.u8(0)
	w.u32(0)
	return buf, w.err
}

func (e *Engine) encodeAcls() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	for k, a := range e.acls.data {
		s := a.serialize()
		var rec []byte
		rw := newByteWriter(&rec)
		rw.u32(uint32(k.inode))
		rw.u8(uint8(k.typ))
		rw.u32(uint32(len(s)))
		rw.bytes([]byte(s))
		w.u64(uint64(len(rec)))
		w.bytes(rec)
	}
	w.u64(0) // zero-length marker terminates the stream
	return buf, w.err
}

func (e *Engine) encodeQuotas() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	for k, q := range e.quotas.entries {
		w.u8(uint8(k.kind))
		w.u32(k.id)
		w.u64(q.SoftInodes)
		w.u64(q.HardInodes)
		w.u64(q.SoftSize)
		w.u64(q.HardSize)
		w.u64(q.UsedInodes)
		w.u64(q.UsedSize)
	}
	w.u8(0xFF) // sentinel: no valid owner kind is 0xFF
	return buf, w.err
}

func (e *Engine) encodeLocks() ([]byte, error) {
	var buf []byte
	w := newByteWriter(&buf)
	for inode, ranges := range e.locks.active {
		for _, r := range ranges {
			w.u32(uint32(inode))
			w.u8(uint8(r.Type))
			w.u64(r.Start)
			w.u64(r.End)
			w.u32(uint32(len(r.Owners)))
			for _, o := range r.Owners {
				w.u32(o.Session)
				w.u64(o.Owner)
			}
		}
	}
	w.u32(0) // terminator inode=0 (inode 0 never exists)
	return buf, w.err
}

// LoadImage reads an image of any recognized magic into e, upgrading a
// legacy unsectioned payload in memory; a subsequent SaveImage always
// writes the current sectioned format (spec §6, §13 open question 3).
func (e *Engine) LoadImage(r io.Reader) error {
	br := bufio.NewReader(r)
	magic := make([]byte, 8)
	if _, err := io.ReadFull(br, magic); err != nil {
		return errors.Wrap(err, "read image magic")
	}
	switch string(magic) {
	case magicLegacy15, magicLegacy16:
		return e.loadLegacyImage(br)
	case magicSectioned20, magicCurrent:
		return e.loadSectionedImage(br)
	default:
		return errors.Errorf("unrecognized image magic %q", magic)
	}
}

func (e *Engine) loadSectionedImage(br *bufio.Reader) error {
	var preamble [16]byte
	if _, err := io.ReadFull(br, preamble[:]); err != nil {
		return errors.Wrap(err, "read preamble")
	}
	maxnodeid := binary.BigEndian.Uint32(preamble[0:4])
	e.metaversion = binary.BigEndian.Uint64(preamble[4:12])
	e.nextSessionID = binary.BigEndian.Uint32(preamble[12:16])

	for {
		tag := make([]byte, 8)
		if _, err := io.ReadFull(br, tag); err != nil {
			return errors.Wrap(err, "read section tag")
		}
		if string(tag) == eofMarker[:8] {
			rest := make([]byte, 8)
			if _, err := io.ReadFull(br, rest); err != nil {
				return errors.Wrap(err, "read eof marker tail")
			}
			break
		}
		var lenBuf [8]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return errors.Wrap(err, "read section length")
		}
		n := binary.BigEndian.Uint64(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return errors.Wrap(err, "read section body")
		}
		if err := e.decodeSection(string(tag), body); err != nil {
			return errors.Wrapf(err, "decode section %s", string(tag))
		}
	}
	e.inodes.markUsed(Ino(maxnodeid))
	e.rebuildQuarantineWatermark()
	return nil
}

// rebuildQuarantineWatermark ensures maxIssued tracks the highest inode
// id actually present after a load, in case FREE's own high-water mark
// lagged (defensive against a truncated FREE section).
func (e *Engine) rebuildQuarantineWatermark() {
	for id := range e.nodes {
		e.inodes.markUsed(id)
	}
}

func (e *Engine) decodeSection(tag string, body []byte) error {
	r := newByteReader(body)
	switch tag {
	case "NODE 1.0":
		return e.decodeNodes(r)
	case "EDGE 1.0":
		return e.decodeEdges(r)
	case "FREE 1.0":
		return e.decodeFree(r)
	case "XATR 1.0":
		return e.decodeXattrs(r)
	case "ACLS 1.0":
		return e.decodeAcls(r)
	case "QUOT 1.1":
		return e.decodeQuotas(r)
	case "FLCK 1.0":
		return e.decodeLocks(r)
	case "CHNK 1.0":
		return nil
	default:
		return nil // unknown section: skip for forward compatibility
	}
}

func (e *Engine) decodeNodes(r *byteReader) error {
	for {
		typ := NodeType(r.u8())
		if typ == 0 || r.err != nil {
			break
		}
		id := Ino(r.u32())
		n := &node{id: id}
		n.attr.Typ = typ
		n.attr.Goal = r.u8()
		n.attr.Mode = r.u16()
		n.attr.Uid = r.u32()
		n.attr.Gid = r.u32()
		n.attr.Atime = int64(r.u32())
		n.attr.Mtime = int64(r.u32())
		n.attr.Ctime = int64(r.u32())
		n.attr.Trashtime = r.u32()
		switch typ {
		case TypeFile:
			n.attr.Length = r.u64()
			count := r.u32()
			sessCount := r.u16()
			n.chunks.chunks = make([]ChunkID, count)
			for i := uint32(0); i < count; i++ {
				n.chunks.chunks[i] = ChunkID(r.u64())
			}
			if sessCount > 0 {
				n.sessions = make(map[uint32]bool, sessCount)
			}
			for i := uint16(0); i < sessCount; i++ {
				n.sessions[r.u32()] = true
			}
		case TypeSymlink:
			l := r.u16()
			n.target = r.bytes(uint32(l))
		case TypeBlockDev, TypeCharDev:
			n.attr.Rdev = r.u32()
		case TypeDirectory:
			n.children = make(map[string]Ino)
		}
		e.nodes[id] = n
		e.xorHash(n)
	}
	return r.err
}

func (e *Engine) decodeEdges(r *byteReader) error {
	for {
		parent := Ino(r.u32())
		child := Ino(r.u32())
		nleng := r.u16()
		if (parent == 0 && child == 0 && nleng == 0) || r.err != nil {
			break
		}
		name := string(r.bytes(uint32(nleng)))
		cn := e.nodes[child]
		if cn == nil {
			continue
		}
		cn.addParent(parent, name)
		if pn := e.nodes[parent]; pn != nil {
			if pn.children == nil {
				pn.children = make(map[string]Ino)
			}
			pn.insertChild(name, child)
		}
		e.xorEdge(parent, child, name)
	}
	return r.err
}

func (e *Engine) decodeFree(r *byteReader) error {
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		id := Ino(r.u32())
		ts := r.u32()
		e.inodes.release(id, ts)
	}
	return r.err
}

func (e *Engine) decodeXattrs(r *byteReader) error {
	for {
		inode := Ino(r.u32())
		anleng := r.u8()
		avleng := r.u32()
		if (inode == 0 && anleng == 0 && avleng == 0) || r.err != nil {
			break
		}
		name := string(r.bytes(uint32(anleng)))
		value := r.bytes(avleng)
		e.xattrs.set(inode, name, value, XattrCreateOrReplace)
		e.xorXattr(inode, name, value)
	}
	return r.err
}

func (e *Engine) decodeAcls(r *byteReader) error {
	for {
		l := r.u64()
		if l == 0 || r.err != nil {
			break
		}
		rec := r.bytes(uint32(l))
		rr := newByteReader(rec)
		inode := Ino(rr.u32())
		typ := AclType(rr.u8())
		dl := rr.u32()
		data := rr.bytes(dl)
		acl := parseAcl(string(data))
		e.acls.set(inode, typ, acl)
	}
	return r.err
}

// parseAcl reverses Acl.serialize's "tag:id:perm#tag:id:perm" encoding.
func parseAcl(s string) Acl {
	if s == "" {
		return Acl{}
	}
	var entries []AclEntry
	for _, part := range strings.Split(s, "#") {
		fields := strings.SplitN(part, ":", 3)
		if len(fields) != 3 {
			continue
		}
		tag, _ := strconv.Atoi(fields[0])
		id, _ := strconv.Atoi(fields[1])
		perm, _ := strconv.Atoi(fields[2])
		entries = append(entries, AclEntry{Tag: uint8(tag), ID: uint32(id), Perm: uint8(perm)})
	}
	return Acl{Entries: entries}
}

func (e *Engine) decodeQuotas(r *byteReader) error {
	for {
		kind := r.u8()
		if kind == 0xFF || r.err != nil {
			break
		}
		id := r.u32()
		soft := r.u64()
		hard := r.u64()
		softSz := r.u64()
		hardSz := r.u64()
		used := r.u64()
		usedSz := r.u64()
		e.quotas.setQuota(OwnerKind(kind), id, soft, hard, softSz, hardSz)
		q := e.quotas.get(OwnerKind(kind), id)
		q.UsedInodes, q.UsedSize = used, usedSz
	}
	return r.err
}

func (e *Engine) decodeLocks(r *byteReader) error {
	for {
		inode := Ino(r.u32())
		if inode == 0 || r.err != nil {
			break
		}
		typ := LockType(r.u8())
		start := r.u64()
		end := r.u64()
		ownerCount := r.u32()
		owners := make([]LockOwner, ownerCount)
		for i := range owners {
			owners[i] = LockOwner{Session: r.u32(), Owner: r.u64()}
		}
		e.locks.active[inode] = append(e.locks.active[inode], LockRange{Type: typ, Start: start, End: end, Owners: owners})
	}
	return r.err
}

// loadLegacyImage reads the pre-section "MFSM 1.5"/"MFSM 1.6" format: a
// flat node table with inline edges and no ACL/xattr section framing.
// Its byte layout predates this engine (the legacy on-disk format is not
// reproduced byte-for-byte here, only its node/edge/free record shapes,
// which are identical to the sectioned NODE/EDGE/FREE bodies); load
// reuses the same per-record decoders and always re-dumps sectioned.
func (e *Engine) loadLegacyImage(br *bufio.Reader) error {
	var preamble [16]byte
	if _, err := io.ReadFull(br, preamble[:]); err != nil {
		return errors.Wrap(err, "read legacy preamble")
	}
	e.inodes.markUsed(Ino(binary.BigEndian.Uint32(preamble[0:4])))
	e.metaversion = binary.BigEndian.Uint64(preamble[4:12])
	e.nextSessionID = binary.BigEndian.Uint32(preamble[12:16])

	rest, err := io.ReadAll(br)
	if err != nil {
		return errors.Wrap(err, "read legacy body")
	}
	r := newByteReader(rest)
	if err := e.decodeNodes(r); err != nil {
		return err
	}
	if err := e.decodeEdges(r); err != nil {
		return err
	}
	return e.decodeFree(r)
}
