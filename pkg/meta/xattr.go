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

// XattrSetMode selects SetXattr's create/replace semantics (spec §4.6).
type XattrSetMode uint8

const (
	XattrCreateOrReplace XattrSetMode = iota
	XattrCreateOnly
	XattrReplaceOnly
	XattrRemove
)

const (
	xattrNameMax  = 255
	xattrValueMax = 65536
	// xattrListMax bounds the sum of (name+1) and value bytes across a
	// single inode's entries, matching the original's
	// XATTR_INODE_HASH_SIZE-scoped accounting (filesystem_xattr.h).
	xattrListMax = 65536
)

type xattrKey struct {
	inode Ino
	name  string
}

type xattrEntry struct {
	value    []byte
	checksum uint64
}

// xattrInodeIndex tracks per-inode summed name/value lengths so listxattr
// limit checks and checksum removal are O(1) without walking every entry
// (spec §4.6, grounded on filesystem_xattr.h's xattr_inode_entry).
type xattrInodeIndex struct {
	names  map[string]bool
	nleng  uint32 // sum of len(name)+1 across this inode's entries
	avleng uint32 // sum of len(value) across this inode's entries
}

// xattrStore is the dual-indexed (inode,name)->value table of spec §4.6.
type xattrStore struct {
	data   map[xattrKey]*xattrEntry
	inodes map[Ino]*xattrInodeIndex
}

func newXattrStore() *xattrStore {
	return &xattrStore{
		data:   make(map[xattrKey]*xattrEntry),
		inodes: make(map[Ino]*xattrInodeIndex),
	}
}

func validXattrName(name string) bool {
	return len(name) > 0 && len(name) <= xattrNameMax && !strings.ContainsRune(name, 0)
}

// get returns the value for (inode,name); ok is false if absent.
func (s *xattrStore) get(inode Ino, name string) (value []byte, ok bool) {
	e, ok := s.data[xattrKey{inode, name}]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// list returns every attribute name set on inode.
func (s *xattrStore) list(inode Ino) []string {
	idx, ok := s.inodes[inode]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(idx.names))
	for n := range idx.names {
		names = append(names, n)
	}
	return names
}

// set applies mode to (inode,name)=value (spec B3: CreateOnly existing ->
// AlreadyExists; ReplaceOnly missing -> NotFound).
func (s *xattrStore) set(inode Ino, name string, value []byte, mode XattrSetMode) Status {
	if !validXattrName(name) {
		return StatusInvalidArgument
	}
	if len(value) > xattrValueMax {
		return StatusInvalidArgument
	}
	key := xattrKey{inode, name}
	existing, has := s.data[key]

	switch mode {
	case XattrCreateOnly:
		if has {
			return StatusAlreadyExists
		}
	case XattrReplaceOnly:
		if !has {
			return StatusNotFound
		}
	case XattrRemove:
		if !has {
			return StatusNotFound
		}
		s.removeOne(inode, name, existing)
		return StatusOK
	}

	idx := s.inodes[inode]
	if idx == nil {
		idx = &xattrInodeIndex{names: make(map[string]bool)}
		s.inodes[inode] = idx
	}
	if has {
		idx.avleng -= uint32(len(existing.value))
	} else {
		idx.nleng += uint32(len(name)) + 1
		idx.names[name] = true
	}
	if idx.nleng+idx.avleng+uint32(len(value)) > xattrListMax {
		if !has {
			idx.nleng -= uint32(len(name)) + 1
			delete(idx.names, name)
		} else {
			idx.avleng += uint32(len(existing.value))
		}
		return StatusInvalidArgument
	}
	idx.avleng += uint32(len(value))

	s.data[key] = &xattrEntry{value: append([]byte(nil), value...), checksum: xattrHash(inode, name, value)}
	return StatusOK
}

func (s *xattrStore) removeOne(inode Ino, name string, e *xattrEntry) {
	delete(s.data, xattrKey{inode, name})
	if idx, ok := s.inodes[inode]; ok {
		idx.nleng -= uint32(len(name)) + 1
		idx.avleng -= uint32(len(e.value))
		delete(idx.names, name)
		if len(idx.names) == 0 {
			delete(s.inodes, inode)
		}
	}
}

// removeInode deletes every xattr entry belonging to inode (called from
// remove_node, spec §3 Lifecycle: "erases its xattrs and ACLs").
func (s *xattrStore) removeInode(inode Ino) {
	idx, ok := s.inodes[inode]
	if !ok {
		return
	}
	for name := range idx.names {
		delete(s.data, xattrKey{inode, name})
	}
	delete(s.inodes, inode)
}

// forEach calls fn for every xattr entry; the checksum engine XORs the
// entries' per-entry hashes together (spec §4.8).
func (s *xattrStore) forEach(fn func(inode Ino, name string, e *xattrEntry)) {
	for k, e := range s.data {
		fn(k.inode, k.name, e)
	}
}

const xattrChecksumSeed uint64 = 29857986791741783

func xattrHash(inode Ino, name string, value []byte) uint64 {
	h := xattrChecksumSeed
	h = h*0x100000001b3 ^ uint64(inode)
	for i := 0; i < len(name); i++ {
		h = h*0x100000001b3 ^ uint64(name[i])
	}
	for _, b := range value {
		h = h*0x100000001b3 ^ uint64(b)
	}
	return h
}
