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

import "fmt"

// AclType distinguishes a POSIX access ACL from a directory's default ACL
// template (spec §3 "ACL entry").
type AclType uint8

const (
	AclAccess AclType = iota
	AclDefault
)

// AclEntry is one (tag, qualifier, perm) triple of a POSIX ACL.
type AclEntry struct {
	Tag   uint8 // ACL_USER_OBJ, ACL_USER, ACL_GROUP_OBJ, ACL_GROUP, ACL_MASK, ACL_OTHER
	ID    uint32
	Perm  uint8 // rwx bits
}

// Acl is a full POSIX ACL (ordered list of entries).
type Acl struct {
	Entries []AclEntry
}

// serialize renders the ACL the way changelog SETACL records encode it
// (spec §4.7 "serialized textually in changelog records").
func (a Acl) serialize() string {
	s := ""
	for i, e := range a.Entries {
		if i > 0 {
			s += "#"
		}
		s += fmt.Sprintf("%d:%d:%d", e.Tag, e.ID, e.Perm)
	}
	return s
}

type aclKey struct {
	inode Ino
	typ   AclType
}

// aclStore holds the per-inode access+default ACLs of spec §4.7.
type aclStore struct {
	data map[aclKey]Acl
}

func newAclStore() *aclStore {
	return &aclStore{data: make(map[aclKey]Acl)}
}

func (s *aclStore) get(inode Ino, typ AclType) (Acl, bool) {
	a, ok := s.data[aclKey{inode, typ}]
	return a, ok
}

func (s *aclStore) set(inode Ino, typ AclType, acl Acl) {
	s.data[aclKey{inode, typ}] = acl
}

func (s *aclStore) remove(inode Ino, typ AclType) {
	delete(s.data, aclKey{inode, typ})
}

func (s *aclStore) removeInode(inode Ino) {
	delete(s.data, aclKey{inode, AclAccess})
	delete(s.data, aclKey{inode, AclDefault})
}

// hasExtended reports whether inode carries an access ACL beyond the
// classical rwx triad; access() consults this before falling back to the
// mode bits (spec §4.7: "takes precedence ... only if an extended ACL is
// present").
func (s *aclStore) hasExtended(inode Ino) bool {
	a, ok := s.data[aclKey{inode, AclAccess}]
	return ok && len(a.Entries) > 3
}

// checkAccess evaluates an access ACL against (uid, gids, wanted mode bits),
// returning whether access is granted. The ACL_MASK entry, if present,
// further restricts ACL_USER/ACL_GROUP/ACL_GROUP_OBJ entries, per POSIX.1e.
func (a Acl) checkAccess(uid uint32, gids []uint32, ownerUID, ownerGID uint32, want uint8) bool {
	const (
		tagUserObj = iota
		tagUser
		tagGroupObj
		tagGroup
		tagMask
		tagOther
	)
	var mask uint8 = 0x7
	haveMask := false
	for _, e := range a.Entries {
		if e.Tag == tagMask {
			mask = e.Perm
			haveMask = true
		}
	}
	inGroups := func(gid uint32) bool {
		for _, g := range gids {
			if g == gid {
				return true
			}
		}
		return false
	}
	for _, e := range a.Entries {
		switch e.Tag {
		case tagUserObj:
			if uid == ownerUID {
				return e.Perm&want == want
			}
		case tagUser:
			if uid == e.ID {
				p := e.Perm
				if haveMask {
					p &= mask
				}
				return p&want == want
			}
		case tagGroupObj:
			if inGroups(ownerGID) {
				p := e.Perm
				if haveMask {
					p &= mask
				}
				if p&want == want {
					return true
				}
			}
		case tagGroup:
			if inGroups(e.ID) {
				p := e.Perm
				if haveMask {
					p &= mask
				}
				if p&want == want {
					return true
				}
			}
		case tagOther:
			if !haveMask {
				return e.Perm&want == want
			}
		}
	}
	return false
}
