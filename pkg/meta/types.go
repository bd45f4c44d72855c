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

import "time"

// Ino is a 32-bit inode handle (spec §3: "Numeric identity (32-bit)").
type Ino uint32

// RootInode is inode 1, the root directory; it always exists while the
// engine is loaded (invariant I10).
const RootInode Ino = 1

// NodeType enumerates the type-dependent payload kinds an inode can carry.
type NodeType uint8

const (
	TypeFile NodeType = 1 + iota
	TypeDirectory
	TypeSymlink
	TypeFIFO
	TypeBlockDev
	TypeCharDev
	TypeSocket
)

func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeFIFO:
		return "fifo"
	case TypeBlockDev:
		return "blockdev"
	case TypeCharDev:
		return "chardev"
	case TypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// SetAttrMask selects which fields of an Attr a SetAttr call should apply.
const (
	SetAttrMode = 1 << iota
	SetAttrUID
	SetAttrGID
	SetAttrSize
	SetAttrAtime
	SetAttrMtime
	SetAttrCtime
	SetAttrAtimeNow
	SetAttrMtimeNow
)

// SugidClearMode picks how set-user-id/set-group-id bits are cleared on an
// ownership change (spec §4.2).
type SugidClearMode uint8

const (
	SugidClearNever SugidClearMode = iota
	SugidClearAlways
	SugidClearOSX
	SugidClearBSD
	SugidClearExt
	SugidClearXFS
)

// Attr is the common attribute set carried by every inode, plus the
// type-dependent fields (Rdev, Length) folded in rather than split across
// payload structs, matching how the teacher's Meta interface shuttles a
// single Attr through every operation.
type Attr struct {
	Typ       NodeType
	Mode      uint16
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Atime     int64
	Mtime     int64
	Ctime     int64
	Atimensec uint32
	Mtimensec uint32
	Ctimensec uint32
	Nlink     uint32
	Length    uint64
	Goal      uint8
	Trashtime uint32
	Parent    Ino
}

// Entry is a directory entry as returned by Readdir.
type Entry struct {
	Inode Ino
	Name  []byte
	Attr  Attr
}

// Summary is the recursive statistics cached on a directory (invariant I3).
type Summary struct {
	Inodes   uint64
	Dirs     uint64
	Files    uint64
	Chunks   uint64
	Length   uint64
	Size     uint64
	Realsize uint64
}

func (s *Summary) add(o Summary) {
	s.Inodes += o.Inodes
	s.Dirs += o.Dirs
	s.Files += o.Files
	s.Chunks += o.Chunks
	s.Length += o.Length
	s.Size += o.Size
	s.Realsize += o.Realsize
}

func (s *Summary) sub(o Summary) {
	s.Inodes -= o.Inodes
	s.Dirs -= o.Dirs
	s.Files -= o.Files
	s.Chunks -= o.Chunks
	s.Length -= o.Length
	s.Size -= o.Size
	s.Realsize -= o.Realsize
}

// SessionInfo identifies the client process behind a session id.
type SessionInfo struct {
	Version    string
	Hostname   string
	MountPoint string
	ProcessID  int
}

// Session is a logical client connection (spec GLOSSARY: "Session").
type Session struct {
	Sid       uint32
	Heartbeat time.Time
	SessionInfo
	Sustained []Ino
}

// Format captures the on-disk volume format written at Init time.
type Format struct {
	Name          string
	BlockSize     int
	Compression   string
	TrashDays     int
	EncryptKey    string
	MetaVersion   uint64
	NextSessionID uint32
}

// RenameFlag selects POSIX rename(2) variant semantics.
const (
	RenameNoReplace = 1 << iota
	RenameExchange
	RenameWhiteout
)
