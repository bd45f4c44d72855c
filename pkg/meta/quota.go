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

// OwnerKind distinguishes a per-user from a per-group quota entry.
type OwnerKind uint8

const (
	OwnerUser OwnerKind = iota
	OwnerGroup
)

// QuotaResource is the thing being limited: inode count or byte size.
type QuotaResource uint8

const (
	ResourceInodes QuotaResource = iota
	ResourceSize
)

// Quota holds the independent soft/hard limits and live counters for one
// (owner-kind, owner-id) pair (spec §4.5).
type Quota struct {
	SoftInodes, HardInodes uint64
	SoftSize, HardSize     uint64
	UsedInodes, UsedSize   uint64
}

func (q *Quota) inodeExceeded() bool {
	return (q.HardInodes > 0 && q.UsedInodes >= q.HardInodes) ||
		(q.SoftInodes > 0 && q.UsedInodes >= q.SoftInodes)
}

func (q *Quota) sizeExceeded() bool {
	return (q.HardSize > 0 && q.UsedSize >= q.HardSize) ||
		(q.SoftSize > 0 && q.UsedSize >= q.SoftSize)
}

type quotaKey struct {
	kind OwnerKind
	id   uint32
}

// quotaDB is the per-(owner-kind,owner-id) limit+usage table of spec §4.5.
type quotaDB struct {
	entries map[quotaKey]*Quota
}

func newQuotaDB() *quotaDB {
	return &quotaDB{entries: make(map[quotaKey]*Quota)}
}

func (d *quotaDB) get(kind OwnerKind, id uint32) *Quota {
	return d.entries[quotaKey{kind, id}]
}

// setQuota installs/updates a limit, creating the entry if necessary.
// Emits SETQUOTA on the master (done by the caller in the operation layer).
func (d *quotaDB) setQuota(kind OwnerKind, id uint32, softInodes, hardInodes, softSize, hardSize uint64) {
	key := quotaKey{kind, id}
	q := d.entries[key]
	if q == nil {
		q = &Quota{}
		d.entries[key] = q
	}
	q.SoftInodes, q.HardInodes = softInodes, hardInodes
	q.SoftSize, q.HardSize = softSize, hardSize
}

func (d *quotaDB) removeQuota(kind OwnerKind, id uint32) {
	delete(d.entries, quotaKey{kind, id})
}

// inodeQuotaExceeded checks both the uid's and gid's quota entries, per
// fsnodes_inode_quota_exceeded in the original (filesystem_quota.h).
func (d *quotaDB) inodeQuotaExceeded(uid, gid uint32) bool {
	if q := d.get(OwnerUser, uid); q != nil && q.inodeExceeded() {
		return true
	}
	if q := d.get(OwnerGroup, gid); q != nil && q.inodeExceeded() {
		return true
	}
	return false
}

func (d *quotaDB) sizeQuotaExceeded(uid, gid uint32) bool {
	if q := d.get(OwnerUser, uid); q != nil && q.sizeExceeded() {
		return true
	}
	if q := d.get(OwnerGroup, gid); q != nil && q.sizeExceeded() {
		return true
	}
	return false
}

// registerInode bumps UsedInodes for the owning uid/gid on node creation.
func (d *quotaDB) registerInode(uid, gid uint32, delta int64) {
	d.adjust(OwnerUser, uid, delta, 0)
	d.adjust(OwnerGroup, gid, delta, 0)
}

// updateSize adjusts UsedSize for the owning uid/gid (e.g. from setlength).
func (d *quotaDB) updateSize(uid, gid uint32, delta int64) {
	d.adjust(OwnerUser, uid, 0, delta)
	d.adjust(OwnerGroup, gid, 0, delta)
}

func (d *quotaDB) adjust(kind OwnerKind, id uint32, inodeDelta, sizeDelta int64) {
	q := d.get(kind, id)
	if q == nil {
		return // no quota configured for this owner; nothing to track
	}
	q.UsedInodes = addSigned(q.UsedInodes, inodeDelta)
	q.UsedSize = addSigned(q.UsedSize, sizeDelta)
}

func addSigned(u uint64, delta int64) uint64 {
	if delta < 0 && uint64(-delta) > u {
		return 0
	}
	return uint64(int64(u) + delta)
}
