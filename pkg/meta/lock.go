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

import "sort"

// LockType is the kind of a byte-range lock, equivalent to Linux's
// F_RDLCK/F_WRLCK/F_UNLCK (spec §4.4, grounded on locks.h's LockRange::Type).
type LockType uint8

const (
	LockShared LockType = iota
	LockExclusive
	LockUnlock
)

// LockOwner identifies the holder of a range lock: a session plus the
// client-supplied owner token (locks.h's LockRange::Owner, reqid/msgid
// dropped since interrupt handling is part of the out-of-scope wire
// protocol).
type LockOwner struct {
	Session uint32
	Owner   uint64
}

// LockRange is a half-open [Start,End) interval with a type and the set
// of owners currently holding it with that type (a shared range can have
// multiple owners).
type LockRange struct {
	Type    LockType
	Start   uint64
	End     uint64
	Owners  []LockOwner
}

func (r LockRange) overlaps(o LockRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r LockRange) hasOwner(owner LockOwner) bool {
	for _, o := range r.Owners {
		if o == owner {
			return true
		}
	}
	return false
}

func (r *LockRange) removeOwner(owner LockOwner) {
	out := r.Owners[:0]
	for _, o := range r.Owners {
		if o != owner {
			out = append(out, o)
		}
	}
	r.Owners = out
}

func sameOwnerSet(a, b []LockOwner) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[LockOwner]bool, len(a))
	for _, o := range a {
		seen[o] = true
	}
	for _, o := range b {
		if !seen[o] {
			return false
		}
	}
	return true
}

// fileLocks is the per-inode interval lock table of spec §4.4: active
// ranges plus a FIFO queue of pending (blocked) requests.
type fileLocks struct {
	active  map[Ino][]LockRange
	pending map[Ino][]LockRange
}

func newFileLocks() *fileLocks {
	return &fileLocks{active: make(map[Ino][]LockRange), pending: make(map[Ino][]LockRange)}
}

// fits reports whether range can coexist with every overlapping active
// range on inode: coexistence requires both to be shared, or to share an
// owner, or the new one to be an unlock (spec §4.4).
func (l *fileLocks) fits(inode Ino, r LockRange) bool {
	for _, other := range l.active[inode] {
		if !r.overlaps(other) {
			continue
		}
		if r.Type == LockUnlock {
			continue
		}
		if r.Type == LockShared && other.Type == LockShared {
			continue
		}
		if sameOwnerSet(r.Owners, other.Owners) {
			continue
		}
		return false
	}
	return true
}

// insert applies range to inode's active set, assuming fits() returned
// true; it merges/splits around overlaps to keep the minimal disjoint
// representation with adjacent same-type-same-owner ranges coalesced
// (spec §4.4, grounded on LockRanges::insert in locks.cc).
func (l *fileLocks) insert(inode Ino, r LockRange) {
	existing := l.active[inode]
	var result []LockRange

	// Split every existing range against the incoming one, keeping the
	// parts that lie outside it untouched and re-deriving the owner set
	// for the overlapping part.
	for _, other := range existing {
		if !other.overlaps(r) {
			result = append(result, other)
			continue
		}
		if other.Start < r.Start {
			result = append(result, LockRange{Type: other.Type, Start: other.Start, End: r.Start, Owners: cloneOwners(other.Owners)})
		}
		if other.End > r.End {
			result = append(result, LockRange{Type: other.Type, Start: r.End, End: other.End, Owners: cloneOwners(other.Owners)})
		}
		// The overlapping middle portion [max(start),min(end)) is dropped
		// here; ownership for it is folded into the incoming range below
		// when types/owners match, or discarded on unlock.
		lo, hi := maxU64(other.Start, r.Start), minU64(other.End, r.End)
		if lo < hi && r.Type != LockUnlock {
			owners := cloneOwners(other.Owners)
			if sameOwnerSet(owners, r.Owners) {
				// same holder re-locking with a (possibly new) type: the
				// incoming range wins outright, nothing extra to keep.
			} else if r.Type == LockShared && other.Type == LockShared {
				merged := mergeOwners(owners, r.Owners)
				result = append(result, LockRange{Type: LockShared, Start: lo, End: hi, Owners: merged})
			}
		} else if lo < hi && r.Type == LockUnlock {
			owners := cloneOwners(other.Owners)
			remaining := make([]LockOwner, 0, len(owners))
			for _, o := range owners {
				if !containsOwner(r.Owners, o) {
					remaining = append(remaining, o)
				}
			}
			if len(remaining) > 0 {
				result = append(result, LockRange{Type: other.Type, Start: lo, End: hi, Owners: remaining})
			}
		}
	}

	if r.Type != LockUnlock {
		result = append(result, LockRange{Type: r.Type, Start: r.Start, End: r.End, Owners: cloneOwners(r.Owners)})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Start != result[j].Start {
			return result[i].Start < result[j].Start
		}
		return result[i].End < result[j].End
	})

	l.active[inode] = coalesce(result)
}

func coalesce(ranges []LockRange) []LockRange {
	if len(ranges) == 0 {
		return nil
	}
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if last.End == r.Start && last.Type == r.Type && sameOwnerSet(last.Owners, r.Owners) {
			last.End = r.End
			continue
		}
		out = append(out, r)
	}
	return out
}

func cloneOwners(o []LockOwner) []LockOwner {
	out := make([]LockOwner, len(o))
	copy(out, o)
	return out
}

func mergeOwners(a, b []LockOwner) []LockOwner {
	seen := make(map[LockOwner]bool)
	var out []LockOwner
	for _, o := range append(append([]LockOwner{}, a...), b...) {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}

func containsOwner(set []LockOwner, o LockOwner) bool {
	for _, s := range set {
		if s == o {
			return true
		}
	}
	return false
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// apply tries to place lock on inode; on failure it is queued unless
// nonblocking is set (spec §4.4 "nonblocking requests are rejected
// instead").
func (l *fileLocks) apply(inode Ino, r LockRange, nonblocking bool) bool {
	if l.fits(inode, r) {
		l.insert(inode, r)
		return true
	}
	if !nonblocking {
		l.enqueue(inode, r)
	}
	return false
}

func (l *fileLocks) enqueue(inode Ino, r LockRange) {
	q := l.pending[inode]
	q = append(q, r)
	l.pending[inode] = q
}

// unlock removes owner's hold over [start,end) from inode's active set.
func (l *fileLocks) unlock(inode Ino, start, end uint64, owner LockOwner) {
	l.insert(inode, LockRange{Type: LockUnlock, Start: start, End: end, Owners: []LockOwner{owner}})
}

// unlockAll drops every active and pending lock for inode, whoever holds
// it; it is used when the node itself is removed. A session disconnect
// releases only that session's locks (see unlockSessionOwners).
func (l *fileLocks) unlockAll(inode Ino) {
	delete(l.active, inode)
	delete(l.pending, inode)
}

// gatherCandidates pulls queued locks whose range overlaps [start,end)
// out of the pending queue so the caller can retry applying each (spec
// §4.4, and the supplemented behavior from locks.cc's gatherCandidates).
func (l *fileLocks) gatherCandidates(inode Ino, start, end uint64) []LockRange {
	q := l.pending[inode]
	var kept, candidates []LockRange
	for _, r := range q {
		if r.overlaps(LockRange{Start: start, End: end}) {
			candidates = append(candidates, r)
		} else {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(l.pending, inode)
	} else {
		l.pending[inode] = kept
	}
	return candidates
}

// removePending drops every queued request on inode matching pred,
// e.g. all requests owned by a disconnecting session.
func (l *fileLocks) removePending(inode Ino, pred func(LockOwner) bool) {
	q := l.pending[inode]
	var kept []LockRange
	for _, r := range q {
		var owners []LockOwner
		for _, o := range r.Owners {
			if !pred(o) {
				owners = append(owners, o)
			}
		}
		if len(owners) > 0 {
			r.Owners = owners
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(l.pending, inode)
	} else {
		l.pending[inode] = kept
	}
}
