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

// NewSession registers a new client connection and returns its session
// id, starting at 1 and monotonically increasing for the life of the
// engine (spec GLOSSARY "Session"); emits a "SESSION" record.
func (e *Engine) NewSession(ts int64, info SessionInfo) *Session {
	sid := e.nextSessionID
	e.nextSessionID++
	s := &Session{Sid: sid, Heartbeat: time.Unix(ts, 0), SessionInfo: info}
	e.sessions[sid] = s
	e.emitMaster(ts, "SESSION", []string{itoa(uint64(sid)), info.Hostname, info.MountPoint}, "", false)
	return s
}

// GetSession looks up a session by id.
func (e *Engine) GetSession(sid uint32) (*Session, bool) {
	s, ok := e.sessions[sid]
	return s, ok
}

// ListSessions returns every currently tracked session.
func (e *Engine) ListSessions() []*Session {
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Heartbeat refreshes a session's liveness timestamp.
func (e *Engine) Heartbeat(sid uint32, ts int64) Status {
	s, ok := e.sessions[sid]
	if !ok {
		return StatusNotFound
	}
	s.Heartbeat = time.Unix(ts, 0)
	return StatusOK
}

// OpenFile records sid as holding inode open, so trash expiry defers
// destruction to Reserved instead of purging it outright (invariant I9).
func (e *Engine) OpenFile(inode Ino, sid uint32) Status {
	n := e.getNode(inode)
	if n == nil {
		return StatusNotFound
	}
	if n.sessions == nil {
		n.sessions = make(map[uint32]bool)
	}
	n.sessions[sid] = true
	return StatusOK
}

// CloseFile drops sid's hold on inode; if the node is in Reserved state
// and no session still has it open, it is finally destroyed (spec §3
// "Reserved entry ... destroyed once no session holds it open").
func (e *Engine) CloseFile(ts int64, inode Ino, sid uint32) Status {
	n := e.getNode(inode)
	if n == nil {
		return StatusNotFound
	}
	delete(n.sessions, sid)
	if n.state == stateReserved && !n.open() {
		e.reserved.remove(inode)
		e.removeNode(ts, n)
		e.emitMaster(ts, "PURGE", []string{itoa(uint64(inode))}, "", false)
	}
	return StatusOK
}

// CloseSession removes a client connection and releases every lock and
// pending request it held (spec §5 "client disconnect removes its
// session-id from all files").
func (e *Engine) CloseSession(ts int64, sid uint32) Status {
	if _, ok := e.sessions[sid]; !ok {
		return StatusNotFound
	}
	for _, n := range e.nodes {
		if n.sessions != nil && n.sessions[sid] {
			e.CloseFile(ts, n.id, sid)
		}
	}
	for inode := range e.locks.active {
		e.unlockSessionOwners(inode, sid)
	}
	for inode := range e.locks.pending {
		e.locks.removePending(inode, func(o LockOwner) bool { return o.Session == sid })
	}
	delete(e.sessions, sid)
	e.emitMaster(ts, "CLOSESESSION", []string{itoa(uint64(sid))}, "", false)
	return StatusOK
}

func (e *Engine) unlockSessionOwners(inode Ino, sid uint32) {
	ranges := e.locks.active[inode]
	var owners []LockOwner
	for _, r := range ranges {
		for _, o := range r.Owners {
			if o.Session == sid {
				owners = append(owners, o)
			}
		}
	}
	for _, o := range owners {
		e.locks.unlock(inode, 0, ^uint64(0), o)
	}
}

// CleanStaleSessions drops sessions whose last heartbeat is older than
// timeout, releasing their locks exactly as an explicit disconnect would.
func (e *Engine) CleanStaleSessions(ts int64, timeout time.Duration) int {
	cutoff := time.Unix(ts, 0).Add(-timeout)
	var stale []uint32
	for sid, s := range e.sessions {
		if s.Heartbeat.Before(cutoff) {
			stale = append(stale, sid)
		}
	}
	for _, sid := range stale {
		e.CloseSession(ts, sid)
	}
	return len(stale)
}
