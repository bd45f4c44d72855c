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

// Context carries the caller identity an operation needs for permission
// checks: the requesting session, uid/gid and supplementary groups. The
// wire-level session/gateway module (out of scope, spec §1) builds one of
// these per request.
type Context interface {
	Uid() uint32
	Gid() uint32
	Gids() []uint32
	Pid() uint32
	Sid() uint32
	Cancel()
	Canceled() bool
}

type context struct {
	uid      uint32
	gid      uint32
	gids     []uint32
	pid      uint32
	sid      uint32
	canceled bool
}

// NewContext builds a Context for the given session/uid/gid triple.
func NewContext(sid uint32, pid uint32, uid, gid uint32, gids []uint32) Context {
	return &context{sid: sid, pid: pid, uid: uid, gid: gid, gids: gids}
}

// Background is a privileged context used by internal callers (trash
// expiry, task manager, offline tools) that bypass permission checks.
var Background = &context{uid: 0, gid: 0}

func (c *context) Uid() uint32     { return c.uid }
func (c *context) Gid() uint32     { return c.gid }
func (c *context) Gids() []uint32  { return c.gids }
func (c *context) Pid() uint32     { return c.pid }
func (c *context) Sid() uint32     { return c.sid }
func (c *context) Cancel()         { c.canceled = true }
func (c *context) Canceled() bool  { return c.canceled }

func (c *context) inGroup(gid uint32) bool {
	if c.gid == gid {
		return true
	}
	for _, g := range c.gids {
		if g == gid {
			return true
		}
	}
	return false
}
