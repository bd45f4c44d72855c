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

// treeWalkFrame resumes a depth-first walk of a directory subtree across
// multiple Step calls: cursor indexes into the parent's stable childOrd
// slice, grounded on setgoal_task.h/settrashtime_task.h's resumable
// recursive_action pattern (spec §4.11).
type treeWalkFrame struct {
	dir    Ino
	cursor int
}

// setGoalTask recursively applies a new replication goal to every file
// under root (spec §4.3 "setgoal -r", GLOSSARY "Goal").
type setGoalTask struct {
	stack    []treeWalkFrame
	goal     uint8
	recursive bool
	keepExisting bool // goal 0 means "leave unchanged", only matters for dirs without -r
	done     bool
	failed   Status
	root     Ino
}

// NewSetGoalTask starts (but does not step) a setgoal job over root.
func NewSetGoalTask(root Ino, goal uint8, recursive bool) Task {
	return &setGoalTask{root: root, goal: goal, recursive: recursive}
}

func (t *setGoalTask) Name() string { return "setgoal" }

func (t *setGoalTask) Status() Status { return t.failed }

func (t *setGoalTask) Step(e *Engine, ts int64, budget int) (int, bool) {
	if t.done {
		return 0, true
	}
	if t.stack == nil {
		n := e.getNode(t.root)
		if n == nil {
			t.done = true
			t.failed = StatusNotFound
			return 0, true
		}
		t.applyGoal(e, n)
		if n.isDir() && t.recursive {
			t.stack = []treeWalkFrame{{dir: t.root, cursor: 0}}
		} else {
			t.done = true
			return 1, true
		}
	}
	consumed := 0
	for consumed < budget {
		if len(t.stack) == 0 {
			t.done = true
			return consumed, true
		}
		top := &t.stack[len(t.stack)-1]
		dir := e.getNode(top.dir)
		if dir == nil || top.cursor >= len(dir.childOrd) {
			t.stack = t.stack[:len(t.stack)-1]
			continue
		}
		name := dir.childOrd[top.cursor]
		top.cursor++
		child := e.getNode(dir.children[name])
		if child == nil {
			continue
		}
		t.applyGoal(e, child)
		consumed++
		if child.isDir() {
			t.stack = append(t.stack, treeWalkFrame{dir: child.id, cursor: 0})
		}
	}
	return consumed, false
}

func (t *setGoalTask) applyGoal(e *Engine, n *node) {
	if n.isFile() && n.attr.Goal != t.goal {
		old := n.attr.Goal
		e.unxorHash(n)
		n.attr.Goal = t.goal
		e.xorHash(n)
		if e.chunks != nil {
			first, last := n.chunks.firstLast()
			_ = first
			_ = last
			for _, id := range n.chunks.chunks {
				if id != 0 {
					e.chunks.ChangeGoal(id, old, t.goal)
				}
			}
		}
	} else if !n.isFile() {
		n.attr.Goal = t.goal
	}
}

// setTrashTimeTask recursively applies a new trashtime (how long deleted
// files linger before permanent purge) to a subtree (spec GLOSSARY
// "Trashtime").
type setTrashTimeTask struct {
	stack     []treeWalkFrame
	trashtime uint32
	recursive bool
	done      bool
	failed    Status
	root      Ino
}

func NewSetTrashTimeTask(root Ino, trashtime uint32, recursive bool) Task {
	return &setTrashTimeTask{root: root, trashtime: trashtime, recursive: recursive}
}

func (t *setTrashTimeTask) Name() string { return "settrashtime" }

func (t *setTrashTimeTask) Status() Status { return t.failed }

func (t *setTrashTimeTask) Step(e *Engine, ts int64, budget int) (int, bool) {
	if t.done {
		return 0, true
	}
	if t.stack == nil {
		n := e.getNode(t.root)
		if n == nil {
			t.done = true
			t.failed = StatusNotFound
			return 0, true
		}
		n.attr.Trashtime = t.trashtime
		if n.isDir() && t.recursive {
			t.stack = []treeWalkFrame{{dir: t.root, cursor: 0}}
		} else {
			t.done = true
			return 1, true
		}
	}
	consumed := 0
	for consumed < budget {
		if len(t.stack) == 0 {
			t.done = true
			return consumed, true
		}
		top := &t.stack[len(t.stack)-1]
		dir := e.getNode(top.dir)
		if dir == nil || top.cursor >= len(dir.childOrd) {
			t.stack = t.stack[:len(t.stack)-1]
			continue
		}
		name := dir.childOrd[top.cursor]
		top.cursor++
		child := e.getNode(dir.children[name])
		if child == nil {
			continue
		}
		child.attr.Trashtime = t.trashtime
		consumed++
		if child.isDir() {
			t.stack = append(t.stack, treeWalkFrame{dir: child.id, cursor: 0})
		}
	}
	return consumed, false
}

// snapshotTask performs a recursive copy of a subtree under a new name,
// with copied files sharing the source's chunks (see copyOne) rather than
// duplicating chunk data; the supplemented "snapshot" feature from
// snapshot_task.h (dropped from the distilled spec but present in the
// original and valuable enough to keep, per SPEC_FULL.md §12).
type snapshotTask struct {
	srcStack []treeWalkFrame
	dstStack []Ino // dst directory matching each srcStack frame
	src      Ino
	dstParent Ino
	dstName  string
	uid, gid uint32
	started  bool
	done     bool
	failed   Status
}

func NewSnapshotTask(src, dstParent Ino, dstName string, uid, gid uint32) Task {
	return &snapshotTask{src: src, dstParent: dstParent, dstName: dstName, uid: uid, gid: gid}
}

func (t *snapshotTask) Name() string { return "snapshot" }

func (t *snapshotTask) Status() Status { return t.failed }

func (t *snapshotTask) Step(e *Engine, ts int64, budget int) (int, bool) {
	if t.done {
		return 0, true
	}
	if !t.started {
		t.started = true
		srcNode := e.getNode(t.src)
		parent := e.getNode(t.dstParent)
		if srcNode == nil || parent == nil {
			t.done = true
			t.failed = StatusNotFound
			return 0, true
		}
		dst := t.copyOne(e, ts, parent, t.dstName, srcNode)
		if srcNode.isDir() {
			t.srcStack = []treeWalkFrame{{dir: t.src, cursor: 0}}
			t.dstStack = []Ino{dst.id}
		} else {
			t.done = true
			return 1, true
		}
	}
	consumed := 0
	for consumed < budget {
		if len(t.srcStack) == 0 {
			t.done = true
			return consumed, true
		}
		top := &t.srcStack[len(t.srcStack)-1]
		dstDirID := t.dstStack[len(t.dstStack)-1]
		srcDir := e.getNode(top.dir)
		dstDir := e.getNode(dstDirID)
		if srcDir == nil || dstDir == nil || top.cursor >= len(srcDir.childOrd) {
			t.srcStack = t.srcStack[:len(t.srcStack)-1]
			t.dstStack = t.dstStack[:len(t.dstStack)-1]
			continue
		}
		name := srcDir.childOrd[top.cursor]
		top.cursor++
		child := e.getNode(srcDir.children[name])
		if child == nil {
			continue
		}
		dstChild := t.copyOne(e, ts, dstDir, name, child)
		consumed++
		if child.isDir() {
			t.srcStack = append(t.srcStack, treeWalkFrame{dir: child.id, cursor: 0})
			t.dstStack = append(t.dstStack, dstChild.id)
		}
	}
	return consumed, false
}

// copyOne creates a fresh inode under dstParent/name replicating src's
// attributes (and, for files, its chunk list by taking an extra
// AddRef per chunk so both trees share storage until one diverges).
func (t *snapshotTask) copyOne(e *Engine, ts int64, dstParent *node, name string, src *node) *node {
	n := e.createNode(ts, dstParent, name, src.attr.Typ, src.attr.Mode, t.uid, t.gid)
	n.attr.Rdev = src.attr.Rdev
	n.attr.Goal = src.attr.Goal
	n.attr.Trashtime = src.attr.Trashtime
	if src.isSymlink() {
		n.target = append([]byte(nil), src.target...)
	}
	if src.isFile() {
		n.chunks = src.chunks.clone()
		n.attr.Length = src.attr.Length
		if e.chunks != nil {
			for _, id := range n.chunks.chunks {
				if id != 0 {
					e.chunks.AddRef(id, n.id, n.attr.Goal)
				}
			}
		}
	}
	return n
}

// runTaskToCompletion steps t until done, ignoring the per-tick budget
// fairness the live task manager applies — a shadow replaying a single
// changelog record needs the whole job to have converged before the
// next record is applied, not a bounded slice of it.
func runTaskToCompletion(e *Engine, ts int64, t Task) {
	const stepBudget = 1 << 20
	for {
		_, done := t.Step(e, ts, stepBudget)
		if done {
			return
		}
	}
}

// init registers the shadow-side replay for every task-manager-driven
// operation. Rather than replaying individual tree-walk steps, each
// resubmits and fully drains the identical task: since inode allocation
// is a pure function of the inode pool's prior state (invariant I6) and
// both trees replayed the same preceding history, re-running the walk
// deterministically reproduces the master's result without needing to
// smuggle per-step ids through the changelog (spec §4.9, §4.11).
func init() {
	RegisterApply("SETGOAL", func(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
		inode := Ino(mustU32(args[0]))
		goal := mustU8(args[1])
		recursive := mustBool(args[2])
		runTaskToCompletion(e, ts, NewSetGoalTask(inode, goal, recursive))
		return StatusOK
	})
	RegisterApply("SETTRASHTIME", func(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
		inode := Ino(mustU32(args[0]))
		trashtime := uint32(mustU64(args[1]))
		recursive := mustBool(args[2])
		runTaskToCompletion(e, ts, NewSetTrashTimeTask(inode, trashtime, recursive))
		return StatusOK
	})
	RegisterApply("SNAPSHOT", func(e *Engine, ts int64, args []string, result string, hasResult bool) Status {
		src := Ino(mustU32(args[0]))
		dstParent := Ino(mustU32(args[1]))
		dstName := args[2]
		overwrite := mustBool(args[3])
		uid := mustU32(args[4])
		gid := mustU32(args[5])
		dp := e.getNode(dstParent)
		if dp == nil {
			return StatusMismatch
		}
		if existing, ok := dp.children[dstName]; ok {
			if !overwrite {
				return StatusOK // master rejected this one too; nothing to replay
			}
			if child := e.getNode(existing); child != nil {
				e.unlinkAndDispose(ts, dp, child, dstName)
			}
		}
		runTaskToCompletion(e, ts, NewSnapshotTask(src, dstParent, dstName, uid, gid))
		return StatusOK
	})
}
