package meta

import (
	"testing"
	"time"
)

// fakeChunks is a minimal in-memory ChunkCoordinator for unit tests that
// never needs real goal/placement semantics.
type fakeChunks struct {
	next ChunkID

	// repairResults, keyed by chunk id, lets a test script exactly what
	// Repair should report for that id; ids absent from the map report
	// "already fine" (changed=false).
	repairResults map[ChunkID]fakeRepairResult
}

// fakeRepairResult is one scripted Repair outcome for fakeChunks.
type fakeRepairResult struct {
	newVersion uint64
	changed    bool
	st         Status
}

func (f *fakeChunks) NewChunk(inode Ino, index uint32, goal uint8) (ChunkID, Status) {
	f.next++
	return f.next, StatusOK
}
func (f *fakeChunks) AddRef(id ChunkID, inode Ino, goal uint8) Status       { return StatusOK }
func (f *fakeChunks) DelRef(id ChunkID, inode Ino) Status                  { return StatusOK }
func (f *fakeChunks) ChangeGoal(id ChunkID, oldGoal, newGoal uint8) Status { return StatusOK }
func (f *fakeChunks) Truncate(id ChunkID, length uint32) Status            { return StatusOK }

func (f *fakeChunks) Repair(id ChunkID, goal uint8) (uint64, bool, Status) {
	if r, ok := f.repairResults[id]; ok {
		return r.newVersion, r.changed, r.st
	}
	return 0, false, StatusOK
}

func newTestConfig() Config {
	cfg := DefaultConfig()
	cfg.InodeReuseDelay = time.Hour
	return cfg
}

// newTestMasterEngine returns a freshly-initialized Master engine with the
// root inode created, changelog output discarded.
func newTestMasterEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := newTestConfig()
	cfg.Personality = Master
	e := NewEngine(cfg, &fakeChunks{})
	if st := e.Init(Format{Name: "test"}, false); !st.OK() {
		t.Fatalf("Init: %s", st)
	}
	return e
}

// newTestShadowEngine returns a freshly-initialized Shadow engine, useful
// for replay/checksum tests that must never emit their own changelog.
func newTestShadowEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := newTestConfig()
	cfg.Personality = Shadow
	e := NewEngine(cfg, &fakeChunks{})
	if st := e.Init(Format{Name: "test"}, false); !st.OK() {
		t.Fatalf("Init: %s", st)
	}
	return e
}
