package meta

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayLines feeds every recorded changelog line into a freshly
// Init'd Shadow engine, mirroring what a real shadow master does on
// catch-up (spec §4.9, §7).
func replayLines(t *testing.T, lines []string) *Engine {
	t.Helper()
	e := newTestShadowEngine(t)
	require.NoError(t, e.ReplayAll(strings.NewReader(strings.Join(lines, "\n"))))
	return e
}

// masterWithLog returns a Master engine whose changelog is captured into
// buf instead of being discarded, so a test can replay exactly what was
// emitted.
func masterWithLog(t *testing.T, buf *strings.Builder) *Engine {
	t.Helper()
	cfg := newTestConfig()
	cfg.Personality = Master
	e := NewEngine(cfg, &fakeChunks{})
	require.True(t, e.Init(Format{Name: "test"}, false).OK())
	e.SetChangelogOutput(buf, nil)
	return e
}

func linesOf(buf *strings.Builder) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestReplayMknodReproducesMasterChecksum(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	master.Mknod(Background, 1, RootInode, "foo", TypeFile, 0644, 0)

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))

	_, _, st := shadow.Lookup(Background, RootInode, "foo")
	assert.Equal(t, StatusOK, st)
}

func TestReplaySetAttrReproducesMasterChecksum(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	id, _, _ := master.Mknod(Background, 1, RootInode, "foo", TypeFile, 0644, 0)
	master.SetAttr(Background, 2, id, SetAttrMode, Attr{Mode: 0600})

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))

	attr, _ := shadow.GetAttr(Background, id)
	assert.Equal(t, uint16(0600), attr.Mode)
}

func TestReplaySymlinkReproducesMasterChecksum(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	master.Symlink(Background, 1, RootInode, "link", []byte("/a/b"))

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))
}

func TestReplayUnlinkReproducesMasterChecksum(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	master.Mknod(Background, 1, RootInode, "foo", TypeFile, 0644, 0)
	master.Unlink(Background, 2, RootInode, "foo")

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))

	_, _, st := shadow.Lookup(Background, RootInode, "foo")
	assert.Equal(t, StatusNotFound, st)
}

func TestReplayRenameReproducesMasterChecksum(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	master.Mknod(Background, 1, RootInode, "foo", TypeFile, 0644, 0)
	master.Mkdir(Background, 1, RootInode, "d", 0755)
	master.Rename(Background, 2, RootInode, "foo", RootInode, "bar", 0)

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))
}

func TestReplayWriteChunkReproducesMasterChecksum(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	id, _, _ := master.Mknod(Background, 1, RootInode, "foo", TypeFile, 0644, 0)
	master.WriteChunk(Background, 2, id, 0)

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))
}

func TestReplaySetGoalTaskConverges(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	dirID, _, _ := master.Mkdir(Background, 1, RootInode, "d", 0755)
	master.Mknod(Background, 1, dirID, "foo", TypeFile, 0644, 0)
	master.SetGoal(2, dirID, 5, true, nil)

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))
}

func TestReplaySnapshotTaskConverges(t *testing.T) {
	var buf strings.Builder
	master := masterWithLog(t, &buf)
	srcID, _, _ := master.Mkdir(Background, 1, RootInode, "src", 0755)
	master.Mknod(Background, 1, srcID, "foo", TypeFile, 0644, 0)
	master.Snapshot(Background, 2, srcID, RootInode, "copy", false, nil)

	shadow := replayLines(t, linesOf(&buf))
	assert.Equal(t, master.Checksum(true), shadow.Checksum(true))

	copyID, _, st := shadow.Lookup(Background, RootInode, "copy")
	require.Equal(t, StatusOK, st)
	_, _, st = shadow.Lookup(Background, copyID, "foo")
	assert.Equal(t, StatusOK, st)
}

func TestReplayAllUnknownOpIsNotFatal(t *testing.T) {
	e := newTestShadowEngine(t)
	err := e.ReplayAll(strings.NewReader("1|BOGUS(1):0\n"))
	assert.NoError(t, err, "a non-mismatch error (unknown op) is logged, not fatal to ReplayAll")
}
