package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupResolvesChild(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, st := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	require.Equal(t, StatusOK, st)

	gotID, attr, st := e.Lookup(Background, RootInode, "foo")
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, id, gotID)
	assert.Equal(t, TypeFile, attr.Typ)
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	e := newTestMasterEngine(t)
	_, _, st := e.Lookup(Background, RootInode, "missing")
	assert.Equal(t, StatusNotFound, st)
}

func TestGetAttrAndAccess(t *testing.T) {
	e := newTestMasterEngine(t)
	attr, st := e.GetAttr(Background, RootInode)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, TypeDirectory, attr.Typ)

	assert.Equal(t, StatusOK, e.Access(Background, RootInode, 7))
	assert.Equal(t, StatusNotFound, e.Access(Background, Ino(999), 7))
}

func TestSetAttrAppliesModeAndEmitsChangelog(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	attr, st := e.SetAttr(Background, 10, id, SetAttrMode, Attr{Mode: 0600})
	require.Equal(t, StatusOK, st)
	assert.Equal(t, uint16(0600), attr.Mode)
	assert.Equal(t, int64(10), attr.Ctime)
}

func TestSetAttrRejectsNonOwnerNonRoot(t *testing.T) {
	e := newTestMasterEngine(t)
	owner := NewContext(1, 0, 1, 1, nil)
	id, _, _ := e.Mknod(owner, 0, RootInode, "foo", TypeFile, 0644, 0)
	other := NewContext(2, 0, 2, 2, nil)
	_, st := e.SetAttr(other, 10, id, SetAttrMode, Attr{Mode: 0600})
	assert.Equal(t, StatusAccessDenied, st)
}

func TestMknodRejectsDuplicateName(t *testing.T) {
	e := newTestMasterEngine(t)
	_, _, st := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	require.Equal(t, StatusOK, st)

	_, _, st = e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	assert.Equal(t, StatusAlreadyExists, st)
}

func TestMkdirCreatesDirectory(t *testing.T) {
	e := newTestMasterEngine(t)
	id, attr, st := e.Mkdir(Background, 0, RootInode, "sub", 0755)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, TypeDirectory, attr.Typ)
	assert.NotNil(t, e.getNode(id))
}

func TestSymlinkStoresTargetAndReadlink(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, st := e.Symlink(Background, 0, RootInode, "link", []byte("/a/b"))
	require.Equal(t, StatusOK, st)

	target, st := e.Readlink(id)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, "/a/b", string(target))
}

func TestReadlinkOnNonSymlink(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	_, st := e.Readlink(id)
	assert.Equal(t, StatusInvalidArgument, st)
}

func TestLinkCreatesHardLink(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	dirID, _, _ := e.Mkdir(Background, 0, RootInode, "d", 0755)

	_, st := e.Link(Background, 0, id, dirID, "bar")
	require.Equal(t, StatusOK, st)

	gotID, _, st := e.Lookup(Background, dirID, "bar")
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, id, gotID)
}

func TestLinkRejectsDirectories(t *testing.T) {
	e := newTestMasterEngine(t)
	dirID, _, _ := e.Mkdir(Background, 0, RootInode, "d", 0755)
	_, st := e.Link(Background, 0, dirID, RootInode, "alias")
	assert.Equal(t, StatusNotPermitted, st)
}

func TestUnlinkDestroysLastLinkWithoutTrash(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	st := e.Unlink(Background, 0, RootInode, "foo")
	assert.Equal(t, StatusOK, st)
	assert.Nil(t, e.getNode(id))
}

func TestUnlinkMovesToTrashWhenTrashtimeSet(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	n := e.getNode(id)
	n.attr.Trashtime = 100

	st := e.Unlink(Background, 5, RootInode, "foo")
	assert.Equal(t, StatusOK, st)
	assert.NotNil(t, e.getNode(id), "a trashtime entry is kept, not destroyed")
	assert.True(t, e.trash.contains(id))
}

func TestUnlinkRejectsDirectories(t *testing.T) {
	e := newTestMasterEngine(t)
	e.Mkdir(Background, 0, RootInode, "d", 0755)
	st := e.Unlink(Background, 0, RootInode, "d")
	assert.Equal(t, StatusIsADirectory, st)
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	e := newTestMasterEngine(t)
	dirID, _, _ := e.Mkdir(Background, 0, RootInode, "d", 0755)
	e.Mknod(Background, 0, dirID, "foo", TypeFile, 0644, 0)

	st := e.Rmdir(Background, 0, RootInode, "d")
	assert.Equal(t, StatusNotEmpty, st)
}

func TestRmdirRemovesEmptyDirectory(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mkdir(Background, 0, RootInode, "d", 0755)
	st := e.Rmdir(Background, 0, RootInode, "d")
	assert.Equal(t, StatusOK, st)
	assert.Nil(t, e.getNode(id))
}

func TestRenameMovesEntry(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	dirID, _, _ := e.Mkdir(Background, 0, RootInode, "d", 0755)

	st := e.Rename(Background, 0, RootInode, "foo", dirID, "bar", 0)
	require.Equal(t, StatusOK, st)

	_, _, st = e.Lookup(Background, RootInode, "foo")
	assert.Equal(t, StatusNotFound, st)
	gotID, _, st := e.Lookup(Background, dirID, "bar")
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, id, gotID)
}

func TestRenameRefusesMovingDirectoryIntoOwnSubtree(t *testing.T) {
	e := newTestMasterEngine(t)
	dirID, _, _ := e.Mkdir(Background, 0, RootInode, "d", 0755)
	subID, _, _ := e.Mkdir(Background, 0, dirID, "sub", 0755)

	st := e.Rename(Background, 0, RootInode, "d", subID, "loop", 0)
	assert.Equal(t, StatusInvalidArgument, st)
}

func TestRenameNoReplaceRejectsExisting(t *testing.T) {
	e := newTestMasterEngine(t)
	e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	e.Mknod(Background, 0, RootInode, "bar", TypeFile, 0644, 0)

	st := e.Rename(Background, 0, RootInode, "foo", RootInode, "bar", RenameNoReplace)
	assert.Equal(t, StatusAlreadyExists, st)
}

func TestRenameExchangeSwapsBothEntries(t *testing.T) {
	e := newTestMasterEngine(t)
	fooID, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	barID, _, _ := e.Mknod(Background, 0, RootInode, "bar", TypeFile, 0644, 0)

	st := e.Rename(Background, 0, RootInode, "foo", RootInode, "bar", RenameExchange)
	require.Equal(t, StatusOK, st)

	gotFoo, _, _ := e.Lookup(Background, RootInode, "foo")
	gotBar, _, _ := e.Lookup(Background, RootInode, "bar")
	assert.Equal(t, barID, gotFoo)
	assert.Equal(t, fooID, gotBar)
}

func TestReaddirListsChildrenWithCookieAndLimit(t *testing.T) {
	e := newTestMasterEngine(t)
	e.Mknod(Background, 0, RootInode, "a", TypeFile, 0644, 0)
	e.Mknod(Background, 0, RootInode, "b", TypeFile, 0644, 0)
	e.Mknod(Background, 0, RootInode, "c", TypeFile, 0644, 0)

	all, st := e.Readdir(Background, RootInode, 0, 0)
	require.Equal(t, StatusOK, st)
	require.Len(t, all, 3)

	limited, st := e.Readdir(Background, RootInode, 1, 1)
	require.Equal(t, StatusOK, st)
	require.Len(t, limited, 1)
	assert.Equal(t, all[1].Inode, limited[0].Inode)
}

func TestOpenReleaseRoundTrip(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	_, st := e.Open(Background, id, 1)
	require.Equal(t, StatusOK, st)
	assert.True(t, e.getNode(id).open())

	st = e.Release(0, id, 1)
	assert.Equal(t, StatusOK, st)
	assert.False(t, e.getNode(id).open())
}

func TestReadWriteChunk(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	chunkID, st := e.WriteChunk(Background, 0, id, 0)
	require.Equal(t, StatusOK, st)
	assert.NotZero(t, chunkID)

	gotID, _, st := e.ReadChunk(0, id, 0)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, chunkID, gotID)
}

func TestWriteChunkReusesExistingRef(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	first, st := e.WriteChunk(Background, 0, id, 0)
	require.Equal(t, StatusOK, st)
	second, st := e.WriteChunk(Background, 0, id, 0)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, first, second, "re-writing the same index reuses/refs the same chunk")
}

func TestGetSetXattr(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	st := e.SetXattr(0, id, "user.a", []byte("v1"), XattrCreateOrReplace)
	require.Equal(t, StatusOK, st)

	v, st := e.GetXattr(id, "user.a")
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, "v1", string(v))

	names, st := e.ListXattr(id)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, []string{"user.a"}, names)
}

func TestGetSetFacl(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	acl := Acl{Entries: []AclEntry{{Tag: 0, Perm: 7}}}
	st := e.SetFacl(0, id, AclAccess, acl)
	require.Equal(t, StatusOK, st)

	got, st := e.GetFacl(id, AclAccess)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, acl, got)
}

func TestGetSetLockConflict(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	owner := LockOwner{Session: 1, Owner: 1}
	st := e.SetLock(0, id, LockRange{Type: LockExclusive, Start: 0, End: 10, Owners: []LockOwner{owner}}, true)
	require.Equal(t, StatusOK, st)

	other := LockOwner{Session: 2, Owner: 2}
	conflict, held := e.GetLock(id, LockRange{Type: LockExclusive, Start: 5, End: 15, Owners: []LockOwner{other}})
	assert.True(t, held)
	assert.Equal(t, owner, conflict.Owners[0])
}

func TestGetSetQuota(t *testing.T) {
	e := newTestMasterEngine(t)
	st := e.SetQuota(0, OwnerUser, 1, 10, 20, 1000, 2000)
	require.Equal(t, StatusOK, st)

	q, st := e.GetQuota(OwnerUser, 1)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, uint64(20), q.HardInodes)
}

func TestGetSummaryReflectsChildren(t *testing.T) {
	e := newTestMasterEngine(t)
	e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	e.Mkdir(Background, 0, RootInode, "d", 0755)

	s, st := e.GetSummary(RootInode)
	require.Equal(t, StatusOK, st)
	assert.EqualValues(t, 1, s.Files)
	assert.EqualValues(t, 1, s.Dirs)
}

func TestSetGoalSubmitsTask(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	_, done, st := e.SetGoal(0, id, 3, false, nil)
	require.Equal(t, StatusOK, st)
	assert.True(t, done, "a single-file setgoal finishes inline")
	assert.Equal(t, uint8(3), e.getNode(id).attr.Goal)
}

func TestSetGoalNotFound(t *testing.T) {
	e := newTestMasterEngine(t)
	_, _, st := e.SetGoal(0, Ino(999), 3, false, nil)
	assert.Equal(t, StatusNotFound, st)
}

func TestSetGoalCallbackFiresWithFinalStatus(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	var got Status
	fired := false
	_, done, st := e.SetGoal(0, id, 3, false, func(s Status) { fired = true; got = s })
	require.Equal(t, StatusOK, st)
	require.True(t, done)
	assert.True(t, fired, "callback must fire for an inline-completed job")
	assert.Equal(t, StatusOK, got)
}

func TestSetTrashTimeSubmitsTask(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)

	_, done, st := e.SetTrashTime(0, id, 3600, false, nil)
	require.Equal(t, StatusOK, st)
	assert.True(t, done)
	assert.Equal(t, uint32(3600), e.getNode(id).attr.Trashtime)
}

func TestSnapshotRejectsExistingWithoutOverwrite(t *testing.T) {
	e := newTestMasterEngine(t)
	srcID, _, _ := e.Mkdir(Background, 0, RootInode, "src", 0755)
	e.Mknod(Background, 0, RootInode, "dst", TypeFile, 0644, 0)

	_, _, st := e.Snapshot(Background, 0, srcID, RootInode, "dst", false, nil)
	assert.Equal(t, StatusAlreadyExists, st)
}

func TestSnapshotCreatesCopy(t *testing.T) {
	e := newTestMasterEngine(t)
	srcID, _, _ := e.Mkdir(Background, 0, RootInode, "src", 0755)
	e.Mknod(Background, 0, srcID, "foo", TypeFile, 0644, 0)

	_, done, st := e.Snapshot(Background, 0, srcID, RootInode, "copy", false, nil)
	require.Equal(t, StatusOK, st)
	assert.True(t, done)

	copyID, _, st := e.Lookup(Background, RootInode, "copy")
	require.Equal(t, StatusOK, st)
	_, _, st = e.Lookup(Background, copyID, "foo")
	assert.Equal(t, StatusOK, st)
}

func TestPurgeDestroysTrashEntryEarly(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	e.getNode(id).attr.Trashtime = 1000
	e.Unlink(Background, 0, RootInode, "foo")
	require.True(t, e.trash.contains(id))

	st := e.Purge(0, id)
	assert.Equal(t, StatusOK, st)
	assert.Nil(t, e.getNode(id))
}

func TestUndelRestoresTrashEntry(t *testing.T) {
	e := newTestMasterEngine(t)
	id, _, _ := e.Mknod(Background, 0, RootInode, "foo", TypeFile, 0644, 0)
	e.getNode(id).attr.Trashtime = 1000
	e.Unlink(Background, 0, RootInode, "foo")
	require.True(t, e.trash.contains(id))

	st := e.Undel(0, id, RootInode, "restored")
	require.Equal(t, StatusOK, st)
	assert.False(t, e.trash.contains(id))

	gotID, _, st := e.Lookup(Background, RootInode, "restored")
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, id, gotID)
}
