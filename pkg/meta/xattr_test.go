package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXattrStoreSetGet(t *testing.T) {
	s := newXattrStore()
	st := s.set(RootInode, "user.a", []byte("v1"), XattrCreateOrReplace)
	require.Equal(t, StatusOK, st)

	v, ok := s.get(RootInode, "user.a")
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestXattrStoreCreateOnlyRejectsExisting(t *testing.T) {
	s := newXattrStore()
	require.Equal(t, StatusOK, s.set(RootInode, "user.a", []byte("v1"), XattrCreateOnly))
	st := s.set(RootInode, "user.a", []byte("v2"), XattrCreateOnly)
	assert.Equal(t, StatusAlreadyExists, st)
}

func TestXattrStoreReplaceOnlyRejectsMissing(t *testing.T) {
	s := newXattrStore()
	st := s.set(RootInode, "user.a", []byte("v1"), XattrReplaceOnly)
	assert.Equal(t, StatusNotFound, st)
}

func TestXattrStoreRemove(t *testing.T) {
	s := newXattrStore()
	require.Equal(t, StatusOK, s.set(RootInode, "user.a", []byte("v1"), XattrCreateOrReplace))
	require.Equal(t, StatusOK, s.set(RootInode, "user.a", nil, XattrRemove))

	_, ok := s.get(RootInode, "user.a")
	assert.False(t, ok)
	assert.Empty(t, s.list(RootInode))
}

func TestXattrStoreRemoveMissingReturnsNotFound(t *testing.T) {
	s := newXattrStore()
	assert.Equal(t, StatusNotFound, s.set(RootInode, "user.a", nil, XattrRemove))
}

func TestXattrStoreInvalidName(t *testing.T) {
	s := newXattrStore()
	assert.Equal(t, StatusInvalidArgument, s.set(RootInode, "", []byte("v"), XattrCreateOrReplace))
}

func TestXattrStoreValueTooLarge(t *testing.T) {
	s := newXattrStore()
	big := make([]byte, xattrValueMax+1)
	assert.Equal(t, StatusInvalidArgument, s.set(RootInode, "user.a", big, XattrCreateOrReplace))
}

func TestXattrStoreListAndRemoveInode(t *testing.T) {
	s := newXattrStore()
	require.Equal(t, StatusOK, s.set(RootInode, "user.a", []byte("1"), XattrCreateOrReplace))
	require.Equal(t, StatusOK, s.set(RootInode, "user.b", []byte("2"), XattrCreateOrReplace))

	assert.ElementsMatch(t, []string{"user.a", "user.b"}, s.list(RootInode))

	s.removeInode(RootInode)
	assert.Empty(t, s.list(RootInode))
	_, ok := s.get(RootInode, "user.a")
	assert.False(t, ok)
}

func TestXattrStoreForEachVisitsEveryEntry(t *testing.T) {
	s := newXattrStore()
	require.Equal(t, StatusOK, s.set(RootInode, "user.a", []byte("1"), XattrCreateOrReplace))
	require.Equal(t, StatusOK, s.set(Ino(2), "user.b", []byte("2"), XattrCreateOrReplace))

	seen := map[Ino]string{}
	s.forEach(func(inode Ino, name string, e *xattrEntry) {
		seen[inode] = name
	})
	assert.Equal(t, "user.a", seen[RootInode])
	assert.Equal(t, "user.b", seen[Ino(2)])
}

func TestXattrHashDependsOnAllFields(t *testing.T) {
	a := xattrHash(RootInode, "user.a", []byte("v1"))
	b := xattrHash(RootInode, "user.a", []byte("v2"))
	c := xattrHash(Ino(2), "user.a", []byte("v1"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
