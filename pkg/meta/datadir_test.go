package meta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockDataDirCreatesDirAndLocks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	lock, err := LockDataDir(dir, false)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.NoError(t, lock.Unlock())
}

func TestLockDataDirRefusesSecondLockerWithoutAutoRecovery(t *testing.T) {
	dir := t.TempDir()
	first, err := LockDataDir(dir, false)
	require.NoError(t, err)
	defer first.Unlock()

	_, err = LockDataDir(dir, false)
	assert.Error(t, err)
}

func TestLockDataDirAutoRecoveryProceedsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	first, err := LockDataDir(dir, false)
	require.NoError(t, err)
	defer first.Unlock()

	second, err := LockDataDir(dir, true)
	require.NoError(t, err)
	assert.NoError(t, second.Unlock())
}

func TestUnlockOnNilLockIsNoop(t *testing.T) {
	var l *DataDirLock
	assert.NoError(t, l.Unlock())
}

func TestWriteReadQuickStopRoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteQuickStop(dir, 42))

	version, ok := ReadQuickStop(dir)
	require.True(t, ok)
	assert.EqualValues(t, 42, version)
}

func TestReadQuickStopRemovesSentinelAfterRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteQuickStop(dir, 7))

	_, ok := ReadQuickStop(dir)
	require.True(t, ok)

	_, ok = ReadQuickStop(dir)
	assert.False(t, ok, "the sentinel is consumed on first read")
}

func TestReadQuickStopMissingFileReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	_, ok := ReadQuickStop(dir)
	assert.False(t, ok)
}

func TestReadQuickStopMalformedContentReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, quickStopFileName)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	_, ok := ReadQuickStop(dir)
	assert.False(t, ok)
}
