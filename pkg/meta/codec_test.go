package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteWriterReaderRoundTrip(t *testing.T) {
	var buf []byte
	w := newByteWriter(&buf)
	w.u8(0xAB)
	w.u16(0x1234)
	w.u32(0xCAFEBABE)
	w.u64(0x0102030405060708)
	w.bytes([]byte("hello"))

	r := newByteReader(buf)
	assert.Equal(t, uint8(0xAB), r.u8())
	assert.Equal(t, uint16(0x1234), r.u16())
	assert.Equal(t, uint32(0xCAFEBABE), r.u32())
	assert.Equal(t, uint64(0x0102030405060708), r.u64())
	assert.Equal(t, []byte("hello"), r.bytes(5))
	require.NoError(t, r.err)
}

func TestByteReaderShortReadSticksError(t *testing.T) {
	r := newByteReader([]byte{0x01, 0x02})
	assert.Equal(t, uint32(0), r.u32(), "truncated read returns zero value")
	assert.Error(t, r.err)

	assert.Equal(t, uint8(0), r.u8(), "once err is set, all further reads return zero")
}

func TestByteReaderBytesCopiesNotAliases(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	r := newByteReader(buf)
	got := r.bytes(4)
	got[0] = 0xFF
	assert.Equal(t, byte(1), buf[0], "bytes() must copy, not alias the source slice")
}
