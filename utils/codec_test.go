package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	for _, u := range []uint64{0, 1, 127, 128, 1 << 20, 1<<63 + 7} {
		buf := PutUvarint(nil, u)
		require.Equal(t, VarintLength(u), len(buf))
		got, rest, err := GetUvarint(buf)
		require.NoError(t, err)
		require.Equal(t, u, got)
		require.Empty(t, rest)
	}
	_, _, err := GetUvarint(nil)
	require.Error(t, err)
}

func TestLengthPrefixedSlice(t *testing.T) {
	buf := PutLengthPrefixedSlice(nil, []byte("hello"))
	buf = PutLengthPrefixedSlice(buf, nil)
	buf = PutLengthPrefixedSlice(buf, []byte("world"))

	s, rest, err := GetLengthPrefixedSlice(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), s)
	s, rest, err = GetLengthPrefixedSlice(rest)
	require.NoError(t, err)
	require.Empty(t, s)
	s, rest, err = GetLengthPrefixedSlice(rest)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), s)
	require.Empty(t, rest)

	// 长度越界要报Corruption
	_, _, err = GetLengthPrefixedSlice([]byte{0x05, 'a'})
	require.True(t, IsCorruption(err))
}

func TestChecksumMask(t *testing.T) {
	data := []byte("some bytes to protect")
	crc := ChecksumValue(data)
	require.Equal(t, crc, UnmaskChecksum(MaskChecksum(crc)))
	require.NotEqual(t, crc, MaskChecksum(crc))

	// 篡改之后checksum必须变化
	tampered := append([]byte{}, data...)
	tampered[0] ^= 0x01
	require.NotEqual(t, crc, ChecksumValue(tampered))

	// 追加计算和一次性计算等价
	require.Equal(t, crc, ChecksumExtend(ChecksumValue(data[:5]), data[5:]))
}
