package idxt

import (
	"bytes"
	"sort"
	"testing"

	"plfsdb/utils"

	"github.com/stretchr/testify/require"
)

func TestBlockHandleRoundTrip(t *testing.T) {
	h := BlockHandle{Offset: 1 << 40, Size: 12345}
	buf := h.EncodeTo(nil)
	var got BlockHandle
	rest, err := got.DecodeFrom(buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h, got)

	_, err = got.DecodeFrom(nil)
	require.True(t, utils.IsCorruption(err))
}

func TestTableHandleRoundTrip(t *testing.T) {
	h := TableHandle{
		BlockHandle:  BlockHandle{Offset: 7, Size: 99},
		FilterOffset: 1024,
		FilterSize:   64,
		SmallestKey:  []byte("aaa"),
		LargestKey:   []byte("zzz"),
	}
	buf := h.EncodeTo(nil)
	var got TableHandle
	rest, err := got.DecodeFrom(buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h, got)
}

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{
		EpochIndexHandle: BlockHandle{Offset: 4096, Size: 512},
		NumEpochs:        42,
	}
	buf := f.Encode()
	require.Equal(t, FooterEncodedLength, len(buf))

	var got Footer
	require.NoError(t, got.Decode(buf))
	require.Equal(t, f, got)

	// magic被破坏要报Corruption
	bad := append([]byte{}, buf...)
	bad[len(bad)-1] ^= 0xff
	err := got.Decode(bad)
	require.True(t, utils.IsCorruption(err))

	// 长度不对也要报Corruption
	require.True(t, utils.IsCorruption(got.Decode(buf[1:])))
}

// epoch key按(epoch, table)字典序排列，同一个epoch的table连续
func TestEpochKeyOrdering(t *testing.T) {
	var keys [][]byte
	for _, pair := range [][2]uint32{{0, 0}, {0, 1}, {0, 300}, {1, 0}, {1, 2}, {256, 0}} {
		keys = append(keys, EpochKey(pair[0], pair[1]))
	}
	require.True(t, sort.SliceIsSorted(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	}))
}

// trailer的crc覆盖内容和压缩类型byte
func TestFinalizeContents(t *testing.T) {
	contents := []byte("filter payload")
	final := finalizeContents(contents, true)
	require.Equal(t, len(contents)+utils.BlockTrailerSize, len(final))
	require.Equal(t, NoCompression, final[len(contents)])

	// 关闭crc时校验字段是0
	noCrc := finalizeContents(contents, false)
	for _, c := range noCrc[len(contents)+1:] {
		require.Zero(t, c)
	}
}
