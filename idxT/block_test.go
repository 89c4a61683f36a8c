package idxt

import (
	"fmt"
	"testing"

	"plfsdb/utils"

	"github.com/stretchr/testify/require"
)

// 构建一个有n条entry的block，返回finish之后的内容
func buildBlock(t *testing.T, restartInterval, n int) ([]byte, [][]byte) {
	bb := newBlockBuilder(restartInterval)
	var keys [][]byte
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		keys = append(keys, key)
		bb.Add(key, []byte(fmt.Sprintf("value-%d", i)))
	}
	contents := bb.Finish()
	return append([]byte{}, contents...), keys
}

func TestBlockBuildAndScan(t *testing.T) {
	for _, interval := range []int{utils.NonDataBlkRestartInt, utils.DataBlkRestartInt} {
		contents, keys := buildBlock(t, interval, 100)
		blk, err := newBlock(contents)
		require.NoError(t, err)

		iter := blk.NewIterator()
		i := 0
		for iter.SeekToFirst(); iter.Valid(); iter.Next() {
			require.Equal(t, keys[i], iter.Key())
			require.Equal(t, []byte(fmt.Sprintf("value-%d", i)), iter.Value())
			i++
		}
		require.NoError(t, iter.Error())
		require.Equal(t, 100, i)
	}
}

func TestBlockSeek(t *testing.T) {
	for _, interval := range []int{1, 4, 16} {
		contents, keys := buildBlock(t, interval, 100)
		blk, err := newBlock(contents)
		require.NoError(t, err)
		iter := blk.NewIterator()

		// 每个存在的key都能seek到
		for i, key := range keys {
			iter.Seek(key)
			require.True(t, iter.Valid())
			require.Equal(t, keys[i], iter.Key())
		}

		// 不存在的key落到第一个更大的entry上
		iter.Seek([]byte("key-0041x"))
		require.True(t, iter.Valid())
		require.Equal(t, []byte("key-0042"), iter.Key())

		// 比所有key都小
		iter.Seek([]byte("a"))
		require.True(t, iter.Valid())
		require.Equal(t, keys[0], iter.Key())

		// 比所有key都大
		iter.Seek([]byte("z"))
		require.False(t, iter.Valid())
		require.NoError(t, iter.Error())
	}
}

func TestBlockBidirectional(t *testing.T) {
	contents, keys := buildBlock(t, 16, 50)
	blk, err := newBlock(contents)
	require.NoError(t, err)
	iter := blk.NewIterator()

	iter.SeekToLast()
	require.True(t, iter.Valid())
	require.Equal(t, keys[49], iter.Key())

	// 从尾部一路Prev回头
	for i := 48; i >= 0; i-- {
		iter.Prev()
		require.True(t, iter.Valid())
		require.Equal(t, keys[i], iter.Key())
	}
	iter.Prev()
	require.False(t, iter.Valid())
}

func TestBlockCorrupted(t *testing.T) {
	// 太短
	_, err := newBlock([]byte{0x01})
	require.True(t, utils.IsCorruption(err))

	// restart数量越界
	bad := make([]byte, 8)
	bad[4] = 0xff
	_, err = newBlock(bad)
	require.True(t, utils.IsCorruption(err))
}

// Finalize在trailer之后补零到padTo的整数倍
func TestBlockFinalizePadding(t *testing.T) {
	bb := newBlockBuilder(16)
	bb.Add([]byte("k"), []byte("v"))
	contents := bb.Finish()
	stored := bb.Finalize(NoCompression, true, 512)
	require.Equal(t, len(contents), stored)
	final := bb.FinalContents()
	require.Equal(t, 512, len(final))
	// padding全是0
	for _, c := range final[stored+utils.BlockTrailerSize:] {
		require.Zero(t, c)
	}
	// trailer之前的内容原样
	blk, err := newBlock(final[:stored])
	require.NoError(t, err)
	iter := blk.NewIterator()
	iter.SeekToFirst()
	require.True(t, iter.Valid())
	require.Equal(t, []byte("k"), iter.Key())
}

// 共享store攒批多个block，commit前offset是store内的相对值
func TestBlockSharedStore(t *testing.T) {
	bb := newBlockBuilder(16)
	bb.Add([]byte("a"), []byte("1"))
	first := bb.Finish()
	firstStored := bb.Finalize(NoCompression, true, 0)
	require.Equal(t, len(first), firstStored)
	bb.Reset()
	base := bb.Base()
	require.Equal(t, firstStored+utils.BlockTrailerSize, base)

	bb.Add([]byte("b"), []byte("2"))
	_ = bb.Finish()
	secondStored := bb.Finalize(NoCompression, true, 0)

	store := bb.Store()
	require.Equal(t, base+secondStored+utils.BlockTrailerSize, len(store))

	// 两个block都可以独立解析
	blk, err := newBlock(store[:firstStored])
	require.NoError(t, err)
	iter := blk.NewIterator()
	iter.SeekToFirst()
	require.Equal(t, []byte("a"), iter.Key())

	blk, err = newBlock(store[base : base+secondStored])
	require.NoError(t, err)
	iter = blk.NewIterator()
	iter.SeekToFirst()
	require.Equal(t, []byte("b"), iter.Key())
}
