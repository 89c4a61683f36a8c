package idxt

import (
	"fmt"
	"testing"

	"plfsdb/utils"

	"github.com/stretchr/testify/require"
)

func TestWriteBufferSorts(t *testing.T) {
	var wb writeBuffer
	wb.Reserve(16, 1024)
	// 乱序写入
	for _, i := range []int{5, 3, 9, 1, 7, 0, 8, 2, 6, 4} {
		wb.Add([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("val-%d", i)))
	}
	require.Equal(t, 10, wb.NumEntries())
	wb.FinishAndSort()

	iter := wb.NewIterator()
	i := 0
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		require.Equal(t, []byte(fmt.Sprintf("key-%d", i)), iter.Key())
		require.Equal(t, []byte(fmt.Sprintf("val-%d", i)), iter.Value())
		i++
	}
	require.Equal(t, 10, i)
}

// 排序必须稳定：同key保持插入顺序
func TestWriteBufferStableSort(t *testing.T) {
	var wb writeBuffer
	wb.Add([]byte("k"), []byte("v1"))
	wb.Add([]byte("a"), []byte("first"))
	wb.Add([]byte("k"), []byte("v2"))
	wb.Add([]byte("k"), []byte("v3"))
	wb.FinishAndSort()

	iter := wb.NewIterator()
	iter.SeekToFirst()
	require.Equal(t, []byte("a"), iter.Key())
	var values [][]byte
	for iter.Next(); iter.Valid(); iter.Next() {
		require.Equal(t, []byte("k"), iter.Key())
		values = append(values, iter.Value())
	}
	require.Equal(t, [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")}, values)
}

func TestWriteBufferReset(t *testing.T) {
	var wb writeBuffer
	wb.Add([]byte("k"), []byte("v"))
	require.NotZero(t, wb.CurrentBufferSize())
	wb.FinishAndSort()
	wb.Reset()
	require.Zero(t, wb.CurrentBufferSize())
	require.Zero(t, wb.NumEntries())
	// reset之后可以继续写
	wb.Add([]byte("x"), []byte("y"))
	wb.FinishAndSort()
	iter := wb.NewIterator()
	iter.SeekToFirst()
	require.Equal(t, []byte("x"), iter.Key())
}

// writeBuffer的迭代器不支持Seek
func TestWriteBufferIterSeek(t *testing.T) {
	var wb writeBuffer
	wb.Add([]byte("k"), []byte("v"))
	wb.FinishAndSort()
	iter := wb.NewIterator()
	iter.Seek([]byte("k"))
	require.Equal(t, utils.ErrNotSupported, iter.Error())
}

// 空value是合法的
func TestWriteBufferEmptyValue(t *testing.T) {
	var wb writeBuffer
	wb.Add([]byte("k"), nil)
	wb.FinishAndSort()
	iter := wb.NewIterator()
	iter.SeekToFirst()
	require.True(t, iter.Valid())
	require.Empty(t, iter.Value())
}
