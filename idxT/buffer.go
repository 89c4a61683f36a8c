package idxt

import (
	"sort"

	"plfsdb/utils"
)

// 非线程安全的追加写内存表。
// entry以长度前缀的形式平铺在buffer里，offsets记录每条的起始位置，
// compaction时对offsets按key排序，buffer本身不动
type writeBuffer struct {
	offsets  []uint32
	buffer   []byte
	finished bool
}

// 预分配容量
func (w *writeBuffer) Reserve(numEntries int, bufferSize int) {
	if cap(w.buffer) < bufferSize {
		buffer := make([]byte, len(w.buffer), bufferSize)
		copy(buffer, w.buffer)
		w.buffer = buffer
	}
	if cap(w.offsets) < numEntries {
		offsets := make([]uint32, len(w.offsets), numEntries)
		copy(offsets, w.offsets)
		w.offsets = offsets
	}
}

func (w *writeBuffer) CurrentBufferSize() int {
	return len(w.buffer)
}

func (w *writeBuffer) NumEntries() int {
	return len(w.offsets)
}

// 追加一条记录：varint(|k|) ∥ k ∥ varint(|v|) ∥ v
func (w *writeBuffer) Add(key, value []byte) {
	utils.CondPanic(w.finished, utils.ErrAssertion)
	utils.CondPanic(len(key) == 0, utils.ErrAssertion) // Key cannot be empty
	offset := len(w.buffer)
	w.buffer = utils.PutLengthPrefixedSlice(w.buffer, key)
	w.buffer = utils.PutLengthPrefixedSlice(w.buffer, value)
	w.offsets = append(w.offsets, uint32(offset))
}

// offset处entry的key
func (w *writeBuffer) keyAt(offset uint32) []byte {
	key, _, err := utils.GetLengthPrefixedSlice(w.buffer[offset:])
	utils.CondPanic(err != nil, err)
	return key
}

// 结束写入并按key排序。
// 稳定排序：配置允许重复key时，同key的entry保持插入顺序
func (w *writeBuffer) FinishAndSort() {
	utils.CondPanic(w.finished, utils.ErrAssertion)
	sort.SliceStable(w.offsets, func(i, j int) bool {
		return utils.CompareKeys(w.keyAt(w.offsets[i]), w.keyAt(w.offsets[j])) < 0
	})
	w.finished = true
}

// 清空，buffer的底层内存保留复用
func (w *writeBuffer) Reset() {
	w.finished = false
	w.offsets = w.offsets[:0]
	w.buffer = w.buffer[:0]
}

func (w *writeBuffer) memoryUsage() int {
	return cap(w.buffer) + utils.U32Size*cap(w.offsets)
}

// 排序后的遍历游标
func (w *writeBuffer) NewIterator() utils.Iterator {
	utils.AssertTrue(w.finished)
	return &bufferIter{wb: w, cursor: -1}
}

type bufferIter struct {
	wb     *writeBuffer
	cursor int
	err    error
}

func (it *bufferIter) Valid() bool {
	return it.cursor >= 0 && it.cursor < len(it.wb.offsets)
}

func (it *bufferIter) SeekToFirst() { it.cursor = 0 }

func (it *bufferIter) SeekToLast() { it.cursor = len(it.wb.offsets) - 1 }

// writeBuffer的迭代器不支持Seek
func (it *bufferIter) Seek(target []byte) {
	it.err = utils.ErrNotSupported
}

func (it *bufferIter) Next() { it.cursor++ }

func (it *bufferIter) Prev() { it.cursor-- }

func (it *bufferIter) Key() []byte {
	utils.AssertTrue(it.Valid())
	return it.wb.keyAt(it.wb.offsets[it.cursor])
}

func (it *bufferIter) Value() []byte {
	utils.AssertTrue(it.Valid())
	entry := it.wb.buffer[it.wb.offsets[it.cursor]:]
	_, rest, err := utils.GetLengthPrefixedSlice(entry)
	utils.CondPanic(err != nil, err)
	value, _, err := utils.GetLengthPrefixedSlice(rest)
	utils.CondPanic(err != nil, err)
	return value
}

func (it *bufferIter) Error() error { return it.err }
