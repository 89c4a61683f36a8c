package idxt

import (
	"encoding/binary"
	"sort"

	"plfsdb/utils"

	"github.com/pkg/errors"
)

// 追加写的block构建器，restart点做前缀压缩。
// 底层store可以跨block复用：数据block在commit之前会在同一个store里
// 攒多个已经finalize的block，一次加锁追加到数据log
type blockBuilder struct {
	restartInterval int
	store           []byte
	// 当前block在store中的起始位置
	base     int
	restarts []uint32
	counter  int
	entries  int
	lastKey  []byte
	finished bool
}

func newBlockBuilder(restartInterval int) *blockBuilder {
	b := &blockBuilder{
		restartInterval: restartInterval,
	}
	b.Reset()
	return b
}

// 预分配store容量
func (b *blockBuilder) Reserve(n int) {
	if cap(b.store) < len(b.store)+n {
		store := make([]byte, len(b.store), len(b.store)+n)
		copy(store, b.store)
		b.store = store
	}
}

// 替换底层store，通常传nil配合Reset清空攒批内存
func (b *blockBuilder) SwitchStore(store []byte) {
	b.store = store
}

// 开始一个新的block。store中已有的内容保持不动
func (b *blockBuilder) Reset() {
	b.base = len(b.store)
	b.restarts = b.restarts[:0]
	b.restarts = append(b.restarts, 0)
	b.counter = 0
	b.entries = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

func (b *blockBuilder) Empty() bool {
	return b.entries == 0
}

// 追加一个entry。key必须不小于上一个key
func (b *blockBuilder) Add(key, value []byte) {
	utils.CondPanic(b.finished, utils.ErrAssertion)
	utils.CondPanic(len(b.lastKey) > 0 && utils.CompareKeys(key, b.lastKey) < 0, utils.ErrAssertion)

	shared := 0
	if b.counter >= b.restartInterval {
		// 开一个新的restart点，key完整保存
		b.restarts = append(b.restarts, uint32(len(b.store)-b.base))
		b.counter = 0
	} else {
		// 和上一个key相同的前缀不再重复存储
		n := len(key)
		if len(b.lastKey) < n {
			n = len(b.lastKey)
		}
		for shared < n && key[shared] == b.lastKey[shared] {
			shared++
		}
	}

	b.store = utils.PutUvarint(b.store, uint64(shared))
	b.store = utils.PutUvarint(b.store, uint64(len(key)-shared))
	b.store = utils.PutUvarint(b.store, uint64(len(value)))
	b.store = append(b.store, key[shared:]...)
	b.store = append(b.store, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
	b.entries++
}

// 当前block finish之后的大小估计
func (b *blockBuilder) CurrentSizeEstimate() int {
	return (len(b.store) - b.base) + 4*len(b.restarts) + 4
}

// 封口：追加restart数组和数量，返回不带trailer的block内容
func (b *blockBuilder) Finish() []byte {
	utils.CondPanic(b.finished, utils.ErrAssertion)
	b.finished = true
	var u32 [4]byte
	for _, r := range b.restarts {
		binary.LittleEndian.PutUint32(u32[:], r)
		b.store = append(b.store, u32[:]...)
	}
	binary.LittleEndian.PutUint32(u32[:], uint32(len(b.restarts)))
	b.store = append(b.store, u32[:]...)
	return b.store[b.base:]
}

// 在Finish之后追加trailer，并按需压缩、补零对齐。
// padTo>0时在trailer之后补零，使block总长是padTo的整数倍。
// 返回落盘的内容大小(不含trailer和padding)，也就是handle应该记录的size
func (b *blockBuilder) Finalize(compression byte, withCrc bool, padTo int) (storedSize int) {
	utils.CondPanic(!b.finished, utils.ErrAssertion)
	if compression == SnappyCompression {
		encoded := snappyEncode(b.store[b.base:])
		// 压不小就按未压缩落盘
		if len(encoded) < len(b.store)-b.base {
			b.store = append(b.store[:b.base], encoded...)
		} else {
			compression = NoCompression
		}
	}
	storedSize = len(b.store) - b.base
	b.store = append(b.store, compression)
	crc := uint32(0)
	if withCrc {
		crc = utils.MaskChecksum(utils.ChecksumValue(b.store[b.base:]))
	}
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], crc)
	b.store = append(b.store, u32[:]...)
	if padTo > 0 {
		for (len(b.store)-b.base)%padTo != 0 {
			b.store = append(b.store, 0)
		}
	}
	return storedSize
}

// 当前block在store中的起始偏移
func (b *blockBuilder) Base() int {
	return b.base
}

// store的全部内容(可能包含多个待commit的block)
func (b *blockBuilder) Store() []byte {
	return b.store
}

// 当前block finalize之后的完整落盘内容(含trailer和padding)
func (b *blockBuilder) FinalContents() []byte {
	return b.store[b.base:]
}

// --------------------------------------------------------------------

// 解码之后的block，借用底层数据
type block struct {
	data []byte
	// restart数组的起始位置
	restartsOffset int
	numRestarts    int
}

// 校验并解析block的restart区
func newBlock(contents []byte) (*block, error) {
	if len(contents) < 4 {
		return nil, utils.Corruption("block too short")
	}
	numRestarts := int(binary.LittleEndian.Uint32(contents[len(contents)-4:]))
	maxRestarts := (len(contents) - 4) / 4
	if numRestarts == 0 || numRestarts > maxRestarts {
		return nil, utils.Corruption("bad restart count %d", numRestarts)
	}
	return &block{
		data:           contents,
		restartsOffset: len(contents) - 4*(numRestarts+1),
		numRestarts:    numRestarts,
	}, nil
}

// 第i个restart点对应的entry偏移
func (b *block) restartPoint(i int) int {
	return int(binary.LittleEndian.Uint32(b.data[b.restartsOffset+4*i:]))
}

// restart点处entry的完整key。restart点不做前缀压缩
func (b *block) restartKey(i int) ([]byte, bool) {
	data := b.data[:b.restartsOffset]
	offset := b.restartPoint(i)
	if offset >= len(data) {
		return nil, false
	}
	_, rest, err := utils.GetUvarint(data[offset:])
	if err != nil {
		return nil, false
	}
	nonShared, rest, err := utils.GetUvarint(rest)
	if err != nil {
		return nil, false
	}
	if _, rest, err = utils.GetUvarint(rest); err != nil {
		return nil, false
	}
	if uint64(len(rest)) < nonShared {
		return nil, false
	}
	return rest[:nonShared], true
}

func (b *block) NewIterator() *blockIter {
	return &blockIter{
		blk:    b,
		offset: -1,
	}
}

// block内的双向游标。
// offset为-1表示无效位置；key在restart段内沿途重建
type blockIter struct {
	blk *block
	// 当前entry的偏移，-1表示无效
	offset     int
	nextOffset int
	key        []byte
	value      []byte
	err        error
}

func (it *blockIter) Valid() bool {
	return it.err == nil && it.offset >= 0
}

func (it *blockIter) Error() error {
	return it.err
}

func (it *blockIter) Key() []byte {
	utils.AssertTrue(it.Valid())
	return it.key
}

func (it *blockIter) Value() []byte {
	utils.AssertTrue(it.Valid())
	return it.value
}

// 标记为无效
func (it *blockIter) invalidate() {
	it.offset = -1
	it.key = it.key[:0]
	it.value = nil
}

func (it *blockIter) corrupt() {
	it.invalidate()
	it.err = errors.Wrap(utils.ErrCorruption, "malformed block entry")
}

// 解析offset处的entry。依赖it.key已经是前一个entry的key(前缀重建)
func (it *blockIter) parseAt(offset int) bool {
	data := it.blk.data[:it.blk.restartsOffset]
	if offset >= len(data) {
		it.invalidate()
		return false
	}
	rest := data[offset:]
	shared, rest, err := utils.GetUvarint(rest)
	if err != nil {
		it.corrupt()
		return false
	}
	nonShared, rest, err := utils.GetUvarint(rest)
	if err != nil {
		it.corrupt()
		return false
	}
	valueLen, rest, err := utils.GetUvarint(rest)
	if err != nil {
		it.corrupt()
		return false
	}
	if int(shared) > len(it.key) || uint64(len(rest)) < nonShared+valueLen {
		it.corrupt()
		return false
	}
	it.key = append(it.key[:shared], rest[:nonShared]...)
	it.value = rest[nonShared : nonShared+valueLen]
	it.offset = offset
	it.nextOffset = it.blk.restartsOffset - len(rest) + int(nonShared) + int(valueLen)
	return true
}

// 跳到restart点，该处的entry不做前缀压缩
func (it *blockIter) seekToRestart(i int) bool {
	it.key = it.key[:0]
	return it.parseAt(it.blk.restartPoint(i))
}

func (it *blockIter) SeekToFirst() {
	if it.err != nil {
		return
	}
	it.seekToRestart(0)
}

func (it *blockIter) SeekToLast() {
	if it.err != nil {
		return
	}
	if !it.seekToRestart(it.blk.numRestarts - 1) {
		return
	}
	// 顺着走到最后一个entry
	for it.nextOffset < it.blk.restartsOffset {
		if !it.parseAt(it.nextOffset) {
			return
		}
	}
}

// 定位到第一个key >= target的entry
func (it *blockIter) Seek(target []byte) {
	if it.err != nil {
		return
	}
	// 先在restart点上二分，找最后一个首key < target的restart段
	index := sort.Search(it.blk.numRestarts, func(i int) bool {
		first, ok := it.blk.restartKey(i)
		if !ok {
			return true
		}
		return utils.CompareKeys(first, target) >= 0
	}) - 1
	if index < 0 {
		index = 0
	}
	// 再在段内线性找
	if !it.seekToRestart(index) {
		return
	}
	for utils.CompareKeys(it.key, target) < 0 {
		if it.nextOffset >= it.blk.restartsOffset {
			it.invalidate()
			return
		}
		if !it.parseAt(it.nextOffset) {
			return
		}
	}
}

func (it *blockIter) Next() {
	utils.AssertTrue(it.Valid())
	it.parseAt(it.nextOffset)
}

// 回退一个entry：退到当前entry之前的restart点再顺着走过来
func (it *blockIter) Prev() {
	utils.AssertTrue(it.Valid())
	original := it.offset
	// 找到最后一个在original之前的restart点
	index := it.blk.numRestarts - 1
	for index > 0 && it.blk.restartPoint(index) >= original {
		index--
	}
	if it.blk.restartPoint(index) >= original {
		// 已经是第一个entry
		it.invalidate()
		return
	}
	if !it.seekToRestart(index) {
		return
	}
	for it.nextOffset < original {
		if !it.parseAt(it.nextOffset) {
			return
		}
	}
}
