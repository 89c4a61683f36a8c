package idxt

import (
	"plfsdb/file"
	"plfsdb/utils"
)

// 写入侧产出的字节统计。final_*包含trailer和padding
type outputStats struct {
	footerSize      int64
	finalDataSize   int64
	dataSize        int64
	finalMetaSize   int64
	metaSize        int64
	finalIndexSize  int64
	indexSize       int64
	finalFilterSize int64
	filterSize      int64
	valueSize       int64
	keySize         int64
}

func (s *outputStats) totalIndexSize() int64 {
	return s.filterSize + s.indexSize + s.metaSize + s.footerSize
}

func (s *outputStats) totalDataSize() int64 {
	return s.dataSize
}

// 将一个epoch内的table写入数据log和索引log，
// Finish时在索引log末尾写meta-index block和footer。
// 第一个非nil的错误会粘住，后续所有操作都变成no-op
type tableLogger struct {
	opt *Options
	err error

	smallestKey []byte
	largestKey  []byte
	lastKey     []byte

	dataBlock  *blockBuilder
	indexBlock *blockBuilder
	metaBlock  *blockBuilder

	pendingIndexEntry  bool
	pendingIndexHandle BlockHandle
	pendingMetaEntry   bool
	pendingMetaHandle  TableHandle

	// 已经finalize但还没commit的block对应的索引项：
	// 长度前缀的separator + handle(offset是store内的相对值)
	uncommittedIndexes []byte
	numUncommittedData int
	numUncommittedIndx int

	// epoch内的table计数 / 已经生成的epoch计数
	numTables uint32
	numEpochs uint32

	dataSink *file.LogSink
	indxSink *file.LogSink
	finished bool

	stats outputStats
}

func newTableLogger(opt *Options, data, indx *file.LogSink) *tableLogger {
	utils.CondPanic(data == nil || indx == nil, utils.ErrAssertion)
	tb := &tableLogger{
		opt:        opt,
		dataBlock:  newBlockBuilder(utils.DataBlkRestartInt),
		indexBlock: newBlockBuilder(utils.NonDataBlkRestartInt),
		metaBlock:  newBlockBuilder(utils.NonDataBlkRestartInt),
		dataSink:   data,
		indxSink:   indx,
	}
	data.Ref()
	indx.Ref()

	// 预分配内存
	const estimatedIndexSizePerTable = 4 << 10
	tb.indexBlock.Reserve(estimatedIndexSizePerTable)
	const estimatedMetaSize = 4 << 10
	tb.metaBlock.Reserve(estimatedMetaSize)
	tb.uncommittedIndexes = make([]byte, 0, 1<<10)
	tb.dataBlock.Reserve(opt.BlockBuffer)
	return tb
}

// 释放对log的引用
func (tb *tableLogger) release() {
	tb.indxSink.Unref()
	tb.dataSink.Unref()
}

func (tb *tableLogger) ok() bool {
	return tb.err == nil
}

func (tb *tableLogger) status() error {
	return tb.err
}

// 追加一条记录。同一个table内的key必须有序
func (tb *tableLogger) Add(key, value []byte) {
	utils.CondPanic(tb.finished, utils.ErrAssertion) // Finish() has not been called
	utils.CondPanic(len(key) == 0, utils.ErrAssertion)
	if !tb.ok() {
		return // Abort
	}

	if len(tb.lastKey) > 0 {
		// key必须不小于上一个；unique模式下不允许重复
		utils.CondPanic(utils.CompareKeys(key, tb.lastKey) < 0, utils.ErrAssertion)
		if tb.opt.UniqueKeys {
			utils.CondPanic(utils.CompareKeys(key, tb.lastKey) == 0, utils.ErrAssertion)
		}
	}
	if len(tb.smallestKey) == 0 {
		tb.smallestKey = append(tb.smallestKey[:0], key...)
	}
	tb.largestKey = append(tb.largestKey[:0], key...)

	// 有待插入的索引项就先补上separator
	if tb.pendingIndexEntry {
		separator := utils.FindShortestSeparator(tb.lastKey, key)
		tb.uncommittedIndexes = utils.PutLengthPrefixedSlice(tb.uncommittedIndexes, separator)
		tb.uncommittedIndexes = tb.pendingIndexHandle.EncodeTo(tb.uncommittedIndexes)
		tb.pendingIndexEntry = false
		tb.numUncommittedIndx++
	}

	// 攒批快满了就commit一次。只在block边界commit，构建中的block不能被写出
	if tb.dataBlock.Empty() && len(tb.dataBlock.Store())+tb.opt.BlockSize > tb.opt.BlockBuffer {
		tb.commit()
	}

	tb.lastKey = append(tb.lastKey[:0], key...)
	tb.stats.valueSize += int64(len(value))
	tb.stats.keySize += int64(len(key))

	tb.dataBlock.Add(key, value)
	if tb.dataBlock.CurrentSizeEstimate()+utils.BlockTrailerSize >=
		int(float64(tb.opt.BlockSize)*tb.opt.BlockUtil) {
		tb.endBlock()
	}
}

// 封掉当前数据block，handle先记store内的相对offset，commit时再重定位
func (tb *tableLogger) endBlock() {
	utils.CondPanic(tb.finished, utils.ErrAssertion)
	if tb.dataBlock.Empty() {
		return // Empty block
	}
	if !tb.ok() {
		return // Abort
	}

	base := tb.dataBlock.Base()
	blockContents := tb.dataBlock.Finish()
	blockSize := len(blockContents)
	padTo := 0
	if tb.opt.BlockPadding {
		padTo = tb.opt.BlockSize
	}
	storedSize := tb.dataBlock.Finalize(tb.opt.Compression, !tb.opt.SkipChecksums, padTo)
	finalBlockSize := len(tb.dataBlock.Store()) - base
	tb.stats.finalDataSize += int64(finalBlockSize)
	tb.stats.dataSize += int64(blockSize)

	tb.dataBlock.Reset()
	tb.pendingIndexHandle = BlockHandle{Offset: uint64(base), Size: uint64(storedSize)}
	utils.CondPanic(tb.pendingIndexEntry, utils.ErrAssertion)
	tb.pendingIndexEntry = true
	tb.numUncommittedData++
}

// 把攒批的block一次性追加到数据log。
// 多个partition共享一个数据log，追加在sink的锁内完成，
// 拿到的落盘offset用来重定位这批block的handle
func (tb *tableLogger) commit() {
	utils.CondPanic(tb.finished, utils.ErrAssertion)
	store := tb.dataBlock.Store()
	if len(store) == 0 {
		return // Empty commit
	}
	if !tb.ok() {
		return // Abort
	}

	tb.dataSink.Lock()
	utils.CondPanic(tb.numUncommittedData != tb.numUncommittedIndx, utils.ErrAssertion)
	offset := tb.dataSink.Ltell()
	tb.err = tb.dataSink.Lwrite(store)
	tb.dataSink.Unlock()
	if !tb.ok() {
		return // Abort
	}

	numCommitted := 0
	input := tb.uncommittedIndexes
	for len(input) > 0 {
		separator, rest, err := utils.GetLengthPrefixedSlice(input)
		if err != nil {
			break
		}
		var handle BlockHandle
		if rest, err = handle.DecodeFrom(rest); err != nil {
			break
		}
		handle.Offset += offset
		tb.indexBlock.Add(separator, handle.EncodeTo(nil))
		numCommitted++
		input = rest
	}

	utils.CondPanic(numCommitted != tb.numUncommittedIndx, utils.ErrAssertion)
	tb.numUncommittedData = 0
	tb.numUncommittedIndx = 0
	tb.uncommittedIndexes = tb.uncommittedIndexes[:0]
	tb.dataBlock.SwitchStore(store[:0])
	tb.dataBlock.Reset()
}

// 结束当前table：落索引block和filter block，攒一条meta索引项。
// filter可以为nil表示该table没有filter
func (tb *tableLogger) endTable(filter *utils.BloomBlock) {
	utils.CondPanic(tb.finished, utils.ErrAssertion)

	tb.endBlock()
	if !tb.ok() {
		return
	}
	if tb.pendingIndexEntry {
		// 最后一个block的separator取largest key的最短后继
		successor := utils.FindShortSuccessor(tb.lastKey)
		tb.uncommittedIndexes = utils.PutLengthPrefixedSlice(tb.uncommittedIndexes, successor)
		tb.uncommittedIndexes = tb.pendingIndexHandle.EncodeTo(tb.uncommittedIndexes)
		tb.pendingIndexEntry = false
		tb.numUncommittedIndx++
	}

	tb.commit()
	if !tb.ok() {
		return
	}
	if tb.indexBlock.Empty() {
		return // Empty table
	}

	indexContents := tb.indexBlock.Finish()
	indexSize := len(indexContents)
	// 索引block不需要补零
	storedIndexSize := tb.indexBlock.Finalize(NoCompression, !tb.opt.SkipChecksums, 0)
	finalIndexContents := tb.indexBlock.FinalContents()
	indexOffset := tb.indxSink.Ltell()
	tb.err = tb.indxSink.Lwrite(finalIndexContents)
	tb.stats.finalIndexSize += int64(len(finalIndexContents))
	tb.stats.indexSize += int64(indexSize)
	tb.indexBlock.SwitchStore(tb.indexBlock.Store()[:0])
	tb.indexBlock.Reset()
	if !tb.ok() {
		return // Abort
	}

	filterSize := 0
	filterOffset := tb.indxSink.Ltell()
	if filter != nil {
		filterContents := filter.Finish()
		filterSize = len(filterContents)
		finalFilterContents := finalizeContents(filterContents, !tb.opt.SkipChecksums)
		tb.err = tb.indxSink.Lwrite(finalFilterContents)
		tb.stats.finalFilterSize += int64(len(finalFilterContents))
		tb.stats.filterSize += int64(filterSize)
		if !tb.ok() {
			return // Abort
		}
	}

	tb.pendingMetaHandle.Offset = indexOffset
	tb.pendingMetaHandle.Size = uint64(storedIndexSize)
	tb.pendingMetaHandle.FilterOffset = filterOffset
	tb.pendingMetaHandle.FilterSize = uint64(filterSize)
	utils.CondPanic(tb.pendingMetaEntry, utils.ErrAssertion)
	tb.pendingMetaEntry = true

	if tb.numTables >= MaxTablesPerEpoch {
		tb.err = utils.Err(utils.ErrAssertion) // Too many tables
		return
	}
	tb.pendingMetaHandle.SmallestKey = append([]byte{}, tb.smallestKey...)
	tb.pendingMetaHandle.LargestKey = utils.FindShortSuccessor(tb.largestKey)
	tb.metaBlock.Add(EpochKey(tb.numEpochs, tb.numTables), tb.pendingMetaHandle.EncodeTo(nil))
	tb.pendingMetaEntry = false

	tb.smallestKey = tb.smallestKey[:0]
	tb.largestKey = tb.largestKey[:0]
	tb.lastKey = tb.lastKey[:0]
	tb.numTables++
}

// 结束当前epoch。没有产出table的epoch直接跳过
func (tb *tableLogger) makeEpoch() {
	utils.CondPanic(tb.finished, utils.ErrAssertion) // Finish() has not been called
	tb.endTable(nil)
	if !tb.ok() {
		return // Abort
	}
	if tb.numTables == 0 {
		return // Empty epoch
	}
	if tb.numEpochs >= MaxEpochs {
		tb.err = utils.Err(utils.ErrAssertion) // Too many epochs
		return
	}
	tb.numTables = 0
	tb.numEpochs++
}

// 结束整个目录：落meta-index block、可选的尾部补零和footer
func (tb *tableLogger) finish() error {
	utils.CondPanic(tb.finished, utils.ErrAssertion)
	tb.makeEpoch()
	tb.finished = true
	if !tb.ok() {
		return tb.err
	}

	utils.CondPanic(tb.pendingMetaEntry, utils.ErrAssertion)
	metaContents := tb.metaBlock.Finish()
	metaSize := len(metaContents)
	// meta block也不需要补零
	storedMetaSize := tb.metaBlock.Finalize(NoCompression, !tb.opt.SkipChecksums, 0)
	finalMetaContents := tb.metaBlock.FinalContents()
	metaOffset := tb.indxSink.Ltell()
	tb.err = tb.indxSink.Lwrite(finalMetaContents)
	tb.stats.finalMetaSize += int64(len(finalMetaContents))
	tb.stats.metaSize += int64(metaSize)
	if !tb.ok() {
		return tb.err
	}

	footer := Footer{
		EpochIndexHandle: BlockHandle{Offset: metaOffset, Size: uint64(storedMetaSize)},
		NumEpochs:        tb.numEpochs,
	}
	footerBuf := footer.Encode()

	if tb.opt.TailPadding {
		// 补零让索引log的最终大小是物理写大小的整数倍
		totalSize := tb.indxSink.Ltell() + uint64(len(footerBuf))
		overflow := totalSize % uint64(tb.opt.IndexBuffer)
		if overflow != 0 {
			tb.err = tb.indxSink.Lwrite(make([]byte, uint64(tb.opt.IndexBuffer)-overflow))
			if !tb.ok() {
				return tb.err
			}
		}
	}

	tb.err = tb.indxSink.Lwrite(footerBuf)
	tb.stats.footerSize += int64(len(footerBuf))
	return tb.err
}
