package idxt

import (
	"math"
	"sync"

	"plfsdb/file"
	"plfsdb/utils"
)

// Flush的行为开关
type FlushOptions struct {
	// 只做状态检查，不调度也不等待
	DryRun bool
	// 这次flush结束当前epoch
	EpochFlush bool
	// 这次flush之后整个目录定稿
	Finalize bool
	// 调度之后不等compaction完成就返回
	NoWait bool
}

// compaction累计产出，给上层统计用
type CompactionStats struct {
	DataSize  int64
	IndexSize int64
}

// 一个memtable partition的写入口。
// 双buffer：一个mutable接收写入，另一个immutable等待后台compaction。
// 同一时刻每个partition最多一个compaction在跑。
// 所有方法都要求调用方持有创建时传入的mu
type DirLogger struct {
	opt  *Options
	mu   *sync.Mutex
	bgCv *sync.Cond

	data *file.LogSink
	indx *file.LogSink

	stats *CompactionStats

	numFlushRequested uint32
	numFlushCompleted uint32
	hasBgCompaction   bool

	tb     *tableLogger
	filter *utils.BloomBlock

	memBuf *writeBuffer
	immBuf *writeBuffer
	buf0   writeBuffer
	buf1   writeBuffer

	immIsEpochFlush bool
	immIsFinal      bool

	// 根据平均kv大小估算出来的每个table的entry数和buffer字节数
	entriesPerTb int
	tbBytes      int
	bfBytes      int
}

// 创建一个partition的DirLogger。mu和cv由目录内所有partition共享
func NewDirLogger(opt *Options, mu *sync.Mutex, cv *sync.Cond, data, indx *file.LogSink,
	stats *CompactionStats) *DirLogger {
	utils.CondPanic(mu == nil || cv == nil, utils.ErrAssertion)
	utils.CondPanic(data == nil || indx == nil, utils.ErrAssertion)
	d := &DirLogger{
		opt:   opt,
		mu:    mu,
		bgCv:  cv,
		data:  data,
		indx:  indx,
		stats: stats,
		tb:    newTableLogger(opt, data, indx),
	}
	data.Ref()
	indx.Ref()

	// 按平均kv大小推算table的容量和filter的大小。
	// 估大了filter会偏小、假阳率升高；估小了会浪费内存
	overheadPerEntry := utils.VarintLength(uint64(opt.KeySize)) +
		utils.VarintLength(uint64(opt.ValueSize)) +
		utils.U32Size // 每条entry在offsets数组里占一个u32
	bytesPerEntry := opt.KeySize + opt.ValueSize + overheadPerEntry
	bitsPerEntry := 8 * bytesPerEntry
	// 双buffer，内存占双份
	totalBitsPerEntry := opt.BFBitsPerKey + 2*bitsPerEntry

	// 每个partition的总写缓冲，扣掉留给compaction攒批的部分
	tableBuffer := opt.MemtableBuffer/(1<<opt.LgParts) - opt.BlockBuffer
	utils.CondPanic(tableBuffer <= 0, utils.ErrAssertion)
	d.entriesPerTb = int(math.Ceil(8 * float64(tableBuffer) / float64(totalBitsPerEntry)))
	d.tbBytes = d.entriesPerTb * (bytesPerEntry - utils.U32Size)

	// filter太小时假阳率非常高，强制一个最小长度
	bfBits := d.entriesPerTb * opt.BFBitsPerKey
	if bfBits > 0 && bfBits < utils.MinBloomBits {
		bfBits = utils.MinBloomBits
	}
	d.bfBytes = (bfBits + 7) / 8

	d.buf0.Reserve(d.entriesPerTb, d.tbBytes)
	d.buf1.Reserve(d.entriesPerTb, d.tbBytes)

	if opt.BFBitsPerKey != 0 {
		d.filter = utils.NewBloomBlock(opt.BFBitsPerKey, d.bfBytes)
	}

	d.memBuf = &d.buf0
	return d
}

// 等到没有compaction在跑之后释放log引用。
// REQUIRES: 持有mu
func (d *DirLogger) Release() {
	for d.hasBgCompaction {
		d.bgCv.Wait()
	}
	d.tb.release()
	d.data.Unref()
	d.indx.Unref()
}

// 阻塞到后台compaction结束，返回最近的写入状态。
// REQUIRES: 持有mu
func (d *DirLogger) Wait() error {
	for d.tb.ok() && d.hasBgCompaction {
		d.bgCv.Wait()
	}
	return d.tb.status()
}

// 提前flush并关闭底下的log文件。
// log文件平时靠引用计数在最后一个使用者释放时关闭，
// 这里允许调用方强制fsync并关闭。
// REQUIRES: 持有mu
func (d *DirLogger) PreClose() error {
	const sync = true
	d.data.Lock()
	err := d.data.Lclose(sync)
	d.data.Unlock()
	if err == nil {
		err = d.indx.Lclose(sync)
	}
	return err
}

// 触发一次flush。
// dry_run只查状态立即返回；buffer没有空位时，non_blocking配置下
// 返回ErrBufferFull，否则等待。调度成功后除非no_wait，等到这次
// flush对应的compaction完成。
// REQUIRES: 持有mu
func (d *DirLogger) Flush(fo FlushOptions) error {
	// 等一个immutable空位
	for d.immBuf != nil {
		if fo.DryRun || d.opt.NonBlocking {
			return utils.ErrBufferFull
		}
		d.bgCv.Wait()
	}

	if fo.DryRun {
		return d.tb.status() // Status check only
	}

	d.numFlushRequested++
	thres := d.numFlushRequested
	const force = true
	err := d.prepare(force, fo.EpochFlush, fo.Finalize)
	if err == nil && !fo.NoWait {
		for d.numFlushCompleted < thres {
			d.bgCv.Wait()
		}
	}
	return err
}

// 写入一条记录。
// REQUIRES: 持有mu
func (d *DirLogger) Add(key, value []byte) error {
	err := d.prepare(false, false, false)
	if err == nil {
		d.memBuf.Add(key, value)
	}
	return err
}

// 保证mutable buffer有空间可写。
// force为true时无条件把当前mutable转成immutable。
// immutable槽位被占的时候，non_blocking配置下返回ErrBufferFull，
// 否则等后台compaction腾出来
func (d *DirLogger) prepare(force, epochFlush, finalize bool) error {
	utils.CondPanic(d.memBuf == nil, utils.ErrAssertion)
	for {
		if !d.tb.ok() {
			return d.tb.status()
		} else if !force &&
			d.memBuf.CurrentBufferSize() < int(float64(d.tbBytes)*d.opt.MemtableUtil) {
			// 当前buffer还有空间
			return nil
		} else if d.immBuf != nil {
			if d.opt.NonBlocking {
				return utils.ErrBufferFull
			}
			d.bgCv.Wait()
		} else {
			// 交换到另一个buffer
			force = false
			d.immBuf = d.memBuf
			if epochFlush {
				d.immIsEpochFlush = true
			}
			epochFlush = false
			if finalize {
				d.immIsFinal = true
			}
			finalize = false
			currentBuf := d.memBuf
			d.maybeScheduleCompaction()
			if currentBuf == &d.buf0 {
				d.memBuf = &d.buf1
			} else {
				d.memBuf = &d.buf0
			}
		}
	}
}

func (d *DirLogger) maybeScheduleCompaction() {
	if d.hasBgCompaction {
		return // Skip if there is one already scheduled
	}
	if d.immBuf == nil {
		return // Nothing to be scheduled
	}

	d.hasBgCompaction = true

	if d.opt.CompactionPool != nil {
		d.opt.CompactionPool.Schedule(d.bgWork)
	} else if d.opt.AllowEnvThreads {
		utils.DefaultPool().Schedule(d.bgWork)
	} else if d.opt.NonBlocking {
		// non_blocking承诺写入方不被compaction拖住，起一个协程去做
		go d.bgWork()
	} else {
		// 没有pool就在当前线程原地做
		d.doCompaction()
	}
}

func (d *DirLogger) bgWork() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doCompaction()
}

func (d *DirLogger) doCompaction() {
	utils.CondPanic(!d.hasBgCompaction, utils.ErrAssertion)
	utils.CondPanic(d.immBuf == nil, utils.ErrAssertion)
	d.compactMemtable()
	d.immBuf.Reset()
	d.immIsEpochFlush = false
	d.immIsFinal = false
	d.immBuf = nil
	d.hasBgCompaction = false
	d.maybeScheduleCompaction()
	d.bgCv.Broadcast()
}

// 排序immutable buffer并写成一个table。
// CPU密集的排序和建块期间不持锁，完成后重新拿锁发布统计
func (d *DirLogger) compactMemtable() {
	buffer := d.immBuf
	isFinal := d.immIsFinal
	isEpochFlush := d.immIsEpochFlush
	tb := d.tb
	bf := d.filter
	d.mu.Unlock()

	startStats := tb.stats

	if bf != nil {
		bf.Reset()
	}
	buffer.FinishAndSort()
	numKeys := 0
	iter := buffer.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		numKeys++
		if bf != nil {
			bf.AddKey(iter.Key())
		}
		tb.Add(iter.Key(), iter.Value())
		if !tb.ok() {
			break
		}
	}

	if tb.ok() {
		utils.CondPanic(numKeys != buffer.NumEntries(), utils.ErrAssertion)
		tb.endTable(bf) // Inject the filter into the table

		if isEpochFlush {
			tb.makeEpoch()
		}
		if isFinal {
			_ = tb.finish()
		}
	}

	endStats := tb.stats

	d.mu.Lock()
	d.stats.IndexSize += endStats.totalIndexSize() - startStats.totalIndexSize()
	d.stats.DataSize += endStats.totalDataSize() - startStats.totalDataSize()
	d.numFlushCompleted++
}

// 两个buffer和构建中的block占用的内存。
// REQUIRES: 持有mu
func (d *DirLogger) MemoryUsage() int {
	result := d.buf0.memoryUsage()
	result += d.buf1.memoryUsage()
	result += cap(d.tb.metaBlock.Store())
	result += cap(d.tb.dataBlock.Store())
	result += cap(d.tb.indexBlock.Store())
	return result
}
