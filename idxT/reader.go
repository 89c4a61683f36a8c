package idxt

import (
	"bytes"
	"sort"
	"sync"

	"plfsdb/file"
	"plfsdb/utils"
)

// 一个已经写完的目录partition的读入口。
// Open时解析footer并缓存meta-index block，点查时按epoch遍历table
type Dir struct {
	opt *Options

	mu sync.Mutex
	cv *sync.Cond

	data *file.LogSource
	indx *file.LogSource

	numEpochs uint32
	// 缓存的meta-index block
	epochs *block

	numBgReads int
}

// 打开一个目录partition：读出索引log尾部的footer，缓存meta-index block
func OpenDir(opt *Options, data, indx *file.LogSource) (*Dir, error) {
	if indx.Size() < FooterEncodedLength {
		return nil, utils.Corruption("dir index too short to be valid")
	}
	footerBuf, err := indx.Read(indx.Size()-FooterEncodedLength, FooterEncodedLength)
	if err != nil {
		return nil, err
	}
	var footer Footer
	if err := footer.Decode(footerBuf); err != nil {
		return nil, err
	}

	contents, err := readBlock(indx, opt, footer.EpochIndexHandle)
	if err != nil {
		return nil, err
	}
	epochs, err := newBlock(contents)
	if err != nil {
		return nil, err
	}

	d := &Dir{
		opt:       opt,
		data:      data,
		indx:      indx,
		numEpochs: footer.NumEpochs,
		epochs:    epochs,
	}
	d.cv = sync.NewCond(&d.mu)
	data.Ref()
	indx.Ref()
	return d, nil
}

func (d *Dir) NumEpochs() uint32 {
	return d.numEpochs
}

// 等所有在途的读结束，释放对log的引用
func (d *Dir) Close() {
	d.mu.Lock()
	for d.numBgReads != 0 {
		d.cv.Wait()
	}
	d.mu.Unlock()
	d.indx.Unref()
	d.data.Unref()
}

// 并行读取时暂存的(epoch, value)片段，最后按epoch归并
type fragment struct {
	epoch uint32
	value []byte
}

// 一次点查的共享状态，由d.mu保护
type getContext struct {
	err error
	// 在途的epoch任务数
	numOpenReads int
	// 串行模式下直接追加到dst；并行模式下先收集fragment
	dst       *[]byte
	fragments *[]fragment
	// 串行模式下复用的meta-index迭代器
	epochIter *blockIter
}

// 在一个数据block内找key。
// unique模式二分定位，否则线性扫。遇到更大的key就可以停(exhausted)
func (d *Dir) fetchBlock(key []byte, h BlockHandle, save func(value []byte)) (exhausted bool, err error) {
	contents, err := readBlock(d.data, d.opt, h)
	if err != nil {
		return false, err
	}
	blk, err := newBlock(contents)
	if err != nil {
		return false, err
	}
	iter := blk.NewIterator()
	if d.opt.UniqueKeys {
		iter.Seek(key) // Binary search
	} else {
		iter.SeekToFirst()
		for iter.Valid() && utils.CompareKeys(key, iter.Key()) > 0 {
			iter.Next()
		}
	}

	for ; iter.Valid(); iter.Next() {
		if bytes.Equal(iter.Key(), key) {
			save(iter.Value())
			// unique模式找到就结束
			if d.opt.UniqueKeys {
				exhausted = true
				break
			}
		} else {
			utils.CondPanic(utils.CompareKeys(iter.Key(), key) < 0, utils.ErrAssertion)
			exhausted = true
			break
		}
	}
	return exhausted, iter.Error()
}

// 判断key是否可能存在于filter覆盖的block中。读filter失败按可能存在处理
func (d *Dir) keyMayMatch(key []byte, h BlockHandle) bool {
	contents, err := readBlock(d.indx, d.opt, h)
	if err != nil {
		return true
	}
	return utils.BloomKeyMayMatch(key, contents)
}

// 在一个table内找key：先查key范围和filter，再查索引block定位数据block
func (d *Dir) fetchTable(key []byte, h TableHandle, save func(value []byte)) error {
	if utils.CompareKeys(key, h.SmallestKey) < 0 || utils.CompareKeys(key, h.LargestKey) > 0 {
		return nil
	}
	if h.FilterSize != 0 {
		filterHandle := BlockHandle{Offset: h.FilterOffset, Size: h.FilterSize}
		if !d.keyMayMatch(key, filterHandle) {
			return nil // 一定不存在
		}
	}

	contents, err := readBlock(d.indx, d.opt, h.BlockHandle)
	if err != nil {
		return err
	}
	blk, err := newBlock(contents)
	if err != nil {
		return err
	}
	iter := blk.NewIterator()
	if d.opt.UniqueKeys {
		iter.Seek(key)
	} else {
		iter.SeekToFirst()
		for iter.Valid() && utils.CompareKeys(key, iter.Key()) > 0 {
			iter.Next()
		}
	}

	for ; iter.Valid(); iter.Next() {
		var bh BlockHandle
		if _, err = bh.DecodeFrom(iter.Value()); err != nil {
			break
		}
		var exhausted bool
		exhausted, err = d.fetchBlock(key, bh, save)
		if err != nil {
			break
		}
		if exhausted {
			break
		}
	}

	if err == nil {
		err = iter.Error()
	}
	return err
}

// 读取一个epoch内所有可能覆盖key的table。
// REQUIRES: 持有d.mu，执行期间会释放再拿回
func (d *Dir) get(key []byte, epoch uint32, ctx *getContext) {
	if ctx.err != nil {
		// 已经有别的epoch失败了
		d.releaseRead(ctx, nil)
		return
	}
	epochIter := ctx.epochIter
	if epochIter == nil {
		epochIter = d.epochs.NewIterator()
	}
	parallel := d.opt.ParallelReads
	d.mu.Unlock()

	var err error
	save := func(value []byte) {
		if parallel {
			d.mu.Lock()
			*ctx.fragments = append(*ctx.fragments, fragment{
				epoch: epoch,
				value: append([]byte{}, value...),
			})
			d.mu.Unlock()
		} else {
			*ctx.dst = append(*ctx.dst, value...)
		}
	}

	for table := uint32(0); err == nil; table++ {
		epochKey := EpochKey(epoch, table)
		// 迭代器的当前位置能接上就不重新Seek
		if !epochIter.Valid() || !bytes.Equal(epochIter.Key(), epochKey) {
			epochIter.Seek(epochKey)
			if !epochIter.Valid() {
				break // EOF
			}
			if !bytes.Equal(epochIter.Key(), epochKey) {
				break // No such table
			}
		}
		var th TableHandle
		if _, err = th.DecodeFrom(epochIter.Value()); err != nil {
			break
		}
		epochIter.Next()
		found := false
		probe := func(value []byte) {
			found = true
			save(value)
		}
		if err = d.fetchTable(key, th, probe); err != nil {
			break
		}
		if found && d.opt.UniqueKeys {
			break
		}
	}

	if err == nil {
		err = epochIter.Error()
	}

	d.mu.Lock()
	d.releaseRead(ctx, err)
}

// 结束一个epoch任务：记录第一个错误并唤醒等待者。
// REQUIRES: 持有d.mu
func (d *Dir) releaseRead(ctx *getContext, err error) {
	utils.CondPanic(ctx.numOpenReads <= 0, utils.ErrAssertion)
	ctx.numOpenReads--
	d.cv.Broadcast()
	if ctx.err == nil {
		ctx.err = err
	}
}

// 把并行收集的fragment按epoch排序后依次拼接
func merge(ctx *getContext) {
	fragments := *ctx.fragments
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].epoch < fragments[j].epoch
	})
	for _, f := range fragments {
		*ctx.dst = append(*ctx.dst, f.value...)
	}
}

// 点查：返回key在所有epoch下写过的value按epoch顺序的拼接。
// 没有找到不算错误，返回空结果
func (d *Dir) Read(key []byte) ([]byte, error) {
	utils.CondPanic(d.epochs == nil, utils.ErrAssertion)
	dst := make([]byte, 0)
	fragments := make([]fragment, 0)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.numBgReads++

	ctx := &getContext{
		dst:       &dst,
		fragments: &fragments,
	}
	if !d.opt.ParallelReads {
		// 串行读预先创建epoch迭代器并复用
		ctx.epochIter = d.epochs.NewIterator()
	}

	for epoch := uint32(0); epoch < d.numEpochs; epoch++ {
		ctx.numOpenReads++
		e := epoch
		if !d.opt.ParallelReads {
			d.get(key, e, ctx)
		} else if d.opt.ReaderPool != nil {
			d.opt.ReaderPool.Schedule(func() { d.bgWork(key, e, ctx) })
		} else if d.opt.AllowEnvThreads {
			utils.DefaultPool().Schedule(func() { d.bgWork(key, e, ctx) })
		} else {
			d.get(key, e, ctx)
		}
		if ctx.err != nil {
			break
		}
	}

	// 等所有在途的epoch任务结束
	for ctx.numOpenReads > 0 {
		d.cv.Wait()
	}

	if ctx.err == nil && d.opt.ParallelReads {
		merge(ctx)
	}

	utils.CondPanic(d.numBgReads <= 0, utils.ErrAssertion)
	d.numBgReads--
	d.cv.Broadcast()
	return dst, ctx.err
}

func (d *Dir) bgWork(key []byte, epoch uint32, ctx *getContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.get(key, epoch, ctx)
}
