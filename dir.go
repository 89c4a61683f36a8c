package plfs

import (
	"os"
	"sync"
	"sync/atomic"

	"plfsdb/file"
	idxt "plfsdb/idxT"
	"plfsdb/utils"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// key到partition的路由。所有写入和读取必须用同一套路由
func partitionOf(key []byte, lgParts int) int {
	if lgParts == 0 {
		return 0
	}
	return int(xxhash.Sum64(key) & uint64(1<<lgParts-1))
}

// 一个索引目录的写入口，全局唯一，持有底下所有的log句柄。
// 2^lg_parts个partition共享一个数据log，每个partition有自己的索引log。
// 所有partition共享一个mutex和condvar
type Writer struct {
	opt  *Options
	eopt *idxt.Options

	mu sync.Mutex
	cv *sync.Cond
	// 数据log的追加锁，和mu无关
	dataMu sync.Mutex

	data    *file.LogSink
	indexes []*file.LogSink
	parts   []*idxt.DirLogger

	cstats   idxt.CompactionStats
	entryNum int64

	finished bool
}

// 创建(或者清空重建)一个目录并打开写入口
func OpenWriter(opt *Options) (*Writer, error) {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	opt.sanitize()
	eopt, err := opt.engineOptions()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opt.WorkDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", opt.WorkDir)
	}

	w := &Writer{
		opt:  opt,
		eopt: eopt,
	}
	w.cv = sync.NewCond(&w.mu)

	w.data, err = file.OpenLogSink(file.DataPath(opt.WorkDir), &w.dataMu)
	if err != nil {
		return nil, err
	}
	numParts := 1 << opt.LgParts
	for p := 0; p < numParts; p++ {
		indx, err := file.OpenLogSink(file.IndexPath(opt.WorkDir, p), nil)
		if err != nil {
			for _, part := range w.parts {
				part.Release()
			}
			w.releaseSinks()
			return nil, err
		}
		w.indexes = append(w.indexes, indx)
		w.parts = append(w.parts, idxt.NewDirLogger(eopt, &w.mu, w.cv, w.data, indx, &w.cstats))
	}
	return w, nil
}

// 释放Writer自己持有的sink引用
func (w *Writer) releaseSinks() {
	for _, indx := range w.indexes {
		indx.Unref()
	}
	w.indexes = nil
	if w.data != nil {
		w.data.Unref()
		w.data = nil
	}
}

// 写入一条记录。key不能为空，value可以为空。
// non_blocking配置下buffer写满返回ErrBufferFull，不会阻塞
func (w *Writer) Append(key, value []byte) error {
	if len(key) == 0 {
		return errors.Wrap(utils.ErrAssertion, "empty key")
	}
	p := partitionOf(key, w.opt.LgParts)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.Wrap(utils.ErrAssertion, "dir already finished")
	}
	err := w.parts[p].Add(key, value)
	if err == nil {
		atomic.AddInt64(&w.entryNum, 1)
	}
	return err
}

// 结束当前epoch：flush所有partition并推进epoch计数。
// epoch边界是partition各自的，这里对所有partition一起flush；
// 上个epoch之后没有收到记录的partition不推进自己的epoch计数
func (w *Writer) MakeEpoch() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.Wrap(utils.ErrAssertion, "dir already finished")
	}
	var err error
	for _, part := range w.parts {
		err = part.Flush(idxt.FlushOptions{EpochFlush: true})
		if err != nil {
			break
		}
	}
	return err
}

// 定稿整个目录：flush所有partition，写出meta-index和footer，
// fsync并关闭所有log。之后的写入都会报错
func (w *Writer) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.Wrap(utils.ErrAssertion, "dir already finished")
	}
	w.finished = true

	var err error
	for _, part := range w.parts {
		err = part.Flush(idxt.FlushOptions{EpochFlush: true, Finalize: true})
		if err != nil {
			break
		}
	}
	// flush计数可能被写满触发的compaction提前满足，
	// 关log之前必须确认没有compaction还在跑
	for _, part := range w.parts {
		if werr := part.Wait(); err == nil {
			err = werr
		}
	}
	for _, part := range w.parts {
		if perr := part.PreClose(); err == nil {
			err = perr
		}
	}
	for _, part := range w.parts {
		part.Release()
	}
	w.releaseSinks()
	return err
}

// 等所有后台compaction结束，返回最近的写入状态
func (w *Writer) Wait() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	for _, part := range w.parts {
		if werr := part.Wait(); err == nil {
			err = werr
		}
	}
	return err
}

// 等后台compaction结束并把两个log都fsync
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.Wrap(utils.ErrAssertion, "dir already finished")
	}
	var err error
	for _, part := range w.parts {
		if werr := part.Wait(); err == nil {
			err = werr
		}
	}
	if err != nil {
		return err
	}
	w.data.Lock()
	err = w.data.Lsync()
	w.data.Unlock()
	if err != nil {
		return err
	}
	for _, indx := range w.indexes {
		if err = indx.Lsync(); err != nil {
			return err
		}
	}
	return nil
}
