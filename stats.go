package plfs

import "sync/atomic"

// 目录级别的写入统计
type Stats struct {
	// 累计写入的entry条数
	EntryNum int64
	// compaction产出的数据log和索引log字节数
	DataSize  int64
	IndexSize int64
	// 写缓冲占用的内存
	MemoryUsage int64
}

// Info 返回当前的统计快照
func (w *Writer) Info() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		EntryNum:  atomic.LoadInt64(&w.entryNum),
		DataSize:  w.cstats.DataSize,
		IndexSize: w.cstats.IndexSize,
	}
	for _, part := range w.parts {
		s.MemoryUsage += int64(part.MemoryUsage())
	}
	return s
}
