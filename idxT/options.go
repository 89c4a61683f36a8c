package idxt

import "plfsdb/utils"

// 索引引擎的Options，由根包的Options转化而来
type Options struct {
	// 每个数据block的目标大小，BlockPadding打开时也是补零对齐的单位
	BlockSize int
	// 数据block写到 BlockSize*BlockUtil 就封块
	BlockUtil float64
	// 是否将每个数据block补零到BlockSize
	BlockPadding bool
	// 数据block先在内存里攒批，超过BlockBuffer才加锁追加到数据log
	BlockBuffer int
	// 一个目录所有partition加起来的写缓冲大小
	MemtableBuffer int
	// partition个数 = 2^LgParts
	LgParts int
	// 可变buffer写到 tbBytes*MemtableUtil 就触发交换
	MemtableUtil float64
	// bloom filter每个key的位数，0表示关闭filter
	BFBitsPerKey int
	// 平均key/value大小，用来估算buffer和filter的容量
	KeySize   int
	ValueSize int
	// table内key唯一，读取时可以用二分查找
	UniqueKeys bool
	// 点查时每个epoch一个任务并行执行
	ParallelReads bool
	// 写满时返回ErrBufferFull而不是阻塞
	NonBlocking bool
	// 写入侧不计算crc / 读取侧校验crc
	SkipChecksums   bool
	VerifyChecksums bool
	// 在footer之前将索引log补零到IndexBuffer的整数倍
	TailPadding bool
	IndexBuffer int
	// 数据block的压缩方式
	Compression byte

	// 后台compaction和并行读的线程池，可以为nil
	CompactionPool utils.ThreadPool
	ReaderPool     utils.ThreadPool
	// pool缺省时是否允许使用进程默认pool
	AllowEnvThreads bool
}
