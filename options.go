package plfs

import (
	"os"

	idxt "plfsdb/idxT"
	"plfsdb/utils"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// 目录引擎总的配置。零值的数值字段会在打开时被默认值补齐；
// BFBitsPerKey和LgParts的零值保留(BFBitsPerKey为0表示关闭filter)
type Options struct {
	// 目录文件的保存位置
	WorkDir string `yaml:"work_dir"`

	// 每个数据block的目标大小，也是block_padding的对齐单位
	BlockSize int `yaml:"block_size"`
	// 数据block写到 BlockSize*BlockUtil 就封块
	BlockUtil float64 `yaml:"block_util"`
	// 将每个数据block补零到BlockSize
	BlockPadding bool `yaml:"block_padding"`
	// 数据block先在内存攒批，超过阈值才加锁追加到数据log
	BlockBuffer int `yaml:"block_buffer"`

	// 一个目录所有partition加起来的写缓冲
	MemtableBuffer int `yaml:"memtable_buffer"`
	// partition个数 = 2^LgParts
	LgParts int `yaml:"lg_parts"`
	// 可变buffer的触发交换比例
	MemtableUtil float64 `yaml:"memtable_util"`

	// bloom filter每个key的位数，0表示关闭
	BFBitsPerKey int `yaml:"bf_bits_per_key"`
	// 平均key/value大小，用来预估buffer和filter容量
	KeySize   int `yaml:"key_size"`
	ValueSize int `yaml:"value_size"`

	// table内禁止重复key，读取时走二分查找
	UniqueKeys bool `yaml:"unique_keys"`
	// 点查时每个epoch一个任务并行执行
	ParallelReads bool `yaml:"parallel_reads"`
	// 写满时返回ErrBufferFull而不是阻塞
	NonBlocking bool `yaml:"non_blocking"`

	// 写入侧不计算crc / 读取侧校验crc
	SkipChecksums   bool `yaml:"skip_checksums"`
	VerifyChecksums bool `yaml:"verify_checksums"`

	// 在footer之前将索引log补零到IndexBuffer的整数倍
	TailPadding bool `yaml:"tail_padding"`
	IndexBuffer int  `yaml:"index_buffer"`

	// 数据block的压缩方式："none" 或者 "snappy"
	Compression string `yaml:"compression"`

	// 后台compaction和并行读的线程池，可以为nil
	CompactionPool utils.ThreadPool `yaml:"-"`
	ReaderPool     utils.ThreadPool `yaml:"-"`
	// pool缺省时是否允许使用进程默认pool
	AllowEnvThreads bool `yaml:"allow_env_threads"`
}

// NewDefaultOptions 返回默认的options
func NewDefaultOptions() *Options {
	return &Options{
		WorkDir:        "./plfs_test",
		BlockSize:      128 << 10,
		BlockUtil:      0.996,
		BlockBuffer:    4 << 20,
		MemtableBuffer: 48 << 20,
		LgParts:        0,
		MemtableUtil:   0.95,
		BFBitsPerKey:   8,
		KeySize:        8,
		ValueSize:      32,
		UniqueKeys:     true,
		IndexBuffer:    2 << 20,
		Compression:    "none",
	}
}

// 从YAML文件加载options，缺省字段用默认值补齐
func OptionsFromYAML(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read options %s", path)
	}
	opt := NewDefaultOptions()
	if err := yaml.Unmarshal(data, opt); err != nil {
		return nil, errors.Wrapf(err, "parse options %s", path)
	}
	return opt, nil
}

// 补齐非法或者缺省的字段
func (opt *Options) sanitize() {
	def := NewDefaultOptions()
	if opt.WorkDir == "" {
		opt.WorkDir = def.WorkDir
	}
	if opt.BlockSize <= 0 {
		opt.BlockSize = def.BlockSize
	}
	if opt.BlockUtil <= 0 || opt.BlockUtil > 1 {
		opt.BlockUtil = def.BlockUtil
	}
	if opt.BlockBuffer <= 0 {
		opt.BlockBuffer = def.BlockBuffer
	}
	if opt.MemtableBuffer <= 0 {
		opt.MemtableBuffer = def.MemtableBuffer
	}
	if opt.LgParts < 0 {
		opt.LgParts = 0
	}
	if opt.MemtableUtil <= 0 || opt.MemtableUtil > 1 {
		opt.MemtableUtil = def.MemtableUtil
	}
	if opt.BFBitsPerKey < 0 {
		opt.BFBitsPerKey = 0
	}
	if opt.KeySize <= 0 {
		opt.KeySize = def.KeySize
	}
	if opt.ValueSize <= 0 {
		opt.ValueSize = def.ValueSize
	}
	if opt.IndexBuffer <= 0 {
		opt.IndexBuffer = def.IndexBuffer
	}
	if opt.Compression == "" {
		opt.Compression = def.Compression
	}
}

// 转化为索引引擎的options
func (opt *Options) engineOptions() (*idxt.Options, error) {
	var compression byte
	switch opt.Compression {
	case "none":
		compression = idxt.NoCompression
	case "snappy":
		compression = idxt.SnappyCompression
	default:
		return nil, errors.Wrapf(utils.ErrNotSupported, "compression %q", opt.Compression)
	}
	if opt.BlockPadding && compression != idxt.NoCompression {
		// 补零对齐的block必须按固定边界寻址，和压缩互斥
		return nil, errors.Wrap(utils.ErrNotSupported, "block padding with compression")
	}
	return &idxt.Options{
		BlockSize:       opt.BlockSize,
		BlockUtil:       opt.BlockUtil,
		BlockPadding:    opt.BlockPadding,
		BlockBuffer:     opt.BlockBuffer,
		MemtableBuffer:  opt.MemtableBuffer,
		LgParts:         opt.LgParts,
		MemtableUtil:    opt.MemtableUtil,
		BFBitsPerKey:    opt.BFBitsPerKey,
		KeySize:         opt.KeySize,
		ValueSize:       opt.ValueSize,
		UniqueKeys:      opt.UniqueKeys,
		ParallelReads:   opt.ParallelReads,
		NonBlocking:     opt.NonBlocking,
		SkipChecksums:   opt.SkipChecksums,
		VerifyChecksums: opt.VerifyChecksums,
		TailPadding:     opt.TailPadding,
		IndexBuffer:     opt.IndexBuffer,
		Compression:     compression,
		CompactionPool:  opt.CompactionPool,
		ReaderPool:      opt.ReaderPool,
		AllowEnvThreads: opt.AllowEnvThreads,
	}, nil
}
