package utils

import (
	"hash/crc32"
	"unsafe"
)

// block
const (
	// BlockTrailerSize 压缩类型(1 byte) + masked crc32c(4 bytes)
	BlockTrailerSize = 5
	// 数据block每16个entry设置一个restart点，索引类block每个entry都是restart点
	DataBlkRestartInt    = 16
	NonDataBlkRestartInt = 1
)

// filter
const (
	// BloomSeed bloom hash的种子
	BloomSeed uint32 = 0xbc9f1d34
	// MaxBloomProbes 单个key最多的探测次数，超过30按照"可能存在"处理
	MaxBloomProbes = 30
	// MinBloomBits filter太小时假阳率会非常高，强制一个最小位数
	MinBloomBits = 64
)

// codec
var (
	// CastagnoliCrcTable is a CRC32 polynomial table
	CastagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)
)

const U32Size = int(unsafe.Sizeof(uint32(0)))
const U64Size = int(unsafe.Sizeof(uint64(0)))
