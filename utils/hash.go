package utils

import "encoding/binary"

// 带seed的hash，与存量filter的探测序列保持兼容
func Hash(data []byte, seed uint32) uint32 {
	const m = 0xc6a4a793
	const r = 24
	hash := seed ^ uint32(len(data))*m

	// 每次消费4个byte
	for ; len(data) >= 4; data = data[4:] {
		hash += binary.LittleEndian.Uint32(data)
		hash *= m
		hash ^= hash >> 16
	}

	// 处理剩下的尾部
	switch len(data) {
	case 3:
		hash += uint32(data[2]) << 16
		fallthrough
	case 2:
		hash += uint32(data[1]) << 8
		fallthrough
	case 1:
		hash += uint32(data[0])
		hash *= m
		hash ^= hash >> r
	}
	return hash
}

// bloom filter使用的hash
func BloomHash(key []byte) uint32 {
	return Hash(key, BloomSeed)
}
