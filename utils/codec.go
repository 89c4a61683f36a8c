package utils

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// 将uint32转化为byte数组，大端
func Uint32ToBytes(u32 uint32) []byte {
	var buf [U32Size]byte
	binary.BigEndian.PutUint32(buf[:], u32)
	return buf[:]
}

// 将byte数组转化为uint32，大端直接读取
func Bytes2Uint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// 向dst追加一个varint编码的uint64
func PutUvarint(dst []byte, u uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	return append(dst, buf[:n]...)
}

// 从buf头部解析一个varint，返回值和剩余部分
func GetUvarint(buf []byte) (uint64, []byte, error) {
	u, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, buf, Corruption("bad varint")
	}
	return u, buf[n:], nil
}

// varint编码u需要的字节数
func VarintLength(u uint64) int {
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// 向dst追加 varint(len(data)) ∥ data
func PutLengthPrefixedSlice(dst []byte, data []byte) []byte {
	dst = PutUvarint(dst, uint64(len(data)))
	return append(dst, data...)
}

// 从buf头部解析一个带长度前缀的slice，返回slice和剩余部分
func GetLengthPrefixedSlice(buf []byte) ([]byte, []byte, error) {
	n, rest, err := GetUvarint(buf)
	if err != nil {
		return nil, buf, err
	}
	if uint64(len(rest)) < n {
		return nil, buf, errors.Wrapf(ErrCorruption, "slice length %d overflows input %d", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}
