package utils

import "hash/crc32"

// crc mask的常量，防止data部分恰好等于raw crc造成的退化
const checksumMaskDelta = 0xa282ead8

// 计算data的crc32c
func ChecksumValue(data []byte) uint32 {
	return crc32.Checksum(data, CastagnoliCrcTable)
}

// 在已有crc的基础上追加data
func ChecksumExtend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, CastagnoliCrcTable, data)
}

// 对raw crc做旋转+加法变换后落盘
func MaskChecksum(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + checksumMaskDelta
}

// MaskChecksum的逆变换
func UnmaskChecksum(masked uint32) uint32 {
	rot := masked - checksumMaskDelta
	return (rot >> 17) | (rot << 15)
}
