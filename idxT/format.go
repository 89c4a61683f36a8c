package idxt

import (
	"encoding/binary"
	"math"

	"plfsdb/file"
	"plfsdb/utils"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// 压缩类型，落在block trailer的第一个byte
const (
	NoCompression     byte = 0
	SnappyCompression byte = 1
)

const (
	// BlockHandle最大编码长度：两个varint64
	maxBlockHandleLength = 2 * binary.MaxVarintLen64
	// footer定长：补零的meta handle + num_epochs + magic
	FooterEncodedLength = maxBlockHandleLength + 4 + 8
	// epoch key：两个大端u32
	epochKeyLength = 8
)

// 索引log尾部的magic
const MagicNumber uint64 = 0x8b2f41e6c7a3d950

const (
	MaxEpochs         = math.MaxUint32
	MaxTablesPerEpoch = math.MaxUint32
)

// 定位log内一个block的(offset, size)。size不含trailer
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// 追加varint编码
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = utils.PutUvarint(dst, h.Offset)
	return utils.PutUvarint(dst, h.Size)
}

// 从buf头部解码，返回剩余部分
func (h *BlockHandle) DecodeFrom(buf []byte) ([]byte, error) {
	offset, rest, err := utils.GetUvarint(buf)
	if err != nil {
		return buf, errors.Wrap(err, "block handle offset")
	}
	size, rest, err := utils.GetUvarint(rest)
	if err != nil {
		return buf, errors.Wrap(err, "block handle size")
	}
	h.Offset = offset
	h.Size = size
	return rest, nil
}

// 定位一个table：索引block的handle + filter的位置 + key范围
type TableHandle struct {
	BlockHandle
	FilterOffset uint64
	FilterSize   uint64
	SmallestKey  []byte
	LargestKey   []byte
}

func (h TableHandle) EncodeTo(dst []byte) []byte {
	dst = h.BlockHandle.EncodeTo(dst)
	dst = utils.PutUvarint(dst, h.FilterOffset)
	dst = utils.PutUvarint(dst, h.FilterSize)
	dst = utils.PutLengthPrefixedSlice(dst, h.SmallestKey)
	return utils.PutLengthPrefixedSlice(dst, h.LargestKey)
}

func (h *TableHandle) DecodeFrom(buf []byte) ([]byte, error) {
	rest, err := h.BlockHandle.DecodeFrom(buf)
	if err != nil {
		return buf, err
	}
	if h.FilterOffset, rest, err = utils.GetUvarint(rest); err != nil {
		return buf, errors.Wrap(err, "table handle filter offset")
	}
	if h.FilterSize, rest, err = utils.GetUvarint(rest); err != nil {
		return buf, errors.Wrap(err, "table handle filter size")
	}
	if h.SmallestKey, rest, err = utils.GetLengthPrefixedSlice(rest); err != nil {
		return buf, errors.Wrap(err, "table handle smallest key")
	}
	if h.LargestKey, rest, err = utils.GetLengthPrefixedSlice(rest); err != nil {
		return buf, errors.Wrap(err, "table handle largest key")
	}
	return rest, nil
}

// 索引log的定长尾部，指向meta-index block
type Footer struct {
	EpochIndexHandle BlockHandle
	NumEpochs        uint32
}

// 编码为定长FooterEncodedLength。varint handle不足的部分补零
func (f Footer) Encode() []byte {
	buf := make([]byte, 0, FooterEncodedLength)
	buf = f.EpochIndexHandle.EncodeTo(buf)
	for len(buf) < maxBlockHandleLength {
		buf = append(buf, 0)
	}
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], f.NumEpochs)
	buf = append(buf, u32[:]...)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], MagicNumber)
	return append(buf, u64[:]...)
}

func (f *Footer) Decode(buf []byte) error {
	if len(buf) != FooterEncodedLength {
		return utils.Corruption("footer length %d", len(buf))
	}
	magic := binary.LittleEndian.Uint64(buf[maxBlockHandleLength+4:])
	if magic != MagicNumber {
		return utils.Corruption("bad footer magic %#x", magic)
	}
	if _, err := f.EpochIndexHandle.DecodeFrom(buf[:maxBlockHandleLength]); err != nil {
		return err
	}
	f.NumEpochs = binary.LittleEndian.Uint32(buf[maxBlockHandleLength:])
	return nil
}

// meta-index block中的key，(epoch, table)的规范编码。
// 大端保证同一个epoch的所有table连续且有序
func EpochKey(epoch, table uint32) []byte {
	buf := make([]byte, epochKeyLength)
	binary.BigEndian.PutUint32(buf, epoch)
	binary.BigEndian.PutUint32(buf[4:], table)
	return buf
}

// 为一段block内容追加trailer：压缩类型byte + masked crc32c。
// withCrc为false时crc字段写0。filter block走这条路径，不做压缩不做padding；
// 索引block和meta block由blockBuilder.Finalize封口
func finalizeContents(contents []byte, withCrc bool) []byte {
	final := make([]byte, 0, len(contents)+utils.BlockTrailerSize)
	final = append(final, contents...)
	final = append(final, NoCompression)
	crc := uint32(0)
	if withCrc {
		crc = utils.MaskChecksum(utils.ChecksumValue(final))
	}
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], crc)
	return append(final, u32[:]...)
}

func snappyEncode(contents []byte) []byte {
	return snappy.Encode(nil, contents)
}

// 读取handle指向的block并剥掉trailer。
// 校验开启时核对masked crc；根据压缩类型byte决定是否解压。
// 返回的slice可能直接指向source的映射区
func readBlock(source *file.LogSource, opt *Options, h BlockHandle) ([]byte, error) {
	n := int(h.Size)
	m := n + utils.BlockTrailerSize
	data, err := source.Read(h.Offset, m)
	if err != nil {
		return nil, err
	}
	if len(data) != m {
		return nil, utils.Corruption("truncated block read %d/%d", len(data), m)
	}

	if !opt.SkipChecksums && opt.VerifyChecksums {
		crc := utils.UnmaskChecksum(binary.LittleEndian.Uint32(data[n+1:]))
		actual := utils.ChecksumValue(data[: n+1 : n+1])
		if actual != crc {
			return nil, utils.Corruption("block checksum mismatch")
		}
	}

	switch data[n] {
	case NoCompression:
		return data[:n:n], nil
	case SnappyCompression:
		decoded, err := snappy.Decode(nil, data[:n])
		if err != nil {
			return nil, utils.Corruption("snappy decode: %v", err)
		}
		return decoded, nil
	default:
		return nil, utils.Corruption("unknown compression type %d", data[n])
	}
}
