package utils

// 流式构建的bloom filter block。
// 大小在创建时固定，按照epoch内的table粒度Reset复用，
// payload的最后一个byte记录探测次数k，保证不同参数生成的filter可以互相读取
type BloomBlock struct {
	bitsPerKey int
	bytes      int

	finished bool
	space    []byte
	bits     uint32
	k        uint32
}

// 创建一个定长的BloomBlock
func NewBloomBlock(bitsPerKey, bytes int) *BloomBlock {
	b := &BloomBlock{
		bitsPerKey: bitsPerKey,
		bytes:      bytes,
	}
	b.space = make([]byte, 0, bytes+1+BlockTrailerSize)
	b.Reset()
	return b
}

// 清空位数组，重新计算k
func (b *BloomBlock) Reset() {
	b.finished = false
	b.space = b.space[:0]
	for i := 0; i < b.bytes; i++ {
		b.space = append(b.space, 0)
	}
	// 向下取整可以稍微降低探测成本
	k := uint32(float64(b.bitsPerKey) * 0.69) // 0.69 =~ ln(2)
	if k < 1 {
		k = 1
	}
	if k > MaxBloomProbes {
		k = MaxBloomProbes
	}
	b.k = k
	// 在payload末尾记录k
	b.space = append(b.space, byte(k))
	b.bits = uint32(8 * b.bytes)
}

// 将key插入filter。双重hash生成k个探测位置
func (b *BloomBlock) AddKey(key []byte) {
	AssertTrue(!b.finished) // Finish() has not been called
	h := BloomHash(key)
	delta := (h >> 17) | (h << 15) // Rotate right 17 bits
	for j := uint32(0); j < b.k; j++ {
		bitpos := h % b.bits
		b.space[bitpos/8] |= 1 << (bitpos % 8)
		h += delta
	}
}

// 结束构建，返回不带trailer的payload
func (b *BloomBlock) Finish() []byte {
	AssertTrue(!b.finished)
	b.finished = true
	return b.space
}

// 判断key是否可能存在于filter对应的block中。
// 返回false表示一定不存在，返回true表示可能存在
func BloomKeyMayMatch(key, filter []byte) bool {
	if len(filter) < 2 {
		return true // Consider it a match
	}
	bits := uint32((len(filter) - 1) * 8)

	// 使用落盘的k，这样可以读取用其他参数生成的filter
	k := uint32(filter[len(filter)-1])
	if k > MaxBloomProbes {
		// 为将来短filter的新编码保留，按照可能存在处理
		return true
	}

	h := BloomHash(key)
	delta := (h >> 17) | (h << 15)
	for j := uint32(0); j < k; j++ {
		bitpos := h % bits
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}
