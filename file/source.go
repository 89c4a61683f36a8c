package file

import (
	"sync/atomic"

	"plfsdb/utils"
)

// 随机读的log。读出来的slice可能直接指向mmap映射区，调用方不要修改。
// 引用计数归零时解除映射并关闭
type LogSource struct {
	mf   *MmapFile
	size uint64
	refs int32
}

// 打开一个LogSource。readahead提示内核预读(索引log顺序读，数据log随机读)
func OpenLogSource(name string, readahead bool) (*LogSource, error) {
	mf, err := OpenMmapFile(name, readahead)
	if err != nil {
		return nil, err
	}
	size, err := mf.Size()
	if err != nil {
		_ = mf.Close()
		return nil, err
	}
	return &LogSource{
		mf:   mf,
		size: uint64(size),
		refs: 1,
	}, nil
}

// 从offset开始读n个byte
func (s *LogSource) Read(offset uint64, n int) ([]byte, error) {
	return s.mf.Bytes(int(offset), n)
}

// log的总大小
func (s *LogSource) Size() uint64 {
	return s.size
}

func (s *LogSource) Ref() {
	atomic.AddInt32(&s.refs, 1)
}

// 减一个引用，最后一个引用释放时关闭底层文件
func (s *LogSource) Unref() {
	refs := atomic.AddInt32(&s.refs, -1)
	utils.CondPanic(refs < 0, utils.ErrAssertion)
	if refs == 0 {
		_ = utils.Err(s.mf.Close())
	}
}
