package file

import (
	"io"
	"os"

	"plfsdb/utils/mmap"

	"github.com/pkg/errors"
)

// 用于表示一个通过mmap映射的只读文件。
// 空文件或者mmap失败时Data为nil，读取走pread兜底
type MmapFile struct {
	// 映射出来的[]byte
	Data []byte
	// File唯一标识
	Fd *os.File
}

// 将一个文件按照mmap的方式打开，readahead提示内核是否顺序访问
func OpenMmapFile(filename string, readahead bool) (*MmapFile, error) {
	fd, err := os.OpenFile(filename, os.O_RDONLY, DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}
	fi, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "cannot stat file: %s", filename)
	}
	mf := &MmapFile{Fd: fd}
	if fi.Size() == 0 {
		return mf, nil
	}
	buf, err := mmap.Mmap(fd, false, fi.Size())
	if err != nil {
		// 映射不了就退回pread
		return mf, nil
	}
	_ = mmap.Madvise(buf, readahead)
	mf.Data = buf
	return mf, nil
}

// 从offset开始读取最多size个byte，文件尾部不足时返回短slice，由调用方判断截断。
// 有映射时直接返回映射内的slice，零拷贝；否则分配内存通过pread读取
func (mf *MmapFile) Bytes(offset, size int) ([]byte, error) {
	if len(mf.Data) > 0 {
		if offset >= len(mf.Data) {
			return nil, nil
		}
		end := offset + size
		if end > len(mf.Data) {
			end = len(mf.Data)
		}
		return mf.Data[offset:end], nil
	}

	res := make([]byte, size)
	n, err := mf.Fd.ReadAt(res, int64(offset))
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "pread %s", mf.Fd.Name())
	}
	return res[:n], nil
}

// 文件大小
func (mf *MmapFile) Size() (int64, error) {
	fi, err := mf.Fd.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "cannot stat file: %s", mf.Fd.Name())
	}
	return fi.Size(), nil
}

// 解除映射并关闭文件
func (mf *MmapFile) Close() error {
	if mf.Data != nil {
		if err := mmap.Munmap(mf.Data); err != nil {
			return err
		}
		mf.Data = nil
	}
	return mf.Fd.Close()
}
