package file

import (
	"os"
	"sync"
	"sync/atomic"

	"plfsdb/utils"

	"github.com/pkg/errors"
)

// 追加写的log。
// 数据log被所有partition共享，靠内置的mutex串行化追加；
// 索引log是partition内单写者，不传mutex就没有锁开销。
// 引用计数归零时自动关闭
type LogSink struct {
	mu   *sync.Mutex // 可以为nil
	name string
	fd   *os.File
	// 逻辑写偏移，单调递增，轮转后继续累加
	off  uint64
	refs int32

	finishErr error
}

// 打开一个LogSink。mu为nil表示调用方保证单写者
func OpenLogSink(name string, mu *sync.Mutex) (*LogSink, error) {
	fd, err := os.OpenFile(name, DefaultFileFlag, DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", name)
	}
	s := &LogSink{
		mu:   mu,
		name: name,
		fd:   fd,
		refs: 1,
	}
	return s, nil
}

func (s *LogSink) Lock() {
	if s.mu != nil {
		s.mu.Lock()
	}
}

func (s *LogSink) Unlock() {
	if s.mu != nil {
		s.mu.Unlock()
	}
}

// 返回当前的逻辑写偏移
func (s *LogSink) Ltell() uint64 {
	return s.off
}

// 追加数据。在下一次Lsync之前数据可能丢失
func (s *LogSink) Lwrite(data []byte) error {
	if s.fd == nil {
		return errors.Wrapf(utils.ErrAssertion, "log already closed: %s", s.name)
	}
	n, err := s.fd.Write(data)
	if err != nil {
		return errors.Wrapf(err, "lwrite %s", s.name)
	}
	if n != len(data) {
		return errors.Wrapf(utils.ErrAssertion, "short write %d/%d: %s", n, len(data), s.name)
	}
	s.off += uint64(len(data))
	return nil
}

// 强制数据落盘
func (s *LogSink) Lsync() error {
	if s.fd == nil {
		return nil
	}
	return errors.Wrapf(s.fd.Sync(), "lsync %s", s.name)
}

// 关闭log，不再接受写入。sync为true时先强制落盘
func (s *LogSink) Lclose(sync bool) error {
	if s.fd == nil {
		return s.finishErr
	}
	if sync {
		if err := s.Lsync(); err != nil {
			s.finishErr = err
		}
	}
	if err := s.fd.Close(); err != nil && s.finishErr == nil {
		s.finishErr = errors.Wrapf(err, "lclose %s", s.name)
	}
	s.fd = nil
	return s.finishErr
}

// 关闭当前log文件，把后续写入重定向到一个新文件。
// 轮转时机完全由调用方控制，逻辑偏移继续累加
func (s *LogSink) Lrotate(index int, sync bool) error {
	if s.fd == nil {
		return errors.Wrapf(utils.ErrAssertion, "log already closed: %s", s.name)
	}
	if sync {
		if err := s.Lsync(); err != nil {
			return err
		}
	}
	if err := s.fd.Close(); err != nil {
		return errors.Wrapf(err, "lrotate close %s", s.name)
	}
	fd, err := os.OpenFile(rotatedPath(s.name, index), DefaultFileFlag, DefaultFileMode)
	if err != nil {
		s.fd = nil
		return errors.Wrapf(err, "lrotate open %s", s.name)
	}
	s.fd = fd
	return nil
}

// 内置写缓冲的存储空间。当前实现不做写缓冲，返回nil
func (s *LogSink) BufferStore() []byte {
	return nil
}

func (s *LogSink) Ref() {
	atomic.AddInt32(&s.refs, 1)
}

// 减一个引用，最后一个引用释放时关闭文件
func (s *LogSink) Unref() {
	refs := atomic.AddInt32(&s.refs, -1)
	utils.CondPanic(refs < 0, utils.ErrAssertion)
	if refs == 0 {
		_ = utils.Err(s.Lclose(false))
	}
}
