package utils

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
)

// 引擎内部的错误类别，调用方用 errors.Cause 归类
var (
	// ErrBufferFull 流控错误，non_blocking模式下写满buffer时返回，属于预期内
	ErrBufferFull = errors.New("buffer full")
	// ErrCorruption 数据损坏：checksum不匹配、读取截断、handle/footer格式错误
	ErrCorruption = errors.New("data corruption")
	// ErrAssertion 越界或者在错误的状态下调用，例如写入已经Finish的目录
	ErrAssertion = errors.New("assertion failed")
	// ErrNotSupported 不支持的操作，例如对writeBuffer的迭代器做Seek
	ErrNotSupported = errors.New("not supported")
	// ErrClosed 向已经Close的Pool投递任务。已经关闭的log上继续写返回的是ErrAssertion
	ErrClosed = errors.New("already closed")
)

// 判断err的根因是不是BufferFull
func IsBufferFull(err error) bool {
	return errors.Cause(err) == ErrBufferFull
}

// 判断err的根因是不是数据损坏
func IsCorruption(err error) bool {
	return errors.Cause(err) == ErrCorruption
}

// 包装一个Corruption错误，附带现场信息
func Corruption(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

func Panic(err error) {
	if err != nil {
		panic(err)
	}
}

// 如果condition为true就panic，用于内部不变量检查
func CondPanic(condition bool, err error) {
	if condition {
		Panic(err)
	}
}

func AssertTrue(b bool) {
	if !b {
		log.Fatalf("%+v", errors.Errorf("Assert failed"))
	}
}

func AssertTruef(b bool, format string, args ...interface{}) {
	if !b {
		log.Fatalf("%+v", errors.Errorf(format, args...))
	}
}

// 返回调用位置 file:line
func location(deep int) string {
	_, file, line, ok := runtime.Caller(deep)
	if !ok {
		file = "???"
		line = 0
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Err 打印err发生的位置并原样返回，用于不中断流程的记录
func Err(err error) error {
	if err != nil {
		fmt.Printf("%s %s\n", location(2), err)
	}
	return err
}
