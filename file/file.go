package file

import (
	"fmt"
	"os"
	"path/filepath"
)

// Options
type Options struct {
	FileName string
	Dir      string
	Flag     int
	ReadOnly bool
}

const (
	// 追加写打开log文件的默认flag。
	// 逻辑偏移从0开始计数，重建目录时必须清掉旧内容
	DefaultFileFlag = os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND
	DefaultFileMode = 0666
)

// 数据log的路径。一个目录只有一个数据log，所有partition共享
func DataPath(dir string) string {
	return filepath.Join(dir, "DATA")
}

// 索引log的路径。每个partition一个索引log
func IndexPath(dir string, part int) string {
	return filepath.Join(dir, fmt.Sprintf("INDEX-%02d", part))
}

// log轮转之后的路径
func rotatedPath(name string, index int) string {
	return fmt.Sprintf("%s.%02d", name, index)
}
