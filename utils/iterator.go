package utils

// 双向迭代器。
// 迭代器只借用底层数据，调用者需要保证底层数据比迭代器活得久
type Iterator interface {
	Valid() bool
	SeekToFirst()
	SeekToLast()
	// 定位到第一个key >= target的entry
	Seek(target []byte)
	Next()
	Prev()
	Key() []byte
	Value() []byte
	// 迭代过程中遇到的第一个错误
	Error() error
}
