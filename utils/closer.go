package utils

import "sync"

type Closer struct {
	waiting     sync.WaitGroup
	CloseSignal chan struct{}
}

// 创建Closer
func NewCloser() *Closer {
	closer := &Closer{
		waiting: sync.WaitGroup{},
	}
	closer.CloseSignal = make(chan struct{})
	return closer
}

// Close用于上游通知下游协程进行资源回收，并等待协程回收完毕
func (c *Closer) Close() {
	close(c.CloseSignal)
	c.waiting.Wait()
}

// Done用于下游协程通知上游回收完毕
func (c *Closer) Done() {
	c.waiting.Done()
}

// Add表示需要等待的下游协程+n
func (c *Closer) Add(n int) {
	c.waiting.Add(n)
}
