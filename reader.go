package plfs

import (
	"plfsdb/file"
	idxt "plfsdb/idxT"
)

// 一个已经定稿的目录的读入口。
// 点查先按key路由到partition，再在partition内按epoch展开
type Reader struct {
	opt  *Options
	eopt *idxt.Options

	data    *file.LogSource
	indexes []*file.LogSource
	dirs    []*idxt.Dir
}

// 打开一个目录。options的路由和校验配置必须和写入时一致
func OpenReader(opt *Options) (*Reader, error) {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	opt.sanitize()
	eopt, err := opt.engineOptions()
	if err != nil {
		return nil, err
	}

	r := &Reader{
		opt:  opt,
		eopt: eopt,
	}
	// 数据log随机访问，不需要预读
	r.data, err = file.OpenLogSource(file.DataPath(opt.WorkDir), false)
	if err != nil {
		return nil, err
	}
	numParts := 1 << opt.LgParts
	for p := 0; p < numParts; p++ {
		// 索引log顺序读，提示内核预读
		indx, err := file.OpenLogSource(file.IndexPath(opt.WorkDir, p), true)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.indexes = append(r.indexes, indx)
		dir, err := idxt.OpenDir(eopt, r.data, indx)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.dirs = append(r.dirs, dir)
	}
	return r, nil
}

// 点查：返回key在所有epoch下写过的value按epoch顺序的拼接。
// 没有找到不算错误，返回空结果
func (r *Reader) Read(key []byte) ([]byte, error) {
	p := partitionOf(key, r.opt.LgParts)
	return r.dirs[p].Read(key)
}

// 该目录定稿时partition 0的epoch数量。
// 某个epoch内没有收到记录的partition会跳过这个空epoch，所以各partition的数量可能不同
func (r *Reader) NumEpochs() uint32 {
	return r.dirs[0].NumEpochs()
}

// 等在途的读结束并释放所有log句柄
func (r *Reader) Close() {
	for _, dir := range r.dirs {
		dir.Close()
	}
	r.dirs = nil
	for _, indx := range r.indexes {
		indx.Unref()
	}
	r.indexes = nil
	if r.data != nil {
		r.data.Unref()
		r.data = nil
	}
}
