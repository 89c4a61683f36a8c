package plfs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"plfsdb/utils"

	"github.com/stretchr/testify/require"
)

// 根目录层测试用的小容量配置
func testOptions(dir string) *Options {
	opt := NewDefaultOptions()
	opt.WorkDir = dir
	opt.BlockSize = 256
	opt.BlockBuffer = 1024
	opt.MemtableBuffer = 1 << 16
	opt.BFBitsPerKey = 10
	opt.UniqueKeys = false
	opt.IndexBuffer = 512
	return opt
}

func buildWriter(t *testing.T, opt *Options, writes func(w *Writer)) {
	w, err := OpenWriter(opt)
	require.NoError(t, err)
	writes(w)
	require.NoError(t, w.Finish())
}

func readKey(t *testing.T, r *Reader, key string) string {
	value, err := r.Read([]byte(key))
	require.NoError(t, err)
	return string(value)
}

// 单key单epoch
func TestSingleKeySingleEpoch(t *testing.T) {
	opt := testOptions(t.TempDir())
	buildWriter(t, opt, func(w *Writer) {
		require.NoError(t, w.Append([]byte("a"), []byte("1")))
		require.NoError(t, w.MakeEpoch())
	})

	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, "1", readKey(t, r, "a"))
	require.Equal(t, "", readKey(t, r, "b"))
}

// 同epoch重复key，插入顺序拼接
func TestDuplicatesOneEpoch(t *testing.T) {
	opt := testOptions(t.TempDir())
	buildWriter(t, opt, func(w *Writer) {
		require.NoError(t, w.Append([]byte("k"), []byte("v1")))
		require.NoError(t, w.Append([]byte("k"), []byte("v2")))
		require.NoError(t, w.MakeEpoch())
	})

	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, "v1v2", readKey(t, r, "k"))
}

// 跨epoch重复key，epoch顺序拼接
func TestCrossEpochDuplicates(t *testing.T) {
	opt := testOptions(t.TempDir())
	buildWriter(t, opt, func(w *Writer) {
		require.NoError(t, w.Append([]byte("k"), []byte("e0")))
		require.NoError(t, w.MakeEpoch())
		require.NoError(t, w.Append([]byte("k"), []byte("e1")))
		require.NoError(t, w.MakeEpoch())
	})

	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, uint32(2), r.NumEpochs())
	require.Equal(t, "e0e1", readKey(t, r, "k"))
}

// bloom filter短路：不存在的key不会碰数据log。
// 破坏数据log里唯一的block，被filter挡住的probe仍然正常返回空
func TestBloomShortCircuit(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(dir)
	buildWriter(t, opt, func(w *Writer) {
		require.NoError(t, w.Append([]byte("a"), []byte("1")))
		require.NoError(t, w.Append([]byte("c"), []byte("2")))
		require.NoError(t, w.Append([]byte("e"), []byte("3")))
		require.NoError(t, w.MakeEpoch())
	})

	// 篡改数据log
	fp, err := os.OpenFile(filepath.Join(dir, "DATA"), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = fp.WriteAt([]byte{0xde, 0xad, 0xbe, 0xef}, 2)
	require.NoError(t, err)
	require.NoError(t, fp.Close())

	opt.VerifyChecksums = true
	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()

	// "b"和"d"在key范围内但被filter判定不存在，数据log不会被读
	require.Equal(t, "", readKey(t, r, "b"))
	require.Equal(t, "", readKey(t, r, "d"))
	// 存在的key要去读数据log，撞上Corruption
	_, err = r.Read([]byte("a"))
	require.True(t, utils.IsCorruption(err))
}

// 损坏隔离：一个block的Corruption不影响其他table
func TestCorruptionIsolation(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(dir)
	buildWriter(t, opt, func(w *Writer) {
		require.NoError(t, w.Append([]byte("a"), []byte("e0")))
		require.NoError(t, w.MakeEpoch())
		require.NoError(t, w.Append([]byte("x"), []byte("e1")))
		require.NoError(t, w.MakeEpoch())
	})

	// 只破坏第一个epoch的block(数据log开头)
	fp, err := os.OpenFile(filepath.Join(dir, "DATA"), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = fp.WriteAt([]byte{0xff}, 2)
	require.NoError(t, err)
	require.NoError(t, fp.Close())

	opt.VerifyChecksums = true
	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Read([]byte("a"))
	require.True(t, utils.IsCorruption(err))
	// 不重叠的table照常可读
	require.Equal(t, "e1", readKey(t, r, "x"))
}

// 并行读：每个epoch一个任务，结果仍然按epoch顺序归并
func TestParallelReads(t *testing.T) {
	opt := testOptions(t.TempDir())
	opt.ParallelReads = true
	opt.AllowEnvThreads = true
	const epochs = 8
	buildWriter(t, opt, func(w *Writer) {
		for e := 0; e < epochs; e++ {
			require.NoError(t, w.Append([]byte("k"), []byte(fmt.Sprintf("<e%d>", e))))
			require.NoError(t, w.Append([]byte(fmt.Sprintf("only-%d", e)), []byte("x")))
			require.NoError(t, w.MakeEpoch())
		}
	})

	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, uint32(epochs), r.NumEpochs())
	require.Equal(t, "<e0><e1><e2><e3><e4><e5><e6><e7>", readKey(t, r, "k"))
	require.Equal(t, "x", readKey(t, r, "only-3"))
}

// 多partition：写入按key hash分片，读取路由到同一个partition
func TestMultiPartition(t *testing.T) {
	opt := testOptions(t.TempDir())
	opt.LgParts = 2
	pool := utils.NewPool(2)
	defer pool.Close()
	opt.CompactionPool = pool
	const n = 200
	buildWriter(t, opt, func(w *Writer) {
		for i := 0; i < n; i++ {
			require.NoError(t, w.Append([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("v%d", i))))
			if i%50 == 49 {
				require.NoError(t, w.MakeEpoch())
			}
		}
		require.Equal(t, int64(n), w.Info().EntryNum)
	})

	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("v%d", i), readKey(t, r, fmt.Sprintf("key-%04d", i)))
	}
	require.Equal(t, "", readKey(t, r, "missing"))
}

// Sync之后文件大小反映所有已经compact的数据
func TestWriterSync(t *testing.T) {
	opt := testOptions(t.TempDir())
	w, err := OpenWriter(opt)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("a"), []byte("1")))
	require.NoError(t, w.MakeEpoch())
	require.NoError(t, w.Sync())
	require.NoError(t, w.Wait())
	info := w.Info()
	require.Equal(t, int64(1), info.EntryNum)
	require.NotZero(t, info.DataSize)
	require.NoError(t, w.Finish())

	// 定稿之后继续写要报错
	err = w.Append([]byte("b"), []byte("2"))
	require.Error(t, err)
	require.Error(t, w.MakeEpoch())
}

// 空目录也可以定稿和打开
func TestEmptyDir(t *testing.T) {
	opt := testOptions(t.TempDir())
	buildWriter(t, opt, func(w *Writer) {})

	r, err := OpenReader(opt)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, uint32(0), r.NumEpochs())
	require.Equal(t, "", readKey(t, r, "anything"))
}

// YAML配置加载，缺省字段用默认值补齐
func TestOptionsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"work_dir: /tmp/somewhere\n"+
			"block_size: 4096\n"+
			"lg_parts: 2\n"+
			"unique_keys: false\n"+
			"compression: snappy\n"), 0666))

	opt, err := OptionsFromYAML(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/somewhere", opt.WorkDir)
	require.Equal(t, 4096, opt.BlockSize)
	require.Equal(t, 2, opt.LgParts)
	require.False(t, opt.UniqueKeys)
	require.Equal(t, "snappy", opt.Compression)
	// 没出现的字段保持默认值
	require.Equal(t, NewDefaultOptions().MemtableBuffer, opt.MemtableBuffer)

	_, err = OptionsFromYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// 补零对齐和压缩互斥
func TestPaddingWithCompression(t *testing.T) {
	opt := testOptions(t.TempDir())
	opt.BlockPadding = true
	opt.Compression = "snappy"
	_, err := OpenWriter(opt)
	require.Error(t, err)
}
