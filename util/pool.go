package util

import "sync"

// ChunkSize is the relay read size.  Each copy loop moves at most one
// chunk per read/write pair, which is also the granularity of the
// bandwidth limiter.
const ChunkSize = 4096

// BufPool provides reusable chunk buffers for the relay loops so a
// busy server does not allocate two buffers per accepted connection.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ChunkSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
