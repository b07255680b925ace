package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// BufferPool holds the scratch buffers used to encode entries on the
// publishing side.
var BufferPool = NewBufferPool(DefaultEncodeBufferSize)

// DefaultEncodeBufferSize is the initial capacity of pooled encode buffers.
const DefaultEncodeBufferSize = 4 * 1024

// maxPooledBufferSize keeps one oversized entry from pinning memory forever.
const maxPooledBufferSize = 1 << 20

// bufferPool wraps sync.Pool for *bytes.Buffer and keeps hit/miss counters.
type bufferPool struct {
	pool sync.Pool

	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// NewBufferPool creates a new buffer pool whose buffers start with the given capacity.
func NewBufferPool(initialCapacity int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() interface{} {
		bp.misses.Add(1)
		return bytes.NewBuffer(make([]byte, 0, initialCapacity))
	}
	return bp
}

// Get retrieves a reset buffer from the pool.
func (bp *bufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	bp.hits.Add(1)
	return buf
}

// Put returns a buffer to the pool. Buffers that grew too large are dropped.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBufferSize {
		bp.dropped.Add(1)
		return
	}
	buf.Reset()
	bp.pool.Put(buf)
}

// GetMetrics returns the current metrics for the pool.
func (bp *bufferPool) GetMetrics() (hits, misses, dropped uint64) {
	return bp.hits.Load(), bp.misses.Load(), bp.dropped.Load()
}
