package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// BufferPool hands out reusable encode/download buffers so a batch of
// thousands of files does not allocate a fresh multi-megabyte buffer per
// derivative.
type BufferPool struct {
	pool      sync.Pool
	initial   int
	maxRetain int
	allocated int32
	inUse     int32
	hits      int64
	misses    int64
}

// NewBufferPool pre-allocates count buffers of initial capacity. Buffers that
// grew beyond maxRetain are dropped on Put instead of being pooled.
func NewBufferPool(count, initial, maxRetain int) *BufferPool {
	if initial <= 0 {
		initial = 64 * 1024
	}
	if maxRetain < initial {
		maxRetain = initial * 16
	}

	bp := &BufferPool{
		initial:   initial,
		maxRetain: maxRetain,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			atomic.AddInt32(&bp.allocated, 1)
			atomic.AddInt64(&bp.misses, 1)
			return bytes.NewBuffer(make([]byte, 0, initial))
		},
	}

	for i := 0; i < count; i++ {
		atomic.AddInt32(&bp.allocated, 1)
		bp.pool.Put(bytes.NewBuffer(make([]byte, 0, initial)))
	}

	return bp
}

// Get returns an empty buffer.
func (bp *BufferPool) Get() *bytes.Buffer {
	atomic.AddInt32(&bp.inUse, 1)
	atomic.AddInt64(&bp.hits, 1)
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. Callers must not touch buf afterwards.
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	atomic.AddInt32(&bp.inUse, -1)
	if buf.Cap() > bp.maxRetain {
		atomic.AddInt32(&bp.allocated, -1)
		return
	}
	buf.Reset()
	bp.pool.Put(buf)
}

// Detach copies the buffer contents into a new slice owned by the caller and
// returns buf to the pool.
func (bp *BufferPool) Detach(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	bp.Put(buf)
	return out
}

// BufferPoolStats is a point-in-time snapshot of pool counters.
type BufferPoolStats struct {
	Allocated int32
	InUse     int32
	Available int32
	Hits      int64
	Misses    int64
	HitRate   float64
}

// GetStats returns current statistics
func (bp *BufferPool) GetStats() BufferPoolStats {
	allocated := atomic.LoadInt32(&bp.allocated)
	inUse := atomic.LoadInt32(&bp.inUse)
	hits := atomic.LoadInt64(&bp.hits)
	misses := atomic.LoadInt64(&bp.misses)

	hitRate := 0.0
	if hits > 0 {
		hitRate = float64(hits-misses) / float64(hits) * 100
		if hitRate < 0 {
			hitRate = 0
		}
	}

	return BufferPoolStats{
		Allocated: allocated,
		InUse:     inUse,
		Available: allocated - inUse,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
	}
}
