package util

import (
	"sync"
)

// BufferPool provides reusable byte buffers to reduce GC pressure during
// page-by-page container decryption and large stream copies. Buffers are
// zeroed before being returned to the pool so a leftover ciphertext or
// plaintext page never leaks into an unrelated operation.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get retrieves a buffer from the pool. The buffer is all zeros: new
// buffers start zeroed and Put zeroes a buffer before pooling it.
func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool after zeroing it.
// The buffer should not be used after calling Put.
func (p *BufferPool) Put(b []byte) {
	if len(b) != p.size {
		// Don't return mismatched buffers to avoid corruption
		return
	}
	zeroBytes(b)
	p.pool.Put(&b)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// PageSize is the fixed page size of the FS-Decrypt container payload
// region. Every ciphertext page is independently CBC-decrypted with a
// page-specific IV (see cryptoprim.PageIV) and is exactly this many bytes
// regardless of the container's declared block_size.
const PageSize = 4096

// StreamBufferSize is the minimum buffered-reader/writer capacity used by
// the NTFS and exFAT extractors when copying file streams to disk.
const StreamBufferSize = 256 * KiB

// Default buffer pools for common sizes.
var (
	// PagePool provides PageSize buffers for the container decrypt loop.
	PagePool = NewBufferPool(PageSize)

	// StreamPool provides StreamBufferSize buffers for extractor stream copies.
	StreamPool = NewBufferPool(StreamBufferSize)
)

// GetPageBuffer gets a PageSize buffer from the default pool.
func GetPageBuffer() []byte {
	return PagePool.Get()
}

// PutPageBuffer returns a PageSize buffer to the default pool.
func PutPageBuffer(b []byte) {
	PagePool.Put(b)
}
