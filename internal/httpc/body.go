package httpc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/potlink/internal/protocol"
)

const (
	// DefaultInlineCapacity matches one TCP segment of payload.
	DefaultInlineCapacity = 1460
	DefaultMaxBodyBytes   = 1 << 20
	heapBufferSize        = 8 * 1024
)

var ErrBodyTooLarge = errors.New("httpc: body exceeds heap ceiling")

// Storage says where a body lives.
type Storage int

const (
	StorageNone Storage = iota
	StorageInline
	StorageHeap
)

func (s Storage) String() string {
	switch s {
	case StorageInline:
		return "inline"
	case StorageHeap:
		return "heap"
	default:
		return "none"
	}
}

var heapBufPool = sync.Pool{
	New: func() any {
		return make([]byte, heapBufferSize)
	},
}

func getHeapBuffer(size int) []byte {
	buf := heapBufPool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func putHeapBuffer(buf []byte) {
	heapBufPool.Put(buf[:cap(buf)])
}

// Body holds exactly Content-Length payload bytes followed by a NUL byte.
// An inline body is only valid until the owning reader reads again.
type Body struct {
	buf     []byte
	n       int
	storage Storage
}

// Bytes returns the payload without the terminator.
func (b *Body) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.buf[:b.n]
}

func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return b.n
}

func (b *Body) Storage() Storage {
	if b == nil {
		return StorageNone
	}
	return b.storage
}

// Release returns a heap body to the pool. Safe to call more than once.
func (b *Body) Release() {
	if b == nil || b.buf == nil {
		return
	}
	if b.storage == StorageHeap {
		putHeapBuffer(b.buf)
	}
	b.buf = nil
	b.n = 0
	b.storage = StorageNone
}

// bodyAllocator picks inline or heap storage for a declared length.
type bodyAllocator struct {
	inline  []byte
	maxHeap int
}

func newBodyAllocator(inlineCap, maxHeap int) *bodyAllocator {
	if inlineCap <= 0 {
		inlineCap = DefaultInlineCapacity
	}
	if maxHeap <= 0 {
		maxHeap = DefaultMaxBodyBytes
	}
	return &bodyAllocator{inline: make([]byte, inlineCap+1), maxHeap: maxHeap}
}

func (a *bodyAllocator) inlineCapacity() int {
	return len(a.inline) - 1
}

// allocate reserves length+1 bytes. It is never retried on failure.
func (a *bodyAllocator) allocate(length int) (*Body, error) {
	if length <= a.inlineCapacity() {
		return &Body{buf: a.inline[:length+1], n: length, storage: StorageInline}, nil
	}
	if length > a.maxHeap {
		return nil, protocol.Wrap(protocol.KindAllocation, "httpc.body",
			fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, length, a.maxHeap))
	}
	return &Body{buf: getHeapBuffer(length + 1), n: length, storage: StorageHeap}, nil
}
