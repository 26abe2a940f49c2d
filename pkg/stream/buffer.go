package stream

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the system page size (typically 4096 bytes)
const PageSize = 4096

// Buffer is a page-aligned memory region the bridge DMAs transport stream data into
type Buffer struct {
	data          []byte
	size          uint64
	mu            sync.Mutex
	pageAligned   bool   // we own the mapping
	allocatedSize uint64 // includes alignment padding
}

// AllocateBuffer allocates a page-aligned buffer for DMA
func AllocateBuffer(size uint64) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer size cannot be zero")
	}

	// Round up to page size for alignment
	alignedSize := ((size + PageSize - 1) / PageSize) * PageSize

	data, err := unix.Mmap(-1, 0, int(alignedSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return &Buffer{
		data:          data[:size],
		size:          size,
		pageAligned:   true,
		allocatedSize: alignedSize,
	}, nil
}

// WrapBuffer wraps memory mapped elsewhere, e.g. a u-dma-buf region.
// The slice must be page-aligned for proper DMA operation.
func WrapBuffer(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("buffer cannot be empty")
	}

	addr := uintptr(unsafe.Pointer(&data[0]))
	if addr%PageSize != 0 {
		return nil, fmt.Errorf("buffer is not page-aligned")
	}

	return &Buffer{
		data:          data,
		size:          uint64(len(data)),
		pageAligned:   false, // external buffer, we don't manage it
		allocatedSize: uint64(len(data)),
	}, nil
}

// Data returns the buffer data
func (b *Buffer) Data() []byte {
	return b.data
}

// Size returns the usable buffer size
func (b *Buffer) Size() uint64 {
	return b.size
}

// Close releases the buffer resources
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Only munmap if we allocated the memory
	if b.pageAligned && len(b.data) > 0 {
		// Need to use the original allocated size for munmap
		originalData := unsafe.Slice(&b.data[0], int(b.allocatedSize))
		if err := unix.Munmap(originalData); err != nil {
			return fmt.Errorf("munmap failed: %w", err)
		}
	}
	b.data = nil
	return nil
}
