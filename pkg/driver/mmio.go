package driver

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MappedRegisters is a BAR mapped into the process, either through a PCI
// sysfs resource file or a UIO map.
type MappedRegisters struct {
	fd   int
	path string
	mem  []byte
	mu   sync.Mutex
}

// MapResource maps size bytes at offset of path for register access.
// A size of zero maps the whole file.
func MapResource(path string, offset int64, size int) (*MappedRegisters, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, wrapSyscallError(err, "opening "+path)
	}

	if size == 0 {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			unix.Close(fd)
			return nil, wrapSyscallError(err, "stat "+path)
		}
		size = int(st.Size - offset)
	}
	if size <= 0 {
		unix.Close(fd)
		return nil, NewError(StatusInvalidArgument, "mapping "+path+": empty resource")
	}

	mem, err := unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, wrapSyscallError(err, "mmap "+path)
	}

	return &MappedRegisters{fd: fd, path: path, mem: mem}, nil
}

// Path returns the mapped file
func (r *MappedRegisters) Path() string {
	return r.path
}

// Size returns the mapped window size in bytes
func (r *MappedRegisters) Size() int {
	return len(r.mem)
}

func (r *MappedRegisters) word(off uint32) *uint32 {
	if off%4 != 0 || int(off)+4 > len(r.mem) {
		return nil
	}
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

// Read32 reads a register; unmapped or misaligned offsets read as InvalidRead
func (r *MappedRegisters) Read32(off uint32) uint32 {
	p := r.word(off)
	if p == nil {
		return InvalidRead
	}
	return atomic.LoadUint32(p)
}

// Write32 writes a register; unmapped or misaligned offsets are dropped
func (r *MappedRegisters) Write32(off, v uint32) {
	if p := r.word(off); p != nil {
		atomic.StoreUint32(p, v)
	}
}

// Close unmaps the window and closes the file
func (r *MappedRegisters) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			return wrapSyscallError(err, "munmap "+r.path)
		}
		r.mem = nil
	}
	if r.fd >= 0 {
		err := unix.Close(r.fd)
		r.fd = -1
		if err != nil {
			return wrapSyscallError(err, "closing "+r.path)
		}
	}
	return nil
}
