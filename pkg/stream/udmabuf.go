package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Udmabuf is a physically contiguous buffer exported by the u-dma-buf
// kernel module, mapped into the process
type Udmabuf struct {
	dir  string
	dev  string
	data []byte
	phys uint64
}

// OpenUdmabuf maps the buffer whose sysfs directory is dir, e.g.
// /sys/class/u-dma-buf/udmabuf0. The device node is /dev/<name>.
func OpenUdmabuf(dir string) (*Udmabuf, error) {
	size, err := readUint(filepath.Join(dir, "size"))
	if err != nil {
		return nil, err
	}
	phys, err := readUint(filepath.Join(dir, "phys_addr"))
	if err != nil {
		return nil, err
	}

	dev := filepath.Join("/dev", filepath.Base(dir))
	f, err := os.OpenFile(dev, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", dev, err)
	}
	return &Udmabuf{dir: dir, dev: dev, data: data, phys: phys}, nil
}

// Data returns the whole mapping
func (u *Udmabuf) Data() []byte {
	return u.data
}

// PhysAddr returns the bus address of the first byte
func (u *Udmabuf) PhysAddr() uint64 {
	return u.phys
}

// Syncer returns a syncer for rings carved from this buffer
func (u *Udmabuf) Syncer() Syncer {
	return UdmabufSyncer{Dir: u.dir}
}

// Ring carves ring number n of a set of equally sized rings out of the buffer
func (u *Udmabuf) Ring(n uint32, cfg RingConfig) (*Ring, error) {
	size := cfg.SegmentSize() * uint64(cfg.Depth)
	cfg.Base = uint64(n) * size
	if cfg.Base+size > uint64(len(u.data)) {
		return nil, fmt.Errorf("%s: %d bytes cannot hold ring %d of %d bytes", u.dev, len(u.data), n, size)
	}
	return NewRingFromRegion(cfg, u.data[cfg.Base:cfg.Base+size], u.Syncer())
}

// Close unmaps the buffer
func (u *Udmabuf) Close() error {
	if u.data == nil {
		return nil
	}
	err := unix.Munmap(u.data)
	u.data = nil
	return err
}

func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), baseOf(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func baseOf(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}
	return 10
}
