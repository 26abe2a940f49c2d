package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Syncer makes DMA written segment memory visible to the CPU
type Syncer interface {
	SyncForCPU(seg *Segment) error
}

// NopSyncer is for cache coherent platforms and simulated hardware
type NopSyncer struct{}

// SyncForCPU does nothing
func (NopSyncer) SyncForCPU(*Segment) error { return nil }

// dmaFromDevice matches enum dma_data_direction DMA_FROM_DEVICE
const dmaFromDevice = 2

// udmabufLocks holds one mutex per sysfs directory. The sync attributes of
// a u-dma-buf device are shared by every ring carved from it.
var udmabufLocks sync.Map

func udmabufLock(dir string) *sync.Mutex {
	mu, _ := udmabufLocks.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

var writeAttr = func(path string, value uint64) error {
	return os.WriteFile(path, []byte(strconv.FormatUint(value, 10)), 0)
}

// UdmabufSyncer syncs through the sysfs attributes of a u-dma-buf device
// backing the whole ring, e.g. /sys/class/u-dma-buf/udmabuf0. Syncs through
// the same directory are serialized, so rings drained by different workers
// never mix their offset and size.
type UdmabufSyncer struct {
	Dir string
}

// SyncForCPU performs sync_for_cpu over the segment's scatter-gather range
func (s UdmabufSyncer) SyncForCPU(seg *Segment) error {
	sg := seg.SGList()
	attrs := []struct {
		name  string
		value uint64
	}{
		{"sync_offset", sg.Base()},
		{"sync_size", sg.TotalSize()},
		{"sync_direction", dmaFromDevice},
		{"sync_for_cpu", 1},
	}

	mu := udmabufLock(s.Dir)
	mu.Lock()
	defer mu.Unlock()
	for _, a := range attrs {
		if err := writeAttr(filepath.Join(s.Dir, a.name), a.value); err != nil {
			return fmt.Errorf("segment %d: writing %s: %w", seg.Index(), a.name, err)
		}
	}
	return nil
}
