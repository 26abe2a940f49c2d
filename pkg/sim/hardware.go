// Package sim models the parts of an SAA716x bridge the ring consumer talks
// to: the MSI interrupt block, the BAM buffer mode registers and the FGPI
// DMA engines filling host segments.
package sim

import (
	"sync"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
)

// Op is the kind of a recorded register access
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// Access is one register access seen by the hardware
type Access struct {
	Op    Op
	Off   uint32
	Value uint32
}

// Hardware implements driver.Registers with the semantics of the real block:
// status bits are write-1-to-clear, enables are changed through set and
// clear registers and the buffer mode register carries the write index.
type Hardware struct {
	m driver.RegisterMap

	mu       sync.Mutex
	status   [2]uint32
	enable   [2]uint32
	writeIdx map[uint32]uint32
	raw      map[uint32]uint32
	faults   map[uint32]bool
	gone     bool
	trace    bool
	log      []Access
	line     *Line
}

// NewHardware creates hardware laid out as m
func NewHardware(m driver.RegisterMap) *Hardware {
	return &Hardware{
		m:        m,
		writeIdx: make(map[uint32]uint32),
		raw:      make(map[uint32]uint32),
		faults:   make(map[uint32]bool),
	}
}

// Map returns the register layout
func (h *Hardware) Map() driver.RegisterMap {
	return h.m
}

// dmaChannel returns the channel whose buffer mode register is at off
func (h *Hardware) dmaChannel(off uint32) (uint32, bool) {
	base := h.m.BamBase + h.m.BamBufMode
	if off < base || h.m.BamStride == 0 || (off-base)%h.m.BamStride != 0 {
		return 0, false
	}
	ch := (off - base) / h.m.BamStride
	if ch >= driver.MaxDmaChannels {
		return 0, false
	}
	return ch, true
}

// Read32 implements driver.Registers
func (h *Hardware) Read32(off uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := h.readLocked(off)
	if h.trace {
		h.log = append(h.log, Access{Op: OpRead, Off: off, Value: v})
	}
	return v
}

func (h *Hardware) readLocked(off uint32) uint32 {
	if h.gone || h.faults[off] || off%4 != 0 {
		return driver.InvalidRead
	}
	switch off {
	case h.m.StatusL:
		return h.status[0]
	case h.m.StatusH:
		return h.status[1]
	case h.m.EnableL:
		return h.enable[0]
	case h.m.EnableH:
		return h.enable[1]
	}
	if ch, ok := h.dmaChannel(off); ok {
		return h.raw[off]&^(h.m.WriteIdxMask<<h.m.WriteIdxShift) | (h.writeIdx[ch]&h.m.WriteIdxMask)<<h.m.WriteIdxShift
	}
	return h.raw[off]
}

// Write32 implements driver.Registers
func (h *Hardware) Write32(off, v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.trace {
		h.log = append(h.log, Access{Op: OpWrite, Off: off, Value: v})
	}
	if h.gone || off%4 != 0 {
		return
	}
	switch off {
	case h.m.ClearL:
		h.status[0] &^= v
	case h.m.ClearH:
		h.status[1] &^= v
	case h.m.EnableL:
		h.enable[0] = v
	case h.m.EnableH:
		h.enable[1] = v
	case h.m.EnableSetL:
		h.enable[0] |= v
	case h.m.EnableSetH:
		h.enable[1] |= v
	case h.m.EnableClrL:
		h.enable[0] &^= v
	case h.m.EnableClrH:
		h.enable[1] &^= v
	case h.m.StatusL, h.m.StatusH:
		// read only
	default:
		h.raw[off] = v
	}
}

// Raise latches status bits and asserts the interrupt line when an enabled
// source is pending
func (h *Hardware) Raise(low, high uint32) {
	h.mu.Lock()
	h.status[0] |= low
	h.status[1] |= high
	pending := h.pendingLocked()
	line := h.line
	h.mu.Unlock()

	if pending && line != nil {
		line.assert()
	}
}

func (h *Hardware) pendingLocked() bool {
	return h.status[0]&h.enable[0] != 0 || h.status[1]&h.enable[1] != 0
}

// Pending reports whether an enabled source is latched
func (h *Hardware) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingLocked()
}

// IrqStatus returns the latched status and enable words
func (h *Hardware) IrqStatus() driver.IrqStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return driver.IrqStatus{
		StatusL: h.status[0],
		StatusH: h.status[1],
		EnableL: h.enable[0],
		EnableH: h.enable[1],
	}
}

// SetWriteIndex moves the BAM write index of dmaChannel
func (h *Hardware) SetWriteIndex(dmaChannel, idx uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeIdx[dmaChannel] = idx
}

// WriteIndex returns the BAM write index of dmaChannel
func (h *Hardware) WriteIndex(dmaChannel uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeIdx[dmaChannel]
}

// Fault makes reads of off return all ones until cleared
func (h *Hardware) Fault(off uint32, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if on {
		h.faults[off] = true
	} else {
		delete(h.faults, off)
	}
}

// SetGone simulates the card dropping off the bus
func (h *Hardware) SetGone(gone bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gone = gone
}

// Trace starts recording accesses, dropping anything recorded before
func (h *Hardware) Trace(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = on
	h.log = nil
}

// Accesses returns the recorded accesses
func (h *Hardware) Accesses() []Access {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Access, len(h.log))
	copy(out, h.log)
	return out
}

// Line returns the interrupt line of the hardware, creating it on first use
func (h *Hardware) Line() *Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.line == nil {
		h.line = newLine(h)
	}
	return h.line
}
