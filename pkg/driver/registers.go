package driver

import "fmt"

// Registers is 32-bit access to the bridge's BAR0 register space.
// Implementations must not block; Read32 returns InvalidRead for
// offsets it cannot serve, like a PCI master abort would.
type Registers interface {
	Read32(off uint32) uint32
	Write32(off, v uint32)
}

// Bank binds a register window to the layout describing it
type Bank struct {
	regs Registers
	m    RegisterMap
}

// NewBank creates a register bank over regs using layout m
func NewBank(regs Registers, m RegisterMap) *Bank {
	return &Bank{regs: regs, m: m}
}

// Map returns the layout of the bank
func (b *Bank) Map() RegisterMap {
	return b.m
}

// Registers returns the underlying register window
func (b *Bank) Registers() Registers {
	return b.regs
}

// ReadIrqStatus snapshots status and enable words, status first
func (b *Bank) ReadIrqStatus() IrqStatus {
	return IrqStatus{
		StatusL: b.regs.Read32(b.m.StatusL),
		StatusH: b.regs.Read32(b.m.StatusH),
		EnableL: b.regs.Read32(b.m.EnableL),
		EnableH: b.regs.Read32(b.m.EnableH),
	}
}

// ClearIrqStatus acknowledges exactly the bits observed in s.
// Words with no bit set are not written.
func (b *Bank) ClearIrqStatus(s IrqStatus) {
	if s.StatusL != 0 {
		b.regs.Write32(b.m.ClearL, s.StatusL)
	}
	if s.StatusH != 0 {
		b.regs.Write32(b.m.ClearH, s.StatusH)
	}
}

// EnableSources unmasks interrupt sources through the set registers
func (b *Bank) EnableSources(low, high uint32) {
	if low != 0 {
		b.regs.Write32(b.m.EnableSetL, low)
	}
	if high != 0 {
		b.regs.Write32(b.m.EnableSetH, high)
	}
}

// DisableSources masks interrupt sources through the clear registers
func (b *Bank) DisableSources(low, high uint32) {
	if low != 0 {
		b.regs.Write32(b.m.EnableClrL, low)
	}
	if high != 0 {
		b.regs.Write32(b.m.EnableClrH, high)
	}
}

// WriteIndex returns the ring slot the BAM of dmaChannel will fill next.
// The all-ones read of a vanished device and indices outside the ring
// are reported as errors instead of being passed on.
func (b *Bank) WriteIndex(dmaChannel, depth uint32) (uint32, error) {
	v := b.regs.Read32(b.m.BufModeOffset(dmaChannel))
	if v == InvalidRead {
		return 0, &DeviceError{
			Status:  StatusDeviceGone,
			Context: fmt.Sprintf("dma channel %d buffer mode", dmaChannel),
		}
	}

	idx := (v >> b.m.WriteIdxShift) & b.m.WriteIdxMask
	if idx >= depth {
		return 0, &DeviceError{
			Status:  StatusInvalidRegisterValue,
			Context: fmt.Sprintf("dma channel %d write index %d outside ring of %d", dmaChannel, idx, depth),
		}
	}
	return idx, nil
}
