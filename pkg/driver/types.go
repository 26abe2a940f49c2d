package driver

import (
	"fmt"
	"math/bits"
	"strings"
)

// InterruptMode selects how the bridge signals interrupts to the host
type InterruptMode int

const (
	InterruptINTA InterruptMode = 0
	InterruptMSI  InterruptMode = 1
	InterruptMSIX InterruptMode = 2
)

var interruptModeNames = map[InterruptMode]string{
	InterruptINTA: "inta",
	InterruptMSI:  "msi",
	InterruptMSIX: "msix",
}

func (m InterruptMode) String() string {
	if s, ok := interruptModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("InterruptMode(%d)", int(m))
}

// ParseInterruptMode accepts the mode name or its legacy numeric form
func ParseInterruptMode(s string) (InterruptMode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "0", "inta", "int-a", "intx":
		return InterruptINTA, nil
	case "1", "msi":
		return InterruptMSI, nil
	case "2", "msix", "msi-x":
		return InterruptMSIX, nil
	}
	return 0, NewError(StatusUnsupportedMode, fmt.Sprintf("interrupt mode %q", s))
}

// IrqStatus is a snapshot of the 64 interrupt sources taken at interrupt time
type IrqStatus struct {
	StatusL uint32
	StatusH uint32
	EnableL uint32
	EnableH uint32
}

// Pending reports whether any enabled source is asserted
func (s IrqStatus) Pending() bool {
	return s.StatusL&s.EnableL != 0 || s.StatusH&s.EnableH != 0
}

// Status returns both status words as one 64-bit source mask
func (s IrqStatus) Status() uint64 {
	return uint64(s.StatusH)<<32 | uint64(s.StatusL)
}

// Sources returns the numbers of the asserted sources, low word first
func (s IrqStatus) Sources() []int {
	var out []int
	mask := s.Status()
	for mask != 0 {
		n := bits.TrailingZeros64(mask)
		out = append(out, n)
		mask &^= 1 << uint(n)
	}
	return out
}

func (s IrqStatus) String() string {
	return fmt.Sprintf("STAT L=<%08x> H=<%08x>, CTL L=<%08x> H=<%08x>",
		s.StatusL, s.StatusH, s.EnableL, s.EnableH)
}

// RegisterMap holds the BAR0 offsets used by the ring consumer.
// Offsets are absolute, module bases already applied.
type RegisterMap struct {
	StatusL    uint32 `yaml:"status_l"`
	StatusH    uint32 `yaml:"status_h"`
	ClearL     uint32 `yaml:"clear_l"`
	ClearH     uint32 `yaml:"clear_h"`
	EnableL    uint32 `yaml:"enable_l"`
	EnableH    uint32 `yaml:"enable_h"`
	EnableSetL uint32 `yaml:"enable_set_l"`
	EnableSetH uint32 `yaml:"enable_set_h"`
	EnableClrL uint32 `yaml:"enable_clr_l"`
	EnableClrH uint32 `yaml:"enable_clr_h"`

	// BufMode(ch) = BamBase + ch*BamStride + BamBufMode
	BamBase       uint32 `yaml:"bam_base"`
	BamStride     uint32 `yaml:"bam_stride"`
	BamBufMode    uint32 `yaml:"bam_buf_mode"`
	WriteIdxShift uint32 `yaml:"write_index_shift"`
	WriteIdxMask  uint32 `yaml:"write_index_mask"`
}

// DefaultRegisterMap returns the SAA7160 layout
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		StatusL:       ModuleMSI + MsiIntStatusL,
		StatusH:       ModuleMSI + MsiIntStatusH,
		ClearL:        ModuleMSI + MsiIntStatusClrL,
		ClearH:        ModuleMSI + MsiIntStatusClrH,
		EnableL:       ModuleMSI + MsiIntEnaL,
		EnableH:       ModuleMSI + MsiIntEnaH,
		EnableSetL:    ModuleMSI + MsiIntEnaSetL,
		EnableSetH:    ModuleMSI + MsiIntEnaSetH,
		EnableClrL:    ModuleMSI + MsiIntEnaClrL,
		EnableClrH:    ModuleMSI + MsiIntEnaClrH,
		BamBase:       ModuleBAM,
		BamStride:     BamChannelStride,
		BamBufMode:    BamDmaBufMode,
		WriteIdxShift: BamBufModeIdxShift,
		WriteIdxMask:  BamBufModeIdxMask,
	}
}

// BufModeOffset returns the BAM buffer mode register of a DMA channel
func (m RegisterMap) BufModeOffset(dmaChannel uint32) uint32 {
	return m.BamBase + dmaChannel*m.BamStride + m.BamBufMode
}

// Validate checks that the map is usable
func (m RegisterMap) Validate() error {
	offsets := map[string]uint32{
		"status_l": m.StatusL, "status_h": m.StatusH,
		"clear_l": m.ClearL, "clear_h": m.ClearH,
		"enable_l": m.EnableL, "enable_h": m.EnableH,
	}
	for name, off := range offsets {
		if off%4 != 0 {
			return NewError(StatusInvalidArgument, fmt.Sprintf("register %s offset 0x%x is not 32-bit aligned", name, off))
		}
	}
	if m.BamStride == 0 || m.BamStride%4 != 0 {
		return NewError(StatusInvalidArgument, fmt.Sprintf("bam stride 0x%x", m.BamStride))
	}
	if m.WriteIdxMask == 0 {
		return NewError(StatusInvalidArgument, "write index mask is zero")
	}
	if m.WriteIdxShift >= 32 {
		return NewError(StatusInvalidArgument, fmt.Sprintf("write index shift %d", m.WriteIdxShift))
	}
	return nil
}
