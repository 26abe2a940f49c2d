package driver

// PCI identifiers of the SAA716x family bridge
const (
	PciVendorNXP     = 0x1131
	PciDeviceSAA7160 = 0x7160
	PciDeviceSAA7162 = 0x7162
	PciDeviceSAA7164 = 0x7164
)

// Module base addresses inside BAR0
const (
	ModuleBAM  = 0x00000
	ModuleMSI  = 0x02000
	ModuleGREG = 0x12000
)

// MSI interrupt controller registers (relative to ModuleMSI)
const (
	MsiIntStatusL    = 0xfc0
	MsiIntStatusH    = 0xfc4
	MsiIntStatusClrL = 0xfc8
	MsiIntStatusClrH = 0xfcc
	MsiIntStatusSetL = 0xfd0
	MsiIntStatusSetH = 0xfd4
	MsiIntEnaL       = 0xfd8
	MsiIntEnaH       = 0xfdc
	MsiIntEnaClrL    = 0xfe0
	MsiIntEnaClrH    = 0xfe4
	MsiIntEnaSetL    = 0xfe8
	MsiIntEnaSetH    = 0xfec
)

// Tag acknowledge interrupt sources in the low status word.
// DMA channels 0..5 belong to the video inputs, 6..9 to the FGPI ports.
const (
	MsiIntTagAckVI0_0  = 1 << 0
	MsiIntTagAckVI0_1  = 1 << 1
	MsiIntTagAckVI0_2  = 1 << 2
	MsiIntTagAckVI1_0  = 1 << 3
	MsiIntTagAckVI1_1  = 1 << 4
	MsiIntTagAckVI1_2  = 1 << 5
	MsiIntTagAckFGPI_0 = 1 << 6
	MsiIntTagAckFGPI_1 = 1 << 7
	MsiIntTagAckFGPI_2 = 1 << 8
	MsiIntTagAckFGPI_3 = 1 << 9
)

// BAM (buffer address manager) per DMA channel layout
const (
	BamChannelStride   = 0x38
	BamDmaBufMode      = 0x24
	BamBufModeIdxShift = 3
	BamBufModeIdxMask  = 0x7
)

// FGPI layout
const (
	FgpiPorts             = 4
	FgpiDmaChannelBase    = 6
	MaxDmaChannels        = 32
	MaxInterruptSources   = 64
	DefaultRingDepth      = 8
	TSPacketSize          = 188
	TSSyncByte            = 0x47
	DefaultPacketsPerSeg  = 348
	DefaultSegmentPayload = TSPacketSize * DefaultPacketsPerSeg
	PageSize              = 4096
)

// InvalidRead is what a PCI read returns once the device has gone away
const InvalidRead = 0xffffffff
