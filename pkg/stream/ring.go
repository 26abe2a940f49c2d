package stream

import (
	"errors"
	"fmt"
)

// Segment is one slot of a ring: a DMA buffer and the list the BAM fills it through
type Segment struct {
	index   uint32
	buf     *Buffer
	sg      *SGList
	payload int
}

// Index returns the ring slot of the segment
func (s *Segment) Index() uint32 {
	return s.index
}

// Buffer returns the backing buffer
func (s *Segment) Buffer() *Buffer {
	return s.buf
}

// SGList returns the scatter-gather list of the segment
func (s *Segment) SGList() *SGList {
	return s.sg
}

// Data returns the whole segment memory
func (s *Segment) Data() []byte {
	return s.buf.Data()
}

// Payload returns the part of the segment handed to a sink
func (s *Segment) Payload() []byte {
	return s.buf.Data()[:s.payload]
}

// RingConfig describes the geometry of a ring
type RingConfig struct {
	Depth       uint32
	PayloadSize int
	PageSize    uint32
	// Base is the offset of the ring inside the DMA buffer it is carved from
	Base uint64
}

// SegmentSize is the payload rounded up to whole pages
func (c RingConfig) SegmentSize() uint64 {
	page := uint64(c.PageSize)
	return (uint64(c.PayloadSize) + page - 1) / page * page
}

// Validate checks the geometry
func (c RingConfig) Validate() error {
	if c.Depth < 2 {
		return fmt.Errorf("ring depth %d: need at least 2 segments", c.Depth)
	}
	if c.PayloadSize <= 0 {
		return fmt.Errorf("segment payload %d must be positive", c.PayloadSize)
	}
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page size %d is not a power of two", c.PageSize)
	}
	return nil
}

// Ring is the fixed-depth circular set of segments one FGPI port fills
type Ring struct {
	cfg      RingConfig
	segments []*Segment
	syncer   Syncer
}

// NewRing allocates Depth anonymous page-aligned segments
func NewRing(cfg RingConfig, syncer Syncer) (*Ring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Ring{cfg: cfg, syncer: syncer}
	size := cfg.SegmentSize()
	for i := uint32(0); i < cfg.Depth; i++ {
		buf, err := AllocateBuffer(size)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to allocate segment %d: %w", i, err)
		}
		if err := r.add(i, buf, 0); err != nil {
			buf.Close()
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// NewRingFromRegion carves Depth consecutive segments out of one mapped region.
// Scatter-gather offsets start at cfg.Base.
func NewRingFromRegion(cfg RingConfig, region []byte, syncer Syncer) (*Ring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	size := cfg.SegmentSize()
	need := size * uint64(cfg.Depth)
	if uint64(len(region)) < need {
		return nil, fmt.Errorf("region of %d bytes cannot hold %d segments of %d bytes", len(region), cfg.Depth, size)
	}

	r := &Ring{cfg: cfg, syncer: syncer}
	for i := uint32(0); i < cfg.Depth; i++ {
		start := uint64(i) * size
		buf, err := WrapBuffer(region[start : start+size])
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if err := r.add(i, buf, cfg.Base+start); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Ring) add(index uint32, buf *Buffer, base uint64) error {
	sg, err := NewSGList(base, buf.Size(), r.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("segment %d: %w", index, err)
	}
	r.segments = append(r.segments, &Segment{
		index:   index,
		buf:     buf,
		sg:      sg,
		payload: r.cfg.PayloadSize,
	})
	return nil
}

// Depth returns the number of segments
func (r *Ring) Depth() uint32 {
	return r.cfg.Depth
}

// PayloadSize returns the number of bytes delivered per segment
func (r *Ring) PayloadSize() int {
	return r.cfg.PayloadSize
}

// Segment returns slot i
func (r *Ring) Segment(i uint32) *Segment {
	return r.segments[i%r.cfg.Depth]
}

// Next returns the slot following i
func (r *Ring) Next(i uint32) uint32 {
	return (i + 1) % r.cfg.Depth
}

// Pending returns how many segments lie between read and write
func (r *Ring) Pending(read, write uint32) uint32 {
	return (write + r.cfg.Depth - read) % r.cfg.Depth
}

// SyncForCPU makes slot i visible to the CPU
func (r *Ring) SyncForCPU(i uint32) error {
	if r.syncer == nil {
		return nil
	}
	return r.syncer.SyncForCPU(r.Segment(i))
}

// Close releases every segment
func (r *Ring) Close() error {
	var errs []error
	for _, s := range r.segments {
		if err := s.buf.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.segments = nil
	return errors.Join(errs...)
}
