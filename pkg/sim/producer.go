package sim

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/stream"
)

// Producer plays the FGPI DMA engine of one port: it fills ring segments
// with transport stream packets, advances the BAM write index and raises
// the tag acknowledge interrupt of the port.
type Producer struct {
	hw         *Hardware
	ring       *stream.Ring
	dmaChannel uint32
	ackMask    uint32
	pid        uint16

	mu  sync.Mutex
	cc  byte
	seq uint32
}

// NewProducer creates a producer writing pid packets into ring as dmaChannel
func NewProducer(hw *Hardware, ring *stream.Ring, dmaChannel, ackMask uint32, pid uint16) *Producer {
	return &Producer{
		hw:         hw,
		ring:       ring,
		dmaChannel: dmaChannel,
		ackMask:    ackMask,
		pid:        pid,
	}
}

// Fill writes n segments, then raises one interrupt, as the hardware does
// when several buffers complete before the host reacts
func (p *Producer) Fill(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	write := p.hw.WriteIndex(p.dmaChannel)
	for i := 0; i < n; i++ {
		p.fillSegment(p.ring.Segment(write).Payload())
		write = p.ring.Next(write)
		p.hw.SetWriteIndex(p.dmaChannel, write)
	}
	p.mu.Unlock()

	p.hw.Raise(p.ackMask, 0)
}

// Advance moves the write index by n segments without touching their
// contents or raising an interrupt
func (p *Producer) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	write := p.hw.WriteIndex(p.dmaChannel)
	for i := 0; i < n; i++ {
		p.fillSegment(p.ring.Segment(write).Payload())
		write = p.ring.Next(write)
	}
	p.hw.SetWriteIndex(p.dmaChannel, write)
}

// Produced returns the number of segments written so far
func (p *Producer) Produced() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Producer) fillSegment(data []byte) {
	for off := 0; off+driver.TSPacketSize <= len(data); off += driver.TSPacketSize {
		pkt := data[off : off+driver.TSPacketSize]
		pkt[0] = driver.TSSyncByte
		pkt[1] = byte(p.pid>>8) & 0x1f
		pkt[2] = byte(p.pid)
		pkt[3] = 0x10 | p.cc&0x0f
		p.cc++
		if off == 0 {
			binary.BigEndian.PutUint32(pkt[4:8], p.seq)
		} else {
			binary.BigEndian.PutUint32(pkt[4:8], 0)
		}
		for j := 8; j < len(pkt); j++ {
			pkt[j] = 0xff
		}
	}
	p.seq++
}

// Sequence returns the segment number a producer wrote at the start of data
func Sequence(data []byte) uint32 {
	if len(data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint32(data[4:8])
}

// Run fills perTick segments every interval until ctx is done or limit
// segments were written. A limit of 0 runs until ctx is done.
func (p *Producer) Run(ctx context.Context, interval time.Duration, perTick int, limit uint32) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		n := perTick
		if limit > 0 {
			left := int(limit - p.Produced())
			if left < n {
				n = left
			}
		}
		p.Fill(n)
		if limit > 0 && p.Produced() >= limit {
			return nil
		}
	}
}
