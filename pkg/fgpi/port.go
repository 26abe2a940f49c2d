// Package fgpi drains the DMA rings of the FGPI transport stream ports.
package fgpi

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/emergingrobotics/go-saa716x/pkg/demux"
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"github.com/emergingrobotics/go-saa716x/pkg/stream"
	"github.com/emergingrobotics/go-saa716x/pkg/tasklet"
	"github.com/sirupsen/logrus"
)

// Drain errors. Both are local to one invocation; the next interrupt retries.
var (
	ErrUnmappedChannel   = errors.New("unexpected channel")
	ErrInvalidWriteIndex = errors.New("invalid write index")
)

// Config places one port on the bridge
type Config struct {
	// Port is the FGPI port number
	Port uint32
	// ChannelOffset is the DMA channel of FGPI port 0
	ChannelOffset uint32
	// AckMask is the tag acknowledge bit of the port in the low status word
	AckMask uint32
}

// DMAChannel returns the BAM channel serving the port
func (c Config) DMAChannel() uint32 {
	return c.Port + c.ChannelOffset
}

// Port is one FGPI ingestion path: a ring filled by the BAM, the read index
// the host owns and the tasklet draining it
type Port struct {
	l          *logrus.Entry
	cfg        Config
	dmaChannel uint32
	ring       *stream.Ring
	bank       *driver.Bank
	table      *demux.Table
	counters   *stats.PortCounters
	tasklet    *tasklet.Tasklet

	// written by Drain only
	read atomic.Uint32
}

// New creates the port and its tasklet on q. The port does not own ring,
// bank or table.
func New(l *logrus.Logger, cfg Config, ring *stream.Ring, bank *driver.Bank, table *demux.Table, q tasklet.Enqueuer, st *stats.Stats) (*Port, error) {
	if ring == nil || bank == nil {
		return nil, fmt.Errorf("fgpi%d: ring and register bank are required", cfg.Port)
	}
	if cfg.DMAChannel() >= driver.MaxDmaChannels {
		return nil, fmt.Errorf("fgpi%d: dma channel %d out of range", cfg.Port, cfg.DMAChannel())
	}
	if st == nil {
		st = stats.New(nil)
	}

	p := &Port{
		l:          l.WithField("fgpi", cfg.Port),
		cfg:        cfg,
		dmaChannel: cfg.DMAChannel(),
		ring:       ring,
		bank:       bank,
		table:      table,
		counters:   st.Port(cfg.Port),
	}
	p.tasklet = tasklet.New(fmt.Sprintf("fgpi%d", cfg.Port), p.work, q, l)
	return p, nil
}

// Index returns the FGPI port number
func (p *Port) Index() uint32 {
	return p.cfg.Port
}

// DMAChannel returns the BAM channel of the port
func (p *Port) DMAChannel() uint32 {
	return p.dmaChannel
}

// AckMask returns the interrupt bit of the port
func (p *Port) AckMask() uint32 {
	return p.cfg.AckMask
}

// Ring returns the segments of the port
func (p *Port) Ring() *stream.Ring {
	return p.ring
}

// ReadIndex returns the next slot the host will consume
func (p *Port) ReadIndex() uint32 {
	return p.read.Load()
}

// Tasklet returns the deferred work item of the port
func (p *Port) Tasklet() *tasklet.Tasklet {
	return p.tasklet
}

// Schedule queues a drain; it is a no-op while one is pending
func (p *Port) Schedule() bool {
	return p.tasklet.Schedule()
}

// Enable unmasks the tag acknowledge interrupt of the port
func (p *Port) Enable() {
	p.bank.EnableSources(p.cfg.AckMask, 0)
}

// Disable masks the tag acknowledge interrupt of the port
func (p *Port) Disable() {
	p.bank.DisableSources(p.cfg.AckMask, 0)
}

// Kill stops scheduling and waits for a pending or running drain
func (p *Port) Kill() {
	p.tasklet.Kill()
}

func (p *Port) work() {
	_ = p.Drain()
}

// Drain hands every segment completed since the last drain to the sink
// bound to the port, oldest first. It stops at the write index seen on
// entry; segments completed meanwhile are left to the next drain.
func (p *Port) Drain() error {
	p.counters.Drains.Inc(1)

	channel := p.dmaChannel - p.cfg.ChannelOffset

	sink, ok := p.table.Lookup(channel)
	if !ok {
		p.counters.Unmapped.Inc(1)
		p.l.WithField("dma_channel", p.dmaChannel).Errorf("Unexpected channel %d", channel)
		return fmt.Errorf("channel %d: %w", channel, ErrUnmappedChannel)
	}

	write, err := p.bank.WriteIndex(p.dmaChannel, p.ring.Depth())
	if err != nil {
		p.counters.WriteIndex.Inc(1)
		p.l.WithError(err).Error("Failed to read write index")
		return fmt.Errorf("%w: %w", ErrInvalidWriteIndex, err)
	}

	read := p.read.Load()
	if write == read {
		p.counters.Idle.Inc(1)
		p.l.Debug("called but nothing to do")
		return nil
	}

	if p.l.Logger.IsLevelEnabled(logrus.TraceLevel) {
		p.l.WithFields(logrus.Fields{"read": read, "write": write}).Trace("Draining")
	}
	for read != write {
		if err := p.ring.SyncForCPU(read); err != nil {
			p.counters.Sync.Inc(1)
			p.l.WithError(err).WithField("segment", read).Warn("Failed to sync segment for cpu")
		}

		data := p.ring.Segment(read).Payload()
		sink.Ingest(data)
		p.counters.Segments.Inc(1)
		p.counters.Bytes.Inc(int64(len(data)))

		read = p.ring.Next(read)
		p.read.Store(read)
	}
	return nil
}
