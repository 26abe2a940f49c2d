package demux

import (
	"fmt"
	"io"
	"sync"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Transport stream framing, shared with the DMA segment geometry
const (
	// PacketSize is the length of one transport stream packet
	PacketSize = driver.TSPacketSize
	// SyncByte starts every packet
	SyncByte = driver.TSSyncByte
	// NullPID carries stuffing and is never dispatched to feeds
	NullPID = 0x1fff
)

// Feed receives whole packets for the pids it was registered for
type Feed func(pid uint16, pkt []byte)

type ccState struct {
	last uint8
	seen bool
}

// Filter is a software transport stream demultiplexer. It finds packet
// boundaries in arbitrary chunks, carries partial packets across calls and
// dispatches packets per pid. Feeds run with the filter locked and must
// not call back into it.
type Filter struct {
	l    *logrus.Entry
	name string

	mu         sync.Mutex
	feeds      map[uint16][]Feed
	taps       []Feed
	partial    [PacketSize]byte
	partialLen int
	cc         map[uint16]*ccState
	inSync     bool

	packets  metrics.Counter
	syncLoss metrics.Counter
	skipped  metrics.Counter
	ccErrors metrics.Counter
	teiDrops metrics.Counter
}

// FilterStats is a snapshot of the filter counters
type FilterStats struct {
	Packets  int64
	SyncLoss int64
	Skipped  int64
	CCErrors int64
	TEIDrops int64
}

// NewFilter creates a filter whose counters live in reg under demux.<name>.
// A nil reg keeps the counters private.
func NewFilter(l *logrus.Logger, reg metrics.Registry, name string) *Filter {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	counter := func(what string) metrics.Counter {
		return metrics.GetOrRegisterCounter(fmt.Sprintf("demux.%s.%s", name, what), reg)
	}
	return &Filter{
		l:        l.WithField("demux", name),
		name:     name,
		feeds:    make(map[uint16][]Feed),
		cc:       make(map[uint16]*ccState),
		inSync:   true,
		packets:  counter("packets"),
		syncLoss: counter("sync_loss"),
		skipped:  counter("skipped_bytes"),
		ccErrors: counter("cc_errors"),
		teiDrops: counter("tei_drops"),
	}
}

// Name returns the filter name
func (f *Filter) Name() string {
	return f.name
}

// AddFeed registers fn for pid
func (f *Filter) AddFeed(pid uint16, fn Feed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[pid&NullPID] = append(f.feeds[pid&NullPID], fn)
}

// RemoveFeeds drops every feed of pid
func (f *Filter) RemoveFeeds(pid uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.feeds, pid&NullPID)
}

// AddTap registers fn for every packet, null packets included
func (f *Filter) AddTap(fn Feed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps = append(f.taps, fn)
}

// Ingest implements Sink
func (f *Filter) Ingest(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.partialLen > 0 {
		n := copy(f.partial[f.partialLen:], data)
		f.partialLen += n
		data = data[n:]
		if f.partialLen < PacketSize {
			return
		}
		f.partialLen = 0
		f.packet(f.partial[:])
	}

	p := 0
	for p < len(data) {
		if data[p] != SyncByte {
			if f.inSync {
				f.inSync = false
				f.syncLoss.Inc(1)
				f.l.Debug("Lost transport stream sync")
			}
			f.skipped.Inc(1)
			p++
			continue
		}
		if len(data)-p < PacketSize {
			f.partialLen = copy(f.partial[:], data[p:])
			return
		}
		f.inSync = true
		f.packet(data[p : p+PacketSize])
		p += PacketSize
	}
}

func (f *Filter) packet(pkt []byte) {
	if pkt[1]&0x80 != 0 {
		// transport error indicator, contents cannot be trusted
		f.teiDrops.Inc(1)
		return
	}
	f.packets.Inc(1)

	pid := uint16(pkt[1]&0x1f)<<8 | uint16(pkt[2])
	if pid != NullPID && pkt[3]&0x10 != 0 {
		cc := pkt[3] & 0x0f
		st, ok := f.cc[pid]
		if !ok {
			st = &ccState{}
			f.cc[pid] = st
		}
		if st.seen && cc != st.last && cc != (st.last+1)&0x0f {
			f.ccErrors.Inc(1)
			f.l.WithField("pid", pid).Tracef("Continuity error: expected %d, got %d", (st.last+1)&0x0f, cc)
		}
		st.last = cc
		st.seen = true
	}

	for _, tap := range f.taps {
		tap(pid, pkt)
	}
	if pid == NullPID {
		return
	}
	for _, fn := range f.feeds[pid] {
		fn(pid, pkt)
	}
}

// Stats returns the current counters
func (f *Filter) Stats() FilterStats {
	return FilterStats{
		Packets:  f.packets.Count(),
		SyncLoss: f.syncLoss.Count(),
		Skipped:  f.skipped.Count(),
		CCErrors: f.ccErrors.Count(),
		TEIDrops: f.teiDrops.Count(),
	}
}

// PIDs returns the pids that carried payload so far
func (f *Filter) PIDs() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, 0, len(f.cc))
	for pid := range f.cc {
		out = append(out, pid)
	}
	return out
}

// WriterFeed returns a feed copying packets to w. The first write error is
// passed to onErr and later packets are dropped.
func WriterFeed(w io.Writer, onErr func(error)) Feed {
	var failed bool
	return func(_ uint16, pkt []byte) {
		if failed {
			return
		}
		if _, err := w.Write(pkt); err != nil {
			failed = true
			if onErr != nil {
				onErr(err)
			}
		}
	}
}
