//go:build unit

package demux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func packets(pid uint16, n int, cc byte) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		pkt := make([]byte, PacketSize)
		pkt[0] = SyncByte
		pkt[1] = byte(pid>>8) & 0x1f
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | (cc+byte(i))&0x0f
		pkt[4] = byte(i)
		out = append(out, pkt...)
	}
	return out
}

func TestFilterDispatchesByPID(t *testing.T) {
	f := NewFilter(quietLogger(), nil, "adapter0")
	var video, audio int
	f.AddFeed(0x100, func(pid uint16, pkt []byte) {
		assert.Equal(t, uint16(0x100), pid)
		assert.Len(t, pkt, PacketSize)
		video++
	})
	f.AddFeed(0x101, func(uint16, []byte) { audio++ })

	data := append(packets(0x100, 3, 0), packets(0x101, 2, 0)...)
	data = append(data, packets(NullPID, 1, 0)...)
	f.Ingest(data)

	assert.Equal(t, 3, video)
	assert.Equal(t, 2, audio)
	assert.Equal(t, int64(6), f.Stats().Packets)
	assert.ElementsMatch(t, []uint16{0x100, 0x101}, f.PIDs())
}

func TestFilterWholeSegment(t *testing.T) {
	f := NewFilter(quietLogger(), nil, "adapter0")
	var n int
	f.AddTap(func(uint16, []byte) { n++ })

	f.Ingest(packets(0x200, 348, 0))
	assert.Equal(t, 348, n)
	assert.Equal(t, FilterStats{Packets: 348}, f.Stats())
}

func TestFilterCarriesPartialPackets(t *testing.T) {
	f := NewFilter(quietLogger(), nil, "adapter0")
	var got [][]byte
	f.AddFeed(0x42, func(_ uint16, pkt []byte) {
		got = append(got, append([]byte(nil), pkt...))
	})

	data := packets(0x42, 3, 5)
	f.Ingest(data[:100])
	f.Ingest(data[100:200])
	f.Ingest(data[200:])

	require.Len(t, got, 3)
	for i := range got {
		assert.Equal(t, data[i*PacketSize:(i+1)*PacketSize], got[i])
	}
	assert.Equal(t, int64(0), f.Stats().CCErrors)
}

func TestFilterResyncsAfterGarbage(t *testing.T) {
	f := NewFilter(quietLogger(), nil, "adapter0")
	var n int
	f.AddTap(func(uint16, []byte) { n++ })

	data := append([]byte{0x00, 0x11, 0x22}, packets(0x10, 2, 0)...)
	f.Ingest(data)

	assert.Equal(t, 2, n)
	st := f.Stats()
	assert.Equal(t, int64(1), st.SyncLoss)
	assert.Equal(t, int64(3), st.Skipped)
}

func TestFilterContinuityAndTEI(t *testing.T) {
	f := NewFilter(quietLogger(), nil, "adapter0")

	data := packets(0x30, 2, 0)
	data = append(data, packets(0x30, 1, 1)...) // duplicate cc is allowed
	data = append(data, packets(0x30, 1, 7)...) // jump
	bad := packets(0x30, 1, 8)
	bad[1] |= 0x80
	data = append(data, bad...)
	f.Ingest(data)

	st := f.Stats()
	assert.Equal(t, int64(1), st.CCErrors)
	assert.Equal(t, int64(1), st.TEIDrops)
	assert.Equal(t, int64(4), st.Packets)
}

func TestFilterCountersInRegistry(t *testing.T) {
	reg := metrics.NewRegistry()
	f := NewFilter(quietLogger(), reg, "adapter1")
	f.Ingest(packets(0x10, 4, 0))

	c, ok := reg.Get("demux.adapter1.packets").(metrics.Counter)
	require.True(t, ok)
	assert.Equal(t, int64(4), c.Count())
}

func TestRemoveFeeds(t *testing.T) {
	f := NewFilter(quietLogger(), nil, "adapter0")
	var n int
	f.AddFeed(0x10, func(uint16, []byte) { n++ })
	f.RemoveFeeds(0x10)
	f.Ingest(packets(0x10, 2, 0))
	assert.Equal(t, 0, n)
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestWriterFeed(t *testing.T) {
	var buf bytes.Buffer
	f := NewFilter(quietLogger(), nil, "adapter0")
	f.AddTap(WriterFeed(&buf, nil))
	data := packets(0x10, 3, 0)
	f.Ingest(data)
	assert.Equal(t, data, buf.Bytes())

	w := &failingWriter{}
	var errs []error
	feed := WriterFeed(w, func(err error) { errs = append(errs, err) })
	feed(0x10, data[:PacketSize])
	feed(0x10, data[:PacketSize])
	assert.Equal(t, 1, w.calls)
	assert.Len(t, errs, 1)
}

func TestFramingMatchesSegmentGeometry(t *testing.T) {
	assert.Equal(t, driver.TSPacketSize, PacketSize)
	assert.Equal(t, byte(driver.TSSyncByte), byte(SyncByte))
	assert.Zero(t, driver.DefaultSegmentPayload%PacketSize, "a DMA segment holds whole packets")
}
