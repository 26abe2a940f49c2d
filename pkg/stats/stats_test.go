//go:build unit

package stats

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortCountersAreShared(t *testing.T) {
	s := New(nil)
	a := s.Port(1)
	b := s.Port(1)
	a.Segments.Inc(3)
	assert.Equal(t, int64(3), b.Segments.Count())

	s.Port(2).Bytes.Inc(65424)
	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap["fgpi.1.segments"])
	assert.Equal(t, int64(65424), snap["fgpi.2.bytes"])
	assert.Contains(t, snap, "fgpi.1.errors.write_index")
}

func TestIRQSourceCounters(t *testing.T) {
	reg := metrics.NewRegistry()
	s := New(reg)
	c := s.IRQ()
	c.Handled.Inc(1)
	c.Source(7)
	c.Source(7)

	got, ok := reg.Get("irq.source.7").(metrics.Counter)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Count())
	assert.Equal(t, int64(1), s.Snapshot()["irq.handled"])
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Type: "none"}.Validate())
	assert.Error(t, Config{Type: "graphite", Interval: time.Second}.Validate())
	assert.Error(t, Config{Type: "prometheus", Listen: ":0", Path: "/metrics"}.Validate())
	assert.Error(t, Config{Type: "prometheus", Interval: time.Second, Path: "/metrics"}.Validate())
	assert.Error(t, Config{Type: "prometheus", Interval: time.Second, Listen: ":0"}.Validate())
	assert.NoError(t, Config{Type: "prometheus", Interval: time.Second, Listen: ":0", Path: "/metrics"}.Validate())
}

func TestPrometheusHandlerServesInfo(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	e, err := NewPrometheus(l, metrics.NewRegistry(), Config{
		Type:      "prometheus",
		Listen:    "127.0.0.1:0",
		Path:      "/metrics",
		Namespace: "saa716x",
		Interval:  time.Second,
	}, "test")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `saa716x_info{goversion=`)
}

func TestPrometheusRefreshStopsWithRun(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	st := New(nil)
	segments := st.Port(0).Segments
	segments.Inc(1)

	e, err := NewPrometheus(l, st.Registry(), Config{
		Type:      "prometheus",
		Listen:    "127.0.0.1:0",
		Path:      "/metrics",
		Namespace: "saa716x",
		Interval:  10 * time.Millisecond,
	}, "test")
	require.NoError(t, err)

	scrape := func() string {
		rec := httptest.NewRecorder()
		e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}
	assert.Contains(t, scrape(), "saa716x_fgpi_0_segments 1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	segments.Inc(2)
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(), "saa716x_fgpi_0_segments 3")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	segments.Inc(1)
	time.Sleep(50 * time.Millisecond)
	assert.Contains(t, scrape(), "saa716x_fgpi_0_segments 3", "the mirror must not refresh once Run returned")
}
