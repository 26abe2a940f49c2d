package stats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Config selects and configures the stats exporter
type Config struct {
	Type      string        `yaml:"type"`
	Listen    string        `yaml:"listen"`
	Path      string        `yaml:"path"`
	Namespace string        `yaml:"namespace"`
	Subsystem string        `yaml:"subsystem"`
	Interval  time.Duration `yaml:"interval"`
}

// Enabled reports whether an exporter is configured
func (c Config) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

// Validate checks the exporter settings
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Type != "prometheus" {
		return fmt.Errorf("stats.type was not understood: %s", c.Type)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("stats.interval was an invalid duration: %s", c.Interval)
	}
	if c.Listen == "" {
		return errors.New("stats.listen should not be empty")
	}
	if c.Path == "" {
		return errors.New("stats.path should not be empty")
	}
	return nil
}

// Exporter serves a go-metrics registry in prometheus format
type Exporter struct {
	l        *logrus.Logger
	cfg      Config
	pr       *prometheus.Registry
	provider *mp.PrometheusConfig
	server   *http.Server
}

// NewPrometheus mirrors reg into a prometheus registry and prepares the
// http endpoint. The mirror is taken once here and refreshed every
// cfg.Interval while Run is active.
func NewPrometheus(l *logrus.Logger, reg metrics.Registry, cfg Config, buildVersion string) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pr := prometheus.NewRegistry()
	pClient := mp.NewPrometheusProvider(reg, cfg.Namespace, cfg.Subsystem, pr, cfg.Interval)
	_ = pClient.UpdatePrometheusMetricsOnce()

	// Export our version information as labels on a static gauge
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "info",
		Help:      "Version information for the budgetctl binary",
		ConstLabels: prometheus.Labels{
			"version":   buildVersion,
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{ErrorLog: l}))

	return &Exporter{
		l:        l,
		cfg:      cfg,
		pr:       pr,
		provider: pClient,
		server:   &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}, nil
}

// Gatherer returns the prometheus registry
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.pr
}

// Handler returns the http handler serving the metrics path
func (e *Exporter) Handler() http.Handler {
	return e.server.Handler
}

// Run listens and refreshes the mirror until ctx is done
func (e *Exporter) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.Listen)
	if err != nil {
		return fmt.Errorf("stats listener: %w", err)
	}
	e.l.Infof("Prometheus stats listening on %s at %s", ln.Addr(), e.cfg.Path)

	errc := make(chan error, 1)
	go func() {
		errc <- e.server.Serve(ln)
	}()

	t := time.NewTicker(e.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = e.server.Shutdown(shutdownCtx)
			<-errc
			return nil
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-t.C:
			_ = e.provider.UpdatePrometheusMetricsOnce()
		}
	}
}
