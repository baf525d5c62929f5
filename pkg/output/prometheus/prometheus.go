// Package prometheus exposes the latest readings as Prometheus gauges.
package prometheus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ericogr/bridgesense-to-mqtt/pkg/config"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/output"
	"github.com/ericogr/bridgesense-to-mqtt/pkg/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListen = ":9120"
	DefaultPath   = "/metrics"
	namespace     = "bridgesense"
)

type PrometheusOutput struct {
	reg       *prometheus.Registry
	value     *prometheus.GaugeVec
	raw       *prometheus.GaugeVec
	stale     *prometheus.GaugeVec
	timestamp *prometheus.GaugeVec
	errors    prometheus.Counter
	srv       *http.Server
	log       *logrus.Entry
}

func newCollectors() *PrometheusOutput {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &PrometheusOutput{
		reg: reg,
		value: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading",
			Help:      "Latest converted reading",
		}, []string{"sensor", "kind", "unit"}),
		raw: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_raw",
			Help:      "Latest raw converter code",
		}, []string{"sensor", "kind"}),
		stale: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_stale",
			Help:      "1 when the latest reading was already fetched before",
		}, []string{"sensor", "kind"}),
		timestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_timestamp_seconds",
			Help:      "Unix time of the latest reading",
		}, []string{"sensor", "kind"}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Readings that could not be exported",
		}),
		log: logrus.WithField("output", "prometheus"),
	}
}

// NewPrometheus starts an HTTP listener serving the gauges.
func NewPrometheus(cfg config.PrometheusConfig) (output.Output, error) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	p := newCollectors()
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, p.Handler())
	p.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	p.log = p.log.WithField("listen", ln.Addr().String())
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.WithError(err).Error("metrics server stopped")
		}
	}()
	p.log.Info("serving metrics")
	return p, nil
}

// Handler serves the gauges in the Prometheus exposition format.
func (p *PrometheusOutput) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *PrometheusOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		if r.Sensor == "" || r.Kind == "" {
			p.errors.Inc()
			continue
		}
		p.value.WithLabelValues(r.Sensor, r.Kind, r.Unit).Set(r.Value)
		p.raw.WithLabelValues(r.Sensor, r.Kind).Set(float64(r.Raw))
		stale := 0.0
		if r.Stale {
			stale = 1
		}
		p.stale.WithLabelValues(r.Sensor, r.Kind).Set(stale)
		p.timestamp.WithLabelValues(r.Sensor, r.Kind).Set(float64(r.Timestamp.UnixNano()) / 1e9)
	}
	return nil
}

func (p *PrometheusOutput) Close() error {
	if p.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.srv.Shutdown(ctx)
}
