// Package metrics exports server events as prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kfcemployee/joyofenergy/server/engine"
)

const namespace = "joyofenergy"

// Collector implements server.Observer on top of its own registry
type Collector struct {
	reg *prometheus.Registry

	connsOpen     prometheus.Gauge
	connsAccepted prometheus.Counter
	connsClosed   *prometheus.CounterVec
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	protoErrors   *prometheus.CounterVec
	panics        prometheus.Counter
}

// New registers every collector plus the go and process collectors
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		connsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connections_open",
			Help:      "Connections currently open",
		}),
		connsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		connsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connections_closed_total",
			Help:      "Total number of closed connections by reason",
		}, []string{"reason"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of answered requests",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time from parsed request to serialized response",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .1},
		}, []string{"method", "route"}),
		protoErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "protocol_errors_total",
			Help:      "Requests rejected by the parser by response status",
		}, []string{"status"}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "handler_panics_total",
			Help:      "Recovered handler panics",
		}),
	}
}

// Registry exposes the registry, tests gather from it
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) ConnOpened() {
	c.connsOpen.Inc()
	c.connsAccepted.Inc()
}

func (c *Collector) ConnClosed(reason error) {
	c.connsOpen.Dec()
	c.connsClosed.WithLabelValues(closeLabel(reason)).Inc()
}

// RequestServed records one response, route is the pattern so ids never become labels
func (c *Collector) RequestServed(method, route string, status int, took time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(method, route).Observe(took.Seconds())
}

func (c *Collector) ProtocolError(status int) {
	c.protoErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (c *Collector) HandlerPanicked() {
	c.panics.Inc()
}

func closeLabel(err error) string {
	switch {
	case err == nil:
		return "server"
	case errors.Is(err, engine.ErrPeerClosed):
		return "peer"
	case errors.Is(err, engine.ErrTimeout):
		return "timeout"
	case errors.Is(err, engine.ErrEngineClosed):
		return "shutdown"
	}
	return "error"
}

// Handler serves the registry in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Serve runs the metrics listener on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
