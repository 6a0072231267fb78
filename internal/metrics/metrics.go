package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the Prometheus collectors for strategy executions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Executions      *prometheus.CounterVec // labels: state, action
	Blocked         *prometheus.CounterVec // labels: reason
	InvestedQuote   prometheus.Counter
	Indicator       prometheus.Gauge
	Price           prometheus.Gauge
	LastSuccess     prometheus.Gauge
	ExecutionDur    prometheus.Histogram
	PersistFailures prometheus.Counter
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahrinvest_executions_total",
			Help: "Strategy executions by terminal state and action",
		}, []string{"state", "action"}),
		Blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahrinvest_blocked_total",
			Help: "Blocked executions by reason",
		}, []string{"reason"}),
		InvestedQuote: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahrinvest_invested_quote_total",
			Help: "Quote currency spent by executed orders",
		}),
		Indicator: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ahrinvest_ahr999",
			Help: "Last computed AHR999 value",
		}),
		Price: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ahrinvest_price",
			Help: "Last observed price",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ahrinvest_last_success_timestamp_seconds",
			Help: "Unix time of the last execution that reached DONE",
		}),
		ExecutionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ahrinvest_execution_duration_seconds",
			Help:    "Wall time of one strategy execution",
			Buckets: prometheus.DefBuckets,
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahrinvest_record_persist_failures_total",
			Help: "Executed trades whose record could not be written",
		}),
	}

	reg.MustRegister(
		m.Executions,
		m.Blocked,
		m.InvestedQuote,
		m.Indicator,
		m.Price,
		m.LastSuccess,
		m.ExecutionDur,
		m.PersistFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSnapshot records the indicator value and price.
func (m *Metrics) ObserveSnapshot(value, price float64) {
	if m == nil {
		return
	}
	m.Indicator.Set(value)
	m.Price.Set(price)
}

// ObserveExecution records a terminal outcome.
func (m *Metrics) ObserveExecution(state, action, reason string, invested float64, started time.Time) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(state, action).Inc()
	if reason != "" {
		m.Blocked.WithLabelValues(reason).Inc()
	}
	if invested > 0 {
		m.InvestedQuote.Add(invested)
	}
	if state == "DONE" {
		m.LastSuccess.SetToCurrentTime()
	}
	m.ExecutionDur.Observe(time.Since(started).Seconds())
}

// ObservePersistFailure counts a record that could not be written.
func (m *Metrics) ObservePersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", addr).Msg("metrics endpoint started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
