package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for acquisition and markers.
type Metrics struct {
	SamplesPublished *prometheus.CounterVec
	SamplesDropped   *prometheus.CounterVec
	PublishErrors    *prometheus.CounterVec
	Polls            *prometheus.CounterVec
	WorkerFailures   *prometheus.CounterVec
	ActiveWorkers    prometheus.Gauge
	MarkersSent      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all metrics on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SamplesPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "biostream_samples_published_total",
			Help: "Samples published to output channels",
		}, []string{"device", "signal"}),
		SamplesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "biostream_samples_dropped_total",
			Help: "Samples rejected because their timestamp went backwards",
		}, []string{"device", "signal"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "biostream_publish_errors_total",
			Help: "Failed publishes to output channels",
		}, []string{"device", "signal"}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "biostream_polls_total",
			Help: "Device polls",
		}, []string{"device"}),
		WorkerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "biostream_worker_failures_total",
			Help: "Acquisition workers that exited with an error",
		}, []string{"device"}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "biostream_active_workers",
			Help: "Acquisition workers currently streaming",
		}),
		MarkersSent: f.NewCounter(prometheus.CounterOpts{
			Name: "biostream_markers_sent_total",
			Help: "Markers published",
		}),
		gatherer: reg,
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
